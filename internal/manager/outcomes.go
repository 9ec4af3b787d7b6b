package manager

import (
	"context"
	"fmt"
	"time"

	"github.com/zjrosen/taskhost/internal/cachemanager"
	"github.com/zjrosen/taskhost/internal/log"
)

// outcomeStore holds finished outcomes in memory for the TTL. Lookups that
// miss memory fall back to the history loader, when one is configured, and
// whatever history returns is cached again for the TTL.
type outcomeStore struct {
	mem     cachemanager.CacheManager[string, Outcome]
	history OutcomeLoader
	ttl     time.Duration
}

func newOutcomeStore(ttl time.Duration, history OutcomeLoader) *outcomeStore {
	if ttl <= 0 {
		ttl = cachemanager.DefaultExpiration
	}
	return &outcomeStore{
		mem:     cachemanager.NewInMemoryCacheManager[string, Outcome]("outcomes", ttl, 2*ttl),
		history: history,
		ttl:     ttl,
	}
}

func (s *outcomeStore) put(ctx context.Context, o Outcome) {
	s.mem.Set(ctx, o.TaskID, o, s.ttl)
}

// recent returns an outcome still held in memory. History is not consulted.
func (s *outcomeStore) recent(ctx context.Context, id string) (Outcome, bool) {
	return s.mem.Get(ctx, id)
}

// lookup returns the outcome for id from memory or history. It returns
// ErrUnknownTask when there is no history to ask.
func (s *outcomeStore) lookup(ctx context.Context, id string) (Outcome, error) {
	if o, ok := s.mem.Get(ctx, id); ok {
		return o, nil
	}
	if s.history == nil {
		return Outcome{}, fmt.Errorf("%w: %s", ErrUnknownTask, id)
	}

	o, err := s.history.FindOutcome(ctx, id)
	if err != nil {
		return Outcome{}, fmt.Errorf("looking up %s in history: %w", id, err)
	}
	if o.TaskID != id {
		log.Warn(log.CatCache, "History returned a different task", "want", id, "got", o.TaskID)
		o.TaskID = id
	}
	s.put(ctx, o)
	log.Debug(log.CatCache, "Outcome loaded from history", "taskID", id, "state", o.State)
	return o, nil
}
