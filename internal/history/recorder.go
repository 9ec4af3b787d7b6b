package history

import (
	"context"
	"sync"
	"time"

	"github.com/zjrosen/taskhost/internal/log"
	"github.com/zjrosen/taskhost/internal/manager"
	"github.com/zjrosen/taskhost/internal/queue"
)

const saveTimeout = 5 * time.Second

// Recorder writes outcomes to a RunRepository on its own goroutine. It
// implements manager.OutcomeRecorder and never blocks the caller.
type Recorder struct {
	runs    *RunRepository
	pending *queue.Queue[manager.Outcome]
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once

	mu     sync.Mutex
	failed int
}

var _ manager.OutcomeRecorder = (*Recorder)(nil)

// NewRecorder starts a recorder. Call Close to flush and stop it.
func NewRecorder(runs *RunRepository) *Recorder {
	r := &Recorder{
		runs:    runs,
		pending: queue.New[manager.Outcome](),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go r.loop()
	return r
}

// RecordOutcome queues o for writing.
func (r *Recorder) RecordOutcome(o manager.Outcome) {
	if err := r.pending.Push(o); err != nil {
		log.Warn(log.CatHistory, "Outcome dropped after recorder closed", "taskID", o.TaskID)
	}
}

// Failed returns how many outcomes could not be written.
func (r *Recorder) Failed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failed
}

// Close stops accepting outcomes and waits until queued ones are written.
func (r *Recorder) Close() {
	r.once.Do(func() {
		r.pending.Close()
		close(r.stop)
		<-r.done
	})
}

func (r *Recorder) loop() {
	defer close(r.done)
	for {
		select {
		case <-r.pending.Ready():
			r.flush()
		case <-r.stop:
			r.flush()
			return
		}
	}
}

func (r *Recorder) flush() {
	for _, o := range r.pending.Drain() {
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		err := r.runs.Save(ctx, o)
		cancel()
		if err != nil {
			r.mu.Lock()
			r.failed++
			r.mu.Unlock()
			log.ErrorErr(log.CatHistory, "Failed to record outcome", err, "taskID", o.TaskID)
		}
	}
}
