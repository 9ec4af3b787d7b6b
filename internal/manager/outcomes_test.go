package manager

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockLoader struct {
	mock.Mock
}

func (m *mockLoader) FindOutcome(ctx context.Context, id string) (Outcome, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(Outcome), args.Error(1)
}

func TestOutcomeStore_PutThenRecent(t *testing.T) {
	s := newOutcomeStore(time.Minute, nil)
	s.put(context.Background(), Outcome{TaskID: "t-1", State: StateFailed, Reason: "boom"})

	o, ok := s.recent(context.Background(), "t-1")
	require.True(t, ok)
	require.Equal(t, "boom", o.Reason)

	_, ok = s.recent(context.Background(), "t-2")
	require.False(t, ok)
}

func TestOutcomeStore_LookupWithoutHistory(t *testing.T) {
	s := newOutcomeStore(time.Minute, nil)

	_, err := s.lookup(context.Background(), "t-1")
	require.ErrorIs(t, err, ErrUnknownTask)
}

func TestOutcomeStore_MemoryHitSkipsHistory(t *testing.T) {
	loader := &mockLoader{}
	s := newOutcomeStore(time.Minute, loader)
	s.put(context.Background(), Outcome{TaskID: "t-1", State: StateCompleted})

	o, err := s.lookup(context.Background(), "t-1")
	require.NoError(t, err)
	require.Equal(t, StateCompleted, o.State)
	loader.AssertNotCalled(t, "FindOutcome", mock.Anything, mock.Anything)
}

func TestOutcomeStore_HistoryMissIsCached(t *testing.T) {
	loader := &mockLoader{}
	loader.On("FindOutcome", mock.Anything, "t-1").
		Return(Outcome{TaskID: "t-1", State: StateCanceled}, nil).Once()
	s := newOutcomeStore(time.Minute, loader)

	for range 3 {
		o, err := s.lookup(context.Background(), "t-1")
		require.NoError(t, err)
		require.Equal(t, StateCanceled, o.State)
	}
	loader.AssertExpectations(t)

	_, ok := s.recent(context.Background(), "t-1")
	require.True(t, ok, "history result is kept in memory")
}

func TestOutcomeStore_HistoryError(t *testing.T) {
	loadErr := errors.New("database is locked")
	loader := &mockLoader{}
	loader.On("FindOutcome", mock.Anything, "t-1").Return(Outcome{}, loadErr)
	s := newOutcomeStore(time.Minute, loader)

	_, err := s.lookup(context.Background(), "t-1")
	require.ErrorIs(t, err, loadErr)

	_, ok := s.recent(context.Background(), "t-1")
	require.False(t, ok, "errors are not cached")
}

func TestOutcomeStore_HistoryIDMismatchCorrected(t *testing.T) {
	loader := &mockLoader{}
	loader.On("FindOutcome", mock.Anything, "t-1").Return(Outcome{TaskID: "other", State: StateFailed}, nil)
	s := newOutcomeStore(time.Minute, loader)

	o, err := s.lookup(context.Background(), "t-1")
	require.NoError(t, err)
	require.Equal(t, "t-1", o.TaskID)
}

func TestOutcomeStore_Expires(t *testing.T) {
	s := newOutcomeStore(20*time.Millisecond, nil)
	s.put(context.Background(), Outcome{TaskID: "t-1", State: StateCompleted})

	require.Eventually(t, func() bool {
		_, ok := s.recent(context.Background(), "t-1")
		return !ok
	}, time.Second, 5*time.Millisecond)
}
