package worker

import (
	"context"

	"github.com/zjrosen/taskhost/internal/task"
)

// GoroutineLauncher runs the task in the current process.
type GoroutineLauncher struct{}

func (GoroutineLauncher) Launch(ctx context.Context, t task.Task) error {
	return t.Run(ctx)
}
