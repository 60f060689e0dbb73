package appmanager

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/juspay/airborne/planner"
	"github.com/juspay/airborne/remote"
	"github.com/sourcegraph/conc/pool"
)

// taskRetryDelay is the pause before the single retry of a failed file
// acquisition.
const taskRetryDelay = 200 * time.Millisecond

// executeTasks runs the important and resource task sets concurrently
// against the bounded pool. The per-group readiness flags flip as soon as
// the corresponding group drains. The first terminal task failure cancels
// the rest.
func (m *Manager) executeTasks(ctx context.Context, plan planner.Plan) error {
	var importantLeft, resourcesLeft atomic.Int64
	importantLeft.Store(int64(len(plan.Important)))
	resourcesLeft.Store(int64(len(plan.Resources)))
	if importantLeft.Load() == 0 {
		m.importantDone.Store(true)
	}
	if resourcesLeft.Load() == 0 {
		m.resourcesDone.Store(true)
	}

	p := pool.New().
		WithMaxGoroutines(m.cfg.DownloadConcurrency()).
		WithContext(ctx).
		WithCancelOnError().
		WithFirstError()

	for _, task := range plan.Important {
		task := task
		p.Go(func(ctx context.Context) error {
			if err := m.runTask(ctx, task); err != nil {
				return err
			}
			if importantLeft.Add(-1) == 0 {
				m.importantDone.Store(true)
			}
			return nil
		})
	}
	for _, task := range plan.Resources {
		task := task
		p.Go(func(ctx context.Context) error {
			if err := m.runTask(ctx, task); err != nil {
				return err
			}
			if resourcesLeft.Add(-1) == 0 {
				m.resourcesDone.Store(true)
			}
			return nil
		})
	}
	return p.Wait()
}

// runTask acquires one file into its staging folder. Transient failures get
// exactly one more attempt; path escapes and cancellation are final.
func (m *Manager) runTask(ctx context.Context, task planner.Task) error {
	dest, err := m.store.Path(task.Folder, task.Resource.FilePath)
	if err != nil {
		return err
	}
	return retry.Do(
		func() error {
			return m.files.DownloadWithCheck(ctx, task.Resource.URL, dest, task.Resource.Checksum)
		},
		retry.Attempts(2),
		retry.Delay(taskRetryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.RetryIf(remote.IsTransient),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
}
