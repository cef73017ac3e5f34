package recompute

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// DefaultWorkers is the number of users recomputed at once.
const DefaultWorkers = 4

// Runner recomputes many users concurrently. Each user's run holds its
// own lock, so users never wait on each other.
type Runner struct {
	svc     *Service
	workers int
}

// NewRunner creates a Runner over svc.
func NewRunner(svc *Service, workers int) *Runner {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Runner{svc: svc, workers: workers}
}

// RunAll runs RecomputeAll for every user. The first failure cancels the
// users not yet started and is returned.
func (r *Runner) RunAll(ctx context.Context, userIDs []int64) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for _, userID := range userIDs {
		userID := userID
		g.Go(func() error {
			if _, err := r.svc.RecomputeAll(ctx, userID); err != nil {
				return fmt.Errorf("user %d: %w", userID, err)
			}
			return nil
		})
	}
	return g.Wait()
}
