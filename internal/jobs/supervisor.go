package jobs

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Supervisor runs a batch of background jobs concurrently via errgroup,
// threading Registry bookkeeping around each one so job status stays
// consistent even when a sibling job fails or the caller cancels ctx.
type Supervisor struct {
	registry *Registry
	group    *errgroup.Group
	ctx      context.Context
}

// NewSupervisor derives a cancellable group context from ctx: cancelling ctx
// (e.g. on SIGINT) stops every job's ctx.Done() at once, while each job's own
// Registry-backed CancelledFunc still drives its own cooperative-cancel poll.
func NewSupervisor(ctx context.Context, registry *Registry) *Supervisor {
	g, gctx := errgroup.WithContext(ctx)
	return &Supervisor{registry: registry, group: g, ctx: gctx}
}

// Go starts job under the supervisor, marking it running and recording its
// outcome (completed/failed) once fn returns. fn receives the group's shared
// context so it can select on ctx.Done() alongside polling the registry's own
// cancellation flag via Registry.CancelledFunc.
func (s *Supervisor) Go(job *Job, fn func(ctx context.Context) (entriesCreated int, err error)) {
	s.registry.SetRunning(job.ID)
	s.group.Go(func() error {
		entries, err := fn(s.ctx)
		if err != nil {
			s.registry.Fail(job.ID, err)
			return err
		}
		s.registry.Complete(job.ID, entries)
		return nil
	})
}

// Wait blocks until every job started with Go has finished, returning the
// first error encountered, matching errgroup.Group.Wait's semantics.
func (s *Supervisor) Wait() error {
	return s.group.Wait()
}
