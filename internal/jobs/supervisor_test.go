package jobs

import (
	"context"
	"errors"
	"testing"
)

func TestSupervisorRecordsSuccessAndFailure(t *testing.T) {
	r := NewRegistry()
	ok := r.Create("p1", KindReembed)
	bad := r.Create("p1", KindReembed)

	sup := NewSupervisor(context.Background(), r)
	sup.Go(ok, func(ctx context.Context) (int, error) {
		return 3, nil
	})
	sup.Go(bad, func(ctx context.Context) (int, error) {
		return 0, errors.New("boom")
	})

	if err := sup.Wait(); err == nil {
		t.Fatal("expected Wait to surface the failing job's error")
	}

	okJob, _ := r.Get(ok.ID)
	if okJob.Status != StatusCompleted || okJob.EntriesCreated != 3 {
		t.Fatalf("expected ok job completed with 3 entries, got %+v", okJob)
	}

	badJob, _ := r.Get(bad.ID)
	if badJob.Status != StatusFailed {
		t.Fatalf("expected bad job failed, got %+v", badJob)
	}
}

func TestSupervisorCancelPropagatesToJobs(t *testing.T) {
	r := NewRegistry()
	j := r.Create("p1", KindChronicleGen)

	ctx, cancel := context.WithCancel(context.Background())
	sup := NewSupervisor(ctx, r)

	sup.Go(j, func(jobCtx context.Context) (int, error) {
		cancel()
		<-jobCtx.Done()
		return 0, jobCtx.Err()
	})

	if err := sup.Wait(); err == nil {
		t.Fatal("expected cancellation to surface as an error")
	}
}
