package store_test

import (
	"sync"
	"testing"
	"time"

	"github.com/vklg/chatlens/internal/models"
	"github.com/vklg/chatlens/internal/store"
	"github.com/vklg/chatlens/internal/testutil"
)

func newTestStore(t *testing.T) (*store.Store, int64) {
	t.Helper()
	st := store.New(testutil.SetupTestDB(t))
	user, err := st.CreateUser("ana", "hash", false)
	if err != nil {
		t.Fatalf("Failed to create test user: %v", err)
	}
	return st, user.ID
}

func testDescriptor() models.InputDescriptor {
	return models.InputDescriptor{
		FilePath:    "/tmp/upload.txt",
		FileSize:    1234,
		SelfName:    "Ana",
		PartnerName: "Ben",
		Goal:        "are we drifting apart",
	}
}

func TestCreateAndGetJob(t *testing.T) {
	st, ownerID := newTestStore(t)

	created, err := st.CreateJob(ownerID, testDescriptor())
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	if created.ID == "" {
		t.Fatal("CreateJob returned empty id")
	}
	if created.Status != models.StatusQueued {
		t.Errorf("New job status = %s, want queued", created.Status)
	}

	got, err := st.GetJob(created.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if got.OwnerID != ownerID {
		t.Errorf("OwnerID = %d, want %d", got.OwnerID, ownerID)
	}
	if got.Input.PartnerName != "Ben" || got.Input.Goal != "are we drifting apart" {
		t.Errorf("Input descriptor not round-tripped: %+v", got.Input)
	}
	if got.StartedAt != nil || got.CompletedAt != nil {
		t.Error("Timestamps set before claim/completion")
	}

	if _, err := st.GetJob("no-such-id"); err != store.ErrNotFound {
		t.Errorf("GetJob(unknown) = %v, want ErrNotFound", err)
	}
}

func TestClaimNextJob(t *testing.T) {
	st, ownerID := newTestStore(t)

	if _, err := st.ClaimNextJob(); err != store.ErrNoJobs {
		t.Fatalf("ClaimNextJob on empty queue = %v, want ErrNoJobs", err)
	}

	first, _ := st.CreateJob(ownerID, testDescriptor())
	time.Sleep(5 * time.Millisecond) // distinct created_at ordering
	st.CreateJob(ownerID, testDescriptor())

	claimed, err := st.ClaimNextJob()
	if err != nil {
		t.Fatalf("ClaimNextJob failed: %v", err)
	}
	if claimed.ID != first.ID {
		t.Errorf("Claimed job %s, want oldest %s", claimed.ID, first.ID)
	}
	if claimed.Status != models.StatusProcessing {
		t.Errorf("Claimed status = %s, want processing", claimed.Status)
	}
	if claimed.StartedAt == nil {
		t.Error("Claim did not set started_at")
	}
}

// N concurrent claimers over M queued jobs must produce exactly M claims
// with no duplicates.
func TestClaimNextJobConcurrent(t *testing.T) {
	st, ownerID := newTestStore(t)

	const jobCount = 10
	const claimers = 20
	for i := 0; i < jobCount; i++ {
		if _, err := st.CreateJob(ownerID, testDescriptor()); err != nil {
			t.Fatalf("CreateJob failed: %v", err)
		}
	}

	var mu sync.Mutex
	claims := make(map[string]int)
	var wg sync.WaitGroup
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, err := st.ClaimNextJob()
				if err == store.ErrNoJobs {
					return
				}
				if err != nil {
					t.Errorf("ClaimNextJob failed: %v", err)
					return
				}
				mu.Lock()
				claims[job.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(claims) != jobCount {
		t.Errorf("Claimed %d distinct jobs, want %d", len(claims), jobCount)
	}
	for id, n := range claims {
		if n != 1 {
			t.Errorf("Job %s claimed %d times", id, n)
		}
	}
}

func TestAdvanceJobMonotonic(t *testing.T) {
	st, ownerID := newTestStore(t)
	job, _ := st.CreateJob(ownerID, testDescriptor())

	// Advancing a queued job is a sequencing bug.
	if err := st.AdvanceJob(job.ID, 10, "too early"); err == nil {
		t.Fatal("AdvanceJob on queued job succeeded, want error")
	}

	st.ClaimNextJob()

	if err := st.AdvanceJob(job.ID, 40, "Analyzing: Sentiment"); err != nil {
		t.Fatalf("AdvanceJob failed: %v", err)
	}
	// Out-of-order update: no-op, not an error.
	if err := st.AdvanceJob(job.ID, 25, "stale"); err != nil {
		t.Fatalf("Stale AdvanceJob returned error: %v", err)
	}
	// Equal value: also a no-op.
	if err := st.AdvanceJob(job.ID, 40, "same"); err != nil {
		t.Fatalf("Equal AdvanceJob returned error: %v", err)
	}

	got, _ := st.GetJob(job.ID)
	if got.ProgressPercent != 40 || got.ProgressMessage != "Analyzing: Sentiment" {
		t.Errorf("Progress = %d %q, want 40 \"Analyzing: Sentiment\"", got.ProgressPercent, got.ProgressMessage)
	}
}

func TestCompleteJob(t *testing.T) {
	st, ownerID := newTestStore(t)
	job, _ := st.CreateJob(ownerID, testDescriptor())

	report := &models.Report{HealthScore: 72.5, Narrative: "Doing fine.", MessageCount: 3}
	if err := st.CompleteJob(job.ID, report); err == nil {
		t.Fatal("CompleteJob from queued succeeded, want error")
	}

	st.ClaimNextJob()
	if err := st.CompleteJob(job.ID, report); err != nil {
		t.Fatalf("CompleteJob failed: %v", err)
	}

	got, _ := st.GetJob(job.ID)
	if got.Status != models.StatusCompleted {
		t.Errorf("Status = %s, want completed", got.Status)
	}
	if got.ProgressPercent != 100 {
		t.Errorf("Progress = %d, want 100", got.ProgressPercent)
	}
	if got.ResultPayload == nil || got.ResultPayload.HealthScore != 72.5 {
		t.Errorf("Result payload not stored: %+v", got.ResultPayload)
	}
	if got.ErrorDetail != "" {
		t.Error("Completed job has error detail")
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}

	// Terminal state: no further mutation allowed.
	if err := st.AdvanceJob(job.ID, 99, "late"); err == nil {
		t.Error("AdvanceJob on completed job succeeded, want error")
	}
	if err := st.FailJob(job.ID, "late failure"); err == nil {
		t.Error("FailJob on completed job succeeded, want error")
	}
}

func TestFailJob(t *testing.T) {
	st, ownerID := newTestStore(t)
	job, _ := st.CreateJob(ownerID, testDescriptor())
	st.ClaimNextJob()
	st.AdvanceJob(job.ID, 30, "Analyzing: Toxicity")

	if err := st.FailJob(job.ID, "The analysis service is currently unavailable."); err != nil {
		t.Fatalf("FailJob failed: %v", err)
	}

	got, _ := st.GetJob(job.ID)
	if got.Status != models.StatusFailed {
		t.Errorf("Status = %s, want failed", got.Status)
	}
	if got.ResultPayload != nil {
		t.Error("Failed job has a result payload")
	}
	if got.ErrorDetail == "" {
		t.Error("Failed job missing error detail")
	}
	if err := st.AdvanceJob(job.ID, 50, "late"); err == nil {
		t.Error("AdvanceJob on failed job succeeded, want error")
	}

	// Failing straight from queued is allowed (pre-claim validation errors).
	queued, _ := st.CreateJob(ownerID, testDescriptor())
	if err := st.FailJob(queued.ID, "bad input"); err != nil {
		t.Errorf("FailJob from queued failed: %v", err)
	}
}

func TestReclaimStaleJobs(t *testing.T) {
	st, ownerID := newTestStore(t)
	job, _ := st.CreateJob(ownerID, testDescriptor())
	st.ClaimNextJob()
	st.AdvanceJob(job.ID, 55, "Analyzing: Engagement")

	// Fresh claim is not reclaimed.
	n, err := st.ReclaimStaleJobs(time.Hour)
	if err != nil {
		t.Fatalf("ReclaimStaleJobs failed: %v", err)
	}
	if n != 0 {
		t.Errorf("Reclaimed %d fresh jobs, want 0", n)
	}

	// A zero threshold range makes everything stale.
	n, err = st.ReclaimStaleJobs(-time.Second)
	if err != nil {
		t.Fatalf("ReclaimStaleJobs failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("Reclaimed %d jobs, want 1", n)
	}

	got, _ := st.GetJob(job.ID)
	if got.Status != models.StatusQueued {
		t.Errorf("Status = %s, want queued", got.Status)
	}
	if got.ProgressPercent != 0 || got.StartedAt != nil {
		t.Errorf("Reclaimed job not reset: progress=%d startedAt=%v", got.ProgressPercent, got.StartedAt)
	}

	// And it is claimable again.
	if _, err := st.ClaimNextJob(); err != nil {
		t.Errorf("Re-claim after reclaim failed: %v", err)
	}
}

func TestListJobsByOwner(t *testing.T) {
	st, ownerID := newTestStore(t)
	other, _ := st.CreateUser("ben", "hash", false)

	st.CreateJob(ownerID, testDescriptor())
	time.Sleep(5 * time.Millisecond)
	st.CreateJob(ownerID, testDescriptor())
	st.CreateJob(other.ID, testDescriptor())

	jobs, err := st.ListJobsByOwner(ownerID)
	if err != nil {
		t.Fatalf("ListJobsByOwner failed: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("Got %d jobs, want 2", len(jobs))
	}
	if jobs[0].CreatedAt.Before(jobs[1].CreatedAt) {
		t.Error("Jobs not ordered newest first")
	}
}
