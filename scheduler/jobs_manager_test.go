package scheduler

import (
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/askexperts/askexperts/db"
	"github.com/askexperts/askexperts/db/inmemory"
)

func newTestJobsManager(c *qt.C, jobTimeout time.Duration) *JobsManager {
	memdb, err := inmemory.New(db.Options{})
	c.Assert(err, qt.IsNil)
	c.Cleanup(func() { _ = memdb.Close() })
	return NewJobsManager(memdb, jobTimeout, DefaultWorkerBanRules, 20*time.Millisecond)
}

func TestAvailableWorkerFiltersByExpertType(t *testing.T) {
	c := qt.New(t)
	jm := newTestJobsManager(c, time.Minute)

	coder := jm.WorkerManager.AddWorker(testPubkey(1), "coder-1", []string{"coder"})
	_ = jm.WorkerManager.AddWorker(testPubkey(2), "writer-1", []string{"writer"})

	found, err := jm.AvailableWorker("coder")
	c.Assert(err, qt.IsNil)
	c.Assert(found, qt.Equals, coder)

	_, err = jm.AvailableWorker("artist")
	c.Assert(err, qt.ErrorMatches, ".*worker-not-found.*")
}

func TestAvailableWorkerSkipsBannedAndBusy(t *testing.T) {
	c := qt.New(t)
	jm := newTestJobsManager(c, time.Minute)

	banned := jm.WorkerManager.AddWorker(testPubkey(1), "", []string{"coder"})
	banned.SetBannedUntil(time.Now().Add(time.Hour))
	busy := jm.WorkerManager.AddWorker(testPubkey(2), "", []string{"coder"})
	idle := jm.WorkerManager.AddWorker(testPubkey(3), "", []string{"coder"})

	job := &Job{PromptID: testPubkey(0xa1), ExpertType: "coder"}
	c.Assert(jm.RegisterJob(busy, job), qt.IsNil)

	found, err := jm.AvailableWorker("coder")
	c.Assert(err, qt.IsNil)
	c.Assert(found, qt.Equals, idle)
}

func TestRegisterJobRejectsBannedWorker(t *testing.T) {
	c := qt.New(t)
	jm := newTestJobsManager(c, time.Minute)

	w := jm.WorkerManager.AddWorker(testPubkey(1), "", nil)
	w.SetBannedUntil(time.Now().Add(time.Hour))

	err := jm.RegisterJob(w, &Job{PromptID: testPubkey(0xa1)})
	c.Assert(err, qt.ErrorMatches, ".*worker-banned.*")
}

func TestRegisterJobRejectsBusyWorker(t *testing.T) {
	c := qt.New(t)
	jm := newTestJobsManager(c, time.Minute)

	w := jm.WorkerManager.AddWorker(testPubkey(1), "", nil)
	c.Assert(jm.RegisterJob(w, &Job{PromptID: testPubkey(0xa1)}), qt.IsNil)

	err := jm.RegisterJob(w, &Job{PromptID: testPubkey(0xa2)})
	c.Assert(err, qt.ErrorMatches, ".*worker-busy.*")
}

func TestCompleteJobUpdatesWorkerTally(t *testing.T) {
	c := qt.New(t)
	jm := newTestJobsManager(c, time.Minute)

	w := jm.WorkerManager.AddWorker(testPubkey(1), "", nil)
	promptID := testPubkey(0xa1)
	c.Assert(jm.RegisterJob(w, &Job{PromptID: promptID}), qt.IsNil)

	job := jm.CompleteJob(promptID, true)
	c.Assert(job, qt.Not(qt.IsNil))
	c.Assert(job.WorkerPubkey, qt.DeepEquals, w.Pubkey)

	stats, err := jm.WorkerManager.WorkerStats(w.Pubkey)
	c.Assert(err, qt.IsNil)
	c.Assert(stats.SuccessCount, qt.Equals, int64(1))

	c.Assert(jm.CompleteJob(promptID, true), qt.IsNil)
}

func TestCancelJobReturnsJobNotFound(t *testing.T) {
	c := qt.New(t)
	jm := newTestJobsManager(c, time.Minute)

	_, err := jm.CancelJob(testPubkey(0xff))
	c.Assert(err, qt.ErrorMatches, ".*job-not-found.*")
}

func TestCheckTimeoutsFailsExpiredJobs(t *testing.T) {
	c := qt.New(t)
	jm := newTestJobsManager(c, 5*time.Millisecond)

	w := jm.WorkerManager.AddWorker(testPubkey(1), "", nil)
	promptID := testPubkey(0xa1)
	c.Assert(jm.RegisterJob(w, &Job{PromptID: promptID}), qt.IsNil)

	time.Sleep(10 * time.Millisecond)

	done := make(chan *Job, 1)
	go func() { done <- <-jm.FailedJobs }()

	jm.checkTimeouts()

	select {
	case job := <-done:
		c.Assert(job.PromptID, qt.DeepEquals, promptID)
	case <-time.After(time.Second):
		c.Fatal("expected failed job to be reported")
	}

	_, err := jm.CancelJob(promptID)
	c.Assert(err, qt.ErrorMatches, ".*job-not-found.*")
}
