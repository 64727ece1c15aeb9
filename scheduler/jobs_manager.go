package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/askexperts/askexperts/apperrors"
	"github.com/askexperts/askexperts/db"
	"github.com/askexperts/askexperts/log"
	"github.com/askexperts/askexperts/types"
)

// defaultTickerInterval is how often JobsManager sweeps pending jobs for
// timeouts.
const defaultTickerInterval = 10 * time.Second

// DefaultCancelGrace is how long a Worker has to release resources and
// acknowledge a cancelled job before the Scheduler gives up waiting (§4.8).
const DefaultCancelGrace = 5 * time.Second

// Job is one unit of dispatched work: answering prompt on behalf of an
// expert identity the Scheduler owns, executed by whichever Worker accepts
// it. ExpertDBRow and WalletNWC are opaque to the scheduler package itself
// (they are whatever the expert persona/wallet layer serializes) and are
// carried through unexamined.
type Job struct {
	PromptID      types.HexBytes
	ExpertPubkey  types.HexBytes
	ExpertType    string
	ExpertDBRow   []byte         // opaque expert persona record, as held by the scheduler
	ExpertPrivkey types.HexBytes // handed to the worker for the duration of this job only, to sign its Quote/Reply events
	WalletNWC     string         // NWC connection string for the expert's wallet
	DocstoreRefs  []string       // optional docstore ids the expert may consult

	WorkerPubkey types.HexBytes
	Timestamp    time.Time
	Expiration   time.Time
}

// JobsManager tracks in-flight jobs, dispatches them only to compatible,
// available, non-banned workers, and times them out if a worker goes
// silent (§4.8's job lifecycle, layered on top of WorkerManager's ban
// bookkeeping).
type JobsManager struct {
	cancel         context.CancelFunc
	pendingMtx     sync.RWMutex
	pending        map[string]*Job // promptID hex -> job
	tickerInterval time.Duration
	closeOnce      sync.Once

	FailedJobs    chan *Job
	JobTimeout    time.Duration
	WorkerManager *WorkerManager
}

// NewJobsManager constructs a JobsManager with its own WorkerManager,
// persisting worker tallies into database.
func NewJobsManager(database db.Database, jobTimeout time.Duration, banRules *WorkerBanRules, tickerInterval ...time.Duration) *JobsManager {
	interval := defaultTickerInterval
	if len(tickerInterval) > 0 {
		interval = tickerInterval[0]
	}
	return &JobsManager{
		pending:        make(map[string]*Job),
		WorkerManager:  NewWorkerManager(database, banRules),
		FailedJobs:     make(chan *Job),
		JobTimeout:     jobTimeout,
		tickerInterval: interval,
	}
}

// Start launches the worker manager's ban sweep and this manager's job
// timeout sweep.
func (jm *JobsManager) Start(ctx context.Context) {
	ctx, jm.cancel = context.WithCancel(ctx)
	jm.WorkerManager.Start(ctx)

	go func() {
		ticker := time.NewTicker(jm.tickerInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				jm.Stop()
				return
			case <-ticker.C:
				jm.checkTimeouts()
			}
		}
	}()
	log.Infow("jobs manager started", "jobTimeout", jm.JobTimeout.String())
}

// Stop cancels the sweep, clears all pending jobs, stops the worker
// manager, and closes FailedJobs exactly once.
func (jm *JobsManager) Stop() {
	if jm.cancel != nil {
		jm.cancel()
	}
	jm.pendingMtx.Lock()
	jm.pending = make(map[string]*Job)
	jm.pendingMtx.Unlock()
	jm.WorkerManager.Stop()
	jm.closeOnce.Do(func() { close(jm.FailedJobs) })
}

func (jm *JobsManager) checkTimeouts() {
	jm.pendingMtx.Lock()
	defer jm.pendingMtx.Unlock()

	now := time.Now()
	for key, job := range jm.pending {
		if now.After(job.Expiration) {
			log.Debugf("job for prompt %s has expired", job.PromptID)
			if err := jm.WorkerManager.WorkerResult(job.WorkerPubkey, false); err != nil {
				log.Warnw("failed to notify worker manager of job timeout",
					"promptID", job.PromptID.String(), "error", err)
			}
			jm.FailedJobs <- job
			delete(jm.pending, key)
		}
	}
}

// AvailableWorker picks the first connected, non-banned, idle worker that
// advertised expertType on handshake (§4.8: "Scheduler MUST NOT dispatch
// incompatible jobs"). Order among equally eligible workers is arbitrary.
func (jm *JobsManager) AvailableWorker(expertType string) (*Worker, error) {
	jm.pendingMtx.RLock()
	busy := make(map[string]bool, len(jm.pending))
	for _, job := range jm.pending {
		busy[job.WorkerPubkey.String()] = true
	}
	jm.pendingMtx.RUnlock()

	var found *Worker
	jm.WorkerManager.workers.Range(func(_, value any) bool {
		w, ok := value.(*Worker)
		if !ok || w.IsBanned(jm.WorkerManager.rules) || busy[w.Pubkey.String()] || !w.Supports(expertType) {
			return true
		}
		found = w
		return false
	})
	if found == nil {
		return nil, apperrors.New(apperrors.KindProtocol, apperrors.CodeProtocolWorkerNotFound,
			"no available worker supports expert type "+expertType)
	}
	return found, nil
}

// RegisterJob dispatches promptID to worker, provided it is not banned and
// currently idle.
func (jm *JobsManager) RegisterJob(worker *Worker, job *Job) error {
	jm.pendingMtx.Lock()
	defer jm.pendingMtx.Unlock()

	if worker.IsBanned(jm.WorkerManager.rules) {
		return apperrors.New(apperrors.KindProtocol, apperrors.CodeProtocolWorkerBanned, worker.Pubkey.String())
	}
	for _, existing := range jm.pending {
		if existing.WorkerPubkey.Equal(worker.Pubkey) {
			return apperrors.New(apperrors.KindProtocol, apperrors.CodeProtocolWorkerBusy, worker.Pubkey.String())
		}
	}
	job.WorkerPubkey = worker.Pubkey
	job.Timestamp = time.Now()
	job.Expiration = job.Timestamp.Add(jm.JobTimeout)
	jm.pending[job.PromptID.String()] = job
	log.Debugw("job dispatched",
		"promptID", job.PromptID.String(), "worker", worker.Pubkey.String(), "expertType", job.ExpertType)
	return nil
}

// CompleteJob marks the job for promptID finished, successfully or not,
// updating the worker's tally and forgetting the job.
func (jm *JobsManager) CompleteJob(promptID types.HexBytes, success bool) *Job {
	jm.pendingMtx.Lock()
	defer jm.pendingMtx.Unlock()

	job, exists := jm.pending[promptID.String()]
	if !exists {
		log.Warnw("job not found by promptID", "promptID", promptID.String())
		return nil
	}
	if !success {
		jm.FailedJobs <- job
	}
	if err := jm.WorkerManager.WorkerResult(job.WorkerPubkey, success); err != nil {
		log.Warnw("failed to notify worker manager for job",
			"promptID", promptID.String(), "success", success, "error", err)
	}
	delete(jm.pending, promptID.String())
	log.Debugw("job completed", "promptID", promptID.String(), "success", success)
	return job
}

// CancelJob looks up the job for promptID without removing it — the
// caller notifies the worker (SchedulerConn.Cancel waits up to
// DefaultCancelGrace for its release acknowledgement) and then calls
// CompleteJob(promptID, false) itself.
func (jm *JobsManager) CancelJob(promptID types.HexBytes) (*Job, error) {
	jm.pendingMtx.RLock()
	defer jm.pendingMtx.RUnlock()
	job, ok := jm.pending[promptID.String()]
	if !ok {
		return nil, apperrors.New(apperrors.KindProtocol, apperrors.CodeProtocolJobNotFound, promptID.String())
	}
	return job, nil
}
