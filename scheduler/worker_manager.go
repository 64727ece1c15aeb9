package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/askexperts/askexperts/apperrors"
	"github.com/askexperts/askexperts/db"
	"github.com/askexperts/askexperts/log"
	"github.com/askexperts/askexperts/types"
)

// WorkerInfo summarizes one worker's identity, capabilities and tallies for
// reporting (the scheduler's admin surface, C10).
type WorkerInfo struct {
	Pubkey       types.HexBytes `json:"pubkey"`
	Name         string         `json:"name"`
	ExpertTypes  []string       `json:"expertTypes"`
	SuccessCount int64          `json:"successCount"`
	FailedCount  int64          `json:"failedCount"`
}

// WorkerBanRules bounds how many consecutive failed jobs a worker tolerates
// before being banned, and for how long (these are tunable operational
// defaults, not protocol-mandated numbers).
type WorkerBanRules struct {
	BanTimeout          time.Duration
	FailuresToGetBanned int
}

// DefaultWorkerBanRules bans a worker for 30 minutes once its consecutive
// failed jobs exceed 3 (that is, on the 4th).
var DefaultWorkerBanRules = &WorkerBanRules{
	BanTimeout:          30 * time.Minute,
	FailuresToGetBanned: 3,
}

// Worker is one connected worker process: its pubkey, advertised expert
// types (§4.8's handshake capability set) and ban bookkeeping.
type Worker struct {
	Pubkey      types.HexBytes
	Name        string
	ExpertTypes []string

	consecutiveFails int64 // atomic
	bannedUntilNanos int64 // atomic Unix nanoseconds, 0 = not banned
}

// Supports reports whether the worker advertised expertType on handshake.
// An empty advertised set is treated as "supports everything" — useful for
// a generic worker binary the scheduler hasn't been told to restrict.
func (w *Worker) Supports(expertType string) bool {
	if len(w.ExpertTypes) == 0 {
		return true
	}
	for _, t := range w.ExpertTypes {
		if t == expertType {
			return true
		}
	}
	return false
}

// IsBanned reports whether the worker currently fails rules' ban condition,
// either by consecutive-failure count or by an active timed ban.
func (w *Worker) IsBanned(rules *WorkerBanRules) bool {
	if rules == nil {
		return false
	}
	if atomic.LoadInt64(&w.consecutiveFails) > int64(rules.FailuresToGetBanned) {
		return true
	}
	bannedUntil := atomic.LoadInt64(&w.bannedUntilNanos)
	if bannedUntil == 0 {
		return false
	}
	return time.Now().UnixNano() < bannedUntil
}

// GetBannedUntil returns the worker's ban expiration time, or the zero
// time if it has never been banned.
func (w *Worker) GetBannedUntil() time.Time {
	nanos := atomic.LoadInt64(&w.bannedUntilNanos)
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}

// SetBannedUntil atomically sets the worker's ban expiration time.
func (w *Worker) SetBannedUntil(t time.Time) {
	var nanos int64
	if !t.IsZero() {
		nanos = t.UnixNano()
	}
	atomic.StoreInt64(&w.bannedUntilNanos, nanos)
}

// ConsecutiveFails returns the worker's current consecutive failure count.
func (w *Worker) ConsecutiveFails() int {
	return int(atomic.LoadInt64(&w.consecutiveFails))
}

// WorkerManager tracks every worker that has connected to this scheduler,
// their capabilities, and their ban status, periodically sweeping expired
// bans (§4.8's reconnect/ban lifecycle).
type WorkerManager struct {
	stats          *statsStore
	workers        sync.Map // pubkey hex -> *Worker
	rules          *WorkerBanRules
	tickerInterval time.Duration

	cancel context.CancelFunc
}

// NewWorkerManager constructs a WorkerManager persisting success/failure
// tallies into database. An optional tickerInterval overrides the default
// 10-second ban sweep.
func NewWorkerManager(database db.Database, rules *WorkerBanRules, tickerInterval ...time.Duration) *WorkerManager {
	interval := 10 * time.Second
	if len(tickerInterval) > 0 {
		interval = tickerInterval[0]
	}
	banRules := DefaultWorkerBanRules
	if rules != nil {
		banRules = rules
	}
	return &WorkerManager{
		stats:          newStatsStore(database),
		rules:          banRules,
		tickerInterval: interval,
	}
}

// Start begins the background ban/unban sweep. It returns once the sweep
// goroutine has been launched; Stop (or ctx cancellation) ends it.
func (wm *WorkerManager) Start(ctx context.Context) {
	ctx, wm.cancel = context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(wm.tickerInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, w := range wm.BannedWorkers() {
					if bannedUntil := w.GetBannedUntil(); bannedUntil.IsZero() {
						wm.SetBanDuration(w.Pubkey)
					} else if time.Now().After(bannedUntil) {
						wm.ResetWorker(w.Pubkey)
					}
				}
			}
		}
	}()
	log.Infow("worker manager started",
		"banTimeout", wm.rules.BanTimeout.String(),
		"failuresToGetBanned", wm.rules.FailuresToGetBanned)
}

// Stop ends the ban sweep and forgets every connected worker — a reconnect
// must re-handshake and re-advertise its expert types.
func (wm *WorkerManager) Stop() {
	if wm.cancel != nil {
		wm.cancel()
	}
	wm.workers.Range(func(key, _ any) bool {
		wm.workers.Delete(key)
		return true
	})
}

// AddWorker registers a worker by pubkey on handshake, recording its
// advertised expert types. A reconnecting worker with the same pubkey keeps
// its existing ban/failure state rather than starting fresh.
func (wm *WorkerManager) AddWorker(pubkey types.HexBytes, name string, expertTypes []string) *Worker {
	if w, ok := wm.GetWorker(pubkey); ok {
		w.Name = name
		w.ExpertTypes = expertTypes
		return w
	}
	w := &Worker{Pubkey: pubkey, Name: name, ExpertTypes: expertTypes}
	wm.workers.Store(pubkey.String(), w)
	log.Debugw("worker connected", "pubkey", pubkey.String(), "expertTypes", expertTypes)
	return w
}

// GetWorker looks up a worker by pubkey.
func (wm *WorkerManager) GetWorker(pubkey types.HexBytes) (*Worker, bool) {
	if w, ok := wm.workers.Load(pubkey.String()); ok {
		return w.(*Worker), true
	}
	return nil, false
}

// BannedWorkers returns every worker currently failing the ban rules.
func (wm *WorkerManager) BannedWorkers() []*Worker {
	var banned []*Worker
	wm.workers.Range(func(_, value any) bool {
		if w, ok := value.(*Worker); ok && w.IsBanned(wm.rules) {
			banned = append(banned, w)
		}
		return true
	})
	return banned
}

// ResetWorker clears a worker's failure count and ban, as if it had just
// reconnected clean.
func (wm *WorkerManager) ResetWorker(pubkey types.HexBytes) {
	if w, ok := wm.GetWorker(pubkey); ok {
		w.SetBannedUntil(time.Time{})
		atomic.StoreInt64(&w.consecutiveFails, 0)
		log.Debugw("worker reset", "pubkey", pubkey.String())
	}
}

// SetBanDuration bans a worker for the configured BanTimeout, from now.
func (wm *WorkerManager) SetBanDuration(pubkey types.HexBytes) {
	if w, ok := wm.GetWorker(pubkey); ok {
		banTime := time.Now().Add(wm.rules.BanTimeout)
		w.SetBannedUntil(banTime)
		log.Warnw("worker banned", "pubkey", pubkey.String(), "until", banTime.String())
	}
}

// WorkerResult records a job outcome for pubkey, resetting its consecutive
// failure count on success or incrementing it on failure, and persists the
// tally to the stats store.
func (wm *WorkerManager) WorkerResult(pubkey types.HexBytes, success bool) error {
	w, ok := wm.GetWorker(pubkey)
	if !ok {
		w = &Worker{Pubkey: pubkey}
		wm.workers.Store(pubkey.String(), w)
	}
	if success {
		atomic.StoreInt64(&w.consecutiveFails, 0)
		return wm.stats.increaseSuccess(pubkey.String(), 1)
	}
	atomic.AddInt64(&w.consecutiveFails, 1)
	return wm.stats.increaseFailed(pubkey.String(), 1)
}

// WorkerStats returns the reporting view of one worker's identity and
// tallies, erroring if the worker has never connected.
func (wm *WorkerManager) WorkerStats(pubkey types.HexBytes) (*WorkerInfo, error) {
	w, ok := wm.GetWorker(pubkey)
	if !ok {
		return nil, apperrors.New(apperrors.KindProtocol, apperrors.CodeProtocolWorkerNotFound, pubkey.String())
	}
	stats := wm.stats.get(pubkey.String())
	name := w.Name
	if name == "" {
		name = WorkerNameFromPubkey(pubkey)
	}
	return &WorkerInfo{
		Pubkey:       pubkey,
		Name:         name,
		ExpertTypes:  w.ExpertTypes,
		SuccessCount: stats.SuccessCount,
		FailedCount:  stats.FailedCount,
	}, nil
}

// ListWorkerStats returns the reporting view of every worker currently
// registered with the manager, merged with its persisted tallies; workers
// that only have persisted tallies are not listed.
func (wm *WorkerManager) ListWorkerStats() ([]*WorkerInfo, error) {
	persisted, err := wm.stats.list()
	if err != nil {
		return nil, err
	}

	result := []*WorkerInfo{}
	wm.workers.Range(func(_, value any) bool {
		w, ok := value.(*Worker)
		if !ok {
			return true
		}
		var success, failed int64
		if stats, ok := persisted[w.Pubkey.String()]; ok {
			success, failed = stats.SuccessCount, stats.FailedCount
		}
		name := w.Name
		if name == "" {
			name = WorkerNameFromPubkey(w.Pubkey)
		}
		result = append(result, &WorkerInfo{
			Pubkey:       w.Pubkey,
			Name:         name,
			ExpertTypes:  w.ExpertTypes,
			SuccessCount: success,
			FailedCount:  failed,
		})
		return true
	})
	return result, nil
}
