// Package scheduler dispatches expert jobs to remote worker processes over
// a long-lived duplex session (C9): a WorkerManager tracking reachability
// and ban status per worker pubkey, a JobsManager tracking in-flight jobs
// and their timeouts, and a Session implementing the worker-side duplex
// channel with heartbeats and reconnect-with-backoff.
package scheduler

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/askexperts/askexperts/db"
)

var workerStatsPrefix = []byte("wstats/")

// WorkerStats is the persisted success/failure tally for one worker pubkey,
// kept across process restarts the way a durable key-value store keeps
// per-address job counts.
type WorkerStats struct {
	SuccessCount int64 `cbor:"success_count"`
	FailedCount  int64 `cbor:"failed_count"`
}

// statsStore is the KV-backed half of WorkerManager's bookkeeping, split out
// from the in-memory ban-tracking so persisted counts survive a restart
// while ban state (which should not) does not.
type statsStore struct {
	db db.Database
}

func newStatsStore(database db.Database) *statsStore {
	return &statsStore{db: database}
}

func keyWorkerStats(pubkeyHex string) []byte {
	return append(append([]byte{}, workerStatsPrefix...), pubkeyHex...)
}

func (s *statsStore) get(pubkeyHex string) *WorkerStats {
	var stats WorkerStats
	data, err := s.db.Get(keyWorkerStats(pubkeyHex))
	if err != nil {
		return &WorkerStats{}
	}
	if err := cbor.Unmarshal(data, &stats); err != nil {
		return &WorkerStats{}
	}
	return &stats
}

func (s *statsStore) increaseSuccess(pubkeyHex string, delta int64) error {
	stats := s.get(pubkeyHex)
	stats.SuccessCount += delta
	return s.set(pubkeyHex, stats)
}

func (s *statsStore) increaseFailed(pubkeyHex string, delta int64) error {
	stats := s.get(pubkeyHex)
	stats.FailedCount += delta
	return s.set(pubkeyHex, stats)
}

func (s *statsStore) set(pubkeyHex string, stats *WorkerStats) error {
	encOpts := cbor.CoreDetEncOptions()
	em, err := encOpts.EncMode()
	if err != nil {
		return err
	}
	data, err := em.Marshal(stats)
	if err != nil {
		return err
	}
	wtx := s.db.WriteTx()
	defer wtx.Discard()
	if err := wtx.Set(keyWorkerStats(pubkeyHex), data); err != nil {
		return err
	}
	return wtx.Commit()
}

func (s *statsStore) list() (map[string]*WorkerStats, error) {
	result := make(map[string]*WorkerStats)
	err := s.db.Iterate(workerStatsPrefix, func(k, v []byte) bool {
		var stats WorkerStats
		if err := cbor.Unmarshal(v, &stats); err != nil {
			return true
		}
		pubkeyHex := string(k)
		result[pubkeyHex] = &stats
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to iterate worker stats: %w", err)
	}
	return result, nil
}
