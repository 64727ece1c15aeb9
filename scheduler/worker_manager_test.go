package scheduler

import (
	"context"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/askexperts/askexperts/db"
	"github.com/askexperts/askexperts/db/inmemory"
	"github.com/askexperts/askexperts/types"
)

func newTestWorkerManager(c *qt.C, rules *WorkerBanRules) *WorkerManager {
	memdb, err := inmemory.New(db.Options{})
	c.Assert(err, qt.IsNil)
	c.Cleanup(func() { _ = memdb.Close() })
	return NewWorkerManager(memdb, rules, 20*time.Millisecond)
}

func testPubkey(b byte) types.HexBytes {
	return types.HexBytes{0xaa, 0xbb, b}
}

func TestAddWorkerAndGetWorker(t *testing.T) {
	c := qt.New(t)
	wm := newTestWorkerManager(c, DefaultWorkerBanRules)

	pk := testPubkey(1)
	w := wm.AddWorker(pk, "worker-1", []string{"coder"})
	c.Assert(w.Pubkey, qt.DeepEquals, pk)

	got, ok := wm.GetWorker(pk)
	c.Assert(ok, qt.IsTrue)
	c.Assert(got, qt.Equals, w)
}

func TestAddWorkerReconnectKeepsState(t *testing.T) {
	c := qt.New(t)
	wm := newTestWorkerManager(c, DefaultWorkerBanRules)

	pk := testPubkey(2)
	w := wm.AddWorker(pk, "worker-2", []string{"coder"})
	w.SetBannedUntil(time.Now().Add(time.Hour))

	reconnected := wm.AddWorker(pk, "worker-2-renamed", []string{"coder", "writer"})
	c.Assert(reconnected, qt.Equals, w)
	c.Assert(reconnected.Name, qt.Equals, "worker-2-renamed")
	c.Assert(reconnected.ExpertTypes, qt.DeepEquals, []string{"coder", "writer"})
	c.Assert(reconnected.IsBanned(DefaultWorkerBanRules), qt.IsTrue)
}

func TestWorkerSupportsEmptyExpertTypesMeansAny(t *testing.T) {
	c := qt.New(t)
	w := &Worker{Pubkey: testPubkey(3)}
	c.Assert(w.Supports("anything"), qt.IsTrue)

	w.ExpertTypes = []string{"coder"}
	c.Assert(w.Supports("coder"), qt.IsTrue)
	c.Assert(w.Supports("writer"), qt.IsFalse)
}

func TestWorkerResultBansAfterConsecutiveFailures(t *testing.T) {
	c := qt.New(t)
	rules := &WorkerBanRules{BanTimeout: time.Hour, FailuresToGetBanned: 2}
	wm := newTestWorkerManager(c, rules)

	pk := testPubkey(4)
	w := wm.AddWorker(pk, "", nil)
	c.Assert(w.IsBanned(rules), qt.IsFalse)

	c.Assert(wm.WorkerResult(pk, false), qt.IsNil)
	c.Assert(w.IsBanned(rules), qt.IsFalse)
	c.Assert(wm.WorkerResult(pk, false), qt.IsNil)
	c.Assert(wm.WorkerResult(pk, false), qt.IsNil)
	c.Assert(w.IsBanned(rules), qt.IsTrue)

	c.Assert(wm.WorkerResult(pk, true), qt.IsNil)
	c.Assert(w.ConsecutiveFails(), qt.Equals, 0)
}

func TestBanSweepExpiresBans(t *testing.T) {
	c := qt.New(t)
	rules := &WorkerBanRules{BanTimeout: 10 * time.Millisecond, FailuresToGetBanned: 100}
	wm := newTestWorkerManager(c, rules)

	pk := testPubkey(5)
	w := wm.AddWorker(pk, "", nil)
	w.SetBannedUntil(time.Now().Add(5 * time.Millisecond))
	c.Assert(w.IsBanned(rules), qt.IsTrue)

	ctx, cancel := context.WithCancel(context.Background())
	c.Cleanup(cancel)
	wm.Start(ctx)

	c.Assert(func() bool {
		for i := 0; i < 50; i++ {
			if !w.IsBanned(rules) {
				return true
			}
			time.Sleep(10 * time.Millisecond)
		}
		return false
	}(), qt.IsTrue)
}

func TestWorkerStatsErrorsWhenNeverConnected(t *testing.T) {
	c := qt.New(t)
	wm := newTestWorkerManager(c, DefaultWorkerBanRules)

	_, err := wm.WorkerStats(testPubkey(6))
	c.Assert(err, qt.ErrorMatches, ".*worker-not-found.*")
}

func TestWorkerStatsFallsBackToGeneratedName(t *testing.T) {
	c := qt.New(t)
	wm := newTestWorkerManager(c, DefaultWorkerBanRules)

	pk := testPubkey(7)
	wm.AddWorker(pk, "", []string{"coder"})
	c.Assert(wm.WorkerResult(pk, true), qt.IsNil)

	info, err := wm.WorkerStats(pk)
	c.Assert(err, qt.IsNil)
	c.Assert(info.Name, qt.Equals, WorkerNameFromPubkey(pk))
	c.Assert(info.SuccessCount, qt.Equals, int64(1))
}

func TestListWorkerStatsMergesPersistedAndLive(t *testing.T) {
	c := qt.New(t)
	wm := newTestWorkerManager(c, DefaultWorkerBanRules)

	pk1, pk2 := testPubkey(8), testPubkey(9)
	wm.AddWorker(pk1, "one", []string{"coder"})
	wm.AddWorker(pk2, "two", []string{"writer"})
	c.Assert(wm.WorkerResult(pk1, true), qt.IsNil)
	c.Assert(wm.WorkerResult(pk2, false), qt.IsNil)

	list, err := wm.ListWorkerStats()
	c.Assert(err, qt.IsNil)
	c.Assert(list, qt.HasLen, 2)

	byPubkey := make(map[string]*WorkerInfo)
	for _, info := range list {
		byPubkey[info.Pubkey.String()] = info
	}
	c.Assert(byPubkey[pk1.String()].SuccessCount, qt.Equals, int64(1))
	c.Assert(byPubkey[pk2.String()].FailedCount, qt.Equals, int64(1))
}
