package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/askexperts/askexperts/apperrors"
	"github.com/askexperts/askexperts/log"
	"github.com/askexperts/askexperts/types"
)

// SchedulerConn is the scheduler side of one Worker's duplex session
// (§4.8): it owns the accepted websocket connection, verifies the
// handshake, and exposes Dispatch/Cancel plus callbacks for whatever the
// worker streams back.
type SchedulerConn struct {
	conn   *websocket.Conn
	worker *Worker
	wm     *WorkerManager

	mu      sync.Mutex
	closed  bool
	pending map[string]chan message // promptID hex -> job_ack/cancel_ack waiter

	// OnStatus is invoked for every job_status frame the worker streams.
	OnStatus func(promptID types.HexBytes, status string)
	// OnPublish is invoked for every signed event the worker produces for
	// this scheduler to relay to the pool.
	OnPublish func(e *types.Event)
}

// AcceptWorker performs the handshake side of §4.8's duplex channel over an
// already-upgraded websocket connection: it reads the worker's handshake
// frame, verifies its auth token against schedulerPubkey, registers it with
// wm, and acks. The caller owns running Serve afterward.
func AcceptWorker(conn *websocket.Conn, schedulerPubkey types.HexBytes, wm *WorkerManager) (*SchedulerConn, error) {
	var hs message
	if err := readMessage(conn, &hs); err != nil {
		return nil, err
	}
	if hs.Type != msgHandshake {
		_ = writeMessage(conn, message{Type: msgHandshakeAck, OK: false, Reason: "expected handshake"})
		return nil, apperrors.New(apperrors.KindProtocol, apperrors.CodeProtocolUnexpectedKind, string(hs.Type))
	}
	ok, _, err := VerifyWorkerAuthToken(hs.AuthToken, hs.Pubkey, schedulerPubkey)
	if err != nil || !ok {
		reason := "invalid auth token"
		if err != nil {
			reason = err.Error()
		}
		_ = writeMessage(conn, message{Type: msgHandshakeAck, OK: false, Reason: reason})
		return nil, apperrors.New(apperrors.KindProtocol, apperrors.CodeProtocolCapability, reason)
	}

	worker := wm.AddWorker(hs.Pubkey, WorkerNameFromPubkey(hs.Pubkey), hs.ExpertTypes)
	if err := writeMessage(conn, message{Type: msgHandshakeAck, OK: true}); err != nil {
		return nil, err
	}
	log.Infow("worker session accepted", "pubkey", hs.Pubkey.String(), "expertTypes", hs.ExpertTypes)

	return &SchedulerConn{
		conn:    conn,
		worker:  worker,
		wm:      wm,
		pending: make(map[string]chan message),
	}, nil
}

// Worker returns the identity this connection authenticated as.
func (sc *SchedulerConn) Worker() *Worker {
	return sc.worker
}

// Dispatch sends job to the worker and blocks until it acks or ctx is done.
// A false ack means the worker declined the job (e.g. already busy).
func (sc *SchedulerConn) Dispatch(ctx context.Context, job *Job) (bool, error) {
	wait := sc.registerWaiter(job.PromptID)
	defer sc.clearWaiter(job.PromptID)

	if err := sc.write(message{
		Type:          msgDispatch,
		PromptID:      job.PromptID,
		ExpertPubkey:  job.ExpertPubkey,
		ExpertType:    job.ExpertType,
		ExpertDBRow:   job.ExpertDBRow,
		ExpertPrivkey: job.ExpertPrivkey,
		WalletNWC:     job.WalletNWC,
		DocstoreRefs:  job.DocstoreRefs,
	}); err != nil {
		return false, err
	}

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case ack := <-wait:
		return ack.OK, nil
	}
}

// Cancel revokes promptID and waits up to DefaultCancelGrace for the
// worker's release acknowledgement (§4.8).
func (sc *SchedulerConn) Cancel(promptID types.HexBytes) error {
	wait := sc.registerWaiter(promptID)
	defer sc.clearWaiter(promptID)

	if err := sc.write(message{Type: msgCancel, PromptID: promptID}); err != nil {
		return err
	}

	select {
	case <-wait:
		return nil
	case <-time.After(DefaultCancelGrace):
		return apperrors.New(apperrors.KindTransport, apperrors.CodeTransportTimeout, promptID.String())
	}
}

// Serve reads frames from the worker until the connection closes or ctx is
// done, replying to heartbeats and routing job_ack/cancel_ack to pending
// Dispatch/Cancel callers, and job_status/publish_event to OnStatus/
// OnPublish.
func (sc *SchedulerConn) Serve(ctx context.Context) error {
	defer sc.Close()
	errc := make(chan error, 1)
	msgs := make(chan message, 8)
	go func() {
		for {
			var m message
			if err := readMessage(sc.conn, &m); err != nil {
				errc <- err
				return
			}
			msgs <- m
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errc:
			return err
		case m := <-msgs:
			switch m.Type {
			case msgHeartbeat:
				_ = sc.write(message{Type: msgHeartbeatAck})
			case msgJobAck, msgCancelAck:
				sc.deliver(m.PromptID, m)
			case msgJobStatus:
				if sc.OnStatus != nil {
					sc.OnStatus(m.PromptID, m.Status)
				}
			case msgPublishEvent:
				if sc.OnPublish != nil && m.Event != nil {
					sc.OnPublish(m.Event)
				}
			}
		}
	}
}

func (sc *SchedulerConn) registerWaiter(promptID types.HexBytes) chan message {
	ch := make(chan message, 1)
	sc.mu.Lock()
	sc.pending[promptID.String()] = ch
	sc.mu.Unlock()
	return ch
}

func (sc *SchedulerConn) clearWaiter(promptID types.HexBytes) {
	sc.mu.Lock()
	delete(sc.pending, promptID.String())
	sc.mu.Unlock()
}

func (sc *SchedulerConn) deliver(promptID types.HexBytes, m message) {
	sc.mu.Lock()
	ch, ok := sc.pending[promptID.String()]
	sc.mu.Unlock()
	if ok {
		ch <- m
	}
}

func (sc *SchedulerConn) write(m message) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.closed {
		return apperrors.New(apperrors.KindTransport, apperrors.CodeTransportDisconnect, "session closed")
	}
	return writeMessage(sc.conn, m)
}

// Close releases the underlying connection.
func (sc *SchedulerConn) Close() error {
	sc.mu.Lock()
	if sc.closed {
		sc.mu.Unlock()
		return nil
	}
	sc.closed = true
	sc.mu.Unlock()
	return sc.conn.Close()
}
