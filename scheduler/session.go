package scheduler

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/askexperts/askexperts/apperrors"
	"github.com/askexperts/askexperts/codec"
	"github.com/askexperts/askexperts/log"
	"github.com/askexperts/askexperts/types"
)

const (
	// heartbeatInterval and missedHeartbeatsToReconnect implement §4.8's
	// "heartbeat every 30s; missed three heartbeats => reconnect".
	heartbeatInterval           = 30 * time.Second
	missedHeartbeatsToReconnect = 3

	workerBackoffInitial = 500 * time.Millisecond
	workerBackoffCap     = 30 * time.Second
)

// WorkerSessionConfig configures a Worker's duplex session to a Scheduler.
type WorkerSessionConfig struct {
	SchedulerURL    string
	Signer          *codec.Signer
	SchedulerPubkey types.HexBytes
	ExpertTypes     []string

	// OnDispatch is invoked for every Job the scheduler sends; the worker
	// signals acceptance by returning accept=true.
	OnDispatch func(job *Job) (accept bool)
	// OnCancel is invoked when the scheduler revokes promptID; the worker
	// MUST release the job's resources and return within DefaultCancelGrace.
	OnCancel func(promptID types.HexBytes)
}

// WorkerSession is the worker side of the duplex channel (§4.8): dial
// SchedulerURL, handshake with a signed auth token advertising
// ExpertTypes, heartbeat every 30s, and reconnect with backoff after three
// missed heartbeat acks — mirroring transport.Connection's dial/backoff
// loop (C2), the only precedent in this engine for a long-lived
// reconnecting websocket client.
type WorkerSession struct {
	cfg WorkerSessionConfig

	mu      sync.Mutex
	conn    *websocket.Conn
	closed  bool
	backoff time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Dial starts the session's connect/handshake/heartbeat/reconnect loop in
// the background and returns immediately.
func Dial(ctx context.Context, cfg WorkerSessionConfig) *WorkerSession {
	cctx, cancel := context.WithCancel(ctx)
	s := &WorkerSession{
		cfg:     cfg,
		backoff: workerBackoffInitial,
		ctx:     cctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *WorkerSession) run() {
	defer close(s.done)
	for {
		if s.ctx.Err() != nil {
			return
		}
		conn, _, err := websocket.DefaultDialer.DialContext(s.ctx, s.cfg.SchedulerURL, nil)
		if err != nil {
			log.Warnw("scheduler dial failed", "url", s.cfg.SchedulerURL, "error", err, "backoff", s.backoff)
			if !s.sleepBackoff() {
				return
			}
			continue
		}
		if err := s.handshake(conn); err != nil {
			log.Warnw("scheduler handshake failed", "url", s.cfg.SchedulerURL, "error", err)
			_ = conn.Close()
			if !s.sleepBackoff() {
				return
			}
			continue
		}

		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()
		s.backoff = workerBackoffInitial
		log.Infow("scheduler session established", "url", s.cfg.SchedulerURL)

		s.serve(conn)

		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		if s.ctx.Err() != nil {
			return
		}
		if !s.sleepBackoff() {
			return
		}
	}
}

func (s *WorkerSession) handshake(conn *websocket.Conn) error {
	token, err := SignWorkerAuthToken(s.cfg.Signer, s.cfg.SchedulerPubkey)
	if err != nil {
		return err
	}
	if err := writeMessage(conn, message{
		Type:        msgHandshake,
		Pubkey:      s.cfg.Signer.Pubkey(),
		AuthToken:   token,
		ExpertTypes: s.cfg.ExpertTypes,
	}); err != nil {
		return err
	}
	var ack message
	if err := readMessage(conn, &ack); err != nil {
		return err
	}
	if ack.Type != msgHandshakeAck || !ack.OK {
		return apperrors.New(apperrors.KindTransport, apperrors.CodeTransportDisconnect, ack.Reason)
	}
	return nil
}

// serve drives the established connection's heartbeat and inbound message
// loop until it errors, goes quiet past missedHeartbeatsToReconnect, or is
// closed — at which point run redials.
func (s *WorkerSession) serve(conn *websocket.Conn) {
	inbound := make(chan message, 8)
	readErr := make(chan error, 1)
	go func() {
		for {
			var m message
			if err := readMessage(conn, &m); err != nil {
				readErr <- err
				return
			}
			inbound <- m
		}
	}()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	missed := 0

	for {
		select {
		case <-s.ctx.Done():
			return
		case err := <-readErr:
			log.Debugw("scheduler connection read error", "error", err)
			return
		case m := <-inbound:
			switch m.Type {
			case msgHeartbeatAck:
				missed = 0
			case msgDispatch:
				s.handleDispatch(conn, &m)
			case msgCancel:
				if s.cfg.OnCancel != nil {
					s.cfg.OnCancel(m.PromptID)
				}
				_ = writeMessage(conn, message{Type: msgCancelAck, PromptID: m.PromptID})
			}
		case <-ticker.C:
			missed++
			if missed >= missedHeartbeatsToReconnect {
				log.Warnw("missed heartbeats, reconnecting", "url", s.cfg.SchedulerURL, "missed", missed)
				return
			}
			if err := writeMessage(conn, message{Type: msgHeartbeat}); err != nil {
				return
			}
		}
	}
}

func (s *WorkerSession) handleDispatch(conn *websocket.Conn, m *message) {
	job := &Job{
		PromptID:      m.PromptID,
		ExpertPubkey:  m.ExpertPubkey,
		ExpertType:    m.ExpertType,
		ExpertDBRow:   m.ExpertDBRow,
		ExpertPrivkey: m.ExpertPrivkey,
		WalletNWC:     m.WalletNWC,
		DocstoreRefs:  m.DocstoreRefs,
	}
	accept := s.cfg.OnDispatch != nil && s.cfg.OnDispatch(job)
	_ = writeMessage(conn, message{Type: msgJobAck, PromptID: job.PromptID, OK: accept})
}

// ReportStatus streams a job status update to the scheduler.
func (s *WorkerSession) ReportStatus(promptID types.HexBytes, status string) error {
	return s.send(message{Type: msgJobStatus, PromptID: promptID, Status: status})
}

// PublishEvent forwards a signed event produced while working a job for the
// scheduler to relay to the pool (§4.8: "Worker streams... any produced
// events to be published").
func (s *WorkerSession) PublishEvent(e *types.Event) error {
	return s.send(message{Type: msgPublishEvent, Event: e})
}

func (s *WorkerSession) send(m message) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return apperrors.New(apperrors.KindTransport, apperrors.CodeTransportDisconnect, "no active scheduler session")
	}
	return writeMessage(conn, m)
}

func (s *WorkerSession) sleepBackoff() bool {
	wait := s.backoff
	s.backoff *= 2
	if s.backoff > workerBackoffCap {
		s.backoff = workerBackoffCap
	}
	select {
	case <-s.ctx.Done():
		return false
	case <-time.After(wait):
		return true
	}
}

// Close stops reconnecting and releases the underlying socket.
func (s *WorkerSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conn := s.conn
	s.mu.Unlock()

	s.cancel()
	if conn != nil {
		_ = conn.Close()
	}
	<-s.done
	return nil
}

func writeMessage(conn *websocket.Conn, m message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func readMessage(conn *websocket.Conn, m *message) error {
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, m)
}
