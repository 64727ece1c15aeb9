package scheduler

import "github.com/askexperts/askexperts/types"

// messageType discriminates the JSON frames exchanged over a duplex
// session. The teacher has no equivalent wire protocol (its worker/job
// handlers are plain HTTP polling, api/worker_handlers.go); this framing is
// new, grounded on the plain encoding/json the rest of this engine already
// uses at its HTTP boundary, carried over websocket.TextMessage frames
// instead of request/response bodies.
type messageType string

const (
	msgHandshake    messageType = "handshake"
	msgHandshakeAck messageType = "handshake_ack"
	msgHeartbeat    messageType = "heartbeat"
	msgHeartbeatAck messageType = "heartbeat_ack"
	msgDispatch     messageType = "dispatch"
	msgJobAck       messageType = "job_ack"
	msgJobStatus    messageType = "job_status"
	msgPublishEvent messageType = "publish_event"
	msgCancel       messageType = "cancel"
	msgCancelAck    messageType = "cancel_ack"
)

// message is the single envelope every duplex session frame marshals to;
// only the fields relevant to Type are populated.
type message struct {
	Type messageType `json:"type"`

	// handshake / handshake_ack
	Pubkey      types.HexBytes `json:"pubkey,omitempty"`
	AuthToken   types.HexBytes `json:"authToken,omitempty"`
	ExpertTypes []string       `json:"expertTypes,omitempty"`
	OK          bool           `json:"ok,omitempty"`
	Reason      string         `json:"reason,omitempty"`

	// dispatch / job_ack / job_status / cancel / cancel_ack
	PromptID      types.HexBytes `json:"promptId,omitempty"`
	ExpertPubkey  types.HexBytes `json:"expertPubkey,omitempty"`
	ExpertType    string         `json:"expertType,omitempty"`
	ExpertDBRow   []byte         `json:"expertDbRow,omitempty"`
	ExpertPrivkey types.HexBytes `json:"expertPrivkey,omitempty"`
	WalletNWC     string         `json:"walletNwc,omitempty"`
	DocstoreRefs  []string       `json:"docstoreRefs,omitempty"`
	Status        string         `json:"status,omitempty"`

	// publish_event
	Event *types.Event `json:"event,omitempty"`
}
