package transport

import (
	"encoding/json"
	"fmt"

	"github.com/adred-codev/collabhub/internal/broadcast"
	"github.com/adred-codev/collabhub/internal/collab"
)

// wireMessage is the JSON rendering of the collab message union carried
// over the websocket. Payload is a []byte field, which encoding/json marshals as a base64
// string — enough to carry arbitrary CRDT update bytes or awareness
// payloads over a text websocket frame without a bespoke codec.
type wireMessage struct {
	Type     string `json:"type"`
	ObjectID string `json:"object_id,omitempty"`
	Payload  []byte `json:"payload,omitempty"`
	MsgID    string `json:"msg_id,omitempty"`
}

const (
	wireInit            = "init"
	wireUpdate          = "update"
	wireAwarenessUpdate = "awareness_update"
	wireAck             = "ack"
	wireResync          = "resync"
)

func kindToWireType(k broadcast.MessageKind) string {
	switch k {
	case broadcast.Init:
		return wireInit
	case broadcast.Update:
		return wireUpdate
	case broadcast.AwarenessUpdate:
		return wireAwarenessUpdate
	case broadcast.Ack:
		return wireAck
	case broadcast.Resync:
		return wireResync
	default:
		return wireUpdate
	}
}

func wireTypeToKind(t string) (broadcast.MessageKind, bool) {
	switch t {
	case wireUpdate:
		return broadcast.Update, true
	case wireAwarenessUpdate:
		return broadcast.AwarenessUpdate, true
	case wireInit:
		return broadcast.Init, true
	case wireAck:
		return broadcast.Ack, true
	default:
		return 0, false
	}
}

// encodeOutbound renders a broadcast.Message for the wire.
func encodeOutbound(objectID string, msg broadcast.Message) ([]byte, error) {
	w := wireMessage{
		Type:     kindToWireType(msg.Kind),
		ObjectID: objectID,
		Payload:  msg.Payload,
	}
	b, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("transport: encode outbound: %w", err)
	}
	return b, nil
}

// decodeInbound parses a raw client frame into a collab.InboundMessage.
// A frame whose `type` isn't one of update/awareness_update is a fatal
// framing error, so the caller closes the connection rather than
// forwarding it into the Subscription.
func decodeInbound(raw []byte) (collab.InboundMessage, error) {
	var w wireMessage
	if err := json.Unmarshal(raw, &w); err != nil {
		return collab.InboundMessage{}, fmt.Errorf("transport: decode frame: %w", err)
	}
	kind, ok := wireTypeToKind(w.Type)
	if !ok || (kind != broadcast.Update && kind != broadcast.AwarenessUpdate) {
		return collab.InboundMessage{}, fmt.Errorf("transport: unexpected inbound frame type %q", w.Type)
	}
	return collab.InboundMessage{Kind: kind, Payload: w.Payload, MsgID: w.MsgID}, nil
}
