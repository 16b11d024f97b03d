package protocol

import "encoding/json"

const (
	ActionAuth        = "auth"
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
)

// ControlMessage is the envelope both sides of the relay speak: downstream
// clients send it to us, and we send it upstream. Params is the credential for
// auth, or a comma-separated channel list (e.g. "T.AAPL,AM.MSFT") for
// subscribe/unsubscribe.
type ControlMessage struct {
	Action string `json:"action"`
	Params string `json:"params,omitempty"`
}

// ParseControl decodes a control envelope. The second return is false when the
// payload is not a control message (not JSON, or no action field).
func ParseControl(raw []byte) (ControlMessage, bool) {
	var msg ControlMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return ControlMessage{}, false
	}
	if msg.Action == "" {
		return ControlMessage{}, false
	}
	return msg, true
}

// AuthMessage builds the upstream authentication envelope.
func AuthMessage(credential string) ControlMessage {
	return ControlMessage{Action: ActionAuth, Params: credential}
}
