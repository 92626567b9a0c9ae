package ws

import "encoding/json"

// Frame types exchanged with clients.
const (
	frameSubscribe   = "subscribe"
	frameUnsubscribe = "unsubscribe"
	frameAck         = "ack"
	frameResume      = "resume"
	frameCmd         = "cmd"
	framePing        = "ping"
	frameEvent       = "event"
	frameResult      = "result"
	frameError       = "error"
)

// maxSessionLen bounds the client chosen id acks are stored under.
const maxSessionLen = 64

// inbound is one frame read from a client. Session is generated by the
// client and survives reconnects; acks and resume are keyed by it.
type inbound struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Channel string          `json:"channel,omitempty"`
	Seq     int64           `json:"seq,omitempty"`
	Since   int64           `json:"since,omitempty"`
	Session string          `json:"session,omitempty"`
	Op      string          `json:"op,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// outbound is one frame written to a client.
type outbound struct {
	Type    string      `json:"type"`
	ID      string      `json:"id,omitempty"`
	Channel string      `json:"channel,omitempty"`
	Seq     int64       `json:"seq,omitempty"`
	Ack     string      `json:"ack,omitempty"`
	Code    string      `json:"code,omitempty"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

func ackFrame(what, channel string) outbound {
	return outbound{Type: frameAck, Ack: what, Channel: channel}
}

func errorFrame(id, code, message string) outbound {
	return outbound{Type: frameError, ID: id, Code: code, Message: message}
}

// seqOf reads the sequence number the bus stamps on events.
func seqOf(event map[string]interface{}) int64 {
	switch v := event["seq"].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}
