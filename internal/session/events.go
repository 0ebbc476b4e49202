package session

import (
	"time"

	"github.com/keshon/young-ellens/internal/persona"
)

// Status is the session lifecycle state.
type Status string

const (
	StatusConnecting Status = "connecting"
	StatusActive     Status = "active"
	StatusClosed     Status = "closed"
)

// End reason codes.
const (
	ReasonPatienceExhausted = "patience_exhausted"
	ReasonIdleTimeout       = "idle_timeout"
	ReasonDisconnect        = "client_disconnect"
)

// Reply is the outbound reply event.
type Reply struct {
	ID             string       `json:"id"`
	Text           string       `json:"text"`
	Mood           persona.Mood `json:"mood"`
	Chaos          int          `json:"chaosLevel"`
	ConversationID string       `json:"conversationId"`
	Provider       string       `json:"provider"`
	Timestamp      time.Time    `json:"timestamp"`
}

// Interruption is the out-of-band non-sequitur event.
type Interruption struct {
	Text   string `json:"text"`
	Reason string `json:"reason"`
}

// Ended is the conversation-ended notification.
type Ended struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// Transport is the outbound side of one live connection. Implementations
// must tolerate calls after the peer went away (return an error, don't
// panic).
type Transport interface {
	SendTyping(isTyping bool, mood persona.Mood) error
	SendReply(Reply) error
	SendInterruption(Interruption) error
	SendEnded(Ended) error
}
