package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/keshon/young-ellens/internal/persona"
	"github.com/keshon/young-ellens/internal/session"
)

const writeTimeout = 10 * time.Second

// Conn wraps a websocket connection as a session.Transport. Gorilla allows
// one concurrent writer, so every send holds the mutex.
type Conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func newConn(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

var _ session.Transport = (*Conn)(nil)

func (c *Conn) SendTyping(isTyping bool, mood persona.Mood) error {
	return c.send(typingEvent{Type: "typing_indicator", IsTyping: isTyping, Mood: string(mood)})
}

func (c *Conn) SendReply(ev session.Reply) error {
	return c.send(replyEvent{Type: "reply", Reply: ev})
}

func (c *Conn) SendInterruption(ev session.Interruption) error {
	return c.send(interruptionEvent{Type: "interruption", Interruption: ev})
}

func (c *Conn) SendEnded(ev session.Ended) error {
	return c.send(endedEvent{Type: "conversation_ended", Ended: ev})
}

func (c *Conn) sendError(msg string) {
	_ = c.send(errorEvent{Type: "error", Message: msg})
}

// send serializes one outbound event. A failed write means the peer is gone;
// the read loop will notice and tear the session down.
func (c *Conn) send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteJSON(v)
}

func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	_ = c.ws.Close()
}

type typingEvent struct {
	Type     string `json:"type"`
	IsTyping bool   `json:"isTyping"`
	Mood     string `json:"mood"`
}

type replyEvent struct {
	Type string `json:"type"`
	session.Reply
}

type interruptionEvent struct {
	Type string `json:"type"`
	session.Interruption
}

type endedEvent struct {
	Type string `json:"type"`
	session.Ended
}

type errorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
