package relay

import (
	"encoding/json"
	"fmt"
)

// Inbound event names accepted over a WebSocket session.
const (
	EventJoin        = "join"
	EventSendMessage = "send_message"
	EventTyping      = "typing"
	EventStopTyping  = "stop_typing"
)

// Outbound event names pushed to sessions.
const (
	EventReceiveMessage = "receive_message"
	EventMessageSent    = "message_sent"
	EventMessageError   = "message_error"
	EventUserOnline     = "user_online"
	EventUserOffline    = "user_offline"
	EventUserTyping     = "user_typing"
	EventUserStopTyping = "user_stop_typing"
)

// Envelope is the wire framing for every event in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// JoinPayload identifies the user claiming the connection.
type JoinPayload struct {
	UserID string `json:"userId"`
}

// SendMessagePayload carries an inbound message submission. The embedded
// sender identity is trusted for routing; see the session dispatch notes.
type SendMessagePayload struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	Content    string `json:"content"`
	Type       string `json:"type"`
}

// TypingPayload carries a typing or stop-typing signal.
type TypingPayload struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
}

// UserPayload is the body of presence and typing events pushed to clients.
type UserPayload struct {
	UserID string `json:"userId"`
}

// ErrorPayload is the body of message_error events.
type ErrorPayload struct {
	Error string `json:"error"`
}

func encodeEvent(event string, data any) ([]byte, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: body})
}

// mustEncodeEvent panics only on unmarshalable payloads, which are all
// fixed struct shapes in this package.
func mustEncodeEvent(event string, data any) []byte {
	payload, err := encodeEvent(event, data)
	if err != nil {
		panic(err)
	}
	return payload
}
