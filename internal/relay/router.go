package relay

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/loquihq/loqui/internal/metrics"
	"github.com/loquihq/loqui/internal/store"
)

// MessageStore is the slice of the message store the router needs.
type MessageStore interface {
	Insert(msg store.Message) error
}

// Router routes outbound events to their recipient's live connection when
// one exists. An unreachable recipient is never an error: the stored record
// is the durability guarantee and the recipient catches up through history.
type Router struct {
	hub      *Hub
	registry *Registry
	messages MessageStore
	users    UserDirectory
	log      *slog.Logger
}

func NewRouter(hub *Hub, registry *Registry, messages MessageStore, users UserDirectory, log *slog.Logger) *Router {
	return &Router{
		hub:      hub,
		registry: registry,
		messages: messages,
		users:    users,
		log:      log,
	}
}

// DeliverMessage persists the message, then pushes it to the receiver's
// live connection if one is registered, and acknowledges to the origin
// connection. Persistence always completes before any push, so a receiver
// missed live still finds the message in history. The origin gets exactly
// one of message_sent or message_error.
func (r *Router) DeliverMessage(originConnID string, p SendMessagePayload) {
	msgType := p.Type
	if msgType == "" {
		msgType = "text"
	}

	msg := store.Message{
		ID:         uuid.New().String(),
		SenderID:   p.SenderID,
		ReceiverID: p.ReceiverID,
		Content:    p.Content,
		Type:       msgType,
		CreatedAt:  time.Now().UTC(),
	}

	if err := r.messages.Insert(msg); err != nil {
		r.log.Error("message persistence failed", "sender", p.SenderID, "receiver", p.ReceiverID, "error", err)
		r.hub.Push(originConnID, mustEncodeEvent(EventMessageError, ErrorPayload{Error: "failed to send message"}))
		return
	}
	metrics.MessagesStored.Inc()

	view := r.denormalize(msg)

	if connID, ok := r.registry.Get(msg.ReceiverID); ok {
		if r.hub.Push(connID, mustEncodeEvent(EventReceiveMessage, view)) {
			metrics.MessagesDelivered.Inc()
		} else {
			// Connection vanished between lookup and push; same outcome
			// as an unreachable recipient.
			metrics.DeliveryDropped.Inc()
		}
	} else {
		metrics.DeliveryDropped.Inc()
	}

	r.hub.Push(originConnID, mustEncodeEvent(EventMessageSent, view))
	r.log.Debug("message routed", "id", msg.ID, "sender", msg.SenderID, "receiver", msg.ReceiverID)
}

// DeliverTyping pushes a typing signal to the receiver if reachable.
// Typing signals are transient and never persisted.
func (r *Router) DeliverTyping(senderID, receiverID string, isTyping bool) {
	connID, ok := r.registry.Get(receiverID)
	if !ok {
		return
	}
	event := EventUserTyping
	if !isTyping {
		event = EventUserStopTyping
	}
	r.hub.Push(connID, mustEncodeEvent(event, UserPayload{UserID: senderID}))
}

// BroadcastPresence announces a user's online/offline transition to every
// live connection, not just the user's contacts.
func (r *Router) BroadcastPresence(userID string, online bool) {
	event := EventUserOffline
	if online {
		event = EventUserOnline
	}
	r.hub.BroadcastAll(mustEncodeEvent(event, UserPayload{UserID: userID}))
	metrics.PresenceBroadcasts.Inc()
}

// denormalize resolves sender and receiver display fields for the wire
// view. Directory misses degrade to bare IDs; a send must not fail because
// a display lookup did.
func (r *Router) denormalize(msg store.Message) store.MessageView {
	sender, err := r.users.ByID(msg.SenderID)
	if err != nil {
		r.log.Debug("sender lookup failed for message view", "user", msg.SenderID, "error", err)
	}
	receiver, err := r.users.ByID(msg.ReceiverID)
	if err != nil {
		r.log.Debug("receiver lookup failed for message view", "user", msg.ReceiverID, "error", err)
	}
	return store.NewMessageView(msg, sender, receiver)
}
