package store

import "time"

// Participant is the display slice of a user embedded in a message view.
type Participant struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
}

// MessageView is the denormalized wire shape of a message, with sender and
// receiver display fields resolved, matching what clients render directly.
type MessageView struct {
	ID        string      `json:"id"`
	Sender    Participant `json:"sender"`
	Receiver  Participant `json:"receiver"`
	Content   string      `json:"content"`
	Type      string      `json:"type"`
	CreatedAt time.Time   `json:"createdAt"`
	Read      bool        `json:"read"`
	ReadAt    *time.Time  `json:"readAt,omitempty"`
}

// NewMessageView combines a message record with its participants' display
// fields. Zero-value users degrade to bare IDs rather than failing.
func NewMessageView(msg Message, sender, receiver User) MessageView {
	return MessageView{
		ID:        msg.ID,
		Sender:    participant(msg.SenderID, sender),
		Receiver:  participant(msg.ReceiverID, receiver),
		Content:   msg.Content,
		Type:      msg.Type,
		CreatedAt: msg.CreatedAt,
		Read:      msg.Read,
		ReadAt:    msg.ReadAt,
	}
}

func participant(id string, user User) Participant {
	p := Participant{ID: id}
	if user.ID == id {
		p.Username = user.Username
		p.Avatar = user.Avatar
	}
	return p
}
