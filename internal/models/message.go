package models

import "time"

// EventMessageCreated is published on the change feed for every new message.
const EventMessageCreated = "message.created"

// Message is one direct message between two users.
type Message struct {
	ID             string    `db:"id" json:"id"`
	SenderID       string    `db:"sender_id" json:"sender_id"`
	ReceiverID     string    `db:"receiver_id" json:"receiver_id"`
	Content        string    `db:"content" json:"content"`
	AttachmentURL  *string   `db:"attachment_url" json:"attachment_url,omitempty"`
	AttachmentName *string   `db:"attachment_name" json:"attachment_name,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// Contact is a conversation partner with the latest exchanged message.
type Contact struct {
	UserID      string   `db:"user_id" json:"user_id"`
	FullName    string   `db:"full_name" json:"full_name"`
	Role        UserRole `db:"role" json:"role"`
	LastMessage *Message `db:"-" json:"last_message,omitempty"`
}

// SendMessageRequest is the JSON body of a text message.
type SendMessageRequest struct {
	Content string `json:"content" form:"content" validate:"max=5000"`
}

// Attachment is a file sent along with a message.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}
