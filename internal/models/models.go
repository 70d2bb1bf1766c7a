package models

import (
	"errors"
	"time"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrSelfConversation = errors.New("cannot chat with yourself")
	ErrNoConversation   = errors.New("no conversation selected")
	ErrEmptyMessage     = errors.New("message content is empty")
)

// Session is the authenticated identity the rest of the client operates as.
type Session struct {
	UserID      int64  `json:"userId"`
	Username    string `json:"username"`
	AccessToken string `json:"accessToken"`
	Refreshable bool   `json:"refreshable"`
}

type MessageType string

const (
	MessageTypeText MessageType = "TEXT"
	MessageTypeFile MessageType = "FILE"
)

// Message is a single chat message as the server represents it.
// Immutable once created except for the IsRead false->true transition.
type Message struct {
	ID               int64       `json:"id"`
	Content          string      `json:"content"`
	SenderID         int64       `json:"senderId"`
	SenderUsername   string      `json:"senderUsername"`
	ReceiverID       int64       `json:"receiverId"`
	ReceiverUsername string      `json:"receiverUsername"`
	IsRead           bool        `json:"isRead"`
	AttachmentURL    string      `json:"attachmentUrl,omitempty"`
	Type             MessageType `json:"type"`
	CreatedAt        time.Time   `json:"createdAt"`
	ProjectID        int64       `json:"projectId,omitempty"`
}

// Involves reports whether both given users are participants of the message,
// in either direction.
func (m Message) Involves(a, b int64) bool {
	return (m.SenderID == a && m.ReceiverID == b) ||
		(m.SenderID == b && m.ReceiverID == a)
}

// TypingEvent is the ephemeral typing-presence signal. It is never persisted;
// receivers hold it only as an expiring flag.
type TypingEvent struct {
	SenderID         int64  `json:"senderId"`
	SenderUsername   string `json:"senderUsername"`
	ReceiverID       int64  `json:"receiverId"`
	ReceiverUsername string `json:"receiverUsername"`
	Typing           bool   `json:"typing"`
}

type NotificationType string

const (
	NotificationProjectApplication NotificationType = "PROJECT_APPLICATION"
	NotificationNewMessage         NotificationType = "NEW_MESSAGE"
	NotificationReviewReceived     NotificationType = "REVIEW_RECEIVED"
	NotificationBadgeEarned        NotificationType = "BADGE_EARNED"
	NotificationSystemAnnouncement NotificationType = "SYSTEM_ANNOUNCEMENT"
)

type Notification struct {
	ID        int64            `json:"id"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	IsRead    bool             `json:"isRead"`
	CreatedAt time.Time        `json:"createdAt"`
	Link      string           `json:"link,omitempty"`
	Metadata  map[string]int64 `json:"metadata,omitempty"`
}

// ConversationSummary is one row of the conversation list. The conversation
// is addressed by the other participant's user id.
type ConversationSummary struct {
	ConversationID  int64     `json:"conversationId"`
	Username        string    `json:"username"`
	AvatarURL       string    `json:"avatarUrl,omitempty"`
	LastMessageTime time.Time `json:"lastMessageTime"`
	UnreadCount     int       `json:"unreadCount"`
}
