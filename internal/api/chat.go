package api

import (
	"context"
	"encoding/json"
	"fmt"

	"giglink/internal/models"
	"giglink/internal/rest"
)

// ChatAPI wraps the chat endpoints of the marketplace API.
type ChatAPI struct {
	client *rest.Client
}

func NewChatAPI(client *rest.Client) *ChatAPI {
	return &ChatAPI{client: client}
}

func (a *ChatAPI) Conversations(ctx context.Context, page, size int) ([]models.ConversationSummary, error) {
	var out []models.ConversationSummary
	path := fmt.Sprintf("/chat/conversations?page=%d&size=%d", page, size)
	if err := a.client.Get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// History fetches one page of messages with the given peer. The endpoint
// returns either a bare array or a page object with a "content" field,
// depending on server version; both shapes are accepted.
func (a *ChatAPI) History(ctx context.Context, otherID int64, page, size int) ([]models.Message, error) {
	var raw json.RawMessage
	path := fmt.Sprintf("/chat/conversation/%d?page=%d&size=%d", otherID, page, size)
	if err := a.client.Get(ctx, path, &raw); err != nil {
		return nil, err
	}
	return decodeMessagePage(raw)
}

func decodeMessagePage(raw json.RawMessage) ([]models.Message, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var list []models.Message
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}

	var page struct {
		Content []models.Message `json:"content"`
	}
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, fmt.Errorf("decoding message history: %w", err)
	}
	return page.Content, nil
}

type SendRequest struct {
	RecipientID int64  `json:"recipientId"`
	Content     string `json:"content"`
	ProjectID   int64  `json:"projectId,omitempty"`
}

func (a *ChatAPI) Send(ctx context.Context, req SendRequest) error {
	return a.client.Post(ctx, "/chat/send", req, nil)
}

// MarkRead marks the whole conversation with the given peer as read.
func (a *ChatAPI) MarkRead(ctx context.Context, otherID int64) error {
	return a.client.Put(ctx, fmt.Sprintf("/chat/read/%d", otherID), nil, nil)
}
