package api

import (
	"context"
	"encoding/json"
	"fmt"

	"giglink/internal/models"
	"giglink/internal/rest"
)

// NotificationAPI wraps the notification endpoints.
type NotificationAPI struct {
	client *rest.Client
}

func NewNotificationAPI(client *rest.Client) *NotificationAPI {
	return &NotificationAPI{client: client}
}

func (a *NotificationAPI) List(ctx context.Context, page, size int) ([]models.Notification, error) {
	var raw json.RawMessage
	path := fmt.Sprintf("/notifications?page=%d&size=%d", page, size)
	if err := a.client.Get(ctx, path, &raw); err != nil {
		return nil, err
	}
	return decodeNotificationPage(raw)
}

func decodeNotificationPage(raw json.RawMessage) ([]models.Notification, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var list []models.Notification
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}

	var page struct {
		Content []models.Notification `json:"content"`
	}
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, fmt.Errorf("decoding notifications: %w", err)
	}
	return page.Content, nil
}

func (a *NotificationAPI) UnreadCount(ctx context.Context) (int, error) {
	var out struct {
		UnreadCount int `json:"unreadCount"`
	}
	if err := a.client.Get(ctx, "/notifications/unread-count", &out); err != nil {
		return 0, err
	}
	return out.UnreadCount, nil
}

func (a *NotificationAPI) MarkRead(ctx context.Context, id int64) error {
	return a.client.Put(ctx, fmt.Sprintf("/notifications/%d/read", id), nil, nil)
}

func (a *NotificationAPI) MarkAllRead(ctx context.Context) error {
	return a.client.Put(ctx, "/notifications/mark-all-read", nil, nil)
}

func (a *NotificationAPI) Delete(ctx context.Context, id int64) error {
	return a.client.Delete(ctx, fmt.Sprintf("/notifications/%d", id))
}
