package notify

import (
	"context"

	"giglink/internal/models"
)

// command pairs an optimistic local mutation with the REST call that makes
// it durable. When the call fails, undo reverts the local state instead of
// leaving it drifted from the server.
type command struct {
	apply func()
	undo  func()
	call  func(ctx context.Context) error
}

func (a *Aggregator) exec(ctx context.Context, cmd command) error {
	cmd.apply()
	if err := cmd.call(ctx); err != nil {
		cmd.undo()
		return err
	}
	return nil
}

func (a *Aggregator) markAllCommand() command {
	var prevRead []bool
	var prevBadge int
	return command{
		apply: func() {
			a.mu.Lock()
			defer a.mu.Unlock()
			prevRead = make([]bool, len(a.notifications))
			prevBadge = a.badge
			for i := range a.notifications {
				prevRead[i] = a.notifications[i].IsRead
				a.notifications[i].IsRead = true
			}
			a.badge = 0
		},
		undo: func() {
			a.mu.Lock()
			defer a.mu.Unlock()
			for i := range a.notifications {
				if i < len(prevRead) {
					a.notifications[i].IsRead = prevRead[i]
				}
			}
			a.badge = prevBadge
		},
		call: func(ctx context.Context) error {
			return a.notif.MarkAllRead(ctx)
		},
	}
}

func (a *Aggregator) markOneCommand(id int64) command {
	wasRead := true
	return command{
		apply: func() {
			a.mu.Lock()
			defer a.mu.Unlock()
			for i := range a.notifications {
				if a.notifications[i].ID == id {
					wasRead = a.notifications[i].IsRead
					a.notifications[i].IsRead = true
				}
			}
			if !wasRead && a.badge > 0 {
				a.badge--
			}
		},
		undo: func() {
			a.mu.Lock()
			defer a.mu.Unlock()
			if wasRead {
				return
			}
			for i := range a.notifications {
				if a.notifications[i].ID == id {
					a.notifications[i].IsRead = false
				}
			}
			a.badge++
		},
		call: func(ctx context.Context) error {
			return a.notif.MarkRead(ctx, id)
		},
	}
}

func (a *Aggregator) deleteCommand(id int64) command {
	var removed *models.Notification
	var removedAt int
	return command{
		apply: func() {
			a.mu.Lock()
			defer a.mu.Unlock()
			for i := range a.notifications {
				if a.notifications[i].ID == id {
					n := a.notifications[i]
					removed, removedAt = &n, i
					a.notifications = append(a.notifications[:i], a.notifications[i+1:]...)
					break
				}
			}
			if removed != nil && !removed.IsRead && a.badge > 0 {
				a.badge--
			}
		},
		undo: func() {
			a.mu.Lock()
			defer a.mu.Unlock()
			if removed == nil {
				return
			}
			if removedAt > len(a.notifications) {
				removedAt = len(a.notifications)
			}
			a.notifications = append(a.notifications[:removedAt],
				append([]models.Notification{*removed}, a.notifications[removedAt:]...)...)
			if !removed.IsRead {
				a.badge++
			}
		},
		call: func(ctx context.Context) error {
			return a.notif.Delete(ctx, id)
		},
	}
}
