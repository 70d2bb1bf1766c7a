package chat

import (
	"context"
	"time"

	"giglink/internal/models"

	"github.com/c-pro/geche"
)

// peerTypingState holds the expiring "other side is typing" flag. Entries
// live for the typing expiry window; a typing:false event deletes eagerly.
type peerTypingState struct {
	cache geche.Geche[int64, string]
}

func (p *peerTypingState) init(ctx context.Context, ttl time.Duration) {
	p.cache = geche.NewMapTTLCache[int64, string](ctx, ttl, ttl/4)
}

func (p *peerTypingState) set(userID int64, username string) {
	p.cache.Set(userID, username)
}

func (p *peerTypingState) del(userID int64) {
	_ = p.cache.Del(userID)
}

func (p *peerTypingState) get(userID int64) (string, bool) {
	username, err := p.cache.Get(userID)
	if err != nil {
		return "", false
	}
	return username, true
}

func (p *peerTypingState) clear() {
	for k := range p.cache.Snapshot() {
		_ = p.cache.Del(k)
	}
}

// OnTyping handles an inbound typing-presence event. Only events from the
// current peer addressed to us are accepted; everything else is dropped.
func (e *Engine) OnTyping(ev models.TypingEvent) {
	e.mu.Lock()
	otherID := e.otherID
	e.mu.Unlock()

	if otherID == 0 || ev.SenderID != otherID || ev.ReceiverID != e.self.UserID {
		return
	}
	if ev.Typing {
		e.peerTyping.set(ev.SenderID, ev.SenderUsername)
	} else {
		e.peerTyping.del(ev.SenderID)
	}
}

// PeerTyping reports whether the current peer is typing right now.
func (e *Engine) PeerTyping() bool {
	e.mu.Lock()
	otherID := e.otherID
	e.mu.Unlock()
	if otherID == 0 {
		return false
	}
	_, ok := e.peerTyping.get(otherID)
	return ok
}

// InputChanged is called on every local keystroke. The typing:true broadcast
// goes out only on the idle-to-typing transition; every keystroke resets the
// debounce timer that eventually broadcasts typing:false.
func (e *Engine) InputChanged() {
	e.mu.Lock()
	if e.otherID == 0 {
		e.mu.Unlock()
		return
	}
	wasTyping := e.selfTyping
	e.selfTyping = true
	// The trailing typing:false must go to whoever saw the typing:true,
	// even if the selection changes before the timer fires.
	e.typingTo = e.otherID
	e.typingToName = e.otherUsername
	if e.typingTimer != nil {
		e.typingTimer.Stop()
	}
	e.typingTimer = time.AfterFunc(e.typingDebounce, e.typingIdle)
	ev := e.typingEventLocked(true)
	e.mu.Unlock()

	if !wasTyping {
		e.publisher.SendTyping(ev)
	}
}

// InputBlur stops typing immediately, broadcasting typing:false without
// waiting out the debounce window.
func (e *Engine) InputBlur() {
	e.mu.Lock()
	if e.typingTimer != nil {
		e.typingTimer.Stop()
		e.typingTimer = nil
	}
	wasTyping := e.selfTyping
	e.selfTyping = false
	ev := e.typingEventLocked(false)
	e.mu.Unlock()

	if wasTyping && ev.ReceiverID != 0 {
		e.publisher.SendTyping(ev)
	}
}

func (e *Engine) typingIdle() {
	e.mu.Lock()
	wasTyping := e.selfTyping
	e.selfTyping = false
	e.typingTimer = nil
	ev := e.typingEventLocked(false)
	e.mu.Unlock()

	if wasTyping && ev.ReceiverID != 0 {
		e.publisher.SendTyping(ev)
	}
}

func (e *Engine) typingEventLocked(typing bool) models.TypingEvent {
	if typing {
		return models.TypingEvent{
			SenderID:         e.self.UserID,
			SenderUsername:   e.self.Username,
			ReceiverID:       e.otherID,
			ReceiverUsername: e.otherUsername,
			Typing:           true,
		}
	}
	return models.TypingEvent{
		SenderID:         e.self.UserID,
		SenderUsername:   e.self.Username,
		ReceiverID:       e.typingTo,
		ReceiverUsername: e.typingToName,
		Typing:           false,
	}
}
