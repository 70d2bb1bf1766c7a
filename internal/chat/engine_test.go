package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"giglink/internal/api"
	"giglink/internal/models"
)

type fakeService struct {
	mu        sync.Mutex
	history   map[int64][]models.Message
	histErr   error
	histCalls []int64
	sent      []api.SendRequest
	sendErr   error
	readCalls []int64
	readErr   error
	// onSend lets a test append the server-side copy of a sent message.
	onSend func(req api.SendRequest)
}

func newFakeService() *fakeService {
	return &fakeService{history: make(map[int64][]models.Message)}
}

func (f *fakeService) History(ctx context.Context, otherID int64, page, size int) ([]models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.histCalls = append(f.histCalls, otherID)
	if f.histErr != nil {
		return nil, f.histErr
	}
	out := make([]models.Message, len(f.history[otherID]))
	copy(out, f.history[otherID])
	return out, nil
}

func (f *fakeService) Send(ctx context.Context, req api.SendRequest) error {
	f.mu.Lock()
	f.sent = append(f.sent, req)
	onSend := f.onSend
	err := f.sendErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	if onSend != nil {
		onSend(req)
	}
	return nil
}

func (f *fakeService) MarkRead(ctx context.Context, otherID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return f.readErr
	}
	f.readCalls = append(f.readCalls, otherID)
	return nil
}

func (f *fakeService) historyCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.histCalls)
}

func (f *fakeService) readCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.readCalls)
}

type fakePublisher struct {
	mu     sync.Mutex
	typing []models.TypingEvent
}

func (f *fakePublisher) SendTyping(ev models.TypingEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing = append(f.typing, ev)
}

func (f *fakePublisher) events() []models.TypingEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.TypingEvent, len(f.typing))
	copy(out, f.typing)
	return out
}

var self = models.Session{UserID: 1, Username: "alice"}

func msg(id int64, sender, receiver int64, content string, at time.Time) models.Message {
	names := map[int64]string{1: "alice", 2: "bob", 3: "carol"}
	return models.Message{
		ID:               id,
		Content:          content,
		SenderID:         sender,
		SenderUsername:   names[sender],
		ReceiverID:       receiver,
		ReceiverUsername: names[receiver],
		Type:             models.MessageTypeText,
		CreatedAt:        at,
	}
}

func newTestEngine(t *testing.T, svc *fakeService, pub *fakePublisher) *Engine {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return New(ctx, Config{
		Self:           self,
		Service:        svc,
		Publisher:      pub,
		PageSize:       50,
		TypingExpiry:   100 * time.Millisecond,
		TypingDebounce: 50 * time.Millisecond,
	})
}

func TestSelect_SelfRejectedWithoutFetch(t *testing.T) {
	svc := newFakeService()
	e := newTestEngine(t, svc, &fakePublisher{})

	err := e.Select(context.Background(), self.UserID)
	if !errors.Is(err, models.ErrSelfConversation) {
		t.Fatalf("expected ErrSelfConversation, got %v", err)
	}
	if e.Phase() != PhaseSelf {
		t.Errorf("expected PhaseSelf, got %v", e.Phase())
	}
	if svc.historyCallCount() != 0 {
		t.Errorf("self-selection must not fetch history, got %d calls", svc.historyCallCount())
	}
}

func TestSelect_InvalidID(t *testing.T) {
	svc := newFakeService()
	e := newTestEngine(t, svc, &fakePublisher{})

	if err := e.Select(context.Background(), 0); !errors.Is(err, models.ErrNoConversation) {
		t.Fatalf("expected ErrNoConversation, got %v", err)
	}
	if e.Phase() != PhaseNone {
		t.Errorf("expected PhaseNone, got %v", e.Phase())
	}
	if svc.historyCallCount() != 0 {
		t.Errorf("invalid selection must not fetch history")
	}
}

func TestOrderingInvariant(t *testing.T) {
	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	svc := newFakeService()
	// Arbitrary arrival order, including a createdAt tie broken by id.
	svc.history[2] = []models.Message{
		msg(30, 2, 1, "third", base.Add(2*time.Minute)),
		msg(10, 1, 2, "first", base),
		msg(21, 2, 1, "tie-b", base.Add(time.Minute)),
		msg(20, 1, 2, "tie-a", base.Add(time.Minute)),
	}
	e := newTestEngine(t, svc, &fakePublisher{})

	if err := e.Select(context.Background(), 2); err != nil {
		t.Fatalf("Select failed: %v", err)
	}

	got := e.Messages()
	for i := 1; i < len(got); i++ {
		prev, cur := got[i-1], got[i]
		if cur.CreatedAt.Before(prev.CreatedAt) {
			t.Fatalf("messages out of time order at %d: %v before %v", i, cur.CreatedAt, prev.CreatedAt)
		}
		if cur.CreatedAt.Equal(prev.CreatedAt) && cur.ID < prev.ID {
			t.Fatalf("tie not broken by id at %d: %d after %d", i, cur.ID, prev.ID)
		}
	}
	want := []string{"first", "tie-a", "tie-b", "third"}
	for i, w := range want {
		if got[i].Content != w {
			t.Errorf("position %d: expected %q, got %q", i, w, got[i].Content)
		}
	}
}

func TestDerivedFields(t *testing.T) {
	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	svc := newFakeService()
	first := msg(10, 2, 1, "hi", base)
	first.ProjectID = 77
	svc.history[2] = []models.Message{msg(11, 1, 2, "hello", base.Add(time.Minute)), first}
	e := newTestEngine(t, svc, &fakePublisher{})

	if err := e.Select(context.Background(), 2); err != nil {
		t.Fatalf("Select failed: %v", err)
	}

	if _, username := e.Other(); username != "bob" {
		t.Errorf("expected derived username bob, got %q", username)
	}
	if e.ProjectID() != 77 {
		t.Errorf("expected projectId 77 from earliest message, got %d", e.ProjectID())
	}
}

func TestConversationSymmetry(t *testing.T) {
	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	svc := newFakeService()
	svc.history[2] = []models.Message{msg(10, 2, 1, "hi", base)}
	e := newTestEngine(t, svc, &fakePublisher{})

	if err := e.Select(context.Background(), 2); err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	before := svc.historyCallCount()

	// Push in both directions routes into the open thread (via reload).
	e.OnPush(context.Background(), msg(11, 1, 2, "me to bob", base.Add(time.Minute)))
	e.OnPush(context.Background(), msg(12, 2, 1, "bob to me", base.Add(2*time.Minute)))
	if got := svc.historyCallCount() - before; got != 2 {
		t.Errorf("expected 2 reloads for in-conversation pushes, got %d", got)
	}

	// A message between two unrelated users must never trigger anything.
	e.OnPush(context.Background(), msg(13, 3, 4, "strangers", base.Add(3*time.Minute)))
	if got := svc.historyCallCount() - before; got != 2 {
		t.Errorf("foreign push caused a reload")
	}
	for _, m := range e.Messages() {
		if !m.Involves(1, 2) {
			t.Errorf("message %d does not belong to the open conversation", m.ID)
		}
	}
}

func TestReadOnceGuard(t *testing.T) {
	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	svc := newFakeService()
	svc.history[2] = []models.Message{msg(10, 2, 1, "hi", base)}
	svc.history[3] = []models.Message{msg(20, 3, 1, "yo", base)}

	var readNotified []int64
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	e := New(ctx, Config{
		Self:      self,
		Service:   svc,
		Publisher: &fakePublisher{},
		OnRead:    func(otherID int64) { readNotified = append(readNotified, otherID) },
	})

	if err := e.Select(context.Background(), 2); err != nil {
		t.Fatalf("Select failed: %v", err)
	}

	// Repeated focus/blur cycles: at most one mark-read for the same key.
	for i := 0; i < 3; i++ {
		e.SetFocused(context.Background(), true)
		e.SetFocused(context.Background(), false)
	}
	if got := svc.readCallCount(); got != 1 {
		t.Fatalf("expected exactly 1 mark-read call, got %d", got)
	}
	if len(readNotified) != 1 || readNotified[0] != 2 {
		t.Errorf("aggregator not notified exactly once for peer 2: %v", readNotified)
	}

	// Switching conversations rearms the guard.
	e.SetFocused(context.Background(), true)
	if err := e.Select(context.Background(), 3); err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if got := svc.readCallCount(); got != 2 {
		t.Errorf("expected mark-read for the new conversation, got %d total calls", got)
	}
}

func TestMarkReadFailureRearms(t *testing.T) {
	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	svc := newFakeService()
	svc.history[2] = []models.Message{msg(10, 2, 1, "hi", base)}
	svc.readErr = errors.New("boom")
	e := newTestEngine(t, svc, &fakePublisher{})

	if err := e.Select(context.Background(), 2); err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	e.SetFocused(context.Background(), true)
	if svc.readCallCount() != 0 {
		t.Fatalf("failed mark-read should not be recorded")
	}

	svc.mu.Lock()
	svc.readErr = nil
	svc.mu.Unlock()
	e.SetFocused(context.Background(), false)
	e.SetFocused(context.Background(), true)
	if svc.readCallCount() != 1 {
		t.Errorf("expected retry after failure, got %d calls", svc.readCallCount())
	}
}

func TestSendMessage(t *testing.T) {
	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	svc := newFakeService()
	svc.history[2] = []models.Message{msg(10, 2, 1, "hi", base)}
	svc.onSend = func(req api.SendRequest) {
		svc.mu.Lock()
		defer svc.mu.Unlock()
		svc.history[2] = append(svc.history[2],
			msg(11, 1, 2, req.Content, base.Add(time.Minute)))
	}
	e := newTestEngine(t, svc, &fakePublisher{})

	if err := e.Select(context.Background(), 2); err != nil {
		t.Fatalf("Select failed: %v", err)
	}

	if err := e.SendMessage(context.Background(), "   "); !errors.Is(err, models.ErrEmptyMessage) {
		t.Errorf("expected ErrEmptyMessage for blank content, got %v", err)
	}

	if err := e.SendMessage(context.Background(), "hello"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	svc.mu.Lock()
	sent := svc.sent
	svc.mu.Unlock()
	if len(sent) != 1 || sent[0].RecipientID != 2 || sent[0].Content != "hello" {
		t.Fatalf("unexpected send request: %+v", sent)
	}

	// The server copy, not a local echo, appears last after the re-fetch.
	got := e.Messages()
	if len(got) != 2 {
		t.Fatalf("expected 2 messages after re-fetch, got %d", len(got))
	}
	last := got[len(got)-1]
	if last.ID != 11 || last.Content != "hello" {
		t.Errorf("expected server-assigned message last, got %+v", last)
	}
}

func TestSendWithoutSelection(t *testing.T) {
	e := newTestEngine(t, newFakeService(), &fakePublisher{})
	if err := e.SendMessage(context.Background(), "hello"); !errors.Is(err, models.ErrNoConversation) {
		t.Errorf("expected ErrNoConversation, got %v", err)
	}
}

func TestLoadErrorRecoverable(t *testing.T) {
	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	svc := newFakeService()
	svc.histErr = errors.New("down")
	e := newTestEngine(t, svc, &fakePublisher{})

	if err := e.Select(context.Background(), 2); err == nil {
		t.Fatal("expected error from failed history load")
	}
	if e.Phase() != PhaseError || e.Err() == nil {
		t.Fatalf("expected PhaseError with error, got %v %v", e.Phase(), e.Err())
	}

	svc.mu.Lock()
	svc.histErr = nil
	svc.history[2] = []models.Message{msg(10, 2, 1, "hi", base)}
	svc.mu.Unlock()

	if err := e.Reload(context.Background()); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if e.Phase() != PhaseReady {
		t.Errorf("expected PhaseReady after recovery, got %v", e.Phase())
	}
}

// A history fetch that finishes after the selection moved on must not
// overwrite the newer conversation.
func TestStaleFetchDiscarded(t *testing.T) {
	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	release := make(chan struct{})
	svc := &slowService{
		fakeService: newFakeService(),
		slowFor:     2,
		release:     release,
		started:     make(chan struct{}),
	}
	svc.history[2] = []models.Message{msg(10, 2, 1, "from bob", base)}
	svc.history[3] = []models.Message{msg(20, 3, 1, "from carol", base)}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	e := New(ctx, Config{Self: self, Service: svc, Publisher: &fakePublisher{}})

	done := make(chan error, 1)
	go func() { done <- e.Select(context.Background(), 2) }()

	// Wait until the slow fetch is in flight, then switch to peer 3.
	<-svc.started
	if err := e.Select(context.Background(), 3); err != nil {
		t.Fatalf("second Select failed: %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first Select returned error: %v", err)
	}

	otherID, _ := e.Other()
	if otherID != 3 {
		t.Fatalf("selection overwritten by stale fetch: peer %d", otherID)
	}
	got := e.Messages()
	if len(got) != 1 || got[0].SenderID != 3 {
		t.Errorf("stale history committed: %+v", got)
	}
}

type slowService struct {
	*fakeService
	slowFor int64
	release chan struct{}
	started chan struct{}
	once    sync.Once
}

func (s *slowService) History(ctx context.Context, otherID int64, page, size int) ([]models.Message, error) {
	if otherID == s.slowFor {
		s.once.Do(func() { close(s.started) })
		<-s.release
	}
	return s.fakeService.History(ctx, otherID, page, size)
}

// End-to-end: select bob, one message from him, focus fires exactly one
// mark-read; a second focus fires none.
func TestScenarioSelectFocusMarkRead(t *testing.T) {
	svc := newFakeService()
	svc.history[2] = []models.Message{
		msg(10, 2, 1, "hi", time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)),
	}
	e := newTestEngine(t, svc, &fakePublisher{})

	if err := e.Select(context.Background(), 2); err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	got := e.Messages()
	if len(got) != 1 || got[0].SenderUsername != "bob" {
		t.Fatalf("expected one message from bob, got %+v", got)
	}

	e.SetFocused(context.Background(), true)
	if svc.readCallCount() != 1 {
		t.Fatalf("expected exactly one mark-read, got %d", svc.readCallCount())
	}
	e.SetFocused(context.Background(), true)
	if svc.readCallCount() != 1 {
		t.Errorf("second focus fired an extra mark-read")
	}
}
