package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"relaybot/internal/broadcast"
	"relaybot/internal/registry"
	kit "relaybot/internal/transport"
	"relaybot/pkg/logx"
)

// ---- fakes ----

type fakeStore struct {
	mu         sync.Mutex
	users      map[int64]*registry.User
	broadcasts []registry.BroadcastRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{users: map[int64]*registry.User{}}
}

func (f *fakeStore) RegisterIfAbsent(ctx context.Context, userID int64, username, fullName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[userID]; ok {
		return nil
	}
	f.users[userID] = &registry.User{ID: userID, Username: username, FullName: fullName, RegisteredAt: time.Now()}
	return nil
}

func (f *fakeStore) SetDepartment(ctx context.Context, userID int64, dept string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return registry.ErrNotFound
	}
	u.Department = dept
	u.IsAdmin = registry.IsAdminDepartment(dept)
	return nil
}

func (f *fakeStore) GetUser(ctx context.Context, userID int64) (registry.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return registry.User{}, registry.ErrNotFound
	}
	return *u, nil
}

func (f *fakeStore) ListUserIDsByDepartment(ctx context.Context, dept string) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []int64
	for id, u := range f.users {
		if u.Department == dept {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *fakeStore) ListAllUserIDs(ctx context.Context) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []int64
	for id := range f.users {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeStore) RecordBroadcast(ctx context.Context, adminID int64, target, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts = append(f.broadcasts, registry.BroadcastRecord{
		ID: int64(len(f.broadcasts) + 1), AdminID: adminID, Target: target, Message: message, CreatedAt: time.Now(),
	})
	return nil
}

func (f *fakeStore) ListBroadcasts(ctx context.Context, limit int) ([]registry.BroadcastRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]registry.BroadcastRecord(nil), f.broadcasts...)
	return out, nil
}

func (f *fakeStore) PruneBroadcasts(ctx context.Context, olderThan time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeStore) Close() error { return nil }

func (f *fakeStore) recordCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.broadcasts)
}

type sentMsg struct {
	chatID int64
	text   string
}

type answeredCb struct {
	text  string
	alert bool
}

type fakeAdapter struct {
	mu       sync.Mutex
	sent     []sentMsg
	edited   []sentMsg
	answered []answeredCb
	failFor  map[int64]error
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{failFor: map[int64]error{}}
}

func (f *fakeAdapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(ctx context.Context) error                         { return nil }

func (f *fakeAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failFor[to.ChatID]; ok {
		return kit.MessageRef{}, err
	}
	f.sent = append(f.sent, sentMsg{chatID: to.ChatID, text: text})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeAdapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edited = append(f.edited, sentMsg{chatID: ref.ChatID, text: text})
	return nil
}

func (f *fakeAdapter) AnswerCallback(ctx context.Context, callbackID string, text string, alert bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answered = append(f.answered, answeredCb{text: text, alert: alert})
	return nil
}

func (f *fakeAdapter) sentTo(chatID int64) []sentMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentMsg
	for _, m := range f.sent {
		if m.chatID == chatID {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeAdapter) lastAnswer() (answeredCb, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.answered) == 0 {
		return answeredCb{}, false
	}
	return f.answered[len(f.answered)-1], true
}

// ---- harness ----

type harness struct {
	store    *fakeStore
	adapter  *fakeAdapter
	sessions *Sessions
	router   *Router
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := newFakeStore()
	adapter := newFakeAdapter()
	sessions := NewSessions(time.Hour, logx.Nop())
	fanout := broadcast.New(broadcast.Config{Workers: 2, RatePerSec: 10000}, adapter, logx.Nop())
	return &harness{
		store:    store,
		adapter:  adapter,
		sessions: sessions,
		router:   NewRouter(store, adapter, fanout, sessions, logx.Nop()),
	}
}

func (h *harness) addUser(t *testing.T, id int64, dept string) {
	t.Helper()
	ctx := context.Background()
	if err := h.store.RegisterIfAbsent(ctx, id, "", ""); err != nil {
		t.Fatalf("register %d: %v", id, err)
	}
	if dept != "" {
		if err := h.store.SetDepartment(ctx, id, dept); err != nil {
			t.Fatalf("set dept %d: %v", id, err)
		}
	}
}

func message(from int64, text string) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
		ID: 1, ChatID: from, FromID: from, Text: text,
	}}
}

func callback(from int64, data string) kit.Update {
	return kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{
		ID: "cb1", FromID: from, ChatID: from, MessageID: 1, Data: data,
	}}
}

// ---- tests ----

func TestStartRegistersAndGreets(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	h.router.Handle(ctx, message(10, "/start"))

	if _, err := h.store.GetUser(ctx, 10); err != nil {
		t.Fatalf("user not registered: %v", err)
	}
	msgs := h.adapter.sentTo(10)
	if len(msgs) != 1 || !strings.Contains(msgs[0].text, "department") {
		t.Fatalf("expected one welcome message, got %v", msgs)
	}
}

func TestDepartmentPickDerivesAdmin(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	h.addUser(t, 10, "")

	h.router.Handle(ctx, callback(10, "dept:pick:IT"))

	u, err := h.store.GetUser(ctx, 10)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if u.Department != "IT" || !u.IsAdmin {
		t.Fatalf("user = %+v, want IT admin", u)
	}
	if len(h.adapter.edited) != 1 {
		t.Fatalf("expected the menu message to be edited, got %d edits", len(h.adapter.edited))
	}
}

func TestNonAdminBroadcastRejected(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	h.addUser(t, 20, "HR")

	h.router.Handle(ctx, callback(20, cbBcastNew))

	ans, ok := h.adapter.lastAnswer()
	if !ok || !ans.alert || !strings.Contains(ans.text, "Admins only") {
		t.Fatalf("expected admins-only alert, got %+v (ok=%v)", ans, ok)
	}
	if state, _ := h.sessions.Get(20); state != StateIdle {
		t.Fatalf("state = %v, want Idle", state)
	}
	if len(h.adapter.edited) != 0 {
		t.Fatal("rejection must not render the target menu")
	}
}

func TestBroadcastFlowCompletes(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	h.addUser(t, 1, "IT")
	h.addUser(t, 2, "HR")
	h.addUser(t, 3, "HR")
	h.addUser(t, 4, "")

	h.router.Handle(ctx, callback(1, cbBcastNew))
	if state, _ := h.sessions.Get(1); state != StateAwaitingTarget {
		t.Fatalf("state after create = %v, want AwaitingTarget", state)
	}

	h.router.Handle(ctx, callback(1, "bcast:target:HR"))
	if state, target := h.sessions.Get(1); state != StateAwaitingMessage || target != "HR" {
		t.Fatalf("state after target = %v/%q, want AwaitingMessage/HR", state, target)
	}

	h.router.Handle(ctx, message(1, "servers down at noon"))

	for _, id := range []int64{2, 3} {
		msgs := h.adapter.sentTo(id)
		if len(msgs) != 1 || !strings.Contains(msgs[0].text, "servers down at noon") {
			t.Fatalf("recipient %d: got %v, want the announcement", id, msgs)
		}
	}
	if msgs := h.adapter.sentTo(4); len(msgs) != 0 {
		t.Fatalf("user outside HR received %v", msgs)
	}
	if n := h.store.recordCount(); n != 1 {
		t.Fatalf("broadcast records = %d, want 1", n)
	}
	if state, _ := h.sessions.Get(1); state != StateIdle {
		t.Fatalf("state after completion = %v, want Idle", state)
	}
	// The admin gets a delivery report.
	report := h.adapter.sentTo(1)
	if len(report) == 0 || !strings.Contains(report[len(report)-1].text, "2 of 2") {
		t.Fatalf("expected a '2 of 2' report, got %v", report)
	}
}

func TestBroadcastAllIncludesUndecided(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	h.addUser(t, 1, "IT")
	h.addUser(t, 2, "HR")
	h.addUser(t, 4, "")

	h.router.Handle(ctx, callback(1, cbBcastNew))
	h.router.Handle(ctx, callback(1, "bcast:target:ALL"))
	h.router.Handle(ctx, message(1, "company meeting"))

	for _, id := range []int64{2, 4} {
		if msgs := h.adapter.sentTo(id); len(msgs) != 1 {
			t.Fatalf("recipient %d: got %d messages, want 1", id, len(msgs))
		}
	}
}

func TestPartialFailureStillRecordsOnce(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	h.addUser(t, 1, "IT")
	h.addUser(t, 2, "HR")
	h.addUser(t, 3, "HR")
	h.adapter.failFor[2] = errors.New("blocked by user")

	h.router.Handle(ctx, callback(1, cbBcastNew))
	h.router.Handle(ctx, callback(1, "bcast:target:HR"))
	h.router.Handle(ctx, message(1, "hello"))

	if msgs := h.adapter.sentTo(3); len(msgs) != 1 {
		t.Fatalf("surviving recipient got %d messages, want 1", len(msgs))
	}
	if n := h.store.recordCount(); n != 1 {
		t.Fatalf("broadcast records = %d, want exactly 1", n)
	}
	report := h.adapter.sentTo(1)
	if len(report) == 0 || !strings.Contains(report[len(report)-1].text, "1 of 2") {
		t.Fatalf("expected a '1 of 2' report, got %v", report)
	}
}

func TestFreeTextIgnoredWhenIdle(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	h.addUser(t, 1, "IT")

	h.router.Handle(ctx, message(1, "just chatting"))

	if len(h.adapter.sent) != 0 {
		t.Fatalf("idle free text produced replies: %v", h.adapter.sent)
	}
	if n := h.store.recordCount(); n != 0 {
		t.Fatalf("idle free text produced %d broadcast records", n)
	}
}

func TestStateMachineScopedPerUser(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	h.addUser(t, 1, "IT")
	h.addUser(t, 2, "HR")

	h.router.Handle(ctx, callback(1, cbBcastNew))
	h.router.Handle(ctx, callback(1, "bcast:target:HR"))

	// User 2 talks while user 1 is mid-flow; nothing happens for user 2.
	h.router.Handle(ctx, message(2, "hello?"))
	if n := h.store.recordCount(); n != 0 {
		t.Fatalf("bystander text produced %d records", n)
	}
	if state, _ := h.sessions.Get(2); state != StateIdle {
		t.Fatalf("bystander state = %v, want Idle", state)
	}

	// User 1 completes; user 2 remains untouched.
	h.router.Handle(ctx, message(1, "announcement"))
	if n := h.store.recordCount(); n != 1 {
		t.Fatalf("records = %d, want 1", n)
	}
	if state, _ := h.sessions.Get(1); state != StateIdle {
		t.Fatalf("sender state = %v, want Idle", state)
	}
}

func TestAdminRevokedBetweenSteps(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	h.addUser(t, 1, "IT")
	h.addUser(t, 2, "HR")

	h.router.Handle(ctx, callback(1, cbBcastNew))
	h.router.Handle(ctx, callback(1, "bcast:target:HR"))

	// Revoked mid-flow: the user moved out of IT.
	if err := h.store.SetDepartment(ctx, 1, "Sales"); err != nil {
		t.Fatalf("SetDepartment: %v", err)
	}

	h.router.Handle(ctx, message(1, "should not go out"))

	if msgs := h.adapter.sentTo(2); len(msgs) != 0 {
		t.Fatalf("revoked admin still delivered: %v", msgs)
	}
	if n := h.store.recordCount(); n != 0 {
		t.Fatalf("revoked admin recorded %d broadcasts", n)
	}
	if state, _ := h.sessions.Get(1); state != StateIdle {
		t.Fatalf("state = %v, want Idle after abort", state)
	}
	own := h.adapter.sentTo(1)
	if len(own) != 1 || !strings.Contains(own[0].text, "Permission") {
		t.Fatalf("expected a permission error reply, got %v", own)
	}
}

func TestTargetPickWithoutFlowIgnored(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	h.addUser(t, 1, "IT")

	// Stale keyboard press with no prior bcast:new.
	h.router.Handle(ctx, callback(1, "bcast:target:HR"))

	if state, _ := h.sessions.Get(1); state != StateIdle {
		t.Fatalf("state = %v, want Idle", state)
	}
	if len(h.adapter.edited) != 0 {
		t.Fatal("stale target press must not render the text prompt")
	}
}

func TestStatsAdminGate(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	h.addUser(t, 1, "IT")
	h.addUser(t, 2, "HR")
	h.addUser(t, 3, "HR")
	h.addUser(t, 4, "")

	h.router.Handle(ctx, callback(2, cbStats))
	ans, ok := h.adapter.lastAnswer()
	if !ok || !ans.alert {
		t.Fatalf("non-admin stats: expected alert, got %+v", ans)
	}

	h.router.Handle(ctx, callback(1, cbStats))
	if len(h.adapter.edited) != 1 {
		t.Fatalf("admin stats: expected one edit, got %d", len(h.adapter.edited))
	}
	view := h.adapter.edited[0].text
	if !strings.Contains(view, "4") {
		t.Fatalf("stats view missing total count: %q", view)
	}
	if !strings.Contains(view, "HR: 2") {
		t.Fatalf("stats view missing HR count: %q", view)
	}
	if strings.Contains(view, "Sales") {
		t.Fatalf("stats view lists an empty department: %q", view)
	}
}

func TestBroadcastLogView(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	h.addUser(t, 1, "IT")
	if err := h.store.RecordBroadcast(ctx, 1, "HR", "past announcement"); err != nil {
		t.Fatalf("RecordBroadcast: %v", err)
	}

	h.router.Handle(ctx, callback(1, cbBcastLog))

	if len(h.adapter.edited) != 1 || !strings.Contains(h.adapter.edited[0].text, "past announcement") {
		t.Fatalf("expected log view with the record, got %v", h.adapter.edited)
	}
}
