package sync

import (
	"context"
	"errors"
	stdsync "sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/flintchat/flint/internal/bus"
	"github.com/flintchat/flint/internal/model"
	"github.com/flintchat/flint/internal/realtime"
)

type fakeAPI struct {
	mu       stdsync.Mutex
	chats    []model.Chat
	byID     map[string]model.Chat
	messages map[string][]model.Message
	getCalls int
}

func (f *fakeAPI) ListChats(context.Context) ([]model.Chat, error) {
	return f.chats, nil
}

func (f *fakeAPI) GetChat(_ context.Context, chatID string) (*model.Chat, error) {
	f.mu.Lock()
	f.getCalls++
	f.mu.Unlock()
	if c, ok := f.byID[chatID]; ok {
		return &c, nil
	}
	return nil, errors.New("not found")
}

func (f *fakeAPI) ListMessages(_ context.Context, chatID string) ([]model.Message, error) {
	return f.messages[chatID], nil
}

func (f *fakeAPI) GetCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getCalls
}

type fakeEmitter struct {
	mu        stdsync.Mutex
	connected bool
	joins     []string
	delivered []string
	seen      [][]string
	sendErr   error
	ack       realtime.SendAck
	sends     int
}

func (f *fakeEmitter) JoinChat(chatID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins = append(f.joins, chatID)
}

func (f *fakeEmitter) SendMessage(_, _ string, ack func(realtime.SendAck)) error {
	f.mu.Lock()
	f.sends++
	err := f.sendErr
	res := f.ack
	f.mu.Unlock()
	if err != nil {
		return err
	}
	ack(res)
	return nil
}

func (f *fakeEmitter) MarkDelivered(messageID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivered = append(f.delivered, messageID)
}

func (f *fakeEmitter) MarkSeen(messageIDs []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, messageIDs)
}

func (f *fakeEmitter) AwaitConnected(context.Context, time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return realtime.ErrNotConnected
	}
	return nil
}

func (f *fakeEmitter) Joins() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.joins...)
}

func (f *fakeEmitter) SeenBatches() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.seen...)
}

func newTestReconciler(t *testing.T, api *fakeAPI, em *fakeEmitter) (*Reconciler, *ChatList, *Thread, *bus.Bus) {
	t.Helper()
	if api.byID == nil {
		api.byID = map[string]model.Chat{}
	}
	if api.messages == nil {
		api.messages = map[string][]model.Message{}
	}
	chats := NewChatList()
	thread := NewThread()
	b := bus.NewBus()
	r := NewReconciler(chats, thread, api, em, b, "u1", zap.NewNop())
	return r, chats, thread, b
}

func TestReconcilerIngestsPushedMessage(t *testing.T) {
	api := &fakeAPI{}
	em := &fakeEmitter{connected: true}
	r, chats, thread, b := newTestReconciler(t, api, em)

	chats.LoadInitial([]model.Chat{{OID: "c1"}})
	thread.LoadInitial("c1", nil)

	r.Start(context.Background())
	defer r.Stop()

	b.Publish(bus.New(bus.KindPushMessage, model.Message{
		OID: "m1", ChatID: "c1", SenderID: "u2", Content: "hi",
	}))
	time.Sleep(100 * time.Millisecond)

	if got := thread.Snapshot(); len(got) != 1 || got[0].Content != "hi" {
		t.Fatalf("thread = %+v, want the pushed message", got)
	}
	snap := chats.Snapshot()
	if snap[0].LastMessage == nil || snap[0].LastMessage.Key() != "m1" {
		t.Errorf("chat preview not updated: %+v", snap[0].LastMessage)
	}
	// The message landed on screen: delivered + seen receipts go out.
	em.mu.Lock()
	delivered, seen := em.delivered, em.seen
	em.mu.Unlock()
	if len(delivered) != 1 || delivered[0] != "m1" {
		t.Errorf("delivered receipts = %v, want [m1]", delivered)
	}
	if len(seen) != 1 {
		t.Errorf("seen batches = %v, want one", seen)
	}
}

// TestReconcilerDuplicatePushEvents replays the same message:new event
// three times; the thread ends up with exactly one entry and the chat
// list with exactly one chat.
func TestReconcilerDuplicatePushEvents(t *testing.T) {
	api := &fakeAPI{}
	em := &fakeEmitter{connected: true}
	r, chats, thread, b := newTestReconciler(t, api, em)

	embedded := model.Chat{OID: "c1"}
	thread.LoadInitial("c1", nil)
	r.Start(context.Background())
	defer r.Stop()

	evt := bus.New(bus.KindPushMessage, model.Message{
		OID: "m1", ChatID: "c1", SenderID: "u2", Content: "hi", Chat: &embedded,
	})
	for range 3 {
		b.Publish(evt)
	}
	time.Sleep(100 * time.Millisecond)

	if got := thread.Snapshot(); len(got) != 1 {
		t.Errorf("thread has %d entries, want 1", len(got))
	}
	if got := chats.Snapshot(); len(got) != 1 {
		t.Errorf("chat list has %d entries, want 1", len(got))
	}
}

// TestReconcilerFetchesUnknownChat exercises the third tier of the
// upsert: no cached chat, no embedded info, so the chat is fetched over
// REST and inserted once even when two events race.
func TestReconcilerFetchesUnknownChat(t *testing.T) {
	api := &fakeAPI{byID: map[string]model.Chat{"c2": {OID: "c2", Name: "fetched"}}}
	em := &fakeEmitter{connected: true}
	r, chats, _, b := newTestReconciler(t, api, em)

	r.Start(context.Background())
	defer r.Stop()

	b.Publish(bus.New(bus.KindPushMessage, model.Message{OID: "m1", ChatID: "c2", SenderID: "u2"}))
	b.Publish(bus.New(bus.KindPushMessage, model.Message{OID: "m2", ChatID: "c2", SenderID: "u2"}))
	time.Sleep(200 * time.Millisecond)

	got := chats.Snapshot()
	if len(got) != 1 || got[0].Name != "fetched" {
		t.Fatalf("chat list = %+v, want exactly the fetched chat", got)
	}
}

// TestReconcilerFetchedChatCountsUnread: the REST fetch knows nothing
// about the message that triggered it, so the reconciler must replay
// that message into the inserted chat. The chat is not active and the
// sender is not self, so the unread counter ends at 1 and the preview
// shows the message.
func TestReconcilerFetchedChatCountsUnread(t *testing.T) {
	api := &fakeAPI{byID: map[string]model.Chat{"c2": {OID: "c2", Name: "fetched"}}}
	em := &fakeEmitter{connected: true}
	r, chats, _, b := newTestReconciler(t, api, em)

	chats.LoadInitial([]model.Chat{{OID: "c1"}})
	r.Start(context.Background())
	defer r.Stop()

	b.Publish(bus.New(bus.KindPushMessage, model.Message{
		OID: "m1", ChatID: "c2", SenderID: "u2", Content: "hi",
	}))
	time.Sleep(200 * time.Millisecond)

	var c2 model.Chat
	for _, c := range chats.Snapshot() {
		if model.SameKey(c.Key(), "c2") {
			c2 = c
		}
	}
	if c2.Key() == "" {
		t.Fatal("fetched chat missing from the list")
	}
	if c2.Unread != 1 {
		t.Errorf("unread = %d, want 1", c2.Unread)
	}
	if c2.LastMessage == nil || c2.LastMessage.Key() != "m1" {
		t.Errorf("preview = %+v, want the triggering message", c2.LastMessage)
	}
}

func TestReconcilerChatCreatedAlwaysJoins(t *testing.T) {
	api := &fakeAPI{}
	em := &fakeEmitter{connected: true}
	r, chats, _, b := newTestReconciler(t, api, em)

	r.Start(context.Background())
	defer r.Stop()

	b.Publish(bus.New(bus.KindPushChat, model.Chat{OID: "c1"}))
	b.Publish(bus.New(bus.KindPushChat, model.Chat{OID: "c1", Name: "renamed"}))
	time.Sleep(100 * time.Millisecond)

	if got := chats.Snapshot(); len(got) != 1 {
		t.Errorf("chat list has %d entries, want 1", len(got))
	}
	if joins := em.Joins(); len(joins) != 2 {
		t.Errorf("join emitted %d times, want 2 (always re-join)", len(joins))
	}
}

func TestReconcilerStatusForUnknownMessage(t *testing.T) {
	api := &fakeAPI{}
	em := &fakeEmitter{connected: true}
	r, chats, thread, b := newTestReconciler(t, api, em)

	chats.LoadInitial([]model.Chat{{OID: "c1"}})
	thread.LoadInitial("c1", nil)
	r.Start(context.Background())
	defer r.Stop()

	b.Publish(bus.New(bus.KindPushStatus, model.StatusUpdate{
		MessageID: "ghost", UserID: "u2", Status: model.StatusSeen,
	}))
	time.Sleep(100 * time.Millisecond)

	if got := thread.Snapshot(); len(got) != 0 {
		t.Errorf("thread gained %d phantom entries", len(got))
	}
}

func TestActivateChatClearsUnreadAndMarksSeen(t *testing.T) {
	api := &fakeAPI{messages: map[string][]model.Message{"c2": {
		{OID: "m1", ChatID: "c2", SenderID: "u2", Content: "theirs"},
		{OID: "m2", ChatID: "c2", SenderID: "u1", Content: "mine"},
	}}}
	em := &fakeEmitter{connected: true}
	r, chats, thread, _ := newTestReconciler(t, api, em)

	chats.LoadInitial([]model.Chat{{OID: "c1"}, {OID: "c2"}})
	chats.Activate("c1")
	chats.ApplyMessage(model.Message{OID: "m1", ChatID: "c2", SenderID: "u2"}, "u1")

	if err := r.ActivateChat(context.Background(), "c2"); err != nil {
		t.Fatal(err)
	}

	for _, c := range chats.Snapshot() {
		if c.Key() == "c2" && c.Unread != 0 {
			t.Errorf("unread = %d, want 0 after activation", c.Unread)
		}
	}
	if got := thread.Snapshot(); len(got) != 2 {
		t.Errorf("thread has %d messages, want 2", len(got))
	}
	batches := em.SeenBatches()
	if len(batches) != 1 || len(batches[0]) != 1 || batches[0][0] != "m1" {
		t.Errorf("seen batches = %v, want [[m1]]", batches)
	}
}

func TestSendOptimisticBlankIsNoop(t *testing.T) {
	api := &fakeAPI{}
	em := &fakeEmitter{connected: true}
	r, chats, thread, _ := newTestReconciler(t, api, em)
	chats.LoadInitial([]model.Chat{{OID: "c1"}})

	if err := r.SendOptimistic(context.Background(), "   \t "); err != nil {
		t.Fatalf("blank send error = %v, want nil", err)
	}
	if got := thread.Snapshot(); len(got) != 0 {
		t.Errorf("blank send created %d entries, want 0", len(got))
	}
	if em.sends != 0 {
		t.Errorf("blank send emitted %d messages, want 0", em.sends)
	}
}

// TestSendOptimisticDisconnected: the bounded reconnection wait fails,
// the user sees an error, and no optimistic entry was ever created.
func TestSendOptimisticDisconnected(t *testing.T) {
	api := &fakeAPI{}
	em := &fakeEmitter{connected: false}
	r, chats, thread, _ := newTestReconciler(t, api, em)
	chats.LoadInitial([]model.Chat{{OID: "c1"}})

	err := r.SendOptimistic(context.Background(), "hi")
	if !errors.Is(err, realtime.ErrNotConnected) {
		t.Fatalf("error = %v, want ErrNotConnected", err)
	}
	if got := thread.Snapshot(); len(got) != 0 {
		t.Errorf("disconnected send left %d entries, want 0", len(got))
	}
}

func TestSendOptimisticAckReplaces(t *testing.T) {
	api := &fakeAPI{}
	em := &fakeEmitter{connected: true, ack: realtime.SendAck{
		OK:      true,
		Message: &model.Message{OID: "m-server", ChatID: "c1", SenderID: "u1", Content: "hi"},
	}}
	r, chats, thread, _ := newTestReconciler(t, api, em)
	chats.LoadInitial([]model.Chat{{OID: "c1"}})
	thread.LoadInitial("c1", nil)

	if err := r.SendOptimistic(context.Background(), "hi"); err != nil {
		t.Fatal(err)
	}

	got := thread.Snapshot()
	if len(got) != 1 {
		t.Fatalf("thread has %d entries, want 1", len(got))
	}
	if got[0].Key() != "m-server" || got[0].Optimistic {
		t.Errorf("entry = %+v, want canonical m-server", got[0])
	}
}

// TestSendOptimisticAckError: ok:false rolls the provisional entry back
// and surfaces the failure on the bus.
func TestSendOptimisticAckError(t *testing.T) {
	api := &fakeAPI{}
	em := &fakeEmitter{connected: true, ack: realtime.SendAck{Error: "rate limited"}}
	r, chats, thread, b := newTestReconciler(t, api, em)
	chats.LoadInitial([]model.Chat{{OID: "c1"}})
	thread.LoadInitial("c1", nil)

	failures, unsub := b.Subscribe(bus.KindSendFailed, 1)
	defer unsub()

	if err := r.SendOptimistic(context.Background(), "hi"); err != nil {
		t.Fatal(err)
	}

	if got := thread.Snapshot(); len(got) != 0 {
		t.Errorf("thread has %d entries after rollback, want 0", len(got))
	}
	select {
	case evt := <-failures:
		if evt.Payload != "rate limited" {
			t.Errorf("failure payload = %v, want rate limited", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for send_failed event")
	}
}

func TestSendOptimisticNoActiveChat(t *testing.T) {
	api := &fakeAPI{}
	em := &fakeEmitter{connected: true}
	r, _, _, _ := newTestReconciler(t, api, em)

	if err := r.SendOptimistic(context.Background(), "hi"); !errors.Is(err, ErrNoActiveChat) {
		t.Errorf("error = %v, want ErrNoActiveChat", err)
	}
}

func TestLoadInitialChatsJoinsRooms(t *testing.T) {
	api := &fakeAPI{chats: []model.Chat{{OID: "c1"}, {OID: "c2"}}}
	em := &fakeEmitter{connected: true}
	r, chats, _, _ := newTestReconciler(t, api, em)

	if err := r.LoadInitialChats(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := chats.Snapshot(); len(got) != 2 {
		t.Errorf("chat list has %d entries, want 2", len(got))
	}
	if joins := em.Joins(); len(joins) != 2 {
		t.Errorf("joined %d rooms, want 2", len(joins))
	}
}
