package tutor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/IMBotPlatform/StudyTutor/pkg/history"
	"github.com/IMBotPlatform/StudyTutor/pkg/prompt"
	"github.com/IMBotPlatform/StudyTutor/pkg/store"
)

// recordingModel 记录每次收到的消息。
type recordingModel struct {
	mu    sync.Mutex
	calls [][]history.Turn
	reply string
	err   error
}

func (m *recordingModel) Complete(ctx context.Context, messages []history.Turn) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, messages)
	return m.reply, m.err
}

func (m *recordingModel) last() []history.Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[len(m.calls)-1]
}

// countingKV 统计读写次数。
type countingKV struct {
	*store.MemoryKV
	mu   sync.Mutex
	gets int
	puts int
}

func newCountingKV() *countingKV {
	return &countingKV{MemoryKV: store.NewMemoryKV()}
}

func (c *countingKV) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	c.gets++
	c.mu.Unlock()
	return c.MemoryKV.Get(ctx, key)
}

func (c *countingKV) Put(ctx context.Context, key string, value []byte) error {
	c.mu.Lock()
	c.puts++
	c.mu.Unlock()
	return c.MemoryKV.Put(ctx, key, value)
}

// failingPutKV 读取正常，写入总是失败。
type failingPutKV struct {
	*store.MemoryKV
}

func (failingPutKV) Put(ctx context.Context, key string, value []byte) error {
	return errors.New("disk full")
}

func newTutor(kv store.KV, model Model) (*Tutor, *history.Store) {
	hs := history.NewStore(kv)
	return New(hs, prompt.NewAssembler(""), model), hs
}

func waitPending(t *testing.T, tu *Tutor) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := tu.Wait(ctx); err != nil {
		t.Fatalf("pending saves did not finish: %v", err)
	}
}

func TestChatFirstExchange(t *testing.T) {
	model := &recordingModel{reply: "A derivative measures the rate of change."}
	tu, hs := newTutor(store.NewMemoryKV(), model)

	res, err := tu.Chat(context.Background(), ChatRequest{Message: "What is a derivative?", Subject: "math", Level: "high school"}, "")
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if res.Status != http.StatusOK || res.Reply != model.reply {
		t.Fatalf("unexpected result %+v", res)
	}

	sent := model.last()
	if len(sent) != 3 {
		t.Fatalf("expected 3 messages sent to model, got %d", len(sent))
	}
	if sent[1].Content != "Subject: math. Level: high school." {
		t.Fatalf("unexpected context line %q", sent[1].Content)
	}

	waitPending(t, tu)
	stored := hs.Load(context.Background(), res.SessionID)
	want := history.History{
		{Role: history.RoleUser, Content: "What is a derivative?"},
		{Role: history.RoleAssistant, Content: model.reply},
	}
	if len(stored) != 2 || stored[0] != want[0] || stored[1] != want[1] {
		t.Fatalf("unexpected stored history %#v", stored)
	}
}

func TestChatAppliesDefaultsAndTrimsMessage(t *testing.T) {
	model := &recordingModel{reply: "ok"}
	tu, hs := newTutor(store.NewMemoryKV(), model)

	res, _ := tu.Chat(context.Background(), ChatRequest{Message: "  hi  ", SessionID: "s1"}, "")
	sent := model.last()
	if sent[1].Content != "Subject: general. Level: high school." {
		t.Fatalf("defaults not applied: %q", sent[1].Content)
	}
	if sent[len(sent)-1].Content != "hi" {
		t.Fatalf("message not trimmed: %q", sent[len(sent)-1].Content)
	}

	waitPending(t, tu)
	if got := hs.Load(context.Background(), res.SessionID); got[0].Content != "hi" {
		t.Fatalf("stored message not trimmed: %q", got[0].Content)
	}
}

func TestChatEmptyMessageNeverTouchesStore(t *testing.T) {
	kv := newCountingKV()
	model := &recordingModel{reply: "x"}
	tu, _ := newTutor(kv, model)

	for _, msg := range []string{"", "   ", "\n\t"} {
		res, err := tu.Chat(context.Background(), ChatRequest{Message: msg, SessionID: "s"}, "c")
		if !errors.Is(err, ErrEmptyMessage) || res.Status != http.StatusBadRequest {
			t.Fatalf("message %q: expected 400 ErrEmptyMessage, got %+v %v", msg, res, err)
		}
	}
	waitPending(t, tu)
	if kv.gets != 0 || kv.puts != 0 {
		t.Fatalf("store touched: gets=%d puts=%d", kv.gets, kv.puts)
	}
	if len(model.calls) != 0 {
		t.Fatalf("model called for empty message")
	}
}

func TestChatModelFailureDoesNotPersist(t *testing.T) {
	kv := newCountingKV()
	model := &recordingModel{err: errors.New("upstream 503")}
	tu, hs := newTutor(kv, model)

	res, err := tu.Chat(context.Background(), ChatRequest{Message: "hello", SessionID: "s"}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != http.StatusInternalServerError || res.Reply != ErrorReply {
		t.Fatalf("unexpected result %+v", res)
	}
	waitPending(t, tu)
	if kv.puts != 0 {
		t.Fatalf("history written after model failure")
	}
	if got := hs.Load(context.Background(), "s"); len(got) != 0 {
		t.Fatalf("failed turn persisted: %#v", got)
	}
}

func TestChatEmptyModelReplyUsesFallback(t *testing.T) {
	model := &recordingModel{reply: ""}
	tu, hs := newTutor(store.NewMemoryKV(), model)

	res, _ := tu.Chat(context.Background(), ChatRequest{Message: "hello", SessionID: "s"}, "")
	if res.Status != http.StatusOK || res.Reply != FallbackReply {
		t.Fatalf("unexpected result %+v", res)
	}
	waitPending(t, tu)
	got := hs.Load(context.Background(), "s")
	if len(got) != 2 || got[1].Content != FallbackReply {
		t.Fatalf("fallback turn not persisted: %#v", got)
	}
}

func TestChatBodySessionWinsOverCookie(t *testing.T) {
	kv := store.NewMemoryKV()
	model := &recordingModel{reply: "r"}
	tu, hs := newTutor(kv, model)

	res, _ := tu.Chat(context.Background(), ChatRequest{Message: "m", SessionID: "body-id"}, "cookie-id")
	if res.SessionID != "body-id" {
		t.Fatalf("expected body id, got %q", res.SessionID)
	}
	if res.SetCookie != nil {
		t.Fatalf("cookie already present, none should be set")
	}
	waitPending(t, tu)
	if len(hs.Load(context.Background(), "body-id")) != 2 {
		t.Fatalf("history not stored under body id")
	}
	if len(hs.Load(context.Background(), "cookie-id")) != 0 {
		t.Fatalf("history stored under cookie id")
	}
}

func TestChatWithoutIdentityGeneratesSession(t *testing.T) {
	model := &recordingModel{reply: "r"}
	tu, _ := newTutor(store.NewMemoryKV(), model)

	a, _ := tu.Chat(context.Background(), ChatRequest{Message: "m"}, "")
	b, _ := tu.Chat(context.Background(), ChatRequest{Message: "m"}, "")
	waitPending(t, tu)
	if a.SessionID == "" || a.SessionID == b.SessionID {
		t.Fatalf("expected distinct generated ids, got %q and %q", a.SessionID, b.SessionID)
	}
	if a.SetCookie == nil || a.SetCookie.Value != a.SessionID {
		t.Fatalf("expected cookie for generated session, got %#v", a.SetCookie)
	}
}

func TestChatHistoryWindowIsCapped(t *testing.T) {
	model := &recordingModel{}
	tu, hs := newTutor(store.NewMemoryKV(), model)
	ctx := context.Background()

	for n := 1; n <= 12; n++ {
		model.reply = fmt.Sprintf("answer-%d", n)
		if _, err := tu.Chat(ctx, ChatRequest{Message: fmt.Sprintf("question-%d", n), SessionID: "s"}, ""); err != nil {
			t.Fatalf("chat %d: %v", n, err)
		}
		waitPending(t, tu)

		sent := model.last()
		prior := sent[2 : len(sent)-1]
		wantLen := 2 * (n - 1)
		if wantLen > history.DefaultMaxTurns {
			wantLen = history.DefaultMaxTurns
		}
		if len(prior) != wantLen {
			t.Fatalf("exchange %d: expected %d history turns in prompt, got %d", n, wantLen, len(prior))
		}
		if wantLen == history.DefaultMaxTurns {
			// 最近 18 条，按时间顺序
			first := n - 9
			if prior[0].Content != fmt.Sprintf("question-%d", first) || prior[len(prior)-1].Content != fmt.Sprintf("answer-%d", n-1) {
				t.Fatalf("exchange %d: unexpected window %q .. %q", n, prior[0].Content, prior[len(prior)-1].Content)
			}
		}
	}

	// 写入基于未裁剪的历史，存储值可以超过上限
	if got := hs.Load(ctx, "s"); len(got) != 24 {
		t.Fatalf("expected 24 stored turns, got %d", len(got))
	}
}

func TestChatSaveFailureIsSilent(t *testing.T) {
	model := &recordingModel{reply: "still answered"}
	tu, _ := newTutor(failingPutKV{store.NewMemoryKV()}, model)

	res, err := tu.Chat(context.Background(), ChatRequest{Message: "m", SessionID: "s"}, "")
	if err != nil || res.Status != http.StatusOK || res.Reply != "still answered" {
		t.Fatalf("save failure leaked into response: %+v %v", res, err)
	}
	waitPending(t, tu)
}

func TestChatSaveOutlivesRequestContext(t *testing.T) {
	model := &recordingModel{reply: "r"}
	tu, hs := newTutor(store.NewMemoryKV(), model)

	ctx, cancel := context.WithCancel(context.Background())
	if _, err := tu.Chat(ctx, ChatRequest{Message: "m", SessionID: "s"}, ""); err != nil {
		t.Fatalf("chat: %v", err)
	}
	cancel()
	waitPending(t, tu)
	if len(hs.Load(context.Background(), "s")) != 2 {
		t.Fatalf("save dropped after request context was cancelled")
	}
}

func TestWithRepliesAndDefaults(t *testing.T) {
	model := &recordingModel{err: errors.New("x")}
	hs := history.NewStore(store.NewMemoryKV())
	tu := New(hs, nil, model, WithReplies("", "try later"), WithDefaults("physics", ""))

	res, _ := tu.Chat(context.Background(), ChatRequest{Message: "m", SessionID: "s"}, "")
	if res.Reply != "try later" {
		t.Fatalf("custom error reply not used: %q", res.Reply)
	}
	if got := model.last()[1].Content; got != "Subject: physics. Level: high school." {
		t.Fatalf("custom default subject not used: %q", got)
	}
}

func TestChatLongSessionIDPersistsOnFileStore(t *testing.T) {
	kv, err := store.NewFileKV(t.TempDir())
	if err != nil {
		t.Fatalf("file store: %v", err)
	}
	model := &recordingModel{reply: "r"}
	tu, hs := newTutor(kv, model)
	id := strings.Repeat("s", 200)

	res, err := tu.Chat(context.Background(), ChatRequest{Message: "m", SessionID: id}, "")
	if err != nil || res.Status != http.StatusOK {
		t.Fatalf("chat: %+v %v", res, err)
	}
	waitPending(t, tu)

	raw, err := kv.Get(context.Background(), hs.Key(id))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if raw == nil || len(hs.Load(context.Background(), id)) != 2 {
		t.Fatalf("turn not persisted for long session id")
	}
}

func TestCloseDrainsThenRejectsLateSaves(t *testing.T) {
	kv := newCountingKV()
	model := &recordingModel{reply: "r"}
	tu, hs := newTutor(kv, model)
	ctx := context.Background()

	if _, err := tu.Chat(ctx, ChatRequest{Message: "before", SessionID: "s"}, ""); err != nil {
		t.Fatalf("chat: %v", err)
	}
	closeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := tu.Close(closeCtx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := hs.Load(ctx, "s"); len(got) != 2 {
		t.Fatalf("save issued before close was not drained: %#v", got)
	}

	// 关闭后仍在处理的请求照常回复，但不再写入存储
	res, err := tu.Chat(ctx, ChatRequest{Message: "after", SessionID: "s"}, "")
	if err != nil || res.Status != http.StatusOK {
		t.Fatalf("late chat: %+v %v", res, err)
	}
	waitPending(t, tu)
	kv.mu.Lock()
	puts := kv.puts
	kv.mu.Unlock()
	if puts != 1 {
		t.Fatalf("expected only the pre-close write, got %d puts", puts)
	}
}

func TestChatLogsPromptAndReplyAtDebug(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	model := &recordingModel{reply: "Think of slope."}
	tu := New(history.NewStore(store.NewMemoryKV()), prompt.NewAssembler("You are a tutor."), model, WithLogger(logger))

	if _, err := tu.Chat(context.Background(), ChatRequest{Message: "What is a derivative?", SessionID: "s"}, ""); err != nil {
		t.Fatalf("chat: %v", err)
	}
	waitPending(t, tu)

	out := buf.String()
	for _, want := range []string{"What is a derivative?", "Subject: general. Level: high school.", "Think of slope."} {
		if !strings.Contains(out, want) {
			t.Fatalf("debug log missing %q:\n%s", want, out)
		}
	}
}
