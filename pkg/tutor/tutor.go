// Package tutor 串联会话解析、历史读写、提示词组装与模型调用，完成一轮对话。
package tutor

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/IMBotPlatform/StudyTutor/pkg/history"
	"github.com/IMBotPlatform/StudyTutor/pkg/prompt"
	"github.com/IMBotPlatform/StudyTutor/pkg/session"
)

const (
	DefaultSubject = "general"
	DefaultLevel   = "high school"

	// FallbackReply 在模型成功返回但没有可用文本时使用。
	FallbackReply = "I couldn't generate a response."
	// ErrorReply 在模型调用失败时返回给用户。
	ErrorReply = "Sorry, there was an error calling the model. Please try again."
)

// ErrEmptyMessage 表示消息去除空白后为空。
var ErrEmptyMessage = errors.New("empty message")

// Model 是推理协作方：有序消息 -> 文本。
// 成功但没有文本时返回空串。
type Model interface {
	Complete(ctx context.Context, messages []history.Turn) (string, error)
}

// ModelFunc 允许直接以函数实现 Model。
type ModelFunc func(ctx context.Context, messages []history.Turn) (string, error)

// Complete 实现 Model 接口。
func (f ModelFunc) Complete(ctx context.Context, messages []history.Turn) (string, error) {
	return f(ctx, messages)
}

// ChatRequest 是一次对话请求。
type ChatRequest struct {
	Message   string `json:"message"`
	Subject   string `json:"subject,omitempty"`
	Level     string `json:"level,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

// Result 是一次对话的结构化结果，由传输层负责写回。
type Result struct {
	Status    int
	Reply     string
	SessionID string
	// SetCookie 非空时表示调用方应当下发该 cookie。
	SetCookie *http.Cookie
}

// Tutor 是单轮对话的编排器。除存储外不持有跨请求的可变状态。
type Tutor struct {
	history   *history.Store
	assembler *prompt.Assembler
	model     Model
	logger    *slog.Logger

	defaultSubject string
	defaultLevel   string
	fallbackReply  string
	errorReply     string

	mu      sync.Mutex // 保护 closing，并保证 pending.Add 不与 Close 中的 Wait 并发
	closing bool
	pending sync.WaitGroup // 尚未完成的历史写入
}

// Option 自定义 Tutor 行为。
type Option func(*Tutor)

// WithLogger 注入日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(t *Tutor) {
		t.logger = l
	}
}

// WithDefaults 覆盖 subject/level 的默认值（空串保持内置默认）。
func WithDefaults(subject, level string) Option {
	return func(t *Tutor) {
		if subject != "" {
			t.defaultSubject = subject
		}
		if level != "" {
			t.defaultLevel = level
		}
	}
}

// WithReplies 覆盖兜底文案与错误文案（空串保持内置文案）。
func WithReplies(fallback, errorReply string) Option {
	return func(t *Tutor) {
		if fallback != "" {
			t.fallbackReply = fallback
		}
		if errorReply != "" {
			t.errorReply = errorReply
		}
	}
}

// New 组装编排器。
func New(store *history.Store, assembler *prompt.Assembler, model Model, opts ...Option) *Tutor {
	t := &Tutor{
		history:        store,
		assembler:      assembler,
		model:          model,
		defaultSubject: DefaultSubject,
		defaultLevel:   DefaultLevel,
		fallbackReply:  FallbackReply,
		errorReply:     ErrorReply,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	if t.assembler == nil {
		t.assembler = prompt.NewAssembler("")
	}
	return t
}

// Chat 处理一轮对话。cookieID 是请求携带的 session_id cookie 值（可为空）。
//
// 状态流转:
//
//	[校验消息] --空--> 400 (不触碰存储)
//	     |
//	[解析会话] -> [读取历史] -> [裁剪] -> [组装提示词] -> [调用模型]
//	                                                        |
//	                                         失败 --> 500 + 固定道歉文案 (不写历史)
//	                                                        |
//	                                         成功 --> [后台写回历史] -> 200 {reply}
func (t *Tutor) Chat(ctx context.Context, req ChatRequest, cookieID string) (Result, error) {
	// 第一步：校验输入，失败时不产生任何副作用。
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return Result{Status: http.StatusBadRequest}, ErrEmptyMessage
	}
	subject := t.defaultSubject
	if s := strings.TrimSpace(req.Subject); s != "" {
		subject = s
	}
	level := t.defaultLevel
	if l := strings.TrimSpace(req.Level); l != "" {
		level = l
	}

	// 第二步：确定会话标识。
	sessionID, source := session.Resolve(req.SessionID, cookieID)
	result := Result{SessionID: sessionID}
	if strings.TrimSpace(cookieID) == "" {
		// 请求未携带 cookie 时下发一个，后续访问即使没有请求体标识也能延续会话
		result.SetCookie = session.NewCookie(sessionID)
	}

	// 第三步：读取历史；裁剪后的视图只用于组装提示词。
	loaded := t.history.Load(ctx, sessionID)
	trimmed := t.history.Trim(loaded)

	// 第四步：组装提示词。
	messages := t.assembler.Assemble(subject, level, trimmed, message)
	t.log(ctx, slog.LevelDebug, "prompt assembled",
		"session", sessionID, "source", source, "history", len(trimmed), "messages", messages)

	// 第五步：调用模型。
	reply, err := t.model.Complete(ctx, messages)
	if err != nil {
		t.log(ctx, slog.LevelError, "model call failed", "session", sessionID, "err", err)
		result.Status = http.StatusInternalServerError
		result.Reply = t.errorReply
		return result, nil
	}
	t.log(ctx, slog.LevelDebug, "model replied", "session", sessionID, "reply", reply)
	if reply == "" {
		reply = t.fallbackReply
	}

	// 第六步：以未裁剪的历史为基础追加本轮，后台写回，不阻塞响应。
	next := history.Append(loaded,
		history.Turn{Role: history.RoleUser, Content: message},
		history.Turn{Role: history.RoleAssistant, Content: reply},
	)
	t.persist(ctx, sessionID, next)

	result.Status = http.StatusOK
	result.Reply = reply
	return result, nil
}

// persist 在后台写回历史。
// 写入脱离请求上下文的取消信号，失败只记录日志，不重试也不上报给用户。
func (t *Tutor) persist(ctx context.Context, sessionID string, h history.History) {
	saveCtx := context.WithoutCancel(ctx)
	t.mu.Lock()
	if t.closing {
		t.mu.Unlock()
		t.log(saveCtx, slog.LevelWarn, "tutor closing, history not saved", "session", sessionID)
		return
	}
	t.pending.Add(1)
	t.mu.Unlock()
	go func() {
		defer t.pending.Done()
		if err := t.history.Save(saveCtx, sessionID, h); err != nil {
			t.log(saveCtx, slog.LevelWarn, "history save failed", "session", sessionID, "err", err)
		}
	}()
}

// Wait 阻塞直到所有已发起的历史写入完成，或 ctx 结束。
// 与仍在处理的请求并发调用时应使用 Close。
func (t *Tutor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		t.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close 停止接收新的历史写入，并等待已发起的写入完成或 ctx 结束。
// 之后仍在进行的对话照常回复，但不再写回历史；存储可以在 Close 返回后关闭。
func (t *Tutor) Close(ctx context.Context) error {
	t.mu.Lock()
	t.closing = true
	t.mu.Unlock()
	return t.Wait(ctx)
}

// History 返回会话当前存储的完整历史（未裁剪）。
func (t *Tutor) History(ctx context.Context, sessionID string) history.History {
	return t.history.Load(ctx, sessionID)
}

func (t *Tutor) log(ctx context.Context, level slog.Level, msg string, args ...any) {
	if t == nil || t.logger == nil {
		return
	}
	t.logger.Log(ctx, level, msg, args...)
}
