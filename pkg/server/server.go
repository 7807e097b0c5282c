// Package server 将辅导编排器暴露为 HTTP 服务。
package server

import (
	_ "embed"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/IMBotPlatform/StudyTutor/pkg/session"
	"github.com/IMBotPlatform/StudyTutor/pkg/tutor"
)

// maxBodyBytes 限制 /api/chat 请求体大小。
const maxBodyBytes = 1 << 20

//go:embed page.html
var pageHTML []byte

// chatResponse 是 /api/chat 的响应体。
type chatResponse struct {
	Reply string `json:"reply"`
}

// Server 负责 HTTP 编解码，业务逻辑全部委托给 tutor.Tutor。
type Server struct {
	tutor  *tutor.Tutor
	logger *slog.Logger
	chain  *Chain
}

// Option 用于定制 Server。
type Option func(*Server)

// WithLogger 注入日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// New 创建 Server 并注册路由：
//   - GET  /         页面，首次访问时下发 session_id cookie
//   - POST /api/chat 对话接口
//   - 其他           404
func New(t *tutor.Tutor, opts ...Option) *Server {
	s := &Server{tutor: t}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	s.chain = NewChain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Not found", http.StatusNotFound)
	}))
	s.chain.AddRoute("page", MatchRoute(http.MethodGet, "/"), http.HandlerFunc(s.handlePage))
	s.chain.AddRoute("chat", MatchRoute(http.MethodPost, "/api/chat"), http.HandlerFunc(s.handleChat))
	return s
}

// ServeHTTP 实现 http.Handler 接口。
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.chain.ServeHTTP(w, r)
}

// handlePage 返回页面，请求未携带会话 cookie 时生成一个。
func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	if session.FromRequest(r) == "" {
		http.SetCookie(w, session.NewCookie(session.NewID()))
	}
	w.Header().Set("Content-Type", "text/html; charset=UTF-8")
	_, _ = w.Write(pageHTML)
}

// handleChat 处理一次对话请求。
//
//	[解析JSON] --失败--> 400 Invalid JSON
//	     |
//	[tutor.Chat] --空消息--> 400 Empty message
//	     |
//	[写 cookie] -> [JSON 响应 {reply}]
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	// 第一步：解析请求体。
	var req tutor.ChatRequest
	if err := decodeJSON(http.MaxBytesReader(w, r.Body, maxBodyBytes), &req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	// 第二步：交给编排器处理。
	result, err := s.tutor.Chat(r.Context(), req, session.FromRequest(r))
	if errors.Is(err, tutor.ErrEmptyMessage) {
		http.Error(w, "Empty message", http.StatusBadRequest)
		return
	}
	if err != nil {
		s.logError("chat failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	// 第三步：按结构化结果写回。
	if result.SetCookie != nil {
		http.SetCookie(w, result.SetCookie)
	}
	writeJSON(w, result.Status, chatResponse{Reply: result.Reply})
}

// decodeJSON 要求请求体恰好是一个 JSON 值，尾随任何非空白内容都视为解析失败。
func decodeJSON(body io.Reader, v any) error {
	dec := json.NewDecoder(body)
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after JSON value")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func (s *Server) logError(msg string, args ...any) {
	if s == nil || s.logger == nil {
		return
	}
	s.logger.Error(msg, args...)
}
