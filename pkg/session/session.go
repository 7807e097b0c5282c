// Package session 负责确定每个请求所属的会话标识。
package session

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// CookieName 是承载会话标识的 cookie 名。
	CookieName = "session_id"
	// CookieMaxAge 是会话 cookie 的有效期（30 天）。
	CookieMaxAge = 30 * 24 * time.Hour
)

// Source 标记最终会话标识的来源。
type Source string

const (
	SourceBody      Source = "body"
	SourceCookie    Source = "cookie"
	SourceGenerated Source = "generated"
)

// Resolve 按优先级确定会话标识：请求体 > cookie > 新生成的随机 UUID。
// 客户端可以通过请求体切换到任意会话。
func Resolve(bodyID, cookieID string) (string, Source) {
	if id := strings.TrimSpace(bodyID); id != "" {
		return id, SourceBody
	}
	if id := strings.TrimSpace(cookieID); id != "" {
		return id, SourceCookie
	}
	return NewID(), SourceGenerated
}

// NewID 生成加密强度的随机 UUID (v4)。
func NewID() string {
	return uuid.NewString()
}

// FromRequest 读取请求中的 session_id cookie（已做 URL 解码）。
// 未携带或解码失败时返回空串。
func FromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	c, err := r.Cookie(CookieName)
	if err != nil {
		return ""
	}
	val, err := url.QueryUnescape(c.Value)
	if err != nil {
		return ""
	}
	return val
}

// NewCookie 构造 session_id cookie：仅限当前主机、脚本不可读、30 天有效。
func NewCookie(id string) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    url.QueryEscape(id),
		Path:     "/",
		MaxAge:   int(CookieMaxAge / time.Second),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}
