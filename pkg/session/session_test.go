package session

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
)

func TestResolveBodyWinsOverCookie(t *testing.T) {
	id, src := Resolve("from-body", "from-cookie")
	if id != "from-body" || src != SourceBody {
		t.Fatalf("expected body id, got %q (%s)", id, src)
	}
}

func TestResolveFallsBackToCookie(t *testing.T) {
	id, src := Resolve("  ", "from-cookie")
	if id != "from-cookie" || src != SourceCookie {
		t.Fatalf("expected cookie id, got %q (%s)", id, src)
	}
}

func TestResolveGeneratesDistinctUUIDs(t *testing.T) {
	a, srcA := Resolve("", "")
	b, srcB := Resolve("", "")
	if srcA != SourceGenerated || srcB != SourceGenerated {
		t.Fatalf("expected generated ids, got %s/%s", srcA, srcB)
	}
	if a == b {
		t.Fatalf("generated ids collide: %s", a)
	}
	parsed, err := uuid.Parse(a)
	if err != nil {
		t.Fatalf("generated id is not a uuid: %v", err)
	}
	if parsed.Version() != 4 {
		t.Fatalf("expected random (v4) uuid, got v%d", parsed.Version())
	}
}

func TestFromRequestDecodesCookie(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
	req.Header.Set("Cookie", "theme=dark; session_id=abc%20123; other=1")
	if got := FromRequest(req); got != "abc 123" {
		t.Fatalf("unexpected cookie value %q", got)
	}
}

func TestFromRequestWithoutCookie(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
	if got := FromRequest(req); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}

func TestNewCookieAttributes(t *testing.T) {
	c := NewCookie("sid")
	if c.Name != CookieName || c.Path != "/" || !c.HttpOnly || c.SameSite != http.SameSiteLaxMode {
		t.Fatalf("unexpected cookie %#v", c)
	}
	if c.MaxAge != 2592000 {
		t.Fatalf("expected 30 day max-age, got %d", c.MaxAge)
	}
	if c.Domain != "" {
		t.Fatalf("cookie must be host-only, got domain %q", c.Domain)
	}
}
