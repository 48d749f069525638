package webhook

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestSignerRoundTrip(t *testing.T) {
	signer := NewSigner("k3y", time.Hour)
	token, err := signer.Issue("42", " Ana ")
	if err != nil {
		t.Fatal(err)
	}
	p, err := signer.Verify(token)
	if err != nil {
		t.Fatal(err)
	}
	if p.ID != "http:42" || p.Name != "Ana" {
		t.Errorf("principal = %+v", p)
	}
}

func TestSignerRejects(t *testing.T) {
	signer := NewSigner("k3y", time.Hour)
	issuedAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	signer.now = func() time.Time { return issuedAt }
	expired, err := signer.Issue("42", "")
	if err != nil {
		t.Fatal(err)
	}
	signer.now = func() time.Time { return issuedAt.Add(2 * time.Hour) }
	if _, err := signer.Verify(expired); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expired token: err = %v", err)
	}

	other, err := NewSigner("other", time.Hour).Issue("42", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewSigner("k3y", time.Hour).Verify(other); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("foreign secret: err = %v", err)
	}

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "42"},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewSigner("k3y", time.Hour).Verify(unsigned); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("alg none: err = %v", err)
	}

	if _, err := NewSigner("", 0).Issue("42", ""); !errors.Is(err, ErrAuthDisabled) {
		t.Errorf("empty secret: err = %v", err)
	}
}

func TestChatWithJWTPrincipal(t *testing.T) {
	env := setupServer(t, &mockAsker{response: "logged"}, "")
	signer := NewSigner("k3y", time.Hour)
	env.srv.opts.Signer = signer

	w := env.do(http.MethodPost, "/api/chat", `{"user_id":"7","text":"hi"}`)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a token, got %d", w.Code)
	}

	token, err := signer.Issue("42", "Ana")
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"user_id":"7","text":"3x5 at 100"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	env.srv.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	got := env.asker.lastEvent()
	if got.Principal == nil || got.Principal.ID != "http:42" || got.Principal.Name != "Ana" {
		t.Errorf("principal = %+v, want the token subject", got.Principal)
	}
	if got.ConversationKey != "http:42" {
		t.Errorf("conversation key = %q", got.ConversationKey)
	}
}

func TestChatTokenConfinedToOwnKeys(t *testing.T) {
	env := setupServer(t, &mockAsker{response: "ok"}, "")
	signer := NewSigner("k3y", time.Hour)
	env.srv.opts.Signer = signer
	token, err := signer.Issue("42", "")
	if err != nil {
		t.Fatal(err)
	}

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		env.srv.ServeHTTP(w, req)
		return w
	}

	for _, key := range []string{"telegram:1:1", "http:4", "http:420"} {
		w := post(`{"conversation_key":"` + key + `","text":"show my history"}`)
		if w.Code != http.StatusForbidden {
			t.Errorf("%s: expected 403, got %d", key, w.Code)
		}
	}
	if got := env.asker.lastEvent(); got != nil {
		t.Fatalf("foreign key reached the gateway: %+v", got)
	}

	w := post(`{"conversation_key":"http:42:legs","text":"squat day"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("own key: status = %d, body %s", w.Code, w.Body.String())
	}
	if got := env.asker.lastEvent(); got.ConversationKey != "http:42:legs" {
		t.Errorf("conversation key = %q", got.ConversationKey)
	}
}

func TestStaticTokenAlongsideSigner(t *testing.T) {
	env := setupServer(t, &mockAsker{response: "ok"}, "s3cret")
	env.srv.opts.Signer = NewSigner("k3y", time.Hour)

	req := httptest.NewRequest(http.MethodGet, "/api/tools", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	w := httptest.NewRecorder()
	env.srv.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("static token: status = %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/tools", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	w = httptest.NewRecorder()
	env.srv.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token: status = %d", w.Code)
	}
}
