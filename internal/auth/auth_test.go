package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"giglink/internal/rest"
	"giglink/internal/session"
)

func jwtWith(t *testing.T, claims map[string]any) string {
	t.Helper()
	header, _ := json.Marshal(map[string]string{"alg": "HS256", "typ": "JWT"})
	body, err := json.Marshal(claims)
	if err != nil {
		t.Fatal(err)
	}
	enc := base64.RawURLEncoding
	return enc.EncodeToString(header) + "." + enc.EncodeToString(body) + ".sig"
}

func newTestService(t *testing.T, handler http.Handler) (*Service, *session.Store) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	sess := session.NewStore()
	return NewService(rest.NewClient(srv.URL, sess, 5*time.Second), sess), sess
}

func TestLoginIdentityFromClaims(t *testing.T) {
	token := jwtWith(t, map[string]any{"userId": float64(42), "username": "alice"})
	profileCalls := 0
	svc, sess := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/login":
			_ = json.NewEncoder(w).Encode(map[string]string{"accessToken": token})
		case "/auth/profile":
			profileCalls++
			w.WriteHeader(http.StatusOK)
		}
	}))

	got, err := svc.Login(context.Background(), "alice@example.com", "pw")
	if err != nil {
		t.Fatal(err)
	}
	if got.UserID != 42 || got.Username != "alice" {
		t.Errorf("wrong identity: %+v", got)
	}
	if profileCalls != 0 {
		t.Error("profile fetched although the token carried full claims")
	}
	if sess.Token() != token {
		t.Error("token not stored in the session")
	}
}

func TestLoginFallsBackToProfile(t *testing.T) {
	// A token with no identity claims: the profile endpoint fills the gap.
	token := jwtWith(t, map[string]any{"exp": time.Now().Add(time.Hour).Unix()})
	svc, _ := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/login":
			// Legacy field name.
			_ = json.NewEncoder(w).Encode(map[string]string{"token": token})
		case "/auth/profile":
			_ = json.NewEncoder(w).Encode(Profile{ID: 7, Username: "bob"})
		}
	}))

	got, err := svc.Login(context.Background(), "bob@example.com", "pw")
	if err != nil {
		t.Fatal(err)
	}
	if got.UserID != 7 || got.Username != "bob" {
		t.Errorf("profile fallback failed: %+v", got)
	}
	if got.AccessToken != token {
		t.Errorf("session missing the token: %+v", got)
	}
}

func TestLoginProfileFailureClearsSession(t *testing.T) {
	token := jwtWith(t, map[string]any{"exp": time.Now().Add(time.Hour).Unix()})
	svc, sess := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/login":
			_ = json.NewEncoder(w).Encode(map[string]string{"token": token})
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))

	if _, err := svc.Login(context.Background(), "bob@example.com", "pw"); err == nil {
		t.Fatal("expected error when identity cannot be established")
	}
	if sess.Token() != "" {
		t.Error("half-established session not cleared")
	}
}

func TestRegisterRejectsInvalidUsername(t *testing.T) {
	registerCalls := 0
	svc, sess := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		registerCalls++
		w.WriteHeader(http.StatusOK)
	}))

	for _, username := range []string{"", "user name", "<script>"} {
		req := RegisterRequest{Username: username, Email: "a@example.com", Password: "pw"}
		if _, err := svc.Register(context.Background(), req); err == nil {
			t.Errorf("username %q accepted", username)
		}
	}
	if registerCalls != 0 {
		t.Errorf("invalid usernames reached the server: %d calls", registerCalls)
	}
	if sess.Token() != "" {
		t.Error("token set despite rejected registration")
	}
}

func TestRegister(t *testing.T) {
	token := jwtWith(t, map[string]any{"userId": float64(9), "username": "dave"})
	svc, sess := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/register" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"accessToken": token})
	}))

	got, err := svc.Register(context.Background(), RegisterRequest{
		Username: "dave", Email: "dave@example.com", Password: "pw",
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.UserID != 9 || got.Username != "dave" {
		t.Errorf("wrong identity: %+v", got)
	}
	if sess.Token() != token {
		t.Error("token not stored")
	}
}

func TestLogoutClearsSessionDespiteServerError(t *testing.T) {
	svc, sess := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	sess.SetToken("tok")

	svc.Logout(context.Background())

	if sess.Token() != "" {
		t.Error("logout left the token in place")
	}
}
