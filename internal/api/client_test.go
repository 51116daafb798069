package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/inboxd/inboxd/pkg/utils"
)

func TestListConversationsSendsBearerAndRequestID(t *testing.T) {
	var gotAuth, gotRequestID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotRequestID = r.Header.Get("X-Request-ID")
		utils.RespondJSON(w, http.StatusOK, []map[string]string{{"id": "c1"}})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second)
	conversations, err := client.ListConversations(context.Background(), "tok-1")
	if err != nil {
		t.Fatalf("ListConversations err: %v", err)
	}

	if len(conversations) != 1 || conversations[0].ID != "c1" {
		t.Fatalf("unexpected conversations: %+v", conversations)
	}
	if gotAuth != "Bearer tok-1" {
		t.Fatalf("unexpected Authorization header: %q", gotAuth)
	}
	if gotRequestID == "" {
		t.Fatal("expected an X-Request-ID header")
	}
}

func TestUnauthorizedMapsToAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second)
	_, err := client.CurrentIdentity(context.Background(), "expired")

	if !IsAuth(err) {
		t.Fatalf("expected auth error, got %v", err)
	}
}

func TestGatewayStatusesMapToGatewayError(t *testing.T) {
	for _, status := range []int{http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		client := NewClient(srv.URL, 5*time.Second)
		_, err := client.ListConversations(context.Background(), "tok")
		srv.Close()

		var ge *GatewayError
		if !errors.As(err, &ge) {
			t.Fatalf("status %d: expected GatewayError, got %v", status, err)
		}
		if ge.Status != status {
			t.Fatalf("expected status %d recorded, got %d", status, ge.Status)
		}
	}
}

func TestServerMessageSurfacedVerbatim(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		utils.RespondError(w, http.StatusUnprocessableEntity, "display name already taken")
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second)
	_, err := client.Register(context.Background(), RegisterRequest{Email: "a@b.c"})

	var re *RequestError
	if !errors.As(err, &re) {
		t.Fatalf("expected RequestError, got %v", err)
	}
	if re.Message != "display name already taken" {
		t.Fatalf("expected server message verbatim, got %q", re.Message)
	}
}

func TestMissingMessageSynthesized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second)
	_, err := client.FetchInvitation(context.Background(), "nope")

	var re *RequestError
	if !errors.As(err, &re) {
		t.Fatalf("expected RequestError, got %v", err)
	}
	if re.Message != "Request failed (404)" {
		t.Fatalf("unexpected synthesized message: %q", re.Message)
	}
}

func TestTransportFailureMapsToNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing is listening anymore

	client := NewClient(srv.URL, time.Second)
	_, err := client.ListConversations(context.Background(), "tok")

	var ne *NetworkError
	if !errors.As(err, &ne) {
		t.Fatalf("expected NetworkError, got %v", err)
	}
}

func TestLoginDecodesCredentialPair(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/login" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"credential": "tok-9",
			"identity":   map[string]string{"id": "u1", "email": "agent@example.com"},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second)
	result, err := client.Login(context.Background(), "agent@example.com", "secret")
	if err != nil {
		t.Fatalf("Login err: %v", err)
	}

	if result.Credential != "tok-9" {
		t.Fatalf("unexpected credential %q", result.Credential)
	}
	if result.Identity == nil || result.Identity.ID != "u1" {
		t.Fatalf("unexpected identity %+v", result.Identity)
	}
}
