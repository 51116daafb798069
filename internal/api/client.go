package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/inboxd/inboxd/internal/model/inbox"
	"github.com/inboxd/inboxd/internal/model/session"
)

// Client talks to the helpdesk REST API. It is stateless: the caller supplies
// the bearer credential per call so the session store stays the single owner
// of identity.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient builds a client for the given API base URL, e.g.
// "https://desk.example.com". A zero timeout disables the client-side limit.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// AuthResult is the credential/identity pair returned by login, registration
// and invite acceptance.
type AuthResult struct {
	Credential string            `json:"credential"`
	Identity   *session.Identity `json:"identity"`
}

// Invitation is the server's description of a pending invite token.
type Invitation struct {
	Token            string `json:"token"`
	Email            string `json:"email"`
	OrganizationName string `json:"organizationName"`
}

// ImpersonationGrant is the temporary principal issued for support access.
type ImpersonationGrant struct {
	Credential       string            `json:"credential"`
	Identity         *session.Identity `json:"identity"`
	OrganizationName string            `json:"organizationName"`
	TargetUserEmail  string            `json:"targetUserEmail,omitempty"`
	ExpiresAt        time.Time         `json:"expiresAt"`
}

// Login exchanges email/password for a credential.
func (c *Client) Login(ctx context.Context, email, password string) (AuthResult, error) {
	var out AuthResult
	payload := map[string]string{"email": email, "password": password}
	err := c.do(ctx, http.MethodPost, "/api/login", "", payload, &out)
	return out, err
}

// RegisterRequest carries a new-account registration.
type RegisterRequest struct {
	Email            string `json:"email"`
	DisplayName      string `json:"displayName"`
	Password         string `json:"password"`
	OrganizationName string `json:"organizationName,omitempty"`
}

// Register creates an account and returns its first credential.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (AuthResult, error) {
	var out AuthResult
	err := c.do(ctx, http.MethodPost, "/api/register", "", req, &out)
	return out, err
}

// FetchInvitation looks up a pending invitation by its token.
func (c *Client) FetchInvitation(ctx context.Context, token string) (Invitation, error) {
	var out Invitation
	err := c.do(ctx, http.MethodGet, "/api/invitations/"+token, "", nil, &out)
	return out, err
}

// AcceptInvitation completes an invite and returns the new credential.
func (c *Client) AcceptInvitation(ctx context.Context, token, displayName, password string) (AuthResult, error) {
	var out AuthResult
	payload := map[string]string{
		"token":       token,
		"displayName": displayName,
		"password":    password,
	}
	err := c.do(ctx, http.MethodPost, "/api/invitations/"+token+"/accept", "", payload, &out)
	return out, err
}

// StartImpersonation requests a temporary credential for a target
// organization. The server bounds the grant by expiresInMinutes.
func (c *Client) StartImpersonation(ctx context.Context, credential, organizationID, reason string, expiresInMinutes int) (ImpersonationGrant, error) {
	var out ImpersonationGrant
	payload := map[string]any{
		"organizationId":   organizationID,
		"reason":           reason,
		"expiresInMinutes": expiresInMinutes,
	}
	err := c.do(ctx, http.MethodPost, "/api/impersonations", credential, payload, &out)
	return out, err
}

// CurrentIdentity fetches the profile the server associates with credential.
func (c *Client) CurrentIdentity(ctx context.Context, credential string) (*session.Identity, error) {
	var out session.Identity
	if err := c.do(ctx, http.MethodGet, "/api/me", credential, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListConversations fetches the caller's full conversation list.
func (c *Client) ListConversations(ctx context.Context, credential string) ([]inbox.Conversation, error) {
	var out []inbox.Conversation
	err := c.do(ctx, http.MethodGet, "/api/conversations", credential, nil, &out)
	return out, err
}

// ListMessages fetches every message in one conversation.
func (c *Client) ListMessages(ctx context.Context, credential, conversationID string) ([]inbox.Message, error) {
	var out []inbox.Message
	err := c.do(ctx, http.MethodGet, "/api/conversations/"+conversationID+"/messages", credential, nil, &out)
	return out, err
}

// errorEnvelope is the server's non-2xx body shape.
type errorEnvelope struct {
	Message string `json:"message"`
}

func (c *Client) do(ctx context.Context, method, path, credential string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Request-ID", uuid.NewString())
	if credential != "" {
		req.Header.Set("Authorization", "Bearer "+credential)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &NetworkError{Err: err, Timeout: os.IsTimeout(err) || ctx.Err() == context.DeadlineExceeded}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return &AuthError{Status: resp.StatusCode}
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return &GatewayError{Status: resp.StatusCode}
	}

	var envelope errorEnvelope
	_ = json.NewDecoder(resp.Body).Decode(&envelope)
	message := envelope.Message
	if message == "" {
		message = fmt.Sprintf("Request failed (%d)", resp.StatusCode)
	}
	return &RequestError{Status: resp.StatusCode, Message: message}
}
