package session

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/inboxd/inboxd/internal/api"
	model "github.com/inboxd/inboxd/internal/model/session"
	"github.com/inboxd/inboxd/internal/service/realtime"
)

// Controller orchestrates the credential lifecycle: login, registration,
// invite acceptance, impersonation and forced logout. It is the only
// component that writes to the store, and the only one that reacts to an
// authentication rejection.
type Controller struct {
	store    *Store
	client   *api.Client
	channel  *realtime.Manager
	onLogout func()
	onAuth   func()

	mu sync.Mutex
}

// NewController wires the controller to its collaborators. onLogout fires
// exactly once per forced logout (the login-surface redirect); onAuth fires
// after any server-confirmed identity change so the sync engine can refresh.
// Either hook may be nil.
func NewController(store *Store, client *api.Client, channel *realtime.Manager, onLogout, onAuth func()) *Controller {
	return &Controller{
		store:    store,
		client:   client,
		channel:  channel,
		onLogout: onLogout,
		onAuth:   onAuth,
	}
}

// Resume restores a persisted session after hydration: it validates the
// stored credential against the server, opens the channel and triggers an
// initial refresh. An expired credential surfaces as a 401 and forces the
// usual logout; other failures leave the session intact so a later retry can
// succeed.
func (c *Controller) Resume(ctx context.Context) error {
	select {
	case <-c.store.Ready():
	case <-ctx.Done():
		return ctx.Err()
	}

	credential, err := c.store.Credential()
	if err != nil {
		return err
	}
	if credential == "" {
		return nil
	}

	gen := c.store.Generation()
	identity, err := c.client.CurrentIdentity(ctx, credential)
	if err != nil {
		return c.recover(gen, fmt.Errorf("validate stored credential: %w", err))
	}
	if c.store.Generation() != gen {
		return nil
	}

	if err := c.store.SetIdentity(identity); err != nil {
		return err
	}
	return c.activate(ctx, credential)
}

// Login exchanges email/password for a credential and brings the session up.
func (c *Controller) Login(ctx context.Context, email, password string) error {
	result, err := c.client.Login(ctx, email, password)
	if err != nil {
		return err
	}
	return c.adopt(ctx, result)
}

// Register creates an account and logs straight into it.
func (c *Controller) Register(ctx context.Context, req api.RegisterRequest) error {
	result, err := c.client.Register(ctx, req)
	if err != nil {
		return err
	}
	return c.adopt(ctx, result)
}

// FetchInvitation looks up a pending invite by token.
func (c *Controller) FetchInvitation(ctx context.Context, token string) (api.Invitation, error) {
	return c.client.FetchInvitation(ctx, token)
}

// AcceptInvitation completes an invite and adopts the resulting credential.
func (c *Controller) AcceptInvitation(ctx context.Context, token, displayName, password string) error {
	result, err := c.client.AcceptInvitation(ctx, token, displayName, password)
	if err != nil {
		return err
	}
	return c.adopt(ctx, result)
}

// Impersonate swaps the session to a temporary principal for the target
// organization. The channel is rebound through an explicit
// disconnect/reconnect cycle; there is no credential rebind on a live
// channel.
func (c *Controller) Impersonate(ctx context.Context, organizationID, reason string, expiresInMinutes int) error {
	credential, err := c.store.Credential()
	if err != nil {
		return err
	}
	if credential == "" {
		return fmt.Errorf("impersonation requires an authenticated session")
	}

	gen := c.store.Generation()
	grant, err := c.client.StartImpersonation(ctx, credential, organizationID, reason, expiresInMinutes)
	if err != nil {
		return c.recover(gen, err)
	}
	if c.store.Generation() != gen {
		return fmt.Errorf("session changed while impersonation was in flight")
	}

	impersonation := &model.ImpersonationContext{
		OrganizationName: grant.OrganizationName,
		TargetUserEmail:  grant.TargetUserEmail,
	}
	if err := c.store.StartImpersonation(grant.Credential, grant.Identity, impersonation); err != nil {
		return err
	}

	log.Printf("[session] impersonating %s", grant.OrganizationName)
	return c.activate(ctx, grant.Credential)
}

// StopImpersonation restores the original principal. A no-op on a
// non-impersonating session.
func (c *Controller) StopImpersonation(ctx context.Context) error {
	if !c.store.Snapshot().Impersonating {
		return nil
	}
	if err := c.store.StopImpersonation(); err != nil {
		return err
	}

	credential, err := c.store.Credential()
	if err != nil {
		return err
	}
	log.Printf("[session] impersonation ended")
	return c.activate(ctx, credential)
}

// RefreshIdentity re-fetches the profile for the active credential. A 401
// here forces logout like everywhere else.
func (c *Controller) RefreshIdentity(ctx context.Context) error {
	credential, err := c.store.Credential()
	if err != nil {
		return err
	}
	if credential == "" {
		return nil
	}

	gen := c.store.Generation()
	identity, err := c.client.CurrentIdentity(ctx, credential)
	if err != nil {
		return c.recover(gen, err)
	}
	if c.store.Generation() != gen {
		return nil
	}
	return c.store.SetIdentity(identity)
}

// Logout tears the session down deliberately: channel first, then store.
func (c *Controller) Logout() error {
	c.channel.Disconnect()
	return c.store.Logout()
}

// adopt installs a fresh credential/identity pair and brings the channel up.
func (c *Controller) adopt(ctx context.Context, result api.AuthResult) error {
	if result.Credential == "" {
		return fmt.Errorf("server returned an empty credential")
	}
	if err := c.store.SetCredential(result.Credential); err != nil {
		return err
	}
	if err := c.store.SetIdentity(result.Identity); err != nil {
		return err
	}
	return c.activate(ctx, result.Credential)
}

// activate rotates the channel onto credential and announces the identity
// change.
func (c *Controller) activate(ctx context.Context, credential string) error {
	c.channel.Disconnect()
	if err := c.channel.Connect(ctx, credential); err != nil {
		return err
	}
	if c.onAuth != nil {
		c.onAuth()
	}
	return nil
}

// InvalidateCredential forces logout for a 401 observed outside the
// controller, e.g. by a background refresh. generation must be the store
// generation captured before the rejected request; a stale value makes the
// call a no-op.
func (c *Controller) InvalidateCredential(generation uint64) {
	c.expire(generation)
}

// recover applies the propagation policy: an authentication rejection is
// handled locally by forcing logout, every other failure propagates for the
// caller to display.
func (c *Controller) recover(gen uint64, err error) error {
	if !api.IsAuth(err) {
		return err
	}
	c.expire(gen)
	return err
}

// expire performs the forced logout for a 401. The generation captured
// before the failing call guards the redirect hook: concurrent 401s from
// overlapping requests observe the same generation, the mutex serializes
// them, and only the first still matches after Logout bumps it.
func (c *Controller) expire(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.store.Generation() != gen {
		return
	}

	log.Printf("[session] credential rejected, logging out")
	c.channel.Disconnect()
	if err := c.store.Logout(); err != nil {
		log.Printf("[session] logout after 401 failed: %v", err)
	}
	if c.onLogout != nil {
		c.onLogout()
	}
}
