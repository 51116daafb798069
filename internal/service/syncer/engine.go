package syncer

import (
	"context"
	"log"
	"sync"

	"github.com/inboxd/inboxd/internal/api"
	"github.com/inboxd/inboxd/internal/model/inbox"
	"github.com/inboxd/inboxd/internal/service/realtime"
	sessionservice "github.com/inboxd/inboxd/internal/service/session"
)

// State describes what the engine is currently doing.
type State string

const (
	StateIdle            State = "idle"
	StateRefreshing      State = "refreshing"
	StateUnauthenticated State = "unauthenticated"
)

// Engine keeps the conversation list and message cache in step with the
// server. It owns the collection exclusively: on refresh the list is
// replaced wholesale, never patched in place. Refreshes are driven by the
// channel's event stream and by identity changes announced through Kick.
type Engine struct {
	client  *api.Client
	store   *sessionservice.Store
	channel *realtime.Manager

	// onAuthFailure reports a 401 observed during a background refresh,
	// with the store generation captured before the request. The engine
	// itself never surfaces refresh errors.
	onAuthFailure func(generation uint64)

	// trigger has capacity 1: any burst of triggers while a refresh is in
	// flight collapses into exactly one trailing refresh, so two refreshes
	// never overlap and a stale list can never land on top of a fresh one.
	trigger chan struct{}

	mu            sync.RWMutex
	state         State
	conversations []inbox.Conversation
	messages      map[string][]inbox.Message
	stale         map[string]bool
	dirty         map[string]bool
}

// New builds an idle engine. Run must be started for it to do anything.
func New(client *api.Client, store *sessionservice.Store, channel *realtime.Manager) *Engine {
	return &Engine{
		client:   client,
		store:    store,
		channel:  channel,
		trigger:  make(chan struct{}, 1),
		state:    StateUnauthenticated,
		messages: make(map[string][]inbox.Message),
		stale:    make(map[string]bool),
		dirty:    make(map[string]bool),
	}
}

// OnAuthFailure registers the hook fired when a refresh is rejected with a
// 401. Must be set before Run starts.
func (e *Engine) OnAuthFailure(fn func(generation uint64)) {
	e.onAuthFailure = fn
}

// Kick requests a refresh. Safe from any goroutine, including handlers fired
// by the channel; bursts coalesce.
func (e *Engine) Kick() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

// Run drives the engine until ctx is cancelled. It waits for session
// hydration first: no auth-gated work may run before the durable record has
// loaded.
func (e *Engine) Run(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-e.store.Ready():
	}

	if credential, err := e.store.Credential(); err == nil && credential != "" {
		e.Kick()
	}

	events := e.channel.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-events:
			e.noteDirty(evt.ConversationID)
			e.Kick()
		case <-e.trigger:
			e.refresh(ctx)
		}
	}
}

func (e *Engine) noteDirty(conversationID string) {
	e.mu.Lock()
	e.dirty[conversationID] = true
	e.mu.Unlock()
}

// refresh replaces the conversation list and refetches messages for any
// conversation the channel flagged since the last pass. Results observed
// under a generation other than the one captured at the start are discarded:
// the session logged out or re-authenticated while the request was in
// flight.
func (e *Engine) refresh(ctx context.Context) {
	credential, err := e.store.Credential()
	if err != nil || credential == "" {
		e.setState(StateUnauthenticated)
		return
	}
	gen := e.store.Generation()

	e.setState(StateRefreshing)
	defer e.setState(StateIdle)

	conversations, err := e.client.ListConversations(ctx, credential)
	if err != nil {
		// Last-known-good stays on screen; a background refresh never
		// clears the list. A 401 is handed to the session layer, which
		// owns the forced logout.
		log.Printf("[syncer] conversation refresh failed: %v", err)
		if api.IsAuth(err) && e.onAuthFailure != nil {
			e.onAuthFailure(gen)
		}
		return
	}
	if e.store.Generation() != gen {
		log.Printf("[syncer] discarding refresh result, session changed mid-flight")
		return
	}

	dirty := e.applyConversations(conversations)

	for id := range dirty {
		messages, err := e.client.ListMessages(ctx, credential, id)
		if err != nil {
			log.Printf("[syncer] message refresh for %s failed: %v", id, err)
			e.noteDirty(id)
			if api.IsAuth(err) && e.onAuthFailure != nil {
				e.onAuthFailure(gen)
				return
			}
			continue
		}
		if e.store.Generation() != gen {
			log.Printf("[syncer] discarding message result, session changed mid-flight")
			return
		}
		e.applyMessages(id, messages)
	}
}

// applyConversations swaps in the fresh list wholesale and returns the set
// of conversations whose messages need refetching. Messages for
// conversations no longer present are retained but flagged stale for the
// consumer to re-request.
func (e *Engine) applyConversations(conversations []inbox.Conversation) map[string]bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	present := make(map[string]bool, len(conversations))
	for _, c := range conversations {
		present[c.ID] = true
	}
	for id := range e.messages {
		if !present[id] {
			e.stale[id] = true
		}
	}

	e.conversations = conversations

	dirty := e.dirty
	e.dirty = make(map[string]bool)
	for id := range dirty {
		if !present[id] {
			delete(dirty, id)
		}
	}
	return dirty
}

func (e *Engine) applyMessages(conversationID string, incoming []inbox.Message) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.messages[conversationID] = inbox.Merge(e.messages[conversationID], incoming)
	delete(e.stale, conversationID)
}

func (e *Engine) setState(state State) {
	e.mu.Lock()
	e.state = state
	e.mu.Unlock()
}

// State reports the engine's current phase.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Conversations returns a copy of the last-known-good list.
func (e *Engine) Conversations() []inbox.Conversation {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]inbox.Conversation, len(e.conversations))
	copy(out, e.conversations)
	return out
}

// Messages returns the cached messages for a conversation and whether the
// cache is stale (the conversation dropped out of the last refreshed list).
// ok is false when nothing has been cached for the id.
func (e *Engine) Messages(conversationID string) (messages []inbox.Message, stale, ok bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cached, ok := e.messages[conversationID]
	if !ok {
		return nil, false, false
	}
	out := make([]inbox.Message, len(cached))
	copy(out, cached)
	return out, e.stale[conversationID], true
}
