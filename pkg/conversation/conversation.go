// Package conversation owns the message list of one chat with one persona
// and drives the optimistic placeholder lifecycle of each turn.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"

	"github.com/nstogner/expertchat/pkg/domain"
	"github.com/nstogner/expertchat/pkg/store"
)

// State is the lifecycle state of the current turn.
type State string

const (
	StateIdle             State = "idle"
	StateAwaitingResponse State = "awaiting_response"
	StateStreaming        State = "streaming"
	StateSettled          State = "settled"
	StateFailed           State = "failed"
)

const (
	eventSubmit   = "submit"
	eventFragment = "fragment"
	eventComplete = "complete"
	eventFail     = "fail"
)

var (
	// ErrEmptyInput is returned by Submit for blank input.
	ErrEmptyInput = errors.New("input is empty")
	// ErrTurnInFlight is returned while a reply is still pending or streaming.
	ErrTurnInFlight = errors.New("a reply is still in progress")
)

// View is what a Renderer draws.
type View struct {
	PersonaID string
	Messages  []domain.Message
	State     State
	// Loading is true from submission until the turn settles or fails.
	Loading bool
}

// Renderer draws the conversation. Render is called after every mutation,
// on the goroutine that made it.
type Renderer interface {
	Render(View)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(View)

func (f RendererFunc) Render(v View) { f(v) }

// Transport opens the reply stream for a conversation.
type Transport interface {
	Chat(ctx context.Context, personaID string, messages []domain.Message) (iter.Seq2[string, error], error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, personaID string, messages []domain.Message) (iter.Seq2[string, error], error)

func (f TransportFunc) Chat(ctx context.Context, personaID string, messages []domain.Message) (iter.Seq2[string, error], error) {
	return f(ctx, personaID, messages)
}

// Conversation is the message list of one persona chat. Only one turn can
// be in flight at a time.
type Conversation struct {
	personaID string
	store     store.ConversationStore
	renderer  Renderer
	onChange  func(from, to State)

	mu       sync.Mutex
	messages []domain.Message
	machine  *fsm.FSM
}

// Option configures a Conversation.
type Option func(*Conversation)

// WithTransitionHook registers fn to observe every state change. fn runs
// while the conversation is locked and must not call back into it.
func WithTransitionHook(fn func(from, to State)) Option {
	return func(c *Conversation) { c.onChange = fn }
}

// New returns an empty conversation. st and r may be nil.
func New(personaID string, st store.ConversationStore, r Renderer, opts ...Option) *Conversation {
	c := &Conversation{
		personaID: personaID,
		store:     st,
		renderer:  r,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.machine = c.newMachine(StateIdle)
	return c
}

// Open loads the persisted snapshot for personaID, if any, and renders it.
func Open(ctx context.Context, st store.ConversationStore, personaID string, r Renderer, opts ...Option) (*Conversation, error) {
	c := New(personaID, st, r, opts...)
	if st != nil {
		msgs, err := st.Load(ctx, personaID)
		switch {
		case errors.Is(err, store.ErrNotFound):
		case err != nil:
			return nil, fmt.Errorf("load %s: %w", store.Key(personaID), err)
		default:
			c.messages = msgs
			slog.Debug("Loaded conversation", "persona", personaID, "messages", len(msgs))
		}
	}
	c.render()
	return c, nil
}

func (c *Conversation) newMachine(initial State) *fsm.FSM {
	return fsm.NewFSM(
		string(initial),
		fsm.Events{
			{Name: eventSubmit, Src: []string{string(StateIdle), string(StateSettled), string(StateFailed)}, Dst: string(StateAwaitingResponse)},
			{Name: eventFragment, Src: []string{string(StateAwaitingResponse)}, Dst: string(StateStreaming)},
			{Name: eventComplete, Src: []string{string(StateAwaitingResponse), string(StateStreaming)}, Dst: string(StateSettled)},
			{Name: eventFail, Src: []string{string(StateAwaitingResponse), string(StateStreaming)}, Dst: string(StateFailed)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				slog.Debug("Conversation transition", "persona", c.personaID, "event", e.Event, "from", e.Src, "to", e.Dst)
				if c.onChange != nil {
					c.onChange(State(e.Src), State(e.Dst))
				}
			},
		},
	)
}

// PersonaID returns the persona this conversation is with.
func (c *Conversation) PersonaID() string { return c.personaID }

// State returns the current turn state.
func (c *Conversation) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State(c.machine.Current())
}

// Messages returns a snapshot of the message list.
func (c *Conversation) Messages() []domain.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.messages)
}

// Loading reports whether a turn is in flight.
func (c *Conversation) Loading() bool {
	return inFlight(c.State())
}

func inFlight(s State) bool {
	return s == StateAwaitingResponse || s == StateStreaming
}

// Submit starts a turn: it appends the user message and an empty assistant
// placeholder and enters awaiting_response. The caller streams the reply
// into the returned Turn.
func (c *Conversation) Submit(ctx context.Context, input string) (*Turn, error) {
	if strings.TrimSpace(input) == "" {
		return nil, ErrEmptyInput
	}

	c.mu.Lock()
	if inFlight(State(c.machine.Current())) {
		c.mu.Unlock()
		return nil, ErrTurnInFlight
	}
	if err := c.machine.Event(context.WithoutCancel(ctx), eventSubmit); err != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("submit: %w", err)
	}

	now := time.Now().UTC()
	user := domain.Message{ID: uuid.NewString(), Role: domain.RoleUser, Content: input, CreatedAt: now}
	placeholder := domain.Message{ID: uuid.NewString(), Role: domain.RoleAssistant, CreatedAt: now}
	c.messages = append(c.messages, user, placeholder)
	c.mu.Unlock()

	c.render()
	return &Turn{c: c, userID: user.ID, replyID: placeholder.ID}, nil
}

// Send runs one complete turn: Submit, then stream the reply from t into
// the placeholder, then settle or fail. The returned error is the failure
// that ended the turn, if any, joined with a failure to save the result; the
// conversation already shows a notice for it.
func (c *Conversation) Send(ctx context.Context, input string, t Transport) error {
	turn, err := c.Submit(ctx, input)
	if err != nil {
		return err
	}

	// History includes the user message just added but not the placeholder.
	history := turn.History()
	fragments, err := t.Chat(ctx, c.personaID, history)
	if err != nil {
		return errors.Join(err, turn.Fail(ctx, err))
	}
	for f, err := range fragments {
		if err != nil {
			return errors.Join(err, turn.Fail(ctx, err))
		}
		turn.Apply(ctx, f)
	}
	return turn.Settle(ctx)
}

// Clear empties the conversation and deletes its snapshot.
func (c *Conversation) Clear(ctx context.Context) error {
	c.mu.Lock()
	if inFlight(State(c.machine.Current())) {
		c.mu.Unlock()
		return ErrTurnInFlight
	}
	c.messages = nil
	c.machine = c.newMachine(StateIdle)
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.Clear(ctx, c.personaID); err != nil {
			return fmt.Errorf("clear %s: %w", store.Key(c.personaID), err)
		}
	}
	c.render()
	return nil
}

func (c *Conversation) view() View {
	state := State(c.machine.Current())
	return View{
		PersonaID: c.personaID,
		Messages:  slices.Clone(c.messages),
		State:     state,
		Loading:   inFlight(state),
	}
}

func (c *Conversation) render() {
	if c.renderer == nil {
		return
	}
	c.mu.Lock()
	v := c.view()
	c.mu.Unlock()
	c.renderer.Render(v)
}

func (c *Conversation) persist(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	msgs := c.Messages()
	if err := c.store.Save(ctx, c.personaID, msgs); err != nil {
		slog.Error("Failed to persist conversation", "persona", c.personaID, "error", err)
		return fmt.Errorf("save %s: %w", store.Key(c.personaID), err)
	}
	return nil
}

// fire moves the machine. The turn must reach a final state even when the
// request context is already cancelled. Caller holds c.mu.
func (c *Conversation) fire(ctx context.Context, event string) {
	if err := c.machine.Event(context.WithoutCancel(ctx), event); err != nil {
		slog.Warn("Conversation transition rejected", "persona", c.personaID, "event", event, "state", c.machine.Current(), "error", err)
	}
}

// index returns the position of message id. Caller holds c.mu.
func (c *Conversation) index(id string) int {
	return slices.IndexFunc(c.messages, func(m domain.Message) bool { return m.ID == id })
}
