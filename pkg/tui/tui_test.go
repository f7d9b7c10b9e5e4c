package tui

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nstogner/expertchat/pkg/conversation"
	"github.com/nstogner/expertchat/pkg/domain"
	upstream "github.com/nstogner/expertchat/pkg/model"
	"github.com/nstogner/expertchat/pkg/persona"
	"github.com/nstogner/expertchat/pkg/store"
)

func update(t *testing.T, m model, msg tea.Msg) (model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	return next.(model), cmd
}

// drain applies every view the conversation has rendered so far.
func drain(t *testing.T, m model) model {
	t.Helper()
	for {
		select {
		case v := <-m.updates:
			m, _ = update(t, m, viewMsg(v))
		default:
			return m
		}
	}
}

func fragments(frags ...string) conversation.Transport {
	return conversation.TransportFunc(func(context.Context, string, []domain.Message) (iter.Seq2[string, error], error) {
		return func(yield func(string, error) bool) {
			for _, f := range frags {
				if !yield(f, nil) {
					return
				}
			}
		}, nil
	})
}

// chatting returns a model with warren-buffett open.
func chatting(t *testing.T, opts Options) model {
	t.Helper()
	opts.Personas = persona.Defaults()
	m := initialModel(context.Background(), opts)
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 80, Height: 30})

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if cmd == nil {
		t.Fatal("Enter on the persona list returned no command")
	}
	opened, ok := cmd().(openedMsg)
	if !ok {
		t.Fatalf("open command returned %T, want openedMsg", cmd())
	}
	m, _ = update(t, m, opened)
	if m.state != stateChatting {
		t.Fatalf("state = %v, want chatting", m.state)
	}
	return drain(t, m)
}

func send(t *testing.T, m model, input string) (model, tea.Msg) {
	t.Helper()
	m.textarea.SetValue(input)
	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if cmd == nil {
		return m, nil
	}
	return m, cmd()
}

func TestPersonaNavigation(t *testing.T) {
	m := initialModel(context.Background(), Options{Personas: persona.Defaults()})

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyUp})
	if m.cursor != 0 {
		t.Errorf("cursor = %d after Up at top, want 0", m.cursor)
	}
	for range 3 {
		m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyDown})
	}
	if m.cursor != 2 {
		t.Errorf("cursor = %d after Down past the end, want 2", m.cursor)
	}
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyUp})
	if m.cursor != 1 {
		t.Errorf("cursor = %d, want 1", m.cursor)
	}
	if !strings.Contains(m.View(), "(unavailable)") {
		t.Error("persona list does not mark personas without a backend")
	}
}

func TestPresetPersona(t *testing.T) {
	m := initialModel(context.Background(), Options{Personas: persona.Defaults(), PersonaID: "ray-dalio"})
	if m.cursor != 2 || m.opts.PersonaID != "ray-dalio" {
		t.Errorf("cursor = %d, preset = %q", m.cursor, m.opts.PersonaID)
	}

	m = initialModel(context.Background(), Options{Personas: persona.Defaults(), PersonaID: "nobody"})
	if m.cursor != 0 || m.opts.PersonaID != "" {
		t.Errorf("unknown preset kept: cursor = %d, preset = %q", m.cursor, m.opts.PersonaID)
	}
}

func TestOpenRestoresConversation(t *testing.T) {
	st := store.NewMemory()
	saved := []domain.Message{
		{ID: "1", Role: domain.RoleUser, Content: "안녕하세요"},
		{ID: "2", Role: domain.RoleAssistant, Content: "반갑네."},
	}
	if err := st.Save(context.Background(), "warren-buffett", saved); err != nil {
		t.Fatalf("Save: %v", err)
	}

	m := chatting(t, Options{Store: st})
	if m.persona.ID != "warren-buffett" {
		t.Errorf("persona = %q", m.persona.ID)
	}
	if len(m.view.Messages) != 2 || m.view.Messages[1].Content != "반갑네." {
		t.Errorf("view messages = %+v", m.view.Messages)
	}
}

func TestSendStreamsReply(t *testing.T) {
	st := store.NewMemory()
	m := chatting(t, Options{Store: st, Transport: fragments("좋은 ", "기업이네.")})

	m, msg := send(t, m, "삼성전자 어때?")
	if got := m.textarea.Value(); got != "" {
		t.Errorf("input = %q after send, want it cleared", got)
	}
	sent, ok := msg.(sentMsg)
	if !ok || sent.err != nil {
		t.Fatalf("send returned %#v", msg)
	}
	m, _ = update(t, m, sent)
	m = drain(t, m)

	if m.view.State != conversation.StateSettled || m.view.Loading {
		t.Errorf("state = %s, loading = %v", m.view.State, m.view.Loading)
	}
	if len(m.view.Messages) != 2 || m.view.Messages[1].Content != "좋은 기업이네." {
		t.Fatalf("messages = %+v", m.view.Messages)
	}
	if m.err != nil {
		t.Errorf("err = %v", m.err)
	}
	if saved, err := st.Load(context.Background(), "warren-buffett"); err != nil || len(saved) != 2 {
		t.Errorf("persisted %d messages, %v", len(saved), err)
	}
}

func TestSendFailureShowsNotice(t *testing.T) {
	failing := conversation.TransportFunc(func(context.Context, string, []domain.Message) (iter.Seq2[string, error], error) {
		return nil, fmt.Errorf("dial relay: %w", upstream.ErrUpstreamUnreachable)
	})
	m := chatting(t, Options{Transport: failing})

	m, msg := send(t, m, "hi")
	m, _ = update(t, m, msg)
	m = drain(t, m)

	if m.err != nil {
		t.Errorf("err = %v, want the failure shown only in the transcript", m.err)
	}
	if m.view.State != conversation.StateFailed {
		t.Errorf("state = %s, want failed", m.view.State)
	}
	last := m.view.Messages[len(m.view.Messages)-1]
	if !last.Error || last.Content != conversation.NoticeUnreachable {
		t.Errorf("last message = %+v", last)
	}
}

func TestSendRejections(t *testing.T) {
	m := chatting(t, Options{Transport: fragments("x")})

	if _, msg := send(t, m, "   "); msg != nil {
		t.Errorf("blank input produced %#v", msg)
	}

	m.view.Loading = true
	m, msg := send(t, m, "again")
	if msg != nil {
		t.Errorf("send while loading produced %#v", msg)
	}
	if !errors.Is(m.err, conversation.ErrTurnInFlight) {
		t.Errorf("err = %v, want ErrTurnInFlight", m.err)
	}
	if m.textarea.Value() != "again" {
		t.Error("input was cleared although the message was not sent")
	}
}

func TestCommands(t *testing.T) {
	st := store.NewMemory()
	m := chatting(t, Options{Store: st, Transport: fragments("reply")})
	m, msg := send(t, m, "question")
	m, _ = update(t, m, msg)
	m = drain(t, m)

	m, msg = send(t, m, "/clear")
	if msg != nil {
		t.Errorf("/clear returned %#v", msg)
	}
	m = drain(t, m)
	if len(m.view.Messages) != 0 {
		t.Errorf("messages after /clear = %+v", m.view.Messages)
	}
	if _, err := st.Load(context.Background(), "warren-buffett"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Load after /clear: %v, want ErrNotFound", err)
	}

	if _, msg = send(t, m, "/exit"); msg != tea.Quit() {
		t.Errorf("/exit returned %#v, want tea.QuitMsg", msg)
	}
}

func TestQuitWhileLoadingAsks(t *testing.T) {
	m := chatting(t, Options{})
	m.view.Loading = true

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})
	if m.state != stateConfirmExit || cmd != nil {
		t.Fatalf("state = %v after Ctrl+C while loading", m.state)
	}
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("n")})
	if m.state != stateChatting {
		t.Errorf("state = %v after n, want chatting", m.state)
	}

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})
	_, cmd = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("y")})
	if cmd == nil || cmd() != tea.Quit() {
		t.Error("y did not quit")
	}
}

func TestEscReturnsToList(t *testing.T) {
	m := chatting(t, Options{})

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	if m.state != stateSelectingPersona || m.conv != nil {
		t.Errorf("state = %v, conv = %v after Esc", m.state, m.conv)
	}

	_, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	if cmd == nil || cmd() != tea.Quit() {
		t.Error("Esc on the persona list did not quit")
	}
}

func TestStaleViewIgnored(t *testing.T) {
	m := chatting(t, Options{})

	m, _ = update(t, m, viewMsg{
		PersonaID: "ray-dalio",
		Messages:  []domain.Message{{ID: "x", Role: domain.RoleUser, Content: "stale"}},
	})
	if m.view.PersonaID != "warren-buffett" || len(m.view.Messages) != 0 {
		t.Errorf("view = %+v, want the stale view ignored", m.view)
	}
}

func TestRenderTranscript(t *testing.T) {
	p := domain.Persona{ID: "p", DisplayName: "Sage"}

	if got := renderTranscript(p, nil, 80); !strings.Contains(got, "Ask Sage anything.") {
		t.Errorf("empty transcript = %q", got)
	}

	got := renderTranscript(p, []domain.Message{
		{ID: "1", Role: domain.RoleUser, Content: "question"},
		{ID: "2", Role: domain.RoleAssistant},
		{ID: "3", Role: domain.RoleAssistant, Content: conversation.NoticeInterrupted, Error: true},
	}, 80)
	for _, want := range []string{"You:", "question", "Sage:", "...", conversation.NoticeInterrupted} {
		if !strings.Contains(got, want) {
			t.Errorf("transcript missing %q:\n%s", want, got)
		}
	}
}
