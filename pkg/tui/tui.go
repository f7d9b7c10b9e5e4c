// Package tui is the terminal chat client: pick a persona, then chat with it
// while replies stream into the transcript.
//
// Keys:
//
//	Enter  - choose a persona / send a message
//	Esc    - back to the persona list (quit from the list)
//	Ctrl+C - quit, asking first while a reply is streaming
//
// Commands typed into the input:
//
//	/clear - forget the current conversation
//	/exit  - quit
package tui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nstogner/expertchat/pkg/conversation"
	"github.com/nstogner/expertchat/pkg/domain"
	"github.com/nstogner/expertchat/pkg/store"
)

type state int

const (
	stateSelectingPersona state = iota
	stateChatting
	stateConfirmExit
)

type errMsg struct{ err error }
type openedMsg struct{ conv *conversation.Conversation }
type viewMsg conversation.View
type sentMsg struct{ err error }

// Options configures the client.
type Options struct {
	Personas []domain.Persona
	// Store keeps conversations between runs. Nil keeps them in memory.
	Store     store.ConversationStore
	Transport conversation.Transport
	// PersonaID, when set, opens that persona right away.
	PersonaID string
}

type model struct {
	ctx     context.Context
	opts    Options
	updates chan conversation.View

	// State
	state      state
	cursor     int
	listOffset int
	width      int
	height     int
	err        error

	persona domain.Persona
	conv    *conversation.Conversation
	view    conversation.View

	// UI Components
	viewport viewport.Model
	textarea textarea.Model
	spinner  spinner.Model
}

func initialModel(ctx context.Context, opts Options) model {
	ta := textarea.New()
	ta.Placeholder = "Ask a question..."
	ta.Prompt = "┃ "
	ta.CharLimit = 2000
	ta.SetWidth(80)
	ta.SetHeight(3)
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.ShowLineNumbers = false
	ta.KeyMap.InsertNewline.SetEnabled(false)

	vp := viewport.New(80, 20)

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle

	if opts.Store == nil {
		opts.Store = store.NewMemory()
	}

	m := model{
		ctx:      ctx,
		opts:     opts,
		updates:  make(chan conversation.View, 64),
		state:    stateSelectingPersona,
		viewport: vp,
		textarea: ta,
		spinner:  sp,
	}
	found := false
	for i, p := range opts.Personas {
		if p.ID == opts.PersonaID {
			m.cursor, found = i, true
		}
	}
	if !found {
		m.opts.PersonaID = ""
	}
	return m
}

// Run starts the client and blocks until the user quits.
func Run(ctx context.Context, opts Options) error {
	if len(opts.Personas) == 0 {
		return errors.New("no personas to chat with")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(initialModel(ctx, opts), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}

func (m model) Init() tea.Cmd {
	cmds := []tea.Cmd{textarea.Blink, waitForView(m.updates)}
	if m.opts.PersonaID != "" {
		cmds = append(cmds, m.openCmd(m.opts.Personas[m.cursor]))
	}
	return tea.Batch(cmds...)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	var tiCmd, vpCmd tea.Cmd
	// Keys only reach the input while chatting so list navigation does not
	// leak into it.
	switch msg.(type) {
	case tea.KeyMsg:
		if m.state == stateChatting {
			m.textarea, tiCmd = m.textarea.Update(msg)
			cmds = append(cmds, tiCmd)
		}
	default:
		m.textarea, tiCmd = m.textarea.Update(msg)
		cmds = append(cmds, tiCmd)
	}

	m.viewport, vpCmd = m.viewport.Update(msg)
	cmds = append(cmds, vpCmd)

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = msg.Width
		m.textarea.SetWidth(msg.Width)
		// Header, blank line, status line, blank line.
		m.viewport.Height = max(0, msg.Height-m.textarea.Height()-4)
		m.viewport.SetContent(renderTranscript(m.persona, m.view.Messages, m.width))

		m.clampList()

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			if m.view.Loading && m.state == stateChatting {
				m.state = stateConfirmExit
				return m, nil
			}
			return m, tea.Quit
		case tea.KeyEsc:
			switch m.state {
			case stateConfirmExit:
				m.state = stateChatting
				return m, nil
			case stateChatting:
				if m.view.Loading {
					m.err = conversation.ErrTurnInFlight
					return m, nil
				}
				m.leaveChat()
				return m, nil
			}
			return m, tea.Quit
		case tea.KeyEnter:
			switch m.state {
			case stateSelectingPersona:
				if len(m.opts.Personas) == 0 {
					return m, nil
				}
				return m, m.openCmd(m.opts.Personas[m.cursor])
			case stateChatting:
				m.err = nil
				return m.sendMessage()
			}
		case tea.KeyUp:
			if m.state == stateSelectingPersona && m.cursor > 0 {
				m.cursor--
				m.clampList()
			}
		case tea.KeyDown:
			if m.state == stateSelectingPersona && m.cursor < len(m.opts.Personas)-1 {
				m.cursor++
				m.clampList()
			}
		default:
			if m.state == stateConfirmExit {
				switch msg.String() {
				case "y", "Y":
					return m, tea.Quit
				case "n", "N":
					m.state = stateChatting
					return m, nil
				}
			}
		}

	case openedMsg:
		m.conv = msg.conv
		m.persona = m.personaByID(msg.conv.PersonaID())
		m.state = stateChatting
		m.err = nil
		// The view Open rendered may arrive before this message; start from
		// the conversation itself.
		m.view = conversation.View{
			PersonaID: msg.conv.PersonaID(),
			Messages:  msg.conv.Messages(),
			State:     msg.conv.State(),
			Loading:   msg.conv.Loading(),
		}
		m.viewport.SetContent(renderTranscript(m.persona, m.view.Messages, m.width))
		m.viewport.GotoBottom()
		m.textarea.Reset()
		cmds = append(cmds, m.textarea.Focus())

	case viewMsg:
		cmds = append(cmds, waitForView(m.updates))
		// Views from a conversation the user has since left are stale.
		if m.conv == nil || msg.PersonaID != m.conv.PersonaID() {
			break
		}
		wasLoading := m.view.Loading
		m.view = conversation.View(msg)
		m.viewport.SetContent(renderTranscript(m.persona, m.view.Messages, m.width))
		m.viewport.GotoBottom()
		if m.view.Loading && !wasLoading {
			cmds = append(cmds, m.spinner.Tick)
		}

	case spinner.TickMsg:
		if m.view.Loading {
			var spCmd tea.Cmd
			m.spinner, spCmd = m.spinner.Update(msg)
			cmds = append(cmds, spCmd)
		}

	case sentMsg:
		// Turn failures already show as a notice in the transcript; only
		// rejected submissions need the error line.
		if errors.Is(msg.err, conversation.ErrTurnInFlight) || errors.Is(msg.err, conversation.ErrEmptyInput) {
			m.err = msg.err
		} else if msg.err != nil {
			slog.Warn("Turn failed", "persona", m.persona.ID, "error", msg.err)
		}

	case errMsg:
		m.err = msg.err
	}

	return m, tea.Batch(cmds...)
}

func (m model) View() string {
	var errorView string
	if m.err != nil {
		errorView = errorStyle.Width(m.width).Render(fmt.Sprintf("Error: %v", m.err))
	}

	switch m.state {
	case stateSelectingPersona:
		return m.personaListView(errorView)

	case stateConfirmExit:
		return lipgloss.JoinVertical(
			lipgloss.Left,
			titleStyle.Render("Confirm Exit"),
			"",
			"A reply is still streaming. Quit anyway? (y/n)",
			errorView,
		)
	}

	header := titleStyle.Render(m.persona.DisplayName)
	if m.persona.Title != "" {
		header += " " + dimStyle.Render(m.persona.Title)
	}

	status := dimStyle.Render("Enter to send, /clear to start over, Esc for the expert list.")
	if m.view.Loading {
		status = m.spinner.View() + " " + dimStyle.Render("Thinking...")
	}

	return lipgloss.JoinVertical(
		lipgloss.Left,
		header,
		"",
		m.viewport.View(),
		status,
		errorView,
		m.textarea.View(),
	)
}

func (m model) personaListView(errorView string) string {
	header := titleStyle.Render("Choose an Expert")

	start := m.listOffset
	end := min(start+m.maxViewable(), len(m.opts.Personas))

	var optionsView []string
	for i := start; i < end; i++ {
		p := m.opts.Personas[i]
		cursor := " "
		line := p.DisplayName
		if m.cursor == i {
			cursor = ">"
			line = selectedItemStyle.Render(line)
		}
		line += " " + dimStyle.Render(p.Title)
		if p.Backend == "" {
			line += " " + dimStyle.Render("(unavailable)")
		}
		optionsView = append(optionsView, fmt.Sprintf("%s %s", cursorStyle.Render(cursor), line))
	}
	list := lipgloss.JoinVertical(lipgloss.Left, optionsView...)

	var detail string
	if m.cursor < len(m.opts.Personas) {
		p := m.opts.Personas[m.cursor]
		detail = messageStyle.Width(max(20, m.width-2)).Render(p.Description + "\n" + dimStyle.Render(p.Style))
	}

	footer := "Press Enter to chat, Esc to quit."
	return lipgloss.JoinVertical(lipgloss.Left, header, "", list, "", detail, "", footer, errorView)
}

// maxViewable is the number of list rows that fit between header and footer.
func (m model) maxViewable() int {
	if m.height == 0 {
		return len(m.opts.Personas)
	}
	return max(1, m.height-9)
}

func (m *model) clampList() {
	n := m.maxViewable()
	if m.cursor < m.listOffset {
		m.listOffset = m.cursor
	}
	if m.cursor >= m.listOffset+n {
		m.listOffset = m.cursor - n + 1
	}
	if m.listOffset < 0 {
		m.listOffset = 0
	}
}

func (m model) personaByID(id string) domain.Persona {
	for _, p := range m.opts.Personas {
		if p.ID == id {
			return p
		}
	}
	return domain.Persona{ID: id, DisplayName: id}
}

// Actions

func (m *model) leaveChat() {
	m.state = stateSelectingPersona
	m.conv = nil
	m.view = conversation.View{}
	m.err = nil
	m.textarea.Blur()
	m.viewport.SetContent("")
}

// renderer forwards each conversation view to the program. It gives up once
// the client exits so a streaming turn never blocks on a dead program.
func (m model) renderer() conversation.Renderer {
	ctx, updates := m.ctx, m.updates
	return conversation.RendererFunc(func(v conversation.View) {
		select {
		case updates <- v:
		case <-ctx.Done():
		}
	})
}

func (m model) openCmd(p domain.Persona) tea.Cmd {
	ctx, st, r := m.ctx, m.opts.Store, m.renderer()
	return func() tea.Msg {
		conv, err := conversation.Open(ctx, st, p.ID, r)
		if err != nil {
			return errMsg{fmt.Errorf("open conversation with %s: %w", p.DisplayName, err)}
		}
		return openedMsg{conv: conv}
	}
}

func (m model) sendMessage() (model, tea.Cmd) {
	v := strings.TrimSpace(m.textarea.Value())
	if v == "" || m.conv == nil {
		return m, nil
	}

	switch v {
	case "/exit":
		return m, tea.Quit
	case "/clear":
		m.textarea.Reset()
		conv, ctx := m.conv, m.ctx
		return m, func() tea.Msg {
			if err := conv.Clear(ctx); err != nil {
				return errMsg{err}
			}
			return nil
		}
	}

	if m.view.Loading {
		m.err = conversation.ErrTurnInFlight
		return m, nil
	}

	m.textarea.Reset()
	conv, ctx, t := m.conv, m.ctx, m.opts.Transport
	return m, func() tea.Msg {
		return sentMsg{err: conv.Send(ctx, v, t)}
	}
}

func waitForView(updates <-chan conversation.View) tea.Cmd {
	return func() tea.Msg {
		v, ok := <-updates
		if !ok {
			return nil
		}
		return viewMsg(v)
	}
}

// renderTranscript lays out the messages for the viewport.
func renderTranscript(p domain.Persona, msgs []domain.Message, width int) string {
	if len(msgs) == 0 {
		return dimStyle.Render(fmt.Sprintf("Ask %s anything.", p.DisplayName))
	}
	body := messageStyle
	if width > 4 {
		body = body.Width(width - 2)
	}

	var sb strings.Builder
	for _, msg := range msgs {
		switch {
		case msg.Error:
			sb.WriteString(errorStyle.Render("! ") + "\n")
			sb.WriteString(body.Inherit(noticeStyle).Render(msg.Content))
		case msg.Role == domain.RoleUser:
			sb.WriteString(userStyle.Render("You:") + "\n")
			sb.WriteString(body.Render(msg.Content))
		default:
			sb.WriteString(senderStyle.Render(p.DisplayName+":") + "\n")
			content := msg.Content
			if content == "" {
				content = "..."
			}
			sb.WriteString(body.Render(content))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
