package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"

	"rag-client/internal/library"
	"rag-client/internal/logging"
	"rag-client/internal/models"
	"rag-client/internal/session"
)

const (
	titleHeight    = 5
	textareaHeight = 5
	helpHeight     = 2
	padding        = 2
	renderInterval = 50 * time.Millisecond
	previewLength  = 80
)

// ChatInfo is shown in the chat status bar
type ChatInfo struct {
	ServerURL string
	UserID    string
	TopK      int
}

type ChatViewModel struct {
	ctx           context.Context
	session       *session.Session
	conversations *library.Conversations
	info          ChatInfo
	messages      []models.ChatMessage
	streaming     bool
	viewport      viewport.Model
	textarea      textarea.Model
	spinner       spinner.Model
	mdRenderer    *glamour.TermRenderer
	width         int
	height        int
	lastResult    *session.TurnResult
	turnStarted   time.Time
	lastDuration  time.Duration
	status        string
}

// SessionUpdated is sent after the session's message list changed
type SessionUpdated struct{}

type rearmUpdates struct{}

// TurnFinished is sent when a submitted query has been answered, failed or
// was cancelled
type TurnFinished struct {
	Result session.TurnResult
	Err    error
}

// HistoryLoaded is sent after a conversation was activated
type HistoryLoaded struct {
	ID  string
	Err error
}

// BackToChatList leaves the chat screen
type BackToChatList struct{}

// createMarkdownRenderer creates a markdown renderer with fallback handling
func createMarkdownRenderer(width int) *glamour.TermRenderer {
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width-10),
	)
	if err == nil {
		return renderer
	}

	logging.Error("Failed to create markdown renderer with auto style: %v, trying fallback", err)

	renderer, err = glamour.NewTermRenderer(
		glamour.WithWordWrap(width - 10),
	)
	if err == nil {
		return renderer
	}

	logging.Error("Failed to create markdown renderer with basic style: %v", err)
	return nil
}

// safeRenderMarkdown renders markdown, falling back to plain text
func (m *ChatViewModel) safeRenderMarkdown(content string) (out string) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("Panic in markdown rendering: %v", r)
			out = content
		}
	}()

	if m.mdRenderer == nil || content == "" {
		return content
	}

	rendered, err := m.mdRenderer.Render(content)
	if err != nil {
		logging.Error("Markdown rendering error: %v, falling back to plain text", err)
		return content
	}

	return strings.TrimRight(rendered, "\n")
}

func NewChatViewModel(ctx context.Context, s *session.Session, conversations *library.Conversations, info ChatInfo, width, height int) ChatViewModel {
	ta := textarea.New()
	ta.Placeholder = "Ask a question about your documents..."
	ta.Focus()
	ta.CharLimit = 4000
	ta.SetWidth(width - 4)
	ta.SetHeight(3)
	ta.ShowLineNumbers = false

	// Keep only essential editing keys
	ta.KeyMap.CharacterForward = key.NewBinding(key.WithKeys("right"))
	ta.KeyMap.CharacterBackward = key.NewBinding(key.WithKeys("left"))
	ta.KeyMap.LineStart = key.NewBinding(key.WithKeys("home"))
	ta.KeyMap.LineEnd = key.NewBinding(key.WithKeys("end"))
	ta.KeyMap.DeleteCharacterBackward = key.NewBinding(key.WithKeys("backspace"))
	ta.KeyMap.DeleteCharacterForward = key.NewBinding(key.WithKeys("delete"))
	ta.KeyMap.LineNext = key.NewBinding()
	ta.KeyMap.LinePrevious = key.NewBinding()
	ta.KeyMap.InsertNewline = key.NewBinding(key.WithKeys("alt+enter"))

	viewportHeight := height - titleHeight - textareaHeight - helpHeight - padding
	vp := viewport.New(width-6, viewportHeight)
	vp.SetContent("")
	vp.MouseWheelDelta = 2

	vp.KeyMap.Down = key.NewBinding(key.WithKeys("down"))
	vp.KeyMap.Up = key.NewBinding(key.WithKeys("up"))
	vp.KeyMap.PageDown = key.NewBinding(key.WithKeys("pgdown"))
	vp.KeyMap.PageUp = key.NewBinding(key.WithKeys("pgup"))
	vp.KeyMap.HalfPageDown = key.NewBinding()
	vp.KeyMap.HalfPageUp = key.NewBinding()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = SpinnerStyle

	return ChatViewModel{
		ctx:           ctx,
		session:       s,
		conversations: conversations,
		info:          info,
		viewport:      vp,
		textarea:      ta,
		spinner:       sp,
		mdRenderer:    createMarkdownRenderer(width),
		width:         width,
		height:        height,
	}
}

// Init starts following the session. It must run once per session.
func (m ChatViewModel) Init() tea.Cmd {
	return tea.Batch(
		textarea.Blink,
		m.spinner.Tick,
		waitForUpdate(m.session),
	)
}

// waitForUpdate blocks until the session's message list changes
func waitForUpdate(s *session.Session) tea.Cmd {
	return func() tea.Msg {
		<-s.Updates()
		return SessionUpdated{}
	}
}

// ActivateConversation switches the session to id and loads its history
func ActivateConversation(ctx context.Context, s *session.Session, id string) tea.Cmd {
	return func() tea.Msg {
		return HistoryLoaded{ID: id, Err: s.Activate(ctx, id)}
	}
}

func (m ChatViewModel) submit(text string) tea.Cmd {
	ctx, s := m.ctx, m.session
	return func() tea.Msg {
		res, err := s.Submit(ctx, text)
		return TurnFinished{Result: res, Err: err}
	}
}

func (m ChatViewModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = msg.Width - 6
		m.viewport.Height = msg.Height - titleHeight - textareaHeight - helpHeight - padding
		m.textarea.SetWidth(msg.Width - 4)
		m.mdRenderer = createMarkdownRenderer(msg.Width)
		m.renderMessages()
		return m, nil

	case SessionUpdated:
		m.syncMessages()
		// Coalesce bursts of tokens into one redraw per interval
		return m, tea.Tick(renderInterval, func(time.Time) tea.Msg { return rearmUpdates{} })

	case rearmUpdates:
		m.syncMessages()
		return m, waitForUpdate(m.session)

	case TurnFinished:
		m.syncMessages()
		if !m.turnStarted.IsZero() {
			m.lastDuration = time.Since(m.turnStarted)
			m.turnStarted = time.Time{}
		}
		switch {
		case errors.Is(msg.Err, session.ErrTurnInFlight):
			m.status = RenderError("Wait for the current answer to finish")
		case errors.Is(msg.Err, session.ErrHistoryLoading):
			m.status = RenderError("Wait for the conversation to finish loading")
		case msg.Err != nil:
			m.status = RenderError(msg.Err.Error())
		case msg.Result.Cancelled:
			m.status = ""
		default:
			res := msg.Result
			m.lastResult = &res
			m.status = ""
		}
		return m, nil

	case HistoryLoaded:
		m.lastResult = nil
		m.syncMessages()
		m.viewport.GotoBottom()
		if msg.Err != nil {
			m.status = RenderError(fmt.Sprintf("Could not load conversation history: %v", msg.Err))
		} else {
			m.status = ""
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+x":
			return m, tea.Quit

		case "esc":
			return m, func() tea.Msg { return BackToChatList{} }

		case "ctrl+n":
			m.textarea.Reset()
			return m, func() tea.Msg { return NewConversation{} }

		case "ctrl+k":
			return m, func() tea.Msg { return ShowDocuments{} }

		case "enter":
			text := strings.TrimSpace(m.textarea.Value())
			if text == "" || m.session.InFlight() {
				return m, nil
			}
			if m.session.Loading() {
				m.status = RenderError("Wait for the conversation to finish loading")
				return m, nil
			}
			m.textarea.Reset()
			m.status = ""
			m.turnStarted = time.Now()
			m.viewport.GotoBottom()
			return m, m.submit(text)
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		if m.streaming {
			m.renderMessages()
		}
		return m, cmd
	}

	if !m.session.InFlight() {
		var cmd tea.Cmd
		m.textarea, cmd = m.textarea.Update(msg)
		cmds = append(cmds, cmd)
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// syncMessages pulls the latest snapshot from the session and redraws it
func (m *ChatViewModel) syncMessages() {
	follow := m.viewport.AtBottom()
	m.messages = m.session.Messages()
	m.streaming = m.session.Streaming()
	m.renderMessages()
	if follow {
		m.viewport.GotoBottom()
	}
}

func (m ChatViewModel) View() string {
	var b strings.Builder

	b.WriteString(TitleWithPaddingStyle.Render(m.title()) + "\n")

	serverLine := fmt.Sprintf("Server: %s | User: %s | TopK: %d", m.info.ServerURL, m.info.UserID, m.info.TopK)
	b.WriteString(statusBarStyle.Render(serverLine) + "\n")

	b.WriteString(statusBarStyle.Render(m.stateLine()) + "\n\n")

	b.WriteString(RenderViewportWithBorder(m.viewport.View()))
	b.WriteString("\n")

	if scrollInfo := m.renderScrollIndicator(); scrollInfo != "" {
		b.WriteString(scrollInfo)
	}
	b.WriteString("\n")
	if m.status != "" {
		b.WriteString(m.status)
	}
	b.WriteString("\n")

	b.WriteString(m.textarea.View() + "\n")

	helpText := "Enter: Send • Alt+Enter: Newline • ↑/↓: Scroll • Ctrl+N: New Chat • Ctrl+K: Documents • Esc: Conversations • Ctrl+X: Exit"
	b.WriteString(helpStyle.Render(helpText))

	return b.String()
}

func (m ChatViewModel) title() string {
	id := m.session.ConversationID()
	if id == "" {
		return "New conversation"
	}
	for _, c := range m.conversations.Items() {
		if c.ID == id && c.Title != "" {
			return c.Title
		}
	}
	return library.PlaceholderTitle
}

func (m ChatViewModel) stateLine() string {
	switch m.session.State() {
	case session.StateSending:
		return m.spinner.View() + " Waiting for the server..."
	case session.StateStreaming:
		return m.spinner.View() + " Answering..."
	}

	if m.lastResult == nil {
		return "Ready"
	}
	line := fmt.Sprintf("Last answer: %s", m.lastResult.State)
	if m.lastDuration > 0 {
		line += fmt.Sprintf(" in %.1fs", m.lastDuration.Seconds())
	}
	return line
}

func (m *ChatViewModel) renderMessages() {
	var b strings.Builder

	for i, msg := range m.messages {
		if msg.Role == models.RoleUser {
			label := UserMessageLabelStyle.Render("You:")
			b.WriteString(GetUserMessageContentStyle(m.width).Render(label + "\n" + m.safeRenderMarkdown(msg.Content)))
			b.WriteString("\n\n")
			continue
		}

		label := AssistantMessageLabelStyle.Render("Assistant:")
		body := m.safeRenderMarkdown(msg.Content)
		if body == "" && m.streaming && i == len(m.messages)-1 {
			body = m.spinner.View() + " Thinking..."
		}
		if len(msg.Sources) > 0 {
			body += "\n\n" + renderSources(msg.Sources)
		}
		b.WriteString(GetAssistantMessageContentStyle(m.width).Render(label + "\n" + body))
		b.WriteString("\n\n")
	}

	m.viewport.SetContent(b.String())
}

func renderSources(sources []models.Source) string {
	var b strings.Builder
	b.WriteString(SourceLabelStyle.Render("Sources:"))
	for _, src := range sources {
		b.WriteString("\n")
		b.WriteString(SourceItemStyle.Render(formatSource(src)))
	}
	return b.String()
}

// formatSource renders one citation as "file (NN%)" plus a short preview
func formatSource(src models.Source) string {
	line := fmt.Sprintf("• %s (%d%%)", src.Filename, src.Percent())
	preview := strings.Join(strings.Fields(src.ContentPreview), " ")
	if preview == "" {
		return line
	}
	if r := []rune(preview); len(r) > previewLength {
		preview = string(r[:previewLength-3]) + "..."
	}
	return line + "\n  " + preview
}

func (m ChatViewModel) renderScrollIndicator() string {
	if m.viewport.TotalLineCount() <= m.viewport.Height {
		return ""
	}

	scrollPercent := int(m.viewport.ScrollPercent() * 100)
	indicator := fmt.Sprintf("Scroll: %d%% ↕", scrollPercent)

	return ScrollIndicatorStyle.Render(indicator)
}

// IsChatMsg reports whether msg must reach the chat view whichever screen is
// on display
func IsChatMsg(msg tea.Msg) bool {
	switch msg.(type) {
	case SessionUpdated, rearmUpdates, TurnFinished, HistoryLoaded:
		return true
	}
	return false
}
