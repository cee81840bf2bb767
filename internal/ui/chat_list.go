package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"rag-client/internal/library"
	"rag-client/internal/models"
	"rag-client/internal/session"
)

const requestTimeout = 30 * time.Second

type ConversationListModel struct {
	list          list.Model
	conversations *library.Conversations
	selection     *session.Selection
	prompt        PromptOverlayModel
	width         int
	height        int
	status        string
	err           error
}

type conversationItem struct {
	conv        models.Conversation
	current     bool
	highlighted bool
}

func (i conversationItem) Title() string {
	title := i.conv.Title
	if title == "" {
		title = library.PlaceholderTitle
	}
	if i.highlighted {
		title = HighlightStyle.Render(title)
	}
	if i.current {
		title = "● " + title
	}
	return title
}

func (i conversationItem) Description() string {
	if i.conv.CreatedAt.IsZero() {
		return i.conv.ID
	}
	return fmt.Sprintf("Created: %s", i.conv.CreatedAt.Local().Format("2006-01-02 15:04"))
}

func (i conversationItem) FilterValue() string { return i.conv.Title }

// ConversationSelected is sent when the user opens a conversation
type ConversationSelected struct {
	ID string
}

// NewConversation is sent when the user starts a blank chat
type NewConversation struct{}

// ShowDocuments opens the knowledge base screen
type ShowDocuments struct{}

// ConversationsRefreshed reports the end of a list fetch
type ConversationsRefreshed struct {
	Err error
}

// ConversationDeleted reports a committed or failed delete
type ConversationDeleted struct {
	ID  string
	Err error
}

type conversationRenamed struct {
	Err error
}

func NewConversationListModel(conversations *library.Conversations, selection *session.Selection, width, height int) ConversationListModel {
	l := list.New(nil, CreateThemedDelegate(), width, height-4)
	l.Title = "Conversations"
	l.SetShowStatusBar(true)
	l.SetFilteringEnabled(true)
	l.SetShowHelp(false)
	ConfigureListStyles(&l)

	// Disable all built-in key bindings except arrows and filter
	l.KeyMap.CursorUp = key.NewBinding(key.WithKeys("up"))
	l.KeyMap.CursorDown = key.NewBinding(key.WithKeys("down"))
	l.KeyMap.NextPage = key.NewBinding(key.WithKeys("pgdown"))
	l.KeyMap.PrevPage = key.NewBinding(key.WithKeys("pgup"))
	l.KeyMap.GoToStart = key.NewBinding()
	l.KeyMap.GoToEnd = key.NewBinding()
	l.KeyMap.Filter = key.NewBinding(key.WithKeys("/"))
	l.KeyMap.ClearFilter = key.NewBinding(key.WithKeys("esc"))
	l.KeyMap.CancelWhileFiltering = key.NewBinding(key.WithKeys("esc"))
	l.KeyMap.AcceptWhileFiltering = key.NewBinding(key.WithKeys("enter"))
	l.KeyMap.ShowFullHelp = key.NewBinding()
	l.KeyMap.CloseFullHelp = key.NewBinding()
	l.KeyMap.Quit = key.NewBinding()
	l.KeyMap.ForceQuit = key.NewBinding()

	prompt := NewPromptOverlayModel()
	prompt.UpdateSize(width, height)

	m := ConversationListModel{
		list:          l,
		conversations: conversations,
		selection:     selection,
		prompt:        prompt,
		width:         width,
		height:        height,
	}
	m.Sync()
	return m
}

func (m ConversationListModel) Init() tea.Cmd {
	return m.Refresh()
}

// Refresh refetches the list from the backend
func (m ConversationListModel) Refresh() tea.Cmd {
	convs := m.conversations
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return ConversationsRefreshed{Err: convs.Refresh(ctx)}
	}
}

func (m ConversationListModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.list.SetSize(msg.Width, msg.Height-4)
		m.prompt.UpdateSize(msg.Width, msg.Height)
		return m, nil

	case ConversationsRefreshed:
		m.err = msg.Err
		m.Sync()
		return m, nil

	case ConversationDeleted:
		m.Sync()
		if msg.Err != nil {
			m.status = RenderError(fmt.Sprintf("Delete failed: %v", msg.Err))
		} else {
			m.status = ""
		}
		return m, nil

	case conversationRenamed:
		m.Sync()
		if msg.Err != nil {
			m.status = RenderError(fmt.Sprintf("Rename failed: %v", msg.Err))
		} else {
			m.status = ""
		}
		return m, nil

	case PromptSubmitted:
		m.prompt.Hide()
		if msg.Kind != PromptRename {
			return m, nil
		}
		convs, id, title := m.conversations, msg.Target, msg.Value
		cmd := func() tea.Msg {
			ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
			defer cancel()
			return conversationRenamed{Err: convs.Rename(ctx, id, title)}
		}
		return m, cmd

	case PromptClosed:
		m.prompt.Hide()
		return m, nil
	}

	if m.prompt.IsVisible() {
		return m, m.prompt.Update(msg)
	}

	if keyMsg, ok := msg.(tea.KeyMsg); ok && m.list.FilterState() != list.Filtering {
		switch keyMsg.String() {
		case "ctrl+x":
			return m, tea.Quit

		case "enter":
			item, ok := m.list.SelectedItem().(conversationItem)
			if !ok {
				return m, nil
			}
			id := item.conv.ID
			return m, func() tea.Msg { return ConversationSelected{ID: id} }

		case "ctrl+n":
			return m, func() tea.Msg { return NewConversation{} }

		case "ctrl+k":
			return m, func() tea.Msg { return ShowDocuments{} }

		case "ctrl+r":
			item, ok := m.list.SelectedItem().(conversationItem)
			if !ok {
				return m, nil
			}
			return m, m.prompt.Show(PromptRename, item.conv.ID, "Rename conversation", item.conv.Title)

		case "ctrl+d":
			item, ok := m.list.SelectedItem().(conversationItem)
			if !ok {
				return m, nil
			}
			convs, id := m.conversations, item.conv.ID
			return m, func() tea.Msg {
				ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
				defer cancel()
				return ConversationDeleted{ID: id, Err: convs.Delete(ctx, id)}
			}

		case "f5":
			return m, m.Refresh()
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m ConversationListModel) View() string {
	var b strings.Builder
	b.WriteString(m.list.View())

	if m.err != nil {
		b.WriteString("\n" + RenderError(fmt.Sprintf("Could not load conversations: %v", m.err)))
	} else if m.status != "" {
		b.WriteString("\n" + m.status)
	}

	helpText := "↑/↓: Navigate • Enter: Open • /: Filter • Ctrl+N: New Chat • Ctrl+R: Rename • Ctrl+D: Delete • Ctrl+K: Documents • F5: Refresh • Ctrl+X: Exit"
	base := lipgloss.JoinVertical(lipgloss.Left,
		b.String(),
		helpStyle.Render(helpText),
	)
	return m.prompt.RenderOverlay(base)
}

// Sync rebuilds the list from local state without a fetch
func (m *ConversationListModel) Sync() {
	convs := m.conversations.Items()
	current := m.selection.Current()
	highlighted := m.conversations.Highlighted()

	items := make([]list.Item, len(convs))
	for i, c := range convs {
		items[i] = conversationItem{
			conv:        c,
			current:     c.ID == current,
			highlighted: c.ID == highlighted,
		}
	}
	m.list.SetItems(items)
}
