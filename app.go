package main

import (
	"context"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"rag-client/internal/config"
	"rag-client/internal/library"
	"rag-client/internal/logging"
	"rag-client/internal/session"
	"rag-client/internal/ui"
)

type appState int

const (
	stateChatView appState = iota
	stateChatList
	stateDocuments
)

type model struct {
	ctx     context.Context
	state   appState
	session *session.Session

	// selections delivers the current conversation id whenever it changes
	selections <-chan string

	chatView ui.ChatViewModel
	chatList ui.ConversationListModel
	docsView ui.DocumentsViewModel

	width  int
	height int
}

func newApp(ctx context.Context, cfg *config.Config, sess *session.Session, conversations *library.Conversations, documents *library.Documents) model {
	info := ui.ChatInfo{ServerURL: cfg.ServerURL, UserID: cfg.UserID, TopK: cfg.TopK}
	return model{
		ctx:        ctx,
		state:      stateChatView,
		session:    sess,
		selections: sess.Selection().Subscribe(),
		chatView:   ui.NewChatViewModel(ctx, sess, conversations, info, 80, 24),
		chatList:   ui.NewConversationListModel(conversations, sess.Selection(), 80, 24),
		docsView:   ui.NewDocumentsViewModel(documents, 80, 24),
		width:      80,
		height:     24,
	}
}

func (m model) Init() tea.Cmd {
	ctx, sess := m.ctx, m.session
	restore := func() tea.Msg {
		err := sess.Restore(ctx)
		return ui.HistoryLoaded{ID: sess.ConversationID(), Err: err}
	}
	return tea.Batch(m.chatView.Init(), m.chatList.Init(), restore, waitForSelection(m.selections))
}

type selectionChanged struct{}

func waitForSelection(ch <-chan string) tea.Cmd {
	return func() tea.Msg {
		<-ch
		return selectionChanged{}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		var cmds []tea.Cmd
		cmds = append(cmds, m.updateChatView(msg), m.updateChatList(msg), m.updateDocsView(msg))
		return m, tea.Batch(cmds...)

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}

	case spinner.TickMsg:
		// Each spinner ignores ticks carrying another spinner's id
		return m, tea.Batch(m.updateChatView(msg), m.updateDocsView(msg))

	case selectionChanged:
		m.chatList.Sync()
		return m, waitForSelection(m.selections)

	case ui.ConversationSelected:
		m.state = stateChatView
		return m, ui.ActivateConversation(m.ctx, m.session, msg.ID)

	case ui.NewConversation:
		m.state = stateChatView
		return m, ui.ActivateConversation(m.ctx, m.session, "")

	case ui.ShowDocuments:
		m.state = stateDocuments
		return m, m.docsView.Refresh()

	case ui.BackToChat:
		m.state = stateChatView
		return m, nil

	case ui.BackToChatList:
		m.state = stateChatList
		m.chatList.Sync()
		return m, m.chatList.Refresh()

	case ui.ConversationDeleted:
		cmd := m.updateChatList(msg)
		if msg.Err != nil {
			return m, cmd
		}
		ctx, sess, id := m.ctx, m.session, msg.ID
		forget := func() tea.Msg {
			if err := sess.Forget(ctx, id); err != nil {
				logging.Warn("Failed to reset view after deleting %s: %v", id, err)
			}
			return nil
		}
		return m, tea.Batch(cmd, forget)

	case ui.TurnFinished:
		cmd := m.updateChatView(msg)
		m.chatList.Sync()
		if msg.Err != nil || msg.Result.Cancelled {
			return m, cmd
		}
		// Pick up titles the backend generated for new conversations
		return m, tea.Batch(cmd, m.chatList.Refresh())

	case ui.HistoryLoaded:
		cmd := m.updateChatView(msg)
		m.chatList.Sync()
		return m, cmd
	}

	if ui.IsChatMsg(msg) {
		return m, m.updateChatView(msg)
	}

	switch m.state {
	case stateChatList:
		return m, m.updateChatList(msg)
	case stateDocuments:
		return m, m.updateDocsView(msg)
	default:
		return m, m.updateChatView(msg)
	}
}

func (m *model) updateChatView(msg tea.Msg) tea.Cmd {
	newModel, cmd := m.chatView.Update(msg)
	m.chatView = newModel.(ui.ChatViewModel)
	return cmd
}

func (m *model) updateChatList(msg tea.Msg) tea.Cmd {
	newModel, cmd := m.chatList.Update(msg)
	m.chatList = newModel.(ui.ConversationListModel)
	return cmd
}

func (m *model) updateDocsView(msg tea.Msg) tea.Cmd {
	newModel, cmd := m.docsView.Update(msg)
	m.docsView = newModel.(ui.DocumentsViewModel)
	return cmd
}

func (m model) View() string {
	switch m.state {
	case stateChatList:
		return m.chatList.View()
	case stateDocuments:
		return m.docsView.View()
	default:
		return m.chatView.View()
	}
}
