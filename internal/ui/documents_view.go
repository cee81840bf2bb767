package ui

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"rag-client/internal/document"
	"rag-client/internal/library"
	"rag-client/internal/models"
)

const uploadTimeout = 5 * time.Minute

// DocumentsViewModel lists the knowledge base and drives uploads
type DocumentsViewModel struct {
	documents     *library.Documents
	docs          []models.Document
	filteredDocs  []models.Document
	filterInput   textinput.Model
	selectedIndex int
	prompt        PromptOverlayModel
	spinner       spinner.Model
	busy          bool
	status        string
	width         int
	height        int
}

// DocumentsRefreshed reports the end of a document list fetch
type DocumentsRefreshed struct {
	Err error
}

// DocumentUploaded reports an upload or paste
type DocumentUploaded struct {
	Filename string
	Result   *models.IngestResult
	Err      error
}

// DocumentDeleted reports a committed or failed delete
type DocumentDeleted struct {
	Filename string
	Err      error
}

// BackToChat leaves the documents screen
type BackToChat struct{}

func NewDocumentsViewModel(documents *library.Documents, width, height int) DocumentsViewModel {
	ti := textinput.New()
	ti.Placeholder = "Type to filter..."
	ti.CharLimit = 100
	ti.Width = 40
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = SpinnerStyle

	prompt := NewPromptOverlayModel()
	prompt.UpdateSize(width, height)

	return DocumentsViewModel{
		documents:   documents,
		filterInput: ti,
		prompt:      prompt,
		spinner:     sp,
		width:       width,
		height:      height,
	}
}

func (m DocumentsViewModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.Refresh())
}

// Refresh refetches the document list
func (m DocumentsViewModel) Refresh() tea.Cmd {
	docs := m.documents
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return DocumentsRefreshed{Err: docs.Refresh(ctx)}
	}
}

func (m *DocumentsViewModel) sync() {
	m.docs = m.documents.Items()
	m.updateFilteredDocs()
	if m.selectedIndex >= len(m.filteredDocs) {
		m.selectedIndex = len(m.filteredDocs) - 1
	}
	if m.selectedIndex < 0 {
		m.selectedIndex = 0
	}
}

func (m *DocumentsViewModel) updateFilteredDocs() {
	filterText := strings.ToLower(strings.TrimSpace(m.filterInput.Value()))

	if filterText == "" {
		m.filteredDocs = m.docs
		return
	}

	m.filteredDocs = []models.Document{}
	for _, doc := range m.docs {
		if strings.Contains(strings.ToLower(doc.Filename), filterText) {
			m.filteredDocs = append(m.filteredDocs, doc)
		}
	}
}

func (m DocumentsViewModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.filterInput.Width = dialogWidth(msg.Width, 50) - 12
		m.prompt.UpdateSize(msg.Width, msg.Height)
		return m, nil

	case DocumentsRefreshed:
		m.sync()
		if msg.Err != nil {
			m.status = RenderError(fmt.Sprintf("Could not load documents: %v", msg.Err))
		}
		return m, nil

	case DocumentUploaded:
		m.busy = false
		m.sync()
		if msg.Err != nil {
			m.status = RenderError(fmt.Sprintf("Upload of %s failed: %v", msg.Filename, msg.Err))
		} else {
			m.status = MetadataStyle.Render(fmt.Sprintf("Ingested %s: %d chunks", msg.Filename, msg.Result.ChunksCreated))
		}
		return m, nil

	case DocumentDeleted:
		m.sync()
		if msg.Err != nil {
			m.status = RenderError(fmt.Sprintf("Delete of %s failed: %v", msg.Filename, msg.Err))
		} else {
			m.status = MetadataStyle.Render(fmt.Sprintf("Deleted %s", msg.Filename))
		}
		return m, nil

	case PromptSubmitted:
		m.prompt.Hide()
		m.filterInput.Focus()
		return m, m.startUpload(msg)

	case PromptClosed:
		m.prompt.Hide()
		m.filterInput.Focus()
		return m, nil

	case spinner.TickMsg:
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	if m.prompt.IsVisible() {
		return m, m.prompt.Update(msg)
	}

	if msg, ok := msg.(tea.KeyMsg); ok {
		switch {
		case key.Matches(msg, key.NewBinding(key.WithKeys("up"))):
			if m.selectedIndex > 0 {
				m.selectedIndex--
			}
			return m, nil

		case key.Matches(msg, key.NewBinding(key.WithKeys("down"))):
			if m.selectedIndex < len(m.filteredDocs)-1 {
				m.selectedIndex++
			}
			return m, nil

		case key.Matches(msg, key.NewBinding(key.WithKeys("ctrl+u"))):
			if m.busy {
				return m, nil
			}
			m.filterInput.Blur()
			return m, m.prompt.Show(PromptUploadPath, "", "Upload file (.pdf, .txt, .md)", "")

		case key.Matches(msg, key.NewBinding(key.WithKeys("ctrl+p"))):
			if m.busy {
				return m, nil
			}
			m.filterInput.Blur()
			return m, m.prompt.Show(PromptPaste, "", "Paste text", "")

		case key.Matches(msg, key.NewBinding(key.WithKeys("delete", "ctrl+d"))):
			if len(m.filteredDocs) == 0 {
				return m, nil
			}
			doc := m.filteredDocs[m.selectedIndex]
			documents := m.documents
			cmd := func() tea.Msg {
				ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
				defer cancel()
				return DocumentDeleted{Filename: doc.Filename, Err: documents.Delete(ctx, doc.ID)}
			}
			return m, cmd

		case key.Matches(msg, key.NewBinding(key.WithKeys("f5"))):
			return m, m.Refresh()

		case key.Matches(msg, key.NewBinding(key.WithKeys("esc"))):
			// If filter has text, clear it first
			if m.filterInput.Value() != "" {
				m.filterInput.SetValue("")
				m.updateFilteredDocs()
				m.selectedIndex = 0
				return m, nil
			}
			return m, func() tea.Msg { return BackToChat{} }

		case key.Matches(msg, key.NewBinding(key.WithKeys("ctrl+x"))):
			return m, tea.Quit

		default:
			if msg.Type == tea.KeyRunes || msg.Type == tea.KeySpace || msg.Type == tea.KeyBackspace {
				m.filterInput, cmd = m.filterInput.Update(msg)
				oldLen := len(m.filteredDocs)
				m.updateFilteredDocs()
				if oldLen != len(m.filteredDocs) || m.selectedIndex >= len(m.filteredDocs) {
					m.selectedIndex = 0
				}
				return m, cmd
			}
		}
	}

	// Update textinput for cursor blinking
	m.filterInput, cmd = m.filterInput.Update(msg)
	return m, cmd
}

func (m *DocumentsViewModel) startUpload(msg PromptSubmitted) tea.Cmd {
	documents := m.documents
	var run func(ctx context.Context) (string, *models.IngestResult, error)

	switch msg.Kind {
	case PromptUploadPath:
		path := msg.Value
		run = func(ctx context.Context) (string, *models.IngestResult, error) {
			res, err := documents.UploadFile(ctx, path)
			return filepath.Base(strings.Trim(strings.TrimSpace(path), `"'`)), res, err
		}
	case PromptPaste:
		text := msg.Value
		run = func(ctx context.Context) (string, *models.IngestResult, error) {
			res, err := documents.PasteText(ctx, text)
			return "pasted text", res, err
		}
	default:
		return nil
	}

	m.busy = true
	m.status = ""
	upload := func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), uploadTimeout)
		defer cancel()
		name, res, err := run(ctx)
		return DocumentUploaded{Filename: name, Result: res, Err: err}
	}
	return tea.Batch(upload, m.spinner.Tick)
}

func (m DocumentsViewModel) View() string {
	maxDocs := m.height - 14
	if maxDocs < 3 {
		maxDocs = 3
	}
	width := m.width
	if width < 50 {
		width = 50
	}

	var content strings.Builder

	title := fmt.Sprintf("Knowledge Base (%d)", len(m.docs))
	if len(m.filteredDocs) != len(m.docs) {
		title = fmt.Sprintf("Knowledge Base (%d of %d)", len(m.filteredDocs), len(m.docs))
	}
	content.WriteString(DialogTitleStyle.Render(title))
	content.WriteString("\n")
	content.WriteString(HelpTextSimpleStyle.Render(fmt.Sprintf("Accepted: PDF, TXT, MD up to %d MB", document.MaxFileSize/1024/1024)))
	content.WriteString("\n\n")

	content.WriteString(FilterLabelStyle.Render("Filter: "))
	content.WriteString(FilterInputStyle.Render(m.filterInput.View()))
	content.WriteString("\n\n")

	switch {
	case len(m.docs) == 0:
		content.WriteString(GetDialogMessageStyle(width).Render("No documents yet. Press Ctrl+U to upload one."))
		content.WriteString("\n")
	case len(m.filteredDocs) == 0:
		content.WriteString(GetDialogMessageStyle(width).Render("No documents match your filter"))
		content.WriteString("\n")
	default:
		m.renderDocList(&content, width, maxDocs)
	}

	content.WriteString("\n")
	if m.busy {
		content.WriteString(m.spinner.View() + " Uploading...\n")
	} else if m.status != "" {
		content.WriteString(m.status + "\n")
	}

	content.WriteString("\n")
	content.WriteString(HelpTextSimpleStyle.Render("Type to filter • ↑/↓: Navigate • Ctrl+U: Upload • Ctrl+P: Paste • Del: Delete • F5: Refresh • Esc: Back"))

	return m.prompt.RenderOverlay(GetDialogBorderStyle(width).Render(content.String()))
}

func (m DocumentsViewModel) renderDocList(content *strings.Builder, width, maxDocs int) {
	// Calculate visible range for scrolling
	visibleStart := 0
	visibleEnd := len(m.filteredDocs)
	if len(m.filteredDocs) > maxDocs {
		// Scroll to keep selected item in view
		visibleStart = m.selectedIndex - maxDocs/2
		if visibleStart < 0 {
			visibleStart = 0
		}
		visibleEnd = visibleStart + maxDocs
		if visibleEnd > len(m.filteredDocs) {
			visibleEnd = len(m.filteredDocs)
			visibleStart = visibleEnd - maxDocs
			if visibleStart < 0 {
				visibleStart = 0
			}
		}
	}

	for i := visibleStart; i < visibleEnd; i++ {
		displayText := formatDocument(m.filteredDocs[i])

		// Truncate long text
		maxTextLength := width - 12
		if len(displayText) > maxTextLength {
			displayText = displayText[:maxTextLength-3] + "..."
		}

		if i == m.selectedIndex {
			content.WriteString(GetListItemStyle(width, "selected").Render("▶ " + displayText))
		} else {
			content.WriteString(GetListItemStyle(width, "normal").Render("  " + displayText))
		}
		content.WriteString("\n")
	}

	if len(m.filteredDocs) > maxDocs {
		content.WriteString("\n")
		content.WriteString(GetListItemStyle(width, "dimmed").Render(
			fmt.Sprintf("Showing %d-%d of %d documents", visibleStart+1, visibleEnd, len(m.filteredDocs)),
		))
		content.WriteString("\n")
	}
}

func formatDocument(doc models.Document) string {
	text := fmt.Sprintf("%s  %s", doc.Filename, formatSize(doc.FileSizeBytes))
	if !doc.UploadedAt.IsZero() {
		text += "  " + doc.UploadedAt.Local().Format("2006-01-02 15:04")
	}
	return text
}

func formatSize(n int64) string {
	switch {
	case n >= 1024*1024:
		return fmt.Sprintf("%.1f MB", float64(n)/(1024*1024))
	case n >= 1024:
		return fmt.Sprintf("%.1f KB", float64(n)/1024)
	default:
		return fmt.Sprintf("%d B", n)
	}
}
