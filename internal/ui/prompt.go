package ui

import (
	"strings"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	overlay "github.com/rmhubbert/bubbletea-overlay"
)

// PromptKind says what a prompt's answer is for
type PromptKind int

const (
	PromptRename PromptKind = iota
	PromptUploadPath
	PromptPaste
)

// PromptSubmitted is sent when the user confirms a prompt
type PromptSubmitted struct {
	Kind   PromptKind
	Target string
	Value  string
}

// PromptClosed is sent when a prompt is dismissed without an answer
type PromptClosed struct{}

// PromptModel is the foreground of a text entry dialog. Single-line prompts
// submit on Enter; multi-line prompts submit on Ctrl+S.
type PromptModel struct {
	kind      PromptKind
	target    string
	title     string
	multiline bool
	input     textinput.Model
	area      textarea.Model
	width     int
	height    int
}

func NewPromptModel() PromptModel {
	ti := textinput.New()
	ti.CharLimit = 500

	ta := textarea.New()
	ta.ShowLineNumbers = false
	ta.CharLimit = 0
	ta.SetHeight(10)

	return PromptModel{input: ti, area: ta}
}

func (m PromptModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m PromptModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "esc":
			return m, func() tea.Msg { return PromptClosed{} }

		case "enter":
			if !m.multiline {
				return m, m.submit(m.input.Value())
			}

		case "ctrl+s":
			if m.multiline {
				return m, m.submit(m.area.Value())
			}
		}

	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil
	}

	if m.multiline {
		m.area, cmd = m.area.Update(msg)
	} else {
		m.input, cmd = m.input.Update(msg)
	}
	return m, cmd
}

func (m PromptModel) submit(value string) tea.Cmd {
	kind, target := m.kind, m.target
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return func() tea.Msg {
		return PromptSubmitted{Kind: kind, Target: target, Value: value}
	}
}

func (m *PromptModel) resize(width, height int) {
	m.width = width
	m.height = height
	w := dialogWidth(width, 50)
	m.input.Width = w - 12
	m.area.SetWidth(w - 10)
}

func (m PromptModel) View() string {
	w := dialogWidth(m.width, 50)

	var content strings.Builder
	content.WriteString(DialogTitleStyle.Render(m.title))
	content.WriteString("\n\n")

	if m.multiline {
		content.WriteString(m.area.View())
		content.WriteString("\n\n")
		content.WriteString(HelpTextSimpleStyle.Render("Ctrl+S: Submit • Esc: Cancel"))
	} else {
		content.WriteString(FilterInputStyle.Render(m.input.View()))
		content.WriteString("\n\n")
		content.WriteString(HelpTextSimpleStyle.Render("Enter: Submit • Esc: Cancel"))
	}

	return GetDialogBorderStyle(w).Render(content.String())
}

// PromptOverlayModel wraps the prompt with the overlay library
type PromptOverlayModel struct {
	prompt  PromptModel
	visible bool
}

func NewPromptOverlayModel() PromptOverlayModel {
	return PromptOverlayModel{prompt: NewPromptModel()}
}

// Show opens the prompt. target identifies what the answer applies to, such
// as the conversation being renamed.
func (m *PromptOverlayModel) Show(kind PromptKind, target, title, initial string) tea.Cmd {
	m.prompt.kind = kind
	m.prompt.target = target
	m.prompt.title = title
	m.prompt.multiline = kind == PromptPaste

	m.visible = true
	if m.prompt.multiline {
		m.prompt.input.Blur()
		m.prompt.area.SetValue(initial)
		return m.prompt.area.Focus()
	}
	m.prompt.area.Blur()
	m.prompt.input.SetValue(initial)
	m.prompt.input.CursorEnd()
	return m.prompt.input.Focus()
}

func (m *PromptOverlayModel) Hide() {
	m.visible = false
	m.prompt.input.Blur()
	m.prompt.area.Blur()
}

func (m *PromptOverlayModel) IsVisible() bool {
	return m.visible
}

func (m *PromptOverlayModel) UpdateSize(width, height int) {
	m.prompt.resize(width, height)
}

func (m *PromptOverlayModel) Update(msg tea.Msg) tea.Cmd {
	if !m.visible {
		return nil
	}

	mdl, cmd := m.prompt.Update(msg)
	m.prompt = mdl.(PromptModel)
	return cmd
}

func (m PromptOverlayModel) RenderOverlay(backgroundView string) string {
	if !m.visible {
		return backgroundView
	}

	overlayModel := overlay.New(
		m.prompt,
		&staticViewModel{content: backgroundView},
		overlay.Center,
		overlay.Top,
		0,
		1,
	)

	return overlayModel.View()
}

// staticViewModel renders fixed content as an overlay background
type staticViewModel struct {
	content string
}

func (m staticViewModel) Init() tea.Cmd {
	return nil
}

func (m staticViewModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	return m, nil
}

func (m staticViewModel) View() string {
	return m.content
}
