package ui

import (
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/lipgloss"
	tint "github.com/lrstanley/bubbletint"
)

// Theme registry for the application
var Theme *tint.Registry

// Common style elements used across all views
var (
	TitleStyle                   lipgloss.Style
	TitleWithPaddingStyle        lipgloss.Style
	errorStyle                   lipgloss.Style
	ErrorMessageStyle            lipgloss.Style
	statusBarStyle               lipgloss.Style
	helpStyle                    lipgloss.Style
	HelpTextSimpleStyle          lipgloss.Style
	UserMessageLabelStyle        lipgloss.Style
	AssistantMessageLabelStyle   lipgloss.Style
	UserMessageContentStyle      lipgloss.Style
	AssistantMessageContentStyle lipgloss.Style
	MetadataStyle                lipgloss.Style
	SpinnerStyle                 lipgloss.Style
	ViewportBorderStyle          lipgloss.Style
	ScrollIndicatorStyle         lipgloss.Style
	SourceLabelStyle             lipgloss.Style
	SourceItemStyle              lipgloss.Style
	HighlightStyle               lipgloss.Style

	// Dialog overlay styles
	DialogBorderStyle     lipgloss.Style
	DialogTitleStyle      lipgloss.Style
	DialogMessageStyle    lipgloss.Style
	ListSelectedItemStyle lipgloss.Style
	ListNormalItemStyle   lipgloss.Style
	ListDimmedItemStyle   lipgloss.Style
	FilterLabelStyle      lipgloss.Style
	FilterInputStyle      lipgloss.Style
)

func init() {
	tint.NewDefaultRegistry()
	tint.SetTint(tint.TintChalk)
	Theme = tint.DefaultRegistry

	TitleStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(tint.Purple())

	TitleWithPaddingStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(tint.Purple()).
		Padding(0, 1)

	// Error styles
	errorStyle = lipgloss.NewStyle().
		Foreground(tint.Red()).
		Bold(true).
		Padding(1)

	ErrorMessageStyle = lipgloss.NewStyle().
		Foreground(tint.Red())

	statusBarStyle = lipgloss.NewStyle().
		Foreground(tint.BrightBlack()).
		Padding(0, 1)

	helpStyle = lipgloss.NewStyle().
		Foreground(tint.BrightBlack()).
		Padding(1, 0, 0, 1)

	HelpTextSimpleStyle = lipgloss.NewStyle().
		Foreground(tint.BrightBlack())

	// Message styles
	UserMessageLabelStyle = lipgloss.NewStyle().
		Foreground(tint.White()).
		Bold(true)

	AssistantMessageLabelStyle = lipgloss.NewStyle().
		Foreground(tint.Purple()).
		Bold(true)

	UserMessageContentStyle = lipgloss.NewStyle().
		Foreground(tint.Fg()).
		Padding(0, 1).
		MarginBottom(1)

	AssistantMessageContentStyle = lipgloss.NewStyle().
		Foreground(tint.Fg()).
		Padding(0, 1).
		MarginBottom(1)

	MetadataStyle = lipgloss.NewStyle().
		Foreground(tint.BrightBlack())

	SpinnerStyle = lipgloss.NewStyle().
		Foreground(tint.Purple())

	ViewportBorderStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(tint.White()).
		Padding(0, 1)

	ScrollIndicatorStyle = lipgloss.NewStyle().
		Foreground(tint.White()).
		Bold(false)

	// Sources cited under an answer
	SourceLabelStyle = lipgloss.NewStyle().
		Foreground(tint.Yellow()).
		Bold(true)

	SourceItemStyle = lipgloss.NewStyle().
		Foreground(tint.BrightBlack()).
		PaddingLeft(2)

	HighlightStyle = lipgloss.NewStyle().
		Foreground(tint.Yellow()).
		Underline(true).
		Bold(true)

	// Dialog overlay styles
	DialogBorderStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(tint.Yellow()).
		Padding(1, 2)

	DialogTitleStyle = lipgloss.NewStyle().
		Foreground(tint.Yellow()).
		Bold(true)

	DialogMessageStyle = lipgloss.NewStyle().
		Foreground(tint.BrightBlack()).
		Align(lipgloss.Center)

	ListSelectedItemStyle = lipgloss.NewStyle().
		Foreground(tint.Purple()).
		Background(tint.BrightBlack()).
		Bold(true)

	ListNormalItemStyle = lipgloss.NewStyle().
		Foreground(tint.Fg())

	ListDimmedItemStyle = lipgloss.NewStyle().
		Foreground(tint.BrightBlack())

	FilterLabelStyle = lipgloss.NewStyle().
		Foreground(tint.White()).
		Bold(true)

	FilterInputStyle = lipgloss.NewStyle().
		Foreground(tint.Fg())
}

// ConfigureListStyles configures all list styles to match the application theme
func ConfigureListStyles(l *list.Model) {
	l.Styles.Title = TitleStyle
	l.Styles.TitleBar = lipgloss.NewStyle().
		Padding(0, 0, 1, 0)

	l.Styles.PaginationStyle = lipgloss.NewStyle().
		Foreground(tint.BrightBlack())

	l.Styles.HelpStyle = helpStyle

	l.Styles.FilterPrompt = lipgloss.NewStyle().
		Foreground(tint.Yellow())
	l.Styles.FilterCursor = lipgloss.NewStyle().
		Foreground(tint.Purple())

	l.Styles.StatusBar = lipgloss.NewStyle().
		Foreground(tint.BrightBlack()).
		Padding(0, 0, 1, 0)

	l.Styles.DividerDot = lipgloss.NewStyle().
		Foreground(tint.BrightBlack()).
		SetString(" • ")
}

// CreateThemedDelegate creates a themed list delegate with application colors
func CreateThemedDelegate() list.DefaultDelegate {
	d := list.NewDefaultDelegate()

	d.Styles.SelectedTitle = lipgloss.NewStyle().
		Foreground(tint.Purple()).
		Bold(true).
		BorderLeft(true).
		BorderForeground(tint.Purple()).
		Padding(0, 0, 0, 1)

	d.Styles.SelectedDesc = lipgloss.NewStyle().
		Foreground(tint.Yellow()).
		BorderLeft(true).
		BorderForeground(tint.Purple()).
		Padding(0, 0, 0, 1)

	d.Styles.NormalTitle = lipgloss.NewStyle().
		Foreground(tint.Fg()).
		Padding(0, 0, 0, 2)

	d.Styles.NormalDesc = lipgloss.NewStyle().
		Foreground(tint.BrightBlack()).
		Padding(0, 0, 0, 2)

	d.Styles.DimmedTitle = lipgloss.NewStyle().
		Foreground(tint.BrightBlack()).
		Padding(0, 0, 0, 2)

	d.Styles.DimmedDesc = lipgloss.NewStyle().
		Foreground(tint.BrightBlack()).
		Padding(0, 0, 0, 2)

	return d
}

// RenderError renders an error message
func RenderError(msg string) string {
	return ErrorMessageStyle.Render("  ✗ " + msg)
}

// RenderViewportWithBorder renders content with a viewport border style
func RenderViewportWithBorder(content string) string {
	return ViewportBorderStyle.Render(content)
}

// GetUserMessageContentStyle returns a style for user message content with given width
func GetUserMessageContentStyle(width int) lipgloss.Style {
	return UserMessageContentStyle.
		Width(width - 10).
		Align(lipgloss.Right)
}

// GetAssistantMessageContentStyle returns a style for assistant message content with given width
func GetAssistantMessageContentStyle(width int) lipgloss.Style {
	return AssistantMessageContentStyle.
		Width(width - 10)
}

// GetDialogBorderStyle returns the dialog border style with dynamic width
func GetDialogBorderStyle(width int) lipgloss.Style {
	return DialogBorderStyle.Width(width - 4)
}

// GetListItemStyle returns item style with dynamic width
func GetListItemStyle(width int, state string) lipgloss.Style {
	baseWidth := width - 8
	switch state {
	case "selected":
		return ListSelectedItemStyle.Width(baseWidth)
	case "dimmed":
		return ListDimmedItemStyle.Width(baseWidth)
	default:
		return ListNormalItemStyle.Width(baseWidth)
	}
}

// GetDialogMessageStyle returns message style with dynamic width
func GetDialogMessageStyle(width int) lipgloss.Style {
	return DialogMessageStyle.Width(width - 8)
}

// dialogWidth is half the window, but never narrower than min
func dialogWidth(windowWidth, min int) int {
	w := windowWidth / 2
	if w < min {
		w = min
	}
	return w
}
