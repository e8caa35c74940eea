package tui

import "github.com/charmbracelet/lipgloss"

var (
	// 面板边框
	BorderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1)

	FocusedBorderStyle = BorderStyle.
				BorderForeground(lipgloss.Color("170"))

	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("170"))

	// 设备状态
	OnStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	OffStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	RingingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	PacketStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("75")).Bold(true)

	LogStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))

	// Checklist
	DoneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	PendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	HintStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))

	// Chat
	UserStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("75")).Bold(true)
	AssistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("170")).Bold(true)
	ErrorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	StatusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("252")).
			Padding(0, 1)
)

// onOff renders a boolean device flag.
func onOff(v bool, on, off string) string {
	if v {
		return OnStyle.Render(on)
	}
	return OffStyle.Render(off)
}
