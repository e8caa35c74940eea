package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/zhouzirui/doorbell-lab/backend/internal/model/chat"
)

// ChatPanelModel shows the assistant transcript and the question input.
type ChatPanelModel struct {
	messages []chat.Message
	viewport viewport.Model
	input    textinput.Model
	focused  bool
	thinking bool
	width    int
	height   int
}

// NewChatPanelModel seeds the panel with an existing transcript.
func NewChatPanelModel(messages []chat.Message) ChatPanelModel {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "问问助手，例如：为什么手机没有响？"
	ti.CharLimit = 500

	m := ChatPanelModel{
		messages: append([]chat.Message(nil), messages...),
		viewport: viewport.New(80, 6),
		input:    ti,
	}
	m.syncViewport()
	return m
}

// Append adds a transcript entry and scrolls to it.
func (m *ChatPanelModel) Append(msg chat.Message) {
	m.messages = append(m.messages, msg)
	m.syncViewport()
}

// Len returns the number of transcript entries shown.
func (m ChatPanelModel) Len() int {
	return len(m.messages)
}

func (m *ChatPanelModel) SetFocused(focused bool) {
	m.focused = focused
	if focused {
		m.input.Focus()
	} else {
		m.input.Blur()
	}
}

func (m ChatPanelModel) IsFocused() bool {
	return m.focused
}

func (m *ChatPanelModel) SetThinking(thinking bool) {
	m.thinking = thinking
}

func (m ChatPanelModel) IsThinking() bool {
	return m.thinking
}

// SetValue replaces the pending input text.
func (m *ChatPanelModel) SetValue(s string) {
	m.input.SetValue(s)
}

// Take returns the trimmed input and clears it.
func (m *ChatPanelModel) Take() string {
	text := strings.TrimSpace(m.input.Value())
	m.input.Reset()
	return text
}

// SetSize sets the outer dimensions including border.
func (m *ChatPanelModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	// border(2) + padding(2) horizontally, border(2) + title + input vertically
	vpWidth := w - 4
	vpHeight := h - 4
	if vpWidth < 1 {
		vpWidth = 1
	}
	if vpHeight < 1 {
		vpHeight = 1
	}
	m.viewport.Width = vpWidth
	m.viewport.Height = vpHeight
	m.input.Width = vpWidth - len(m.input.Prompt) - 1
	m.syncViewport()
}

// Update forwards key input to the text field.
func (m ChatPanelModel) Update(msg tea.Msg) (ChatPanelModel, tea.Cmd) {
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m ChatPanelModel) View() string {
	title := "AI 实验室助手"
	if m.thinking {
		title += " · 思考中..."
	}

	rendered := TitleStyle.Render(title) + "\n" + m.viewport.View() + "\n" + m.input.View()

	style := BorderStyle
	if m.focused {
		style = FocusedBorderStyle
	}
	return style.Width(m.width - 2).Render(rendered)
}

func (m *ChatPanelModel) syncViewport() {
	lines := make([]string, 0, len(m.messages))
	for _, msg := range m.messages {
		lines = append(lines, formatMessage(msg))
	}
	m.viewport.SetContent(strings.Join(lines, "\n"))
	m.viewport.GotoBottom()
}

func formatMessage(msg chat.Message) string {
	if msg.Role == chat.RoleUser {
		return UserStyle.Render("你: ") + msg.Text
	}
	if msg.IsError {
		return AssistantStyle.Render("助手: ") + ErrorStyle.Render(msg.Text)
	}
	return AssistantStyle.Render("助手: ") + msg.Text
}
