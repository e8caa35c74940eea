// Package tui 终端版门铃实验室，按键驱动模拟并与助手对话。
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/zhouzirui/doorbell-lab/backend/internal/analysis/diagnosis"
	"github.com/zhouzirui/doorbell-lab/backend/internal/model/chat"
	"github.com/zhouzirui/doorbell-lab/backend/internal/model/simulation"
	"github.com/zhouzirui/doorbell-lab/backend/internal/service/ai"
	labsim "github.com/zhouzirui/doorbell-lab/backend/internal/service/simulation"
)

const (
	tickInterval     = 120 * time.Millisecond
	defaultPressHold = 300 * time.Millisecond
	wireLen          = 12
)

// Lab is the part of the choreographer the terminal drives.
type Lab interface {
	Snapshot() simulation.State
	Progress() simulation.Progress
	Dispatch(action string) bool
}

// Assistant answers a question given prior turns and a state snapshot.
type Assistant interface {
	Ask(ctx context.Context, history []chat.Message, query string, snapshot simulation.State) ai.Reply
}

// Transcript stores the conversation.
type Transcript interface {
	Append(ctx context.Context, msg chat.Message) (chat.Message, error)
	History(ctx context.Context, sessionID string, limit int) ([]chat.Message, error)
}

// Dependencies wires the model to the running lab.
type Dependencies struct {
	Lab          Lab
	Changes      <-chan struct{}
	Transcript   Transcript
	Assistant    Assistant
	Session      chat.Session
	Messages     []chat.Message
	HistoryLimit int
	// PressHold is how long a key press keeps the button down.
	PressHold time.Duration
}

// FocusTarget identifies which area receives key input.
type FocusTarget int

const (
	FocusLab FocusTarget = iota
	FocusChat
)

// AppModel is the top-level Bubble Tea model.
type AppModel struct {
	ctx    context.Context
	deps   Dependencies
	status simulation.Status
	chat   ChatPanelModel
	focus  FocusTarget
	frame  int
	width  int
	height int
	err    error
}

// NewAppModel builds the model and reads the first snapshot.
func NewAppModel(ctx context.Context, deps Dependencies) AppModel {
	if deps.PressHold <= 0 {
		deps.PressHold = defaultPressHold
	}
	m := AppModel{
		ctx:   ctx,
		deps:  deps,
		chat:  NewChatPanelModel(deps.Messages),
		focus: FocusLab,
	}
	m.refresh()
	return m
}

// Init implements tea.Model.
func (m AppModel) Init() tea.Cmd {
	return tea.Batch(
		WaitForStateCmd(m.deps.Changes),
		TickCmd(tickInterval),
	)
}

// Update implements tea.Model.
func (m AppModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case StateChangedMsg:
		m.refresh()
		return m, WaitForStateCmd(m.deps.Changes)

	case TickMsg:
		m.frame++
		return m, TickCmd(tickInterval)

	case releaseMsg:
		m.dispatch(labsim.ActionRelease)
		return m, nil

	case ReplyMsg:
		return m.handleReply(msg)

	case tea.KeyMsg:
		return m.handleKeyMsg(msg)
	}

	return m, nil
}

// View implements tea.Model.
func (m AppModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}
	if m.width < 60 || m.height < 20 {
		return fmt.Sprintf("Terminal too small (%dx%d). Minimum: 60x20.", m.width, m.height)
	}

	panelWidth := m.width / 3
	devices := lipgloss.JoinHorizontal(lipgloss.Top,
		m.doorbellView(panelWidth),
		m.brokerView(m.width-2*panelWidth),
		m.phoneView(panelWidth),
	)

	chatHeight := m.height - lipgloss.Height(devices) - 5
	if chatHeight < 6 {
		chatHeight = 6
	}
	m.chat.SetSize(m.width, chatHeight)

	var b strings.Builder
	b.WriteString(devices)
	b.WriteString("\n")
	b.WriteString(renderWire(m.status.State.PacketLocation, m.frame))
	b.WriteString("\n")
	b.WriteString(m.checklistView())
	b.WriteString("\n")
	b.WriteString(m.chat.View())
	b.WriteString("\n")
	b.WriteString(m.statusBarView())
	return b.String()
}

// Status returns the last rendered lab status.
func (m AppModel) Status() simulation.Status {
	return m.status
}

func (m *AppModel) refresh() {
	if m.deps.Lab == nil {
		return
	}
	m.status = diagnosis.Report(m.deps.Lab.Snapshot(), m.deps.Lab.Progress())
}

func (m *AppModel) dispatch(action string) {
	if m.deps.Lab == nil {
		return
	}
	m.deps.Lab.Dispatch(action)
	m.refresh()
}

func (m AppModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		return m, tea.Quit
	}

	if m.focus == FocusChat {
		switch msg.String() {
		case "tab", "esc":
			m.focus = FocusLab
			m.chat.SetFocused(false)
			return m, nil
		case "enter":
			return m.submit()
		}
		var cmd tea.Cmd
		m.chat, cmd = m.chat.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "q":
		return m, tea.Quit
	case "tab":
		m.focus = FocusChat
		m.chat.SetFocused(true)
	case "p":
		m.dispatch(labsim.ActionPower)
	case "b":
		m.dispatch(labsim.ActionBroker)
	case "s":
		m.dispatch(labsim.ActionSubscription)
	case " ":
		m.dispatch(labsim.ActionPress)
		return m, releaseCmd(m.deps.PressHold)
	case "r":
		m.dispatch(labsim.ActionReset)
	}
	return m, nil
}

// submit appends the question and starts the assistant call. History is
// taken before the question is stored, so it only holds earlier turns.
func (m AppModel) submit() (tea.Model, tea.Cmd) {
	if m.chat.IsThinking() || m.deps.Transcript == nil || m.deps.Assistant == nil {
		return m, nil
	}
	text := m.chat.Take()
	if text == "" {
		return m, nil
	}

	sessionID := m.deps.Session.ID
	history, err := m.deps.Transcript.History(m.ctx, sessionID, m.deps.HistoryLimit)
	if err != nil {
		m.err = err
		return m, nil
	}
	stored, err := m.deps.Transcript.Append(m.ctx, chat.Message{
		SessionID: sessionID,
		Role:      chat.RoleUser,
		Text:      text,
	})
	if err != nil {
		m.err = err
		return m, nil
	}

	m.err = nil
	m.chat.Append(stored)
	m.chat.SetThinking(true)

	var snapshot simulation.State
	if m.deps.Lab != nil {
		snapshot = m.deps.Lab.Snapshot()
	}
	return m, AskCmd(m.ctx, m.deps.Assistant, history, text, snapshot)
}

func (m AppModel) handleReply(msg ReplyMsg) (tea.Model, tea.Cmd) {
	m.chat.SetThinking(false)
	stored, err := m.deps.Transcript.Append(m.ctx, chat.Message{
		SessionID: m.deps.Session.ID,
		Role:      chat.RoleModel,
		Text:      msg.Reply.Text,
		IsError:   msg.Reply.IsError,
	})
	if err != nil {
		m.err = err
		return m, nil
	}
	m.chat.Append(stored)
	return m, nil
}

func (m AppModel) doorbellView(width int) string {
	s := m.status.State
	button := OffStyle.Render("松开")
	if s.IsPressing {
		button = OnStyle.Render("按下")
	}
	lines := []string{
		TitleStyle.Render("门铃 Doorbell-01"),
		"电源: " + onOff(s.DoorbellPower, "开启", "关闭"),
		"按钮: " + button,
	}
	if s.PacketLocation == simulation.PacketDoorbellToServer {
		lines = append(lines, PacketStyle.Render("发布 DING ●"))
	}
	return BorderStyle.Width(width - 2).Render(strings.Join(lines, "\n"))
}

func (m AppModel) brokerView(width int) string {
	s := m.status.State
	lines := []string{
		TitleStyle.Render("MQTT 代理"),
		"状态: " + onOff(s.ServerOnline, "在线", "离线"),
	}
	for _, line := range s.ServerLogs {
		lines = append(lines, LogStyle.Render(line))
	}
	return BorderStyle.Width(width - 2).Render(strings.Join(lines, "\n"))
}

func (m AppModel) phoneView(width int) string {
	s := m.status.State
	lines := []string{
		TitleStyle.Render("手机 iPhone-15"),
		"订阅: " + onOff(s.PhoneConnected, labsim.Topic, "未订阅"),
	}
	if s.IsRinging {
		lines = append(lines, RingingStyle.Render("🔔 DING! 有人按门铃"))
	}
	return BorderStyle.Width(width - 2).Render(strings.Join(lines, "\n"))
}

func (m AppModel) checklistView() string {
	parts := make([]string, 0, len(m.status.Steps))
	for _, step := range m.status.Steps {
		if step.Completed {
			parts = append(parts, DoneStyle.Render("✔ "+step.Title))
		} else {
			parts = append(parts, PendingStyle.Render("○ "+step.Title))
		}
	}
	p := m.status.Progress
	line := strings.Join(parts, "  ") +
		fmt.Sprintf("   送达 %d · 丢弃 %d · 丢失 %d", p.Delivered, p.Dropped, p.Lost)

	if next := diagnosis.Step(m.status.NextStep); next > 0 && next != diagnosis.StepPress {
		line += "\n" + HintStyle.Render("下一步: "+next.Title())
	}
	return line
}

func (m AppModel) statusBarView() string {
	help := "p 电源 · b 代理 · s 订阅 · 空格 按门铃 · r 重置 · tab 聊天 · q 退出"
	if m.focus == FocusChat {
		help = "enter 发送 · tab/esc 返回实验 · ctrl+c 退出"
	}
	if m.err != nil {
		help += " · " + ErrorStyle.Render(m.err.Error())
	}
	return StatusBarStyle.Width(m.width).Render(help)
}

// renderWire draws doorbell -> broker -> phone with the packet on its leg.
func renderWire(loc simulation.PacketLocation, frame int) string {
	left := strings.Repeat("─", wireLen)
	right := left
	broker := "[代理]"

	switch loc {
	case simulation.PacketDoorbellToServer:
		left = packetOnWire(frame % wireLen)
	case simulation.PacketProcessing:
		broker = PacketStyle.Render("[处理中]")
	case simulation.PacketServerToPhone:
		right = packetOnWire(frame % wireLen)
	}
	return "门铃 " + left + "▶ " + broker + " " + right + "▶ 手机"
}

func packetOnWire(pos int) string {
	return strings.Repeat("─", pos) + PacketStyle.Render("●") + strings.Repeat("─", wireLen-pos-1)
}
