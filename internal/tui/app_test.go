package tui

import (
	"context"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/zhouzirui/doorbell-lab/backend/internal/model/chat"
	"github.com/zhouzirui/doorbell-lab/backend/internal/model/simulation"
	"github.com/zhouzirui/doorbell-lab/backend/internal/service/ai"
	chatService "github.com/zhouzirui/doorbell-lab/backend/internal/service/chat"
	labsim "github.com/zhouzirui/doorbell-lab/backend/internal/service/simulation"
)

type fakeAssistant struct {
	reply   ai.Reply
	history []chat.Message
	query   string
	state   simulation.State
}

func (f *fakeAssistant) Ask(_ context.Context, history []chat.Message, query string, snapshot simulation.State) ai.Reply {
	f.history = history
	f.query = query
	f.state = snapshot
	return f.reply
}

type testEnv struct {
	lab       *labsim.Choreographer
	sched     *labsim.FakeScheduler
	bridge    *StateBridge
	chats     *chatService.Service
	assistant *fakeAssistant
	session   chat.Session
}

func newTestApp(t *testing.T) (AppModel, *testEnv) {
	t.Helper()

	store := labsim.NewStore()
	sched := labsim.NewFakeScheduler(time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC))
	lab := labsim.NewChoreographer(store, sched, labsim.DefaultTimings())
	bridge := NewStateBridge()
	store.Subscribe(bridge.HandleState)

	chats := chatService.NewService()
	session, err := chats.CreateSession(context.Background())
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	messages, err := chats.LoadTranscript(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("LoadTranscript: %v", err)
	}

	env := &testEnv{
		lab:       lab,
		sched:     sched,
		bridge:    bridge,
		chats:     chats,
		assistant: &fakeAssistant{reply: ai.Reply{Text: "先打开门铃电源。"}},
		session:   session,
	}
	m := NewAppModel(context.Background(), Dependencies{
		Lab:        lab,
		Changes:    bridge.Changes(),
		Transcript: chats,
		Assistant:  env.assistant,
		Session:    session,
		Messages:   messages,
	})
	return m, env
}

func runeKey(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func update(t *testing.T, m AppModel, msg tea.Msg) (AppModel, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	am, ok := next.(AppModel)
	if !ok {
		t.Fatalf("Update returned %T, want AppModel", next)
	}
	return am, cmd
}

func TestNewAppModel(t *testing.T) {
	m, _ := newTestApp(t)

	if m.focus != FocusLab {
		t.Errorf("initial focus = %d, want FocusLab", m.focus)
	}
	if m.chat.Len() != 1 {
		t.Errorf("chat entries = %d, want welcome message only", m.chat.Len())
	}
	if got := m.Status().NextStep; got != 1 {
		t.Errorf("NextStep = %d, want 1 (power)", got)
	}
	if len(m.Status().Steps) != 4 {
		t.Errorf("steps = %d, want 4", len(m.Status().Steps))
	}
}

func TestLabKeysDriveChoreographer(t *testing.T) {
	m, env := newTestApp(t)

	m, _ = update(t, m, runeKey("p"))
	if !m.Status().State.DoorbellPower {
		t.Fatal("p should power the doorbell on")
	}
	m, _ = update(t, m, runeKey("b"))
	m, _ = update(t, m, runeKey("s"))

	state := env.lab.Snapshot()
	if !state.ServerOnline || !state.PhoneConnected {
		t.Fatalf("broker/subscription not toggled: %+v", state)
	}
	if got := m.Status().NextStep; got != 4 {
		t.Errorf("NextStep = %d, want 4 (press)", got)
	}

	m, _ = update(t, m, runeKey("r"))
	if m.Status().State.DoorbellPower || m.Status().State.ServerOnline {
		t.Error("r should reset the lab")
	}
}

func TestSpacePressesAndReleases(t *testing.T) {
	m, env := newTestApp(t)
	m, _ = update(t, m, runeKey("p"))

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeySpace})
	if cmd == nil {
		t.Fatal("press should schedule a release")
	}
	if !env.lab.Snapshot().IsPressing {
		t.Fatal("space should press the button")
	}

	m, _ = update(t, m, releaseMsg{})
	if env.lab.Snapshot().IsPressing {
		t.Error("release message should let go of the button")
	}
	if m.Status().State.IsPressing {
		t.Error("status not refreshed after release")
	}
}

func TestStateChangedRefreshesStatus(t *testing.T) {
	m, env := newTestApp(t)

	env.lab.TogglePower()
	env.sched.Advance(time.Second)

	select {
	case <-env.bridge.Changes():
	default:
		t.Fatal("bridge did not signal the store change")
	}

	m, cmd := update(t, m, StateChangedMsg{})
	if cmd == nil {
		t.Error("StateChangedMsg should re-arm the wait command")
	}
	logs := m.Status().State.ServerLogs
	if !strings.Contains(logs[len(logs)-1], "Doorbell-01") {
		t.Errorf("last log = %q, want connected line", logs[len(logs)-1])
	}
}

func TestStateBridgeCoalesces(t *testing.T) {
	b := NewStateBridge()
	b.HandleState(simulation.Initial())
	b.HandleState(simulation.Initial())

	msg := WaitForStateCmd(b.Changes())()
	if _, ok := msg.(StateChangedMsg); !ok {
		t.Fatalf("msg = %T, want StateChangedMsg", msg)
	}
	select {
	case <-b.Changes():
		t.Fatal("second notification should have been merged")
	default:
	}
}

func TestTabFocusesChatAndKeysGoToInput(t *testing.T) {
	m, env := newTestApp(t)

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	if m.focus != FocusChat || !m.chat.IsFocused() {
		t.Fatal("tab should focus the chat panel")
	}

	m, _ = update(t, m, runeKey("p"))
	if env.lab.Snapshot().DoorbellPower {
		t.Error("lab keys must not act while chat is focused")
	}
	if got := m.chat.input.Value(); got != "p" {
		t.Errorf("input = %q, want %q", got, "p")
	}

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	if m.focus != FocusLab {
		t.Error("esc should return focus to the lab")
	}
}

func TestSubmitAsksAssistant(t *testing.T) {
	m, env := newTestApp(t)
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	m.chat.SetValue("  为什么手机没有响？ ")

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if cmd == nil {
		t.Fatal("enter should start the assistant call")
	}
	if !m.chat.IsThinking() {
		t.Error("panel should show thinking while waiting")
	}

	msg := cmd()
	reply, ok := msg.(ReplyMsg)
	if !ok {
		t.Fatalf("cmd returned %T, want ReplyMsg", msg)
	}
	if env.assistant.query != "为什么手机没有响？" {
		t.Errorf("query = %q", env.assistant.query)
	}
	// history excludes the question itself
	if len(env.assistant.history) != 1 || env.assistant.history[0].Role != chat.RoleModel {
		t.Errorf("history = %+v, want welcome turn only", env.assistant.history)
	}

	m, _ = update(t, m, reply)
	if m.chat.IsThinking() {
		t.Error("thinking flag not cleared")
	}

	transcript, err := env.chats.LoadTranscript(context.Background(), env.session.ID)
	if err != nil {
		t.Fatalf("LoadTranscript: %v", err)
	}
	if len(transcript) != 3 {
		t.Fatalf("transcript length = %d, want 3", len(transcript))
	}
	if transcript[2].Text != "先打开门铃电源。" || transcript[2].Role != chat.RoleModel {
		t.Errorf("reply = %+v", transcript[2])
	}
	if m.chat.Len() != 3 {
		t.Errorf("panel entries = %d, want 3", m.chat.Len())
	}
}

func TestFallbackReplyStaysOutOfHistory(t *testing.T) {
	m, env := newTestApp(t)
	env.assistant.reply = ai.Reply{Text: ai.ErrorReplyFallback, IsError: true}
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyTab})

	m.chat.SetValue("第一个问题")
	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	m, _ = update(t, m, cmd())

	env.assistant.reply = ai.Reply{Text: "好的"}
	m.chat.SetValue("第二个问题")
	_, cmd = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	cmd()

	for _, turn := range env.assistant.history {
		if turn.IsError {
			t.Fatalf("fallback reply leaked into history: %+v", turn)
		}
	}
	if len(env.assistant.history) != 2 {
		t.Errorf("history length = %d, want welcome + first question", len(env.assistant.history))
	}
}

func TestEmptySubmitIsIgnored(t *testing.T) {
	m, _ := newTestApp(t)
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	m.chat.SetValue("   ")

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if cmd != nil {
		t.Error("blank input should not call the assistant")
	}
	if m.chat.Len() != 1 {
		t.Errorf("panel entries = %d, want 1", m.chat.Len())
	}
}

func TestQuitKeys(t *testing.T) {
	m, _ := newTestApp(t)

	_, cmd := update(t, m, runeKey("q"))
	if cmd == nil {
		t.Fatal("q should quit")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q did not return tea.Quit")
	}

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	_, cmd = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})
	if cmd == nil {
		t.Fatal("ctrl+c should quit from chat")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("ctrl+c did not return tea.Quit")
	}
}

func TestTickAdvancesFrame(t *testing.T) {
	m, _ := newTestApp(t)
	m, cmd := update(t, m, TickMsg{Time: time.Now()})
	if m.frame != 1 {
		t.Errorf("frame = %d, want 1", m.frame)
	}
	if cmd == nil {
		t.Error("tick should schedule the next tick")
	}
}

func TestViewBeforeResize(t *testing.T) {
	m, _ := newTestApp(t)
	if got := m.View(); got != "Initializing..." {
		t.Errorf("View() = %q", got)
	}

	m, _ = update(t, m, tea.WindowSizeMsg{Width: 40, Height: 10})
	if !strings.Contains(m.View(), "Terminal too small") {
		t.Error("small terminal should show the size warning")
	}
}

func TestViewRendersPanels(t *testing.T) {
	m, env := newTestApp(t)
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 150, Height: 40})

	view := m.View()
	for _, want := range []string{"门铃 Doorbell-01", "MQTT 代理", "手机 iPhone-15", "AI 实验室助手", "下一步: 打开门铃电源"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}

	m, _ = update(t, m, runeKey("p"))
	m, _ = update(t, m, runeKey("b"))
	m, _ = update(t, m, runeKey("s"))
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeySpace})
	env.sched.Advance(1300 * time.Millisecond)
	env.sched.Advance(800 * time.Millisecond)
	m, _ = update(t, m, StateChangedMsg{})

	view = m.View()
	if !strings.Contains(view, "DING!") {
		t.Error("ringing phone not rendered")
	}
	if strings.Contains(view, "下一步") {
		t.Error("no hint expected once every precondition holds")
	}
}

func TestRenderWire(t *testing.T) {
	if got := renderWire(simulation.PacketIdle, 0); strings.Contains(got, "●") {
		t.Errorf("idle wire shows a packet: %q", got)
	}
	if got := renderWire(simulation.PacketDoorbellToServer, 3); !strings.Contains(got, "●") {
		t.Errorf("in-flight wire missing packet: %q", got)
	}
	if got := renderWire(simulation.PacketProcessing, 0); !strings.Contains(got, "处理中") {
		t.Errorf("processing wire = %q", got)
	}
}
