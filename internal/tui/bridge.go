package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/zhouzirui/doorbell-lab/backend/internal/model/chat"
	"github.com/zhouzirui/doorbell-lab/backend/internal/model/simulation"
	"github.com/zhouzirui/doorbell-lab/backend/internal/service/ai"
)

// StateChangedMsg tells the model to re-read the lab snapshot.
type StateChangedMsg struct{}

// ReplyMsg carries the assistant answer back into the message loop.
type ReplyMsg struct {
	Reply ai.Reply
}

// TickMsg drives the packet animation.
type TickMsg struct {
	Time time.Time
}

// releaseMsg ends a key-triggered press.
type releaseMsg struct{}

// StateBridge turns store notifications into StateChangedMsg.
//
// Store observers run while the lab holds its lock, so HandleState never
// blocks: notifications collapse into a single pending signal and the model
// reads the snapshot itself once the message loop picks it up.
type StateBridge struct {
	changes chan struct{}
}

// NewStateBridge creates a bridge with a one-slot signal.
func NewStateBridge() *StateBridge {
	return &StateBridge{changes: make(chan struct{}, 1)}
}

// HandleState matches the store subscriber signature.
func (b *StateBridge) HandleState(simulation.State) {
	select {
	case b.changes <- struct{}{}:
	default:
	}
}

// Changes exposes the signal channel for WaitForStateCmd.
func (b *StateBridge) Changes() <-chan struct{} {
	return b.changes
}

// WaitForStateCmd blocks until the store changed.
func WaitForStateCmd(changes <-chan struct{}) tea.Cmd {
	if changes == nil {
		return nil
	}
	return func() tea.Msg {
		if _, ok := <-changes; !ok {
			return nil
		}
		return StateChangedMsg{}
	}
}

// TickCmd sends a TickMsg after interval.
func TickCmd(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return TickMsg{Time: t}
	})
}

// AskCmd runs the assistant off the message loop.
func AskCmd(ctx context.Context, assistant Assistant, history []chat.Message, query string, snapshot simulation.State) tea.Cmd {
	return func() tea.Msg {
		return ReplyMsg{Reply: assistant.Ask(ctx, history, query, snapshot)}
	}
}

func releaseCmd(hold time.Duration) tea.Cmd {
	return tea.Tick(hold, func(time.Time) tea.Msg {
		return releaseMsg{}
	})
}
