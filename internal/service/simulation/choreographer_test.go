package simulation

import (
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/zhouzirui/doorbell-lab/backend/internal/model/simulation"
)

type recorder struct {
	events []Event
}

func (r *recorder) OnEvent(ev Event) { r.events = append(r.events, ev) }

func (r *recorder) types() []EventType {
	out := make([]EventType, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

func (r *recorder) has(t EventType) bool {
	for _, ev := range r.events {
		if ev.Type == t {
			return true
		}
	}
	return false
}

func newTestChoreographer() (*Choreographer, *FakeScheduler, *recorder) {
	sched := NewFakeScheduler(epoch)
	rec := &recorder{}
	c := NewChoreographer(NewStore(), sched, DefaultTimings(), rec)
	return c, sched, rec
}

// readyLab powers the doorbell, starts the broker and, when subscribe is
// set, subscribes the phone. Pending power-on work is flushed.
func readyLab(c *Choreographer, sched *FakeScheduler, subscribe bool) {
	c.TogglePower()
	c.ToggleServer()
	if subscribe {
		c.ToggleSubscription()
	}
	sched.Advance(time.Second)
}

func lastLog(s simulation.State) string {
	return s.ServerLogs[len(s.ServerLogs)-1]
}

func TestTogglePowerLogsAfterDelay(t *testing.T) {
	c, sched, rec := newTestChoreographer()

	c.TogglePower()
	s := c.Snapshot()
	if !s.DoorbellPower {
		t.Fatal("power should be on immediately")
	}
	if len(s.ServerLogs) != 1 {
		t.Fatalf("connected log should be delayed, logs = %v", s.ServerLogs)
	}

	sched.Advance(999 * time.Millisecond)
	if len(c.Snapshot().ServerLogs) != 1 {
		t.Fatal("connected log appeared early")
	}

	sched.Advance(time.Millisecond)
	s = c.Snapshot()
	if want := "[09:30:01] " + logDeviceConnected; lastLog(s) != want {
		t.Fatalf("last log = %q, want %q", lastLog(s), want)
	}

	c.TogglePower()
	if c.Snapshot().DoorbellPower {
		t.Fatal("power should toggle off")
	}
	if got := rec.types(); len(got) != 2 || got[0] != EventPowerOn || got[1] != EventPowerOff {
		t.Fatalf("events = %v", got)
	}
}

func TestPowerOffBeforeConnectedLogDropsIt(t *testing.T) {
	c, sched, _ := newTestChoreographer()

	c.TogglePower()
	sched.Advance(400 * time.Millisecond)
	c.TogglePower()
	sched.Advance(2 * time.Second)

	if logs := c.Snapshot().ServerLogs; len(logs) != 1 {
		t.Fatalf("stale power-on log applied: %v", logs)
	}
}

func TestPowerCycleKeepsOnlyLatestConnectedLog(t *testing.T) {
	c, sched, _ := newTestChoreographer()

	c.TogglePower()
	sched.Advance(300 * time.Millisecond)
	c.TogglePower()
	c.TogglePower()
	sched.Advance(2 * time.Second)

	logs := c.Snapshot().ServerLogs
	if len(logs) != 2 {
		t.Fatalf("logs = %v, want seed plus one connected line", logs)
	}
	if want := "[09:30:01] " + logDeviceConnected; logs[1] != want {
		t.Fatalf("connected log = %q, want %q", logs[1], want)
	}
}

func TestServerOffDropsSubscriberInSameUpdate(t *testing.T) {
	c, _, rec := newTestChoreographer()

	c.ToggleServer()
	c.ToggleSubscription()

	var updates []simulation.State
	c.Store().Subscribe(func(s simulation.State) { updates = append(updates, s) })

	before := len(c.Snapshot().ServerLogs)
	c.ToggleServer()

	if len(updates) != 1 {
		t.Fatalf("broker stop produced %d updates, want 1", len(updates))
	}
	s := updates[0]
	if s.ServerOnline || s.PhoneConnected {
		t.Fatalf("serverOnline=%v phoneConnected=%v, want both false", s.ServerOnline, s.PhoneConnected)
	}
	if len(s.ServerLogs) != before+1 || !strings.HasSuffix(lastLog(s), logBrokerStopped) {
		t.Fatalf("expected exactly one stopped log, got %v", s.ServerLogs)
	}
	if !rec.has(EventBrokerStop) {
		t.Fatal("missing broker_stop event")
	}
}

func TestSubscriptionRequiresBroker(t *testing.T) {
	c, _, rec := newTestChoreographer()

	before := c.Snapshot()
	c.ToggleSubscription()
	after := c.Snapshot()

	if after.PhoneConnected || len(after.ServerLogs) != len(before.ServerLogs) {
		t.Fatalf("subscribe with broker offline changed state: %+v", after)
	}
	if len(rec.events) != 1 || rec.events[0].Type != EventIgnored || rec.events[0].Action != ActionSubscription {
		t.Fatalf("events = %+v", rec.events)
	}

	c.ToggleServer()
	c.ToggleSubscription()
	if s := c.Snapshot(); !s.PhoneConnected || !strings.HasSuffix(lastLog(s), logSubscribed) {
		t.Fatalf("subscribe failed: %+v", s)
	}
	c.ToggleSubscription()
	if s := c.Snapshot(); s.PhoneConnected || !strings.HasSuffix(lastLog(s), logUnsubscribed) {
		t.Fatalf("unsubscribe failed: %+v", s)
	}
}

func TestPressWithoutPowerIsNoop(t *testing.T) {
	c, sched, _ := newTestChoreographer()
	c.ToggleServer()
	c.ToggleSubscription()

	var updates int
	c.Store().Subscribe(func(simulation.State) { updates++ })

	before := c.Snapshot()
	c.PressButton()
	sched.Advance(10 * time.Second)
	after := c.Snapshot()

	if updates != 0 {
		t.Fatalf("press without power produced %d updates", updates)
	}
	if after.IsPressing || after.PacketLocation != simulation.PacketIdle || len(after.ServerLogs) != len(before.ServerLogs) {
		t.Fatalf("state changed: %+v", after)
	}
}

func TestHappyPath(t *testing.T) {
	c, sched, rec := newTestChoreographer()
	readyLab(c, sched, true)

	c.PressButton()
	s := c.Snapshot()
	if !s.IsPressing || s.PacketLocation != simulation.PacketDoorbellToServer {
		t.Fatalf("after press: %+v", s)
	}
	if !strings.HasSuffix(lastLog(s), logPublishReceived) {
		t.Fatalf("missing publish log: %q", lastLog(s))
	}
	c.ReleaseButton()

	sched.Advance(800 * time.Millisecond)
	s = c.Snapshot()
	if s.PacketLocation != simulation.PacketProcessing || !strings.HasSuffix(lastLog(s), logRouting) {
		t.Fatalf("at +0.8: %+v", s)
	}

	sched.Advance(500 * time.Millisecond)
	if got := c.Snapshot().PacketLocation; got != simulation.PacketServerToPhone {
		t.Fatalf("at +1.3 packet = %q", got)
	}

	sched.Advance(800 * time.Millisecond)
	s = c.Snapshot()
	if !s.IsRinging || s.PacketLocation != simulation.PacketIdle {
		t.Fatalf("at +2.1: ringing=%v packet=%q", s.IsRinging, s.PacketLocation)
	}

	sched.Advance(1999 * time.Millisecond)
	if !c.Snapshot().IsRinging {
		t.Fatal("ring cleared early")
	}
	sched.Advance(time.Millisecond)
	if c.Snapshot().IsRinging {
		t.Fatal("ring should clear after 2.0 units")
	}

	if p := c.Progress(); p.Delivered != 1 || p.Dropped != 0 {
		t.Fatalf("progress = %+v", p)
	}
	for _, want := range []EventType{EventPublish, EventRoute, EventDeliver} {
		if !rec.has(want) {
			t.Fatalf("missing %s event in %v", want, rec.types())
		}
	}
}

func TestPacketIdleNoLaterThanRing(t *testing.T) {
	c, sched, _ := newTestChoreographer()
	readyLab(c, sched, true)

	violated := false
	c.Store().Subscribe(func(s simulation.State) {
		if s.IsRinging && s.PacketLocation != simulation.PacketIdle {
			violated = true
		}
	})

	c.PressButton()
	sched.Advance(5 * time.Second)
	if violated {
		t.Fatal("observed ringing while packet still in flight")
	}
}

func TestDroppedMessagePath(t *testing.T) {
	c, sched, rec := newTestChoreographer()
	readyLab(c, sched, false)

	var rang bool
	c.Store().Subscribe(func(s simulation.State) {
		if s.IsRinging {
			rang = true
		}
	})

	c.PressButton()
	sched.Advance(800 * time.Millisecond)
	s := c.Snapshot()
	if s.PacketLocation != simulation.PacketProcessing || !strings.HasSuffix(lastLog(s), logNoSubscribers) {
		t.Fatalf("at +0.8: %+v", s)
	}

	sched.Advance(500 * time.Millisecond)
	if got := c.Snapshot().PacketLocation; got != simulation.PacketIdle {
		t.Fatalf("at +1.3 packet = %q, want idle", got)
	}

	sched.Advance(5 * time.Second)
	if rang {
		t.Fatal("dropped message should never ring")
	}
	if p := c.Progress(); p.Dropped != 1 || p.Delivered != 0 {
		t.Fatalf("progress = %+v", p)
	}
	if !rec.has(EventDrop) {
		t.Fatal("missing drop event")
	}
}

func TestPressWithBrokerOfflineOnlyShowsPress(t *testing.T) {
	c, sched, rec := newTestChoreographer()
	c.TogglePower()
	sched.Advance(time.Second)

	before := c.Snapshot()
	c.PressButton()
	sched.Advance(5 * time.Second)
	after := c.Snapshot()

	if !after.IsPressing {
		t.Fatal("press visual should be set")
	}
	if after.PacketLocation != simulation.PacketIdle || len(after.ServerLogs) != len(before.ServerLogs) {
		t.Fatalf("message should be lost silently: %+v", after)
	}
	if p := c.Progress(); p.Lost != 1 {
		t.Fatalf("progress = %+v", p)
	}
	if !rec.has(EventLost) {
		t.Fatal("missing lost event")
	}
}

func TestReleaseHasNoPrecondition(t *testing.T) {
	c, _, _ := newTestChoreographer()
	c.ReleaseButton()
	if c.Snapshot().IsPressing {
		t.Fatal("release should leave isPressing false")
	}
}

func TestResetRestoresInitialSnapshot(t *testing.T) {
	c, sched, rec := newTestChoreographer()
	readyLab(c, sched, true)
	c.PressButton()
	sched.Advance(2200 * time.Millisecond)

	c.Reset()
	assertInitial(t, c.Snapshot())
	if p := c.Progress(); p != (simulation.Progress{}) {
		t.Fatalf("progress not cleared: %+v", p)
	}
	if sched.Pending() != 0 {
		t.Fatalf("reset left %d pending timers", sched.Pending())
	}
	if rec.events[len(rec.events)-1].Type != EventReset {
		t.Fatal("missing reset event")
	}
}

func TestResetDiscardsInFlightChains(t *testing.T) {
	c, sched, _ := newTestChoreographer()
	readyLab(c, sched, true)

	c.TogglePower()
	c.TogglePower()
	c.PressButton()
	sched.Advance(300 * time.Millisecond)
	c.Reset()

	var updates int
	c.Store().Subscribe(func(simulation.State) { updates++ })
	sched.Advance(10 * time.Second)

	if updates != 0 {
		t.Fatalf("stale chain applied %d updates after reset", updates)
	}
	assertInitial(t, c.Snapshot())
}

func TestBrokerOffMidDeliveryReturnsIdle(t *testing.T) {
	c, sched, rec := newTestChoreographer()
	readyLab(c, sched, true)

	c.PressButton()
	sched.Advance(1000 * time.Millisecond)
	c.ToggleServer()

	s := c.Snapshot()
	if s.PacketLocation != simulation.PacketIdle {
		t.Fatalf("packet = %q, want idle", s.PacketLocation)
	}

	sched.Advance(10 * time.Second)
	s = c.Snapshot()
	if s.IsRinging || s.PacketLocation != simulation.PacketIdle {
		t.Fatalf("aborted delivery resumed: %+v", s)
	}
	if !rec.has(EventAbort) || rec.has(EventDeliver) {
		t.Fatalf("events = %v", rec.types())
	}
}

func TestSecondPressSupersedesChain(t *testing.T) {
	c, sched, _ := newTestChoreographer()
	readyLab(c, sched, true)

	c.PressButton()
	sched.Advance(1000 * time.Millisecond)
	c.PressButton()

	if got := c.Snapshot().PacketLocation; got != simulation.PacketDoorbellToServer {
		t.Fatalf("packet = %q, want restart at doorbell", got)
	}

	// The first chain would have reached the phone at +1.3.
	sched.Advance(300 * time.Millisecond)
	if got := c.Snapshot().PacketLocation; got != simulation.PacketDoorbellToServer {
		t.Fatalf("superseded chain advanced packet to %q", got)
	}

	sched.Advance(5 * time.Second)
	if p := c.Progress(); p.Delivered != 1 {
		t.Fatalf("delivered = %d, want 1", p.Delivered)
	}
}

func (r *recorder) count(t EventType) int {
	n := 0
	for _, ev := range r.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func TestBrokerOffWhileDropSettlesCountsOnce(t *testing.T) {
	c, sched, rec := newTestChoreographer()
	readyLab(c, sched, false)

	c.PressButton()
	sched.Advance(800 * time.Millisecond) // dropped, packet still at processing
	c.ToggleServer()

	if got := c.Snapshot().PacketLocation; got != simulation.PacketIdle {
		t.Fatalf("packet = %q, want idle", got)
	}
	want := simulation.Progress{Dropped: 1}
	if p := c.Progress(); p != want {
		t.Fatalf("progress = %+v, want %+v", p, want)
	}
	if rec.has(EventAbort) {
		t.Fatalf("dropped chain also aborted: %v", rec.types())
	}
}

func TestSupersededChainCountsAsAborted(t *testing.T) {
	c, sched, rec := newTestChoreographer()
	readyLab(c, sched, true)

	c.PressButton()
	sched.Advance(1000 * time.Millisecond)
	c.PressButton()
	sched.Advance(5 * time.Second)

	want := simulation.Progress{Delivered: 1, Lost: 1}
	if p := c.Progress(); p != want {
		t.Fatalf("progress = %+v, want %+v", p, want)
	}
	if rec.count(EventAbort) != 1 || rec.count(EventDeliver) != 1 {
		t.Fatalf("events = %v", rec.types())
	}

	// a press after the ring has nothing left to abort
	c.PressButton()
	sched.Advance(5 * time.Second)
	if rec.count(EventAbort) != 1 {
		t.Fatalf("resolved chain aborted again: %v", rec.types())
	}
}

func TestEveryPressHasOneOutcome(t *testing.T) {
	c, sched, rec := newTestChoreographer()
	c.TogglePower()

	ops := []func(){c.ToggleServer, c.ToggleSubscription, c.PressButton, c.PressButton}
	rng := rand.New(rand.NewSource(11))
	for i := 0; i < 400; i++ {
		ops[rng.Intn(len(ops))]()
		sched.Advance(time.Duration(rng.Intn(1200)) * time.Millisecond)
	}
	sched.Advance(10 * time.Second)

	presses := rec.count(EventPublish) + rec.count(EventLost)
	p := c.Progress()
	if outcomes := p.Delivered + p.Dropped + p.Lost; outcomes != presses {
		t.Fatalf("progress %+v sums to %d outcomes for %d presses", p, outcomes, presses)
	}
}

func TestStaleRingClearLeavesNewRing(t *testing.T) {
	sched := NewFakeScheduler(epoch)
	timings := DefaultTimings()
	timings.Ring = 5 * time.Second
	c := NewChoreographer(NewStore(), sched, timings)
	readyLab(c, sched, true)

	c.PressButton()
	sched.Advance(3000 * time.Millisecond) // first ring at +2.1, clear due at +7.1
	c.PressButton()                        // second ring at +5.1, clear due at +10.1
	sched.Advance(4200 * time.Millisecond) // +7.2
	if !c.Snapshot().IsRinging {
		t.Fatal("first ring's clear cut the newer ring short")
	}
	sched.Advance(3000 * time.Millisecond) // past +10.1
	if c.Snapshot().IsRinging {
		t.Fatal("newer ring should clear after its own duration")
	}
}

func TestLogsNeverExceedLimit(t *testing.T) {
	c, sched, _ := newTestChoreographer()

	var maxLen int
	c.Store().Subscribe(func(s simulation.State) {
		if len(s.ServerLogs) > maxLen {
			maxLen = len(s.ServerLogs)
		}
	})

	ops := []func(){
		c.TogglePower, c.ToggleServer, c.ToggleSubscription,
		c.PressButton, c.ReleaseButton,
	}
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		ops[rng.Intn(len(ops))]()
		sched.Advance(time.Duration(rng.Intn(1500)) * time.Millisecond)
		if i%97 == 0 {
			c.Reset()
		}
	}
	sched.Advance(10 * time.Second)

	if maxLen > simulation.MaxServerLogs {
		t.Fatalf("observed %d log lines, limit %d", maxLen, simulation.MaxServerLogs)
	}
	if maxLen != simulation.MaxServerLogs {
		t.Fatalf("random walk never filled the log (max %d)", maxLen)
	}
	if got := c.Snapshot().PacketLocation; got != simulation.PacketIdle {
		t.Fatalf("packet stuck at %q after quiescence", got)
	}
}

func TestDispatch(t *testing.T) {
	c, _, _ := newTestChoreographer()

	if !c.Dispatch(ActionPower) || !c.Snapshot().DoorbellPower {
		t.Fatal("dispatch power failed")
	}
	if !c.Dispatch(ActionBroker) || !c.Snapshot().ServerOnline {
		t.Fatal("dispatch broker failed")
	}
	if c.Dispatch("explode") {
		t.Fatal("unknown action should report false")
	}
}

func TestScaledTimings(t *testing.T) {
	sched := NewFakeScheduler(epoch)
	c := NewChoreographer(NewStore(), sched, DefaultTimings().Scaled(0.5))
	readyLab(c, sched, true)

	c.PressButton()
	sched.Advance(1050 * time.Millisecond)
	if !c.Snapshot().IsRinging {
		t.Fatal("half-scale chain should ring by +1.05")
	}
}
