// Package simulation drives the doorbell -> broker -> phone choreography on
// top of a single state store.
package simulation

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/zhouzirui/doorbell-lab/backend/internal/model/simulation"
)

// Topic is the single channel every message travels on.
const Topic = "home/doorbell"

const (
	logDeviceConnected = "设备 'Doorbell-01' 已连接到 WiFi"
	logBrokerStarted   = "MQTT 代理服务已启动 (端口 1883)"
	logBrokerStopped   = "MQTT 代理服务已停止"
	logSubscribed      = "客户端 'iPhone-15' 已订阅主题 'home/doorbell'"
	logUnsubscribed    = "客户端 'iPhone-15' 已取消订阅"
	logPublishReceived = "收到来自 'Doorbell-01' 的发布: 主题='home/doorbell' 内容='DING'"
	logRouting         = "正在将消息路由给订阅者 'iPhone-15'"
	logNoSubscribers   = "主题 'home/doorbell' 没有订阅者。消息被丢弃。"
)

// Choreographer turns user intents into immediate and delayed state updates.
//
// Every operation and every delayed step runs under one mutex, so the store
// only ever sees updates from one logical thread. Delayed steps carry
// generation tags and are discarded once stale:
//   - epoch: bumped by Reset, invalidates everything pending.
//   - powerGen: bumped by each power toggle.
//   - deliveryGen: bumped by each press and by the broker going offline.
//   - ringGen: bumped by each ring so an old ring-clear leaves a newer ring alone.
//
// unresolved is set while the current publish chain has neither rung nor been
// dropped; every press ends with exactly one outcome in progress.
type Choreographer struct {
	mu        sync.Mutex
	store     *Store
	sched     Scheduler
	timings   Timings
	observers []Observer

	epoch       uint64
	powerGen    uint64
	deliveryGen uint64
	ringGen     uint64
	pending     map[string]struct{}
	progress    simulation.Progress
	unresolved  bool
}

// NewChoreographer wires a choreographer to its store and scheduler.
func NewChoreographer(store *Store, sched Scheduler, timings Timings, observers ...Observer) *Choreographer {
	return &Choreographer{
		store:     store,
		sched:     sched,
		timings:   timings,
		observers: observers,
		pending:   make(map[string]struct{}),
	}
}

// AddObserver registers an additional observer.
func (c *Choreographer) AddObserver(o Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, o)
}

// Snapshot returns the current state.
func (c *Choreographer) Snapshot() simulation.State {
	return c.store.Snapshot()
}

// Progress returns chain outcomes counted since the last reset.
func (c *Choreographer) Progress() simulation.Progress {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progress
}

// Store exposes the underlying store for read access and subscriptions.
func (c *Choreographer) Store() *Store {
	return c.store
}

// TogglePower flips the doorbell power. Turning it on reports the WiFi join
// after PowerOnLog.
func (c *Choreographer) TogglePower() {
	c.mu.Lock()
	defer c.mu.Unlock()

	on := !c.store.Snapshot().DoorbellPower
	c.powerGen++
	c.store.Update(simulation.Patch{DoorbellPower: simulation.Bool(on)})

	if !on {
		c.emit(Event{Type: EventPowerOff})
		return
	}

	c.emit(Event{Type: EventPowerOn})
	gen := c.powerGen
	c.after(c.timings.PowerOnLog, func() bool { return c.powerGen == gen }, func() {
		c.store.Update(simulation.Patch{ServerLogs: c.withLog(logDeviceConnected)})
	})
}

// ToggleServer flips the broker. Stopping it drops the subscriber and any
// packet still in flight in the same update.
func (c *Choreographer) ToggleServer() {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.store.Snapshot()
	if !s.ServerOnline {
		c.store.Update(simulation.Patch{
			ServerOnline: simulation.Bool(true),
			ServerLogs:   c.withLog(logBrokerStarted),
		})
		c.emit(Event{Type: EventBrokerStart})
		return
	}

	c.deliveryGen++
	patch := simulation.Patch{
		ServerOnline:   simulation.Bool(false),
		PhoneConnected: simulation.Bool(false),
		ServerLogs:     c.withLog(logBrokerStopped),
	}
	if s.PacketLocation != simulation.PacketIdle {
		patch.PacketLocation = simulation.Location(simulation.PacketIdle)
	}
	c.store.Update(patch)

	c.emit(Event{Type: EventBrokerStop})
	c.abortChain()
}

// ToggleSubscription flips the phone's subscription. Ignored while the broker
// is offline.
func (c *Choreographer) ToggleSubscription() {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.store.Snapshot()
	if !s.ServerOnline {
		c.ignored(ActionSubscription)
		return
	}

	if s.PhoneConnected {
		c.store.Update(simulation.Patch{
			PhoneConnected: simulation.Bool(false),
			ServerLogs:     c.withLog(logUnsubscribed),
		})
		c.emit(Event{Type: EventUnsubscribe, Topic: Topic})
		return
	}

	c.store.Update(simulation.Patch{
		PhoneConnected: simulation.Bool(true),
		ServerLogs:     c.withLog(logSubscribed),
	})
	c.emit(Event{Type: EventSubscribe, Topic: Topic})
}

// PressButton publishes a DING when the doorbell is powered. With the broker
// offline only the press itself is shown and the message is lost silently.
func (c *Choreographer) PressButton() {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.store.Snapshot()
	if !s.DoorbellPower {
		c.ignored(ActionPress)
		return
	}

	if !s.ServerOnline {
		c.store.Update(simulation.Patch{IsPressing: simulation.Bool(true)})
		c.progress.Lost++
		c.emit(Event{Type: EventLost, Topic: Topic})
		return
	}

	c.deliveryGen++
	gen := c.deliveryGen
	valid := func() bool { return c.deliveryGen == gen }
	c.abortChain()
	c.unresolved = true

	c.store.Update(simulation.Patch{
		IsPressing:     simulation.Bool(true),
		PacketLocation: simulation.Location(simulation.PacketDoorbellToServer),
		ServerLogs:     c.withLog(logPublishReceived),
	})
	c.emit(Event{Type: EventPublish, Topic: Topic})

	c.after(c.timings.ToBroker, valid, func() {
		if !c.store.Snapshot().PhoneConnected {
			c.store.Update(simulation.Patch{
				PacketLocation: simulation.Location(simulation.PacketProcessing),
				ServerLogs:     c.withLog(logNoSubscribers),
			})
			c.unresolved = false
			c.progress.Dropped++
			c.emit(Event{Type: EventDrop, Topic: Topic})

			c.after(c.timings.DropSettle, valid, func() {
				c.store.Update(simulation.Patch{PacketLocation: simulation.Location(simulation.PacketIdle)})
			})
			return
		}

		c.store.Update(simulation.Patch{
			PacketLocation: simulation.Location(simulation.PacketProcessing),
			ServerLogs:     c.withLog(logRouting),
		})
		c.emit(Event{Type: EventRoute, Topic: Topic})

		c.after(c.timings.ToSubscriber, valid, func() {
			c.store.Update(simulation.Patch{PacketLocation: simulation.Location(simulation.PacketServerToPhone)})

			c.after(c.timings.Deliver, valid, c.ring)
		})
	})
}

// ring marks the phone as alerting and schedules the alert to clear.
// Caller must hold c.mu.
func (c *Choreographer) ring() {
	c.ringGen++
	gen := c.ringGen

	c.store.Update(simulation.Patch{
		IsRinging:      simulation.Bool(true),
		PacketLocation: simulation.Location(simulation.PacketIdle),
	})
	c.unresolved = false
	c.progress.Delivered++
	c.emit(Event{Type: EventDeliver, Topic: Topic})

	c.after(c.timings.Ring, func() bool { return c.ringGen == gen }, func() {
		c.store.Update(simulation.Patch{IsRinging: simulation.Bool(false)})
	})
}

// ReleaseButton clears the press visual. It has no precondition.
func (c *Choreographer) ReleaseButton() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.store.Update(simulation.Patch{IsPressing: simulation.Bool(false)})
}

// Reset restores the initial snapshot and discards every pending step.
func (c *Choreographer) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.epoch++
	cancelled := len(c.pending)
	for id := range c.pending {
		c.sched.Cancel(id)
	}
	c.pending = make(map[string]struct{})
	c.progress = simulation.Progress{}
	c.unresolved = false

	c.store.Reset()
	log.Printf("[simulation] reset, cancelled %d pending steps", cancelled)
	c.emit(Event{Type: EventReset})
}

// Dispatch runs the operation named by action. It reports false for unknown
// actions.
func (c *Choreographer) Dispatch(action string) bool {
	switch action {
	case ActionPower:
		c.TogglePower()
	case ActionBroker:
		c.ToggleServer()
	case ActionSubscription:
		c.ToggleSubscription()
	case ActionPress:
		c.PressButton()
	case ActionRelease:
		c.ReleaseButton()
	case ActionReset:
		c.Reset()
	default:
		return false
	}
	return true
}

// after schedules fn under the choreographer lock once delay elapses, unless
// a reset happened in between or valid reports the chain is stale.
// Caller must hold c.mu.
func (c *Choreographer) after(delay time.Duration, valid func() bool, fn func()) {
	epoch := c.epoch
	var id string
	id = c.sched.Schedule(delay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()

		delete(c.pending, id)
		if epoch != c.epoch || !valid() {
			return
		}
		fn()
	})
	c.pending[id] = struct{}{}
}

// withLog returns the current log with a timestamped line appended.
// Caller must hold c.mu.
func (c *Choreographer) withLog(msg string) []string {
	line := fmt.Sprintf("[%s] %s", c.sched.Now().Format("15:04:05"), msg)
	return simulation.AppendLog(c.store.Snapshot().ServerLogs, line)
}

// abortChain counts the current chain as lost if it has no outcome yet.
// Caller must hold c.mu.
func (c *Choreographer) abortChain() {
	if !c.unresolved {
		return
	}
	c.unresolved = false
	c.progress.Lost++
	c.emit(Event{Type: EventAbort, Topic: Topic})
}

func (c *Choreographer) ignored(action string) {
	c.emit(Event{Type: EventIgnored, Action: action})
}

func (c *Choreographer) emit(ev Event) {
	if ev.At.IsZero() {
		ev.At = c.sched.Now()
	}
	for _, o := range c.observers {
		o.OnEvent(ev)
	}
}
