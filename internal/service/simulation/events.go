package simulation

import "time"

// EventType names an outcome of a choreographer operation or delayed step.
type EventType string

const (
	EventPowerOn     EventType = "power_on"
	EventPowerOff    EventType = "power_off"
	EventBrokerStart EventType = "broker_start"
	EventBrokerStop  EventType = "broker_stop"
	EventSubscribe   EventType = "subscribe"
	EventUnsubscribe EventType = "unsubscribe"
	EventPublish     EventType = "publish"
	EventRoute       EventType = "route"
	EventDeliver     EventType = "deliver"
	EventDrop        EventType = "drop"
	// EventLost: pressed with power while the broker is offline.
	EventLost EventType = "lost"
	// EventAbort: a chain ended without ringing or dropping, because the
	// broker went offline or a newer press superseded it.
	EventAbort   EventType = "abort"
	EventIgnored EventType = "ignored"
	EventReset   EventType = "reset"
)

// Action names used in EventIgnored and by transports dispatching intents.
const (
	ActionPower        = "power"
	ActionBroker       = "broker"
	ActionSubscription = "subscription"
	ActionPress        = "press"
	ActionRelease      = "release"
	ActionReset        = "reset"
)

// Event is emitted to observers after the matching state update.
type Event struct {
	Type   EventType `json:"type"`
	Action string    `json:"action,omitempty"`
	Topic  string    `json:"topic,omitempty"`
	At     time.Time `json:"at"`
}

// Observer receives choreography events. OnEvent is called while the
// choreographer is serialised and must not block.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// OnEvent calls f(ev).
func (f ObserverFunc) OnEvent(ev Event) { f(ev) }
