package mirror

import (
	"encoding/json"
	"time"

	"github.com/zhouzirui/doorbell-lab/backend/internal/model/simulation"
	labsim "github.com/zhouzirui/doorbell-lab/backend/internal/service/simulation"
)

// EventPayload is published on the events topic.
type EventPayload struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Action    string `json:"action,omitempty"`
	Topic     string `json:"topic,omitempty"`
}

// StatePayload is the retained snapshot of the lab.
type StatePayload struct {
	Timestamp string        `json:"timestamp"`
	Doorbell  DevicePayload `json:"doorbell"`
	Broker    DevicePayload `json:"broker"`
	Phone     PhonePayload  `json:"phone"`
	Packet    string        `json:"packet"`
	Logs      []string      `json:"logs"`
}

// DevicePayload reports whether a device is up.
type DevicePayload struct {
	Online bool `json:"online"`
}

// PhonePayload reports the subscriber.
type PhonePayload struct {
	Subscribed bool `json:"subscribed"`
	Ringing    bool `json:"ringing"`
}

// FormatEventPayload creates the JSON payload for a choreography event.
func FormatEventPayload(ev labsim.Event) ([]byte, error) {
	return json.Marshal(EventPayload{
		Timestamp: ev.At.UTC().Format(time.RFC3339),
		Event:     string(ev.Type),
		Action:    ev.Action,
		Topic:     ev.Topic,
	})
}

// FormatStatePayload creates the JSON payload for a snapshot.
func FormatStatePayload(s simulation.State) ([]byte, error) {
	return json.Marshal(StatePayload{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Doorbell:  DevicePayload{Online: s.DoorbellPower},
		Broker:    DevicePayload{Online: s.ServerOnline},
		Phone:     PhonePayload{Subscribed: s.PhoneConnected, Ringing: s.IsRinging},
		Packet:    string(s.PacketLocation),
		Logs:      s.ServerLogs,
	})
}
