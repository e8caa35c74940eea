package simulation

import "time"

// Timings holds the delays of the choreography. One time unit is one second.
type Timings struct {
	// PowerOnLog is the delay before the doorbell reports joining WiFi.
	PowerOnLog time.Duration
	// ToBroker is the flight time from doorbell to broker.
	ToBroker time.Duration
	// ToSubscriber is the broker processing time before forwarding.
	ToSubscriber time.Duration
	// Deliver is the flight time from broker to phone.
	Deliver time.Duration
	// Ring is how long the phone keeps ringing.
	Ring time.Duration
	// DropSettle is how long a dropped packet lingers at the broker.
	DropSettle time.Duration
}

// DefaultTimings returns the delays used by the lab.
func DefaultTimings() Timings {
	return Timings{
		PowerOnLog:   1000 * time.Millisecond,
		ToBroker:     800 * time.Millisecond,
		ToSubscriber: 500 * time.Millisecond,
		Deliver:      800 * time.Millisecond,
		Ring:         2000 * time.Millisecond,
		DropSettle:   500 * time.Millisecond,
	}
}

// Scaled multiplies every delay by factor. Non-positive factors return t unchanged.
func (t Timings) Scaled(factor float64) Timings {
	if factor <= 0 || factor == 1 {
		return t
	}
	scale := func(d time.Duration) time.Duration {
		return time.Duration(float64(d) * factor)
	}
	return Timings{
		PowerOnLog:   scale(t.PowerOnLog),
		ToBroker:     scale(t.ToBroker),
		ToSubscriber: scale(t.ToSubscriber),
		Deliver:      scale(t.Deliver),
		Ring:         scale(t.Ring),
		DropSettle:   scale(t.DropSettle),
	}
}
