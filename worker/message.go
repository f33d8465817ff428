package worker

import "github.com/amp-labs/amp-dispatch/callback"

// Kind tags a queued message.
type Kind int

const (
	// KindDeliver runs a callback delivery.
	KindDeliver Kind = iota + 1
	// KindTick asks the thread's TickHandler to scan its timers.
	KindTick
	// KindShutdown stops the thread. Only ExitThread posts it.
	KindShutdown
)

func (k Kind) String() string {
	switch k {
	case KindDeliver:
		return "deliver"
	case KindTick:
		return "tick"
	case KindShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Message is one entry of a thread's queue. The queue owns it until the
// consumer pops it; the consumer uses it exactly once.
type Message struct {
	kind     Kind
	delivery callback.Delivery
}

// Deliver wraps a callback delivery as a message.
func Deliver(d callback.Delivery) Message {
	return Message{kind: KindDeliver, delivery: d}
}

// Tick returns a timer-tick message.
func Tick() Message {
	return Message{kind: KindTick}
}

// Kind returns the message tag.
func (m Message) Kind() Kind {
	return m.kind
}
