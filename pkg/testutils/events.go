package testutils

import "github.com/praxisworks/praxis/pkg/protocol"

// CollectEvents drains an event channel into a slice.
func CollectEvents(ch <-chan protocol.Event) []protocol.Event {
	var out []protocol.Event
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

// EventsOfType filters collected events by type.
func EventsOfType(events []protocol.Event, t protocol.EventType) []protocol.Event {
	var out []protocol.Event
	for _, ev := range events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// FinalEvent returns the last event, which must exist.
func FinalEvent(events []protocol.Event) protocol.Event {
	if len(events) == 0 {
		return protocol.Event{}
	}
	return events[len(events)-1]
}
