package engine

type EventType int

const (
	EventSignal EventType = iota
	EventSignalExpired
	EventSignalRejected
	EventInsufficientMargin
	EventFillRejected
	EventPartialFill
	EventPositionOpen
	EventPartialClose
	EventPositionClose
	EventBreakerTripped
	EventInvariantRepaired
	EventBarSkipped
)

var eventNames = [...]string{
	"signal",
	"signal_expired",
	"signal_rejected",
	"insufficient_margin",
	"fill_rejected",
	"partial_fill",
	"position_open",
	"partial_close",
	"position_close",
	"breaker_tripped",
	"invariant_repaired",
	"bar_skipped",
}

func (t EventType) String() string {
	if int(t) < len(eventNames) {
		return eventNames[t]
	}
	return "unknown"
}

type Event struct {
	Ts      int64
	Seq     int64
	Type    EventType
	Symbol  string
	Details map[string]string
}

// EventLog is an append-only diagnostic record of one run.
type EventLog struct {
	Events []Event
}

func (l *EventLog) Append(e Event) { l.Events = append(l.Events, e) }

// Count returns how many events of type t were recorded.
func (l *EventLog) Count(t EventType) int {
	n := 0
	for _, e := range l.Events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func (l *EventLog) Filter(t EventType) []Event {
	var out []Event
	for _, e := range l.Events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
