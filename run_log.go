package resourcesaga

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// HandleEventType is something that happened to one created resource.
type HandleEventType int

const (
	EventCreated HandleEventType = iota
	EventAudited
	EventAuditFailed
	EventCompensationStarted
	EventCompensated
	EventCompensationFailed
)

// String returns the string representation of the HandleEventType.
func (t HandleEventType) String() string {
	switch t {
	case EventCreated:
		return "created"
	case EventAudited:
		return "audited"
	case EventAuditFailed:
		return "audit_failed"
	case EventCompensationStarted:
		return "compensation_started"
	case EventCompensated:
		return "compensated"
	case EventCompensationFailed:
		return "compensation_failed"
	default:
		return fmt.Sprintf("Unknown HandleEventType: %d", t)
	}
}

// MarshalText lets events serialize by name in the run journal.
func (t HandleEventType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *HandleEventType) UnmarshalText(b []byte) error {
	for c := EventCreated; c <= EventCompensationFailed; c++ {
		if c.String() == string(b) {
			*t = c
			return nil
		}
	}
	return fmt.Errorf("unknown handle event type %q", b)
}

// HandleStatus is the current status of a created resource within a run.
type HandleStatus int

const (
	StatusUnknown HandleStatus = iota
	StatusCreated
	StatusAudited
	StatusAuditFailed
	StatusCompensating
	StatusCompensated
	StatusCompensationFailed
)

func (s HandleStatus) String() string {
	switch s {
	case StatusUnknown:
		return "unknown"
	case StatusCreated:
		return "created"
	case StatusAudited:
		return "audited"
	case StatusAuditFailed:
		return "audit_failed"
	case StatusCompensating:
		return "compensating"
	case StatusCompensated:
		return "compensated"
	case StatusCompensationFailed:
		return "compensation_failed"
	default:
		return "invalid"
	}
}

// nextStatus returns the status of a resource after recording the given event.
func (s HandleStatus) nextStatus(event HandleEventType) (HandleStatus, error) {
	switch s {
	case StatusUnknown:
		if event == EventCreated {
			return StatusCreated, nil
		}
	case StatusCreated:
		switch event {
		case EventAudited:
			return StatusAudited, nil
		case EventAuditFailed:
			return StatusAuditFailed, nil
		case EventCompensationStarted:
			return StatusCompensating, nil
		}
	case StatusAudited, StatusAuditFailed:
		if event == EventCompensationStarted {
			return StatusCompensating, nil
		}
	case StatusCompensating:
		switch event {
		case EventCompensated:
			return StatusCompensated, nil
		case EventCompensationFailed:
			return StatusCompensationFailed, nil
		}
	}

	return s, fmt.Errorf("illegal event %s for resource in status %s", event, s)
}

// HandleEvent is one entry of a RunLog.
type HandleEvent struct {
	ResourceID string          `json:"resource_id"`
	Type       HandleEventType `json:"type"`
	At         time.Time       `json:"at"`
}

// String implements the fmt.Stringer interface for HandleEvent.
func (e HandleEvent) String() string {
	return fmt.Sprintf("%s %s", e.ResourceID, e.Type)
}

// RunLog records what happened to every resource of one saga run and
// rejects events that do not follow the resource lifecycle.
type RunLog struct {
	sync.Mutex
	runID  string
	events []HandleEvent
	status map[string]HandleStatus
}

func NewRunLog(runID string) *RunLog {
	return &RunLog{
		runID:  runID,
		events: make([]HandleEvent, 0),
		status: make(map[string]HandleStatus),
	}
}

// Record appends an event for resourceID.
func (l *RunLog) Record(resourceID string, event HandleEventType) error {
	l.Lock()
	defer l.Unlock()

	next, err := l.status[resourceID].nextStatus(event)
	if err != nil {
		return fmt.Errorf("run %s, resource %s: %w", l.runID, resourceID, err)
	}
	l.status[resourceID] = next
	l.events = append(l.events, HandleEvent{ResourceID: resourceID, Type: event, At: time.Now().UTC()})
	return nil
}

// Status returns the current status of resourceID.
func (l *RunLog) Status(resourceID string) HandleStatus {
	l.Lock()
	defer l.Unlock()
	return l.status[resourceID]
}

// Events returns a copy of the recorded events.
func (l *RunLog) Events() []HandleEvent {
	l.Lock()
	defer l.Unlock()
	return append([]HandleEvent(nil), l.events...)
}

// InStatus returns the resources currently in status s, sorted.
func (l *RunLog) InStatus(s HandleStatus) []string {
	l.Lock()
	defer l.Unlock()

	var ids []string
	for id, st := range l.status {
		if st == s {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// String implements the fmt.Stringer interface for RunLog.
func (l *RunLog) String() string {
	l.Lock()
	defer l.Unlock()

	var sb strings.Builder
	fmt.Fprintf(&sb, "run %s (%d events)", l.runID, len(l.events))
	for _, e := range l.events {
		sb.WriteString("\n  ")
		sb.WriteString(e.String())
	}
	return sb.String()
}
