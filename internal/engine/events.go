package engine

import "time"

// EventType enumerates structured run events.
//
// These values are persisted by the run journal and rendered by
// `mgnctl runs`.
type EventType string

const (
	RunStarted   EventType = "RUN_STARTED"
	RunCompleted EventType = "RUN_COMPLETED"

	UnitDeployed   EventType = "UNIT_DEPLOYED"
	UnitRehydrated EventType = "UNIT_REHYDRATED"
	UnitFailed     EventType = "UNIT_FAILED"
	UnitSkipped    EventType = "UNIT_SKIPPED"

	CheckpointSaved EventType = "CHECKPOINT_SAVED"
	PersistFailed   EventType = "CHECKPOINT_PERSIST_FAILED"

	ActionSucceeded EventType = "ACTION_SUCCEEDED"
	ActionFailed    EventType = "ACTION_FAILED"

	PhaseStarted   EventType = "PHASE_STARTED"
	PhaseCompleted EventType = "PHASE_COMPLETED"
)

type Event struct {
	TS      time.Time
	RunID   string
	Task    string
	Env     string
	Unit    string
	Action  string
	Type    EventType
	Message string
	// ID is the artifact identifier for deploy/rehydrate events.
	ID    string
	Error *EventError
}

type EventError struct {
	Class   string
	Message string
}

func newEventError(err error) *EventError {
	if err == nil {
		return nil
	}
	return &EventError{Class: ErrorClass(err), Message: err.Error()}
}

type Observer interface {
	ObserveEvent(Event)
}

type ObserverFunc func(Event)

func (f ObserverFunc) ObserveEvent(ev Event) {
	if f == nil {
		return
	}
	f(ev)
}
