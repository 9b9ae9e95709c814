package trip

import (
	"fmt"
	"strings"
)

// Phase is a step of the booking lifecycle.
type Phase int

const (
	Searching Phase = iota
	Assigned
	EnRoute
	Arrived
	InProgress
	Completed
	Cancelled
)

var phaseNames = [...]string{
	Searching:  "searching",
	Assigned:   "assigned",
	EnRoute:    "en_route",
	Arrived:    "arrived",
	InProgress: "in_progress",
	Completed:  "completed",
	Cancelled:  "cancelled",
}

var phaseLabels = [...]string{
	Searching:  "Finding a driver...",
	Assigned:   "Driver assigned",
	EnRoute:    "Driver en route",
	Arrived:    "Driver arrived",
	InProgress: "Trip in progress",
	Completed:  "Trip completed",
	Cancelled:  "Trip cancelled",
}

func (p Phase) valid() bool { return p >= Searching && p <= Cancelled }

func (p Phase) String() string {
	if !p.valid() {
		return fmt.Sprintf("phase(%d)", int(p))
	}
	return phaseNames[p]
}

// Label is the rider-facing status line for the phase.
func (p Phase) Label() string {
	if !p.valid() {
		return ""
	}
	return phaseLabels[p]
}

// Terminal reports whether no further transition is possible.
func (p Phase) Terminal() bool { return p == Completed || p == Cancelled }

// Cancellable reports whether the rider may still cancel.
func (p Phase) Cancellable() bool {
	_, ok := transition(p, triggerCancel)
	return ok
}

func (p Phase) MarshalText() ([]byte, error) {
	if !p.valid() {
		return nil, fmt.Errorf("invalid phase %d", int(p))
	}
	return []byte(phaseNames[p]), nil
}

func (p *Phase) UnmarshalText(b []byte) error {
	v, err := ParsePhase(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

func ParsePhase(s string) (Phase, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range phaseNames {
		if name == s {
			return Phase(i), nil
		}
	}
	return 0, fmt.Errorf("unknown phase %q", s)
}

// Action is a rider-initiated trigger.
type Action string

const (
	ActionStart    Action = "start"
	ActionComplete Action = "complete"
	ActionCancel   Action = "cancel"
)

// ParseAction returns ErrUnknownAction for anything but start, complete and cancel.
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionStart, ActionComplete, ActionCancel:
		return a, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAction, s)
}

type trigger int

const (
	triggerSearchElapsed trigger = iota
	triggerAssignElapsed
	triggerArrival
	triggerStart
	triggerComplete
	triggerCancel
)

func (a Action) trigger() (trigger, bool) {
	switch a {
	case ActionStart:
		return triggerStart, true
	case ActionComplete:
		return triggerComplete, true
	case ActionCancel:
		return triggerCancel, true
	}
	return 0, false
}

var transitions = map[Phase]map[trigger]Phase{
	Searching: {
		triggerSearchElapsed: Assigned,
		triggerCancel:        Cancelled,
	},
	Assigned: {
		triggerAssignElapsed: EnRoute,
		triggerCancel:        Cancelled,
	},
	EnRoute: {
		triggerArrival: Arrived,
		triggerCancel:  Cancelled,
	},
	Arrived: {
		triggerStart:  InProgress,
		triggerCancel: Cancelled,
	},
	InProgress: {
		triggerComplete: Completed,
	},
}

// transition is total: pairs missing from the table yield ok == false.
func transition(from Phase, t trigger) (Phase, bool) {
	to, ok := transitions[from][t]
	return to, ok
}
