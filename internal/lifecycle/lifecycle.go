// Package lifecycle holds the booking status transition table.
package lifecycle

import (
	"fmt"

	"courtbook/internal/model"
)

// Action is an operator or system command applied to a booking.
type Action string

const (
	ActionConfirm       Action = "confirm"
	ActionCancel        Action = "cancel"
	ActionMarkAbsent    Action = "mark_absent"
	ActionMarkPresent   Action = "mark_present"
	ActionUnmarkPresent Action = "unmark_present"
	ActionRestore       Action = "restore"
)

// Machine validates and applies status transitions.
type Machine struct {
	transitions map[model.Status]map[Action]model.Status
}

// NewMachine creates a machine with the booking transition table.
func NewMachine() *Machine {
	return &Machine{
		transitions: map[model.Status]map[Action]model.Status{
			model.StatusPending: {
				ActionConfirm:    model.StatusConfirmed,
				ActionCancel:     model.StatusCancelled,
				ActionMarkAbsent: model.StatusCancelled,
			},
			model.StatusConfirmed: {
				ActionCancel:      model.StatusCancelled,
				ActionMarkAbsent:  model.StatusCancelled,
				ActionMarkPresent: model.StatusPresent,
			},
			model.StatusPresent: {
				ActionUnmarkPresent: model.StatusConfirmed,
			},
			model.StatusCancelled: {
				// Prior state is not tracked; restore always lands on confirmed.
				ActionRestore: model.StatusConfirmed,
			},
		},
	}
}

// CanApply reports whether action is allowed from status.
func (m *Machine) CanApply(from model.Status, action Action) bool {
	_, ok := m.transitions[from][action]
	return ok
}

// Next returns the status reached by applying action from status.
func (m *Machine) Next(from model.Status, action Action) (model.Status, error) {
	to, ok := m.transitions[from][action]
	if !ok {
		return from, fmt.Errorf("%s from %s: %w", action, from, model.ErrInvalidTransition)
	}
	return to, nil
}

// Apply mutates the booking flags for action and returns the new status.
func (m *Machine) Apply(b *model.Booking, action Action) (model.Status, error) {
	to, err := m.Next(b.Status(), action)
	if err != nil {
		return b.Status(), err
	}

	switch action {
	case ActionConfirm:
		b.Confirmed = true
		b.HoldExpiry = nil
	case ActionCancel, ActionMarkAbsent:
		b.Cancelled = true
	case ActionMarkPresent:
		b.Present = true
	case ActionUnmarkPresent:
		b.Present = false
		b.Confirmed = true
	case ActionRestore:
		b.Cancelled = false
		b.Present = false
		b.Confirmed = true
		b.HoldExpiry = nil
	}

	return to, nil
}

// Reoccupies reports whether action can put a booking back onto its court.
// Confirm counts because a pending hold may have expired and its slot been re-let.
func Reoccupies(action Action) bool {
	return action == ActionRestore || action == ActionConfirm
}

// ActionFor maps a PATCH {field, value} pair onto an action.
func ActionFor(field string, value bool) (Action, error) {
	switch field {
	case "confirmed":
		if value {
			return ActionConfirm, nil
		}
	case "present":
		if value {
			return ActionMarkPresent, nil
		}
		return ActionUnmarkPresent, nil
	case "cancelled":
		if value {
			return ActionCancel, nil
		}
		return ActionRestore, nil
	case "absent":
		if value {
			return ActionMarkAbsent, nil
		}
		return ActionRestore, nil
	default:
		return "", model.Invalid("field", "must be one of confirmed, present, cancelled, absent")
	}
	return "", fmt.Errorf("unconfirm: %w", model.ErrInvalidTransition)
}
