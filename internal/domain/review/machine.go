// Package review holds the transition rules for scan record status and the
// role checks that gate each transition.
package review

import (
	"fmt"

	"github.com/zatekoja/dermascan/internal/domain/entities"
	apperrors "github.com/zatekoja/dermascan/pkg/errors"
)

// Action is a request to mutate a scan record
type Action string

const (
	ActionAttachAnalysis Action = "attach_analysis"
	ActionCorrect        Action = "correct"
	ActionEscalate       Action = "escalate"
	ActionAnnotate       Action = "annotate"
)

var actionEvents = map[Action]entities.ScanEventType{
	ActionAttachAnalysis: entities.ScanEventAnalysisAttached,
	ActionCorrect:        entities.ScanEventCorrected,
	ActionEscalate:       entities.ScanEventEscalated,
	ActionAnnotate:       entities.ScanEventAnnotated,
}

// Outcome is the result of evaluating an action against a record's status
type Outcome struct {
	From  entities.ScanStatus
	To    entities.ScanStatus
	Event entities.ScanEventType
	// Noop is set when the action is accepted but changes nothing and emits no event.
	Noop bool
}

// Machine evaluates transitions. RequireSignoff leaves freshly analyzed
// records in Pending instead of auto-accepting them as Reviewed.
type Machine struct {
	RequireSignoff bool
}

// NewMachine creates a state machine with the given sign-off policy
func NewMachine(requireSignoff bool) *Machine {
	return &Machine{RequireSignoff: requireSignoff}
}

// Authorize checks that actor may trigger action. A nil actor is the
// automated pipeline and may only attach analysis results.
func Authorize(actor entities.Principal, action Action) error {
	if action == ActionAttachAnalysis {
		if actor != nil {
			return apperrors.NewForbiddenError("automated results are attached by the analysis pipeline only")
		}
		return nil
	}
	if actor == nil {
		return apperrors.NewForbiddenError(fmt.Sprintf("%s requires a clinician", action))
	}
	switch actor.(type) {
	case *entities.Clinician:
		return nil
	default:
		return apperrors.NewForbiddenError(fmt.Sprintf("%s requires a clinician", action))
	}
}

// Next evaluates action against rec and returns the resulting status.
// rec must reflect the committed state the action would apply to.
func (m *Machine) Next(action Action, rec *entities.ScanRecord) (Outcome, error) {
	eventType, ok := actionEvents[action]
	if !ok {
		return Outcome{}, apperrors.NewValidationError(fmt.Sprintf("unknown action %q", action))
	}
	from := rec.Status
	if !from.Valid() {
		return Outcome{}, apperrors.NewInternalError(fmt.Sprintf("scan %s has unknown status %q", rec.ID, from), nil)
	}
	out := Outcome{From: from, To: from, Event: eventType}

	switch action {
	case ActionAttachAnalysis:
		if rec.AutomatedResult != nil {
			return Outcome{}, apperrors.NewAlreadyAnalyzedError(rec.ID)
		}
		// A clinician may have acted before the result arrived; keep their status.
		if from == entities.StatusAwaitingAnalysis {
			out.To = entities.StatusReviewed
			if m.RequireSignoff {
				out.To = entities.StatusPending
			}
		}
	case ActionCorrect:
		out.To = entities.StatusReviewed
	case ActionEscalate:
		switch from {
		case entities.StatusPending, entities.StatusReviewed:
			out.To = entities.StatusFlaggedUrgent
		case entities.StatusFlaggedUrgent:
			out.Noop = true
		default:
			return Outcome{}, apperrors.NewValidationError(fmt.Sprintf("scan %s cannot be escalated before analysis", rec.ID))
		}
	case ActionAnnotate:
	}
	return out, nil
}
