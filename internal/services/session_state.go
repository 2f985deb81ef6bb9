package services

import (
	"errors"
	"fmt"

	"tarot_reading_go_backend/internal/models"
)

var ErrInvalidTransition = errors.New("invalid session state transition")

// Allowed moves between session states. Staying in the same state is only
// legal where listed.
var sessionTransitions = map[models.SessionState][]models.SessionState{
	models.StateDrawn: {
		models.StateBasicReadingIssued,
		models.StateApprovedPaid,
	},
	models.StateBasicReadingIssued: {
		models.StateFollowUp,
		models.StatePremiumFlagged,
		models.StateApprovedPaid,
	},
	models.StateFollowUp: {
		models.StateFollowUp,
		models.StatePremiumFlagged,
		models.StateApprovedPaid,
	},
	models.StatePremiumFlagged: {
		models.StatePremiumFlagged,
		models.StateFollowUp,
		models.StateApprovedPaid,
	},
	models.StateApprovedPaid: {
		models.StateApprovedPaid,
		models.StatePDFReady,
	},
	models.StatePDFReady: {
		models.StatePDFReady,
		models.StateApprovedPaid,
	},
}

func Transition(from, to models.SessionState) error {
	for _, allowed := range sessionTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// currentState falls back to the inferred state for sessions persisted
// before states were tracked.
func currentState(s models.Session) models.SessionState {
	if s.State != "" {
		return s.State
	}
	return models.InferState(s)
}
