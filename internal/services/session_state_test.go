package services

import (
	"testing"

	"tarot_reading_go_backend/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestTransition(t *testing.T) {
	tests := []struct {
		from, to models.SessionState
		ok       bool
	}{
		{models.StateDrawn, models.StateBasicReadingIssued, true},
		{models.StateDrawn, models.StateApprovedPaid, true},
		{models.StateDrawn, models.StateFollowUp, false},
		{models.StateDrawn, models.StatePDFReady, false},
		{models.StateBasicReadingIssued, models.StatePremiumFlagged, true},
		{models.StateFollowUp, models.StateFollowUp, true},
		{models.StatePremiumFlagged, models.StateFollowUp, true},
		{models.StateApprovedPaid, models.StatePDFReady, true},
		{models.StateApprovedPaid, models.StateDrawn, false},
		{models.StatePDFReady, models.StateApprovedPaid, true},
		{models.StatePDFReady, models.StateFollowUp, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			err := Transition(tt.from, tt.to)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidTransition)
			}
		})
	}
}

func TestCurrentState(t *testing.T) {
	assert.Equal(t, models.StateFollowUp, currentState(models.Session{State: models.StateFollowUp, Paid: true}))
	assert.Equal(t, models.StateApprovedPaid, currentState(models.Session{Paid: true}))
	assert.Equal(t, models.StateDrawn, currentState(models.Session{}))
}
