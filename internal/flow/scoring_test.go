package flow

import (
	"testing"

	"github.com/leadflow/leadflow/internal/models"
)

func TestScoreDeltaTable(t *testing.T) {
	cases := []struct {
		intent models.Intent
		delta  int
	}{
		{models.IntentProductInterest, 10},
		{models.IntentPricing, 15},
		{models.IntentScheduling, 20},
		{models.IntentConfirmation, 25},
		{models.IntentTechnicalQuestion, 5},
		{models.IntentInformation, 3},
		{models.IntentGreeting, 1},
		{models.IntentComplaint, 0},
		{models.IntentFarewell, 0},
		{models.IntentOther, 0},
	}
	for _, c := range cases {
		if got := ScoreDelta(c.intent); got != c.delta {
			t.Errorf("ScoreDelta(%s) = %d, want %d", c.intent, got, c.delta)
		}
	}
}

func TestNextScoreMonotonicAndClamped(t *testing.T) {
	for _, intent := range models.AllIntents {
		for _, current := range []int{0, 13, 28, 50, 84, 99, 100} {
			next := NextScore(current, intent)
			if next < current {
				t.Errorf("NextScore(%d, %s) = %d regressed", current, intent, next)
			}
			if next > models.MaxLeadScore {
				t.Errorf("NextScore(%d, %s) = %d exceeds clamp", current, intent, next)
			}
		}
	}
	if got := NextScore(95, models.IntentConfirmation); got != 100 {
		t.Errorf("expected clamp at 100, got %d", got)
	}
}

func TestPhaseForScore(t *testing.T) {
	cases := []struct {
		score int
		phase models.Phase
	}{
		{0, models.PhaseSituation},
		{29, models.PhaseSituation},
		{30, models.PhaseProblem},
		{35, models.PhaseProblem},
		{49, models.PhaseProblem},
		{50, models.PhaseImplication},
		{60, models.PhaseImplication},
		{74, models.PhaseImplication},
		{75, models.PhaseNeedPayoff},
		{80, models.PhaseNeedPayoff},
		{84, models.PhaseNeedPayoff},
		{85, models.PhaseReady},
		{90, models.PhaseReady},
		{100, models.PhaseReady},
	}
	for _, c := range cases {
		if got := PhaseForScore(c.score); got != c.phase {
			t.Errorf("PhaseForScore(%d) = %s, want %s", c.score, got, c.phase)
		}
	}
}
