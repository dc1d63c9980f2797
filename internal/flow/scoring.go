// Package flow implements the conversation orchestration engine: it turns one
// inbound message into an updated qualification state, a generated reply, and
// a durable audit trail.
package flow

import (
	"github.com/leadflow/leadflow/internal/models"
)

// Phase thresholds over the maturity score.
const (
	problemThreshold     = 30
	implicationThreshold = 50
	needPayoffThreshold  = 75
	readyThreshold       = 85
)

// scoreDeltas maps each intent to its maturity score contribution. Intents
// absent from the table contribute nothing.
var scoreDeltas = map[models.Intent]int{
	models.IntentProductInterest:   10,
	models.IntentPricing:           15,
	models.IntentScheduling:        20,
	models.IntentConfirmation:      25,
	models.IntentTechnicalQuestion: 5,
	models.IntentInformation:       3,
	models.IntentGreeting:          1,
}

// ScoreDelta returns the maturity score contribution of one detected intent.
func ScoreDelta(intent models.Intent) int {
	return scoreDeltas[intent]
}

// NextScore computes the maturity score after one turn. Scores never decrease
// and are clamped at the maximum.
func NextScore(current int, intent models.Intent) int {
	next := current + ScoreDelta(intent)
	if next > models.MaxLeadScore {
		next = models.MaxLeadScore
	}
	if next < current {
		next = current
	}
	return next
}

// PhaseForScore derives the sales phase from a maturity score. The phase is
// never persisted; it only selects prompt behavior.
func PhaseForScore(score int) models.Phase {
	switch {
	case score >= readyThreshold:
		return models.PhaseReady
	case score >= needPayoffThreshold:
		return models.PhaseNeedPayoff
	case score >= implicationThreshold:
		return models.PhaseImplication
	case score >= problemThreshold:
		return models.PhaseProblem
	default:
		return models.PhaseSituation
	}
}
