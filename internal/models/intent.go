// Package models defines the intent taxonomy and sales phases for LeadFlow.
package models

// Intent is one label from the fixed classification taxonomy.
type Intent string

const (
	// IntentProductInterest indicates interest in a product or treatment.
	IntentProductInterest Intent = "PRODUCT_INTEREST"
	// IntentTechnicalQuestion indicates a technical or how-does-it-work question.
	IntentTechnicalQuestion Intent = "TECHNICAL_QUESTION"
	// IntentPricing indicates a question about price or payment.
	IntentPricing Intent = "PRICING"
	// IntentScheduling indicates the lead wants to book or reschedule.
	IntentScheduling Intent = "SCHEDULING"
	// IntentComplaint indicates dissatisfaction or a complaint.
	IntentComplaint Intent = "COMPLAINT"
	// IntentInformation indicates a general information request.
	IntentInformation Intent = "INFORMATION"
	// IntentGreeting indicates a salutation with no other content.
	IntentGreeting Intent = "GREETING"
	// IntentFarewell indicates the lead is ending the conversation.
	IntentFarewell Intent = "FAREWELL"
	// IntentConfirmation indicates agreement or commitment.
	IntentConfirmation Intent = "CONFIRMATION"
	// IntentOther is the safe default for anything else, including
	// unparseable classifier output.
	IntentOther Intent = "OTHER"
)

// AllIntents lists the taxonomy in a stable order, used to build the
// classifier prompt.
var AllIntents = []Intent{
	IntentProductInterest,
	IntentTechnicalQuestion,
	IntentPricing,
	IntentScheduling,
	IntentComplaint,
	IntentInformation,
	IntentGreeting,
	IntentFarewell,
	IntentConfirmation,
	IntentOther,
}

// IsValidIntent checks if the given label is part of the taxonomy.
func IsValidIntent(i Intent) bool {
	switch i {
	case IntentProductInterest, IntentTechnicalQuestion, IntentPricing,
		IntentScheduling, IntentComplaint, IntentInformation,
		IntentGreeting, IntentFarewell, IntentConfirmation, IntentOther:
		return true
	default:
		return false
	}
}

// ParseIntent maps a label to the taxonomy. Labels outside it yield OTHER
// together with ErrUnknownIntent so callers can tell a genuine OTHER apart
// from a coerced one.
func ParseIntent(label string) (Intent, error) {
	i := Intent(label)
	if IsValidIntent(i) {
		return i, nil
	}
	return IntentOther, ErrUnknownIntent
}

// CoerceIntent maps an arbitrary label to the taxonomy, falling back to OTHER.
func CoerceIntent(label string) Intent {
	i, _ := ParseIntent(label)
	return i
}

// Phase is the sales phase derived from the maturity score. It governs reply
// style only and is never persisted as a separate field.
type Phase string

const (
	// PhaseSituation covers scores below 30: establish context, open questions.
	PhaseSituation Phase = "SITUATION"
	// PhaseProblem covers scores 30-49: surface the lead's difficulty.
	PhaseProblem Phase = "PROBLEM"
	// PhaseImplication covers scores 50-74: explore consequences.
	PhaseImplication Phase = "IMPLICATION"
	// PhaseNeedPayoff covers scores 75-84: connect needs to value.
	PhaseNeedPayoff Phase = "NEED_PAYOFF"
	// PhaseReady covers scores of 85 and above: the lead is sales-ready.
	PhaseReady Phase = "READY"
)
