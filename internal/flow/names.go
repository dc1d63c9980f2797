package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/leadflow/leadflow/internal/genai"
	"github.com/leadflow/leadflow/internal/models"
)

const (
	// MinNameConfidence gates passive extraction writes to the lead.
	MinNameConfidence = 70

	// Active solicitation fires while the name is unknown and the maturity
	// score sits in [SolicitMinScore, SolicitMaxScore).
	SolicitMinScore = 20
	SolicitMaxScore = 50
)

const nameExtractionPrompt = `You detect whether a chat message discloses the sender's own name.
Only report a name the sender states about themselves, never names of other
people, products, or places.

Respond with a JSON object only, no other text:
{"name": "<name or null>", "confidence": <0-100>, "source": "<short quote or reasoning>"}`

const nameSolicitationPrompt = `You are a friendly sales assistant in an ongoing chat with a lead whose
name you do not know yet. The conversation is in the %s stage: %s.
Write one short, natural sentence asking for the lead's name, matching that
stage's tone. Write it in the same language as the conversation shown. Do not
add greetings or any other content.`

// NameResult is the outcome of passive extraction on one inbound message.
type NameResult struct {
	Name       string
	Confidence int
	Source     string
}

// NameExtractor runs passive name extraction on every turn and generates the
// one-time active solicitation when the score band calls for it.
type NameExtractor struct {
	client genai.ClientInterface
}

// NewNameExtractor creates a name extractor backed by the given client.
func NewNameExtractor(client genai.ClientInterface) *NameExtractor {
	return &NameExtractor{client: client}
}

// Extract asks whether the inbound text discloses the lead's name. Parse
// failures coerce to an empty result; only a failed completion call is
// returned as an error.
func (ne *NameExtractor) Extract(ctx context.Context, inboundText string) (NameResult, error) {
	ctx = genai.WithUsageKind(ctx, "extract_name")
	raw, err := ne.client.Generate(ctx, nameExtractionPrompt, inboundText)
	if err != nil {
		return NameResult{}, fmt.Errorf("name extraction failed: %w", err)
	}

	var parsed struct {
		Name       *string `json:"name"`
		Confidence int     `json:"confidence"`
		Source     string  `json:"source"`
	}
	if err := decodeModelJSON(raw, &parsed); err != nil {
		slog.Warn("NameExtractor.Extract: unparseable extractor output, treating as no name", "output", raw, "error", err)
		return NameResult{}, nil
	}

	var name string
	if parsed.Name != nil {
		name = strings.TrimSpace(*parsed.Name)
	}
	if strings.EqualFold(name, "null") {
		name = ""
	}
	confidence := parsed.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 100 {
		confidence = 100
	}
	return NameResult{Name: name, Confidence: confidence, Source: parsed.Source}, nil
}

// ShouldApply reports whether a passive extraction result is confident enough
// to overwrite the lead's display name. Once a name is captured the lead is
// never overwritten again.
func ShouldApply(lead *models.Lead, result NameResult) bool {
	return !lead.HasName() && result.Name != "" && result.Confidence >= MinNameConfidence
}

// ShouldSolicit reports whether the reply should carry a request for the
// lead's name. The display-name check makes the request fire at most once per
// lead: it turns false as soon as a name is captured.
func ShouldSolicit(lead *models.Lead, score int) bool {
	return !lead.HasName() && score >= SolicitMinScore && score < SolicitMaxScore
}

// Solicitation generates the natural-language name request for the current
// score band. The text is model-generated, never a fixed string.
func (ne *NameExtractor) Solicitation(ctx context.Context, score int, assembledContext string) (string, error) {
	phase := PhaseForScore(score)
	ctx = genai.WithUsageKind(ctx, "solicit_name")
	systemPrompt := fmt.Sprintf(nameSolicitationPrompt, phase, phaseToneHint(phase))
	text, err := ne.client.Generate(ctx, systemPrompt, assembledContext)
	if err != nil {
		return "", fmt.Errorf("name solicitation failed: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// phaseToneHint describes each band for the solicitation prompt.
func phaseToneHint(phase models.Phase) string {
	switch phase {
	case models.PhaseProblem:
		return "the lead has shared a difficulty and rapport is forming"
	case models.PhaseImplication, models.PhaseNeedPayoff, models.PhaseReady:
		return "the lead is engaged and close to a decision"
	default:
		return "the conversation is just getting started"
	}
}
