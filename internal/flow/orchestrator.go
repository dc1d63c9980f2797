package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/leadflow/leadflow/internal/genai"
	"github.com/leadflow/leadflow/internal/models"
	"github.com/leadflow/leadflow/internal/store"
)

// DefaultFallbackReply is sent when reply generation fails after retries, so
// the lead never experiences silence. Internal errors never leak to the lead.
const DefaultFallbackReply = "We've received your message and will get back to you shortly."

// OrchestratorOpts holds configuration options for the orchestrator.
type OrchestratorOpts struct {
	ContextWindow int
	SemanticK     int
	FallbackReply string
}

// OrchestratorOption defines a configuration option for the orchestrator.
type OrchestratorOption func(*OrchestratorOpts)

// WithContextWindow sets the number of recent turns included in the prompt.
func WithContextWindow(n int) OrchestratorOption {
	return func(o *OrchestratorOpts) { o.ContextWindow = n }
}

// WithSemanticK sets the number of semantically retrieved context items.
func WithSemanticK(k int) OrchestratorOption {
	return func(o *OrchestratorOpts) { o.SemanticK = k }
}

// WithFallbackReply overrides the reply sent when generation fails.
func WithFallbackReply(text string) OrchestratorOption {
	return func(o *OrchestratorOpts) { o.FallbackReply = text }
}

// Orchestrator composes the resolver, context assembler, classifiers, scoring
// and responder into one idempotent "process one inbound message" operation,
// invoked by the job queue worker.
type Orchestrator struct {
	repo      store.Repository
	index     ContextIndex
	delivery  Delivery
	resolver  *StateResolver
	assembler *ContextAssembler
	intents   *IntentClassifier
	names     *NameExtractor
	responder *Responder
	lease     *ChatLease
	fallback  string
}

// NewOrchestrator wires the orchestration engine. index may be nil; the
// engine then runs on the recency window alone.
func NewOrchestrator(repo store.Repository, index ContextIndex, client genai.ClientInterface, delivery Delivery, options ...OrchestratorOption) *Orchestrator {
	var opts OrchestratorOpts
	for _, opt := range options {
		opt(&opts)
	}
	if opts.FallbackReply == "" {
		opts.FallbackReply = DefaultFallbackReply
	}
	return &Orchestrator{
		repo:      repo,
		index:     index,
		delivery:  delivery,
		resolver:  NewStateResolver(repo),
		assembler: NewContextAssembler(repo, index, opts.ContextWindow, opts.SemanticK),
		intents:   NewIntentClassifier(client),
		names:     NewNameExtractor(client),
		responder: NewResponder(client, NewPlaybookTools(repo, index, delivery)),
		lease:     NewChatLease(),
		fallback:  opts.FallbackReply,
	}
}

// runContext is the explicit mutable state threaded through one orchestrator
// run. Lead mutations accumulate here and are committed at the end of the run
// rather than piecemeal across steps.
type runContext struct {
	msg  models.InboundMessage
	conv models.Conversation
	lead models.Lead

	assembled   string
	intent      IntentResult
	name        NameResult
	applyName   bool
	nameRequest string
	newScore    int
	oldPhase    models.Phase
	newPhase    models.Phase
	reply       *ReplyResult
}

// HandleInboundJob adapts ProcessInboundMessage to the job runner's handler
// signature.
func (o *Orchestrator) HandleInboundJob(ctx context.Context, payload string) error {
	var msg models.InboundMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return fmt.Errorf("failed to decode inbound message payload: %w", err)
	}
	_, err := o.ProcessInboundMessage(ctx, msg)
	return err
}

// ProcessInboundMessage turns one inbound message into an updated
// qualification state, a delivered reply, and an audit trail. A returned
// error means the job should be retried whole; generation failures are
// absorbed by the fallback path and do not surface as errors.
func (o *Orchestrator) ProcessInboundMessage(ctx context.Context, msg models.InboundMessage) (*models.ProcessingResult, error) {
	if err := msg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid inbound message: %w", err)
	}

	release := o.lease.Acquire(msg.ChatID)
	defer release()

	conv, lead, err := o.resolver.Resolve(msg.ChatID, msg.PhoneNumber, "whatsapp")
	if err != nil {
		return nil, err
	}
	ctx = genai.WithConversationID(ctx, conv.ID)
	rc := &runContext{
		msg:      msg,
		conv:     conv,
		lead:     lead,
		oldPhase: PhaseForScore(lead.MaturityScore),
		newScore: lead.MaturityScore,
		newPhase: PhaseForScore(lead.MaturityScore),
	}

	if err := o.persistInboundTurn(ctx, rc); err != nil {
		return nil, err
	}

	if runErr := o.run(ctx, rc); runErr != nil {
		slog.Error("Orchestrator.ProcessInboundMessage: run failed, taking fallback path", "chatID", msg.ChatID, "conversationID", conv.ID, "error", runErr)
		return o.deliverFallback(ctx, rc, runErr)
	}

	return o.commitAndDeliver(ctx, rc)
}

func (o *Orchestrator) persistInboundTurn(ctx context.Context, rc *runContext) error {
	turn := models.Turn{
		ID:                uuid.NewString(),
		ConversationID:    rc.conv.ID,
		Direction:         models.TurnDirectionInbound,
		Content:           rc.msg.Text,
		ExternalMessageID: rc.msg.ExternalMessageID,
		CreatedAt:         time.Now(),
	}
	if err := o.repo.AddTurn(turn); err != nil {
		return fmt.Errorf("failed to persist inbound turn: %w", err)
	}
	if err := o.repo.TouchConversation(rc.conv.ID, turn.CreatedAt); err != nil {
		slog.Warn("Orchestrator.persistInboundTurn: failed to touch conversation", "conversationID", rc.conv.ID, "error", err)
	}
	if o.index != nil {
		if err := o.index.UpsertTurn(ctx, turn.ID, rc.conv.ChatID, rc.lead.ID, turn.Content); err != nil {
			slog.Warn("Orchestrator.persistInboundTurn: failed to index inbound turn", "turnID", turn.ID, "error", err)
		}
	}
	return nil
}

// run executes the classification, scoring, and generation steps. Any error
// here triggers the fallback path rather than failing the job.
func (o *Orchestrator) run(ctx context.Context, rc *runContext) error {
	assembled, err := o.assembler.Assemble(ctx, rc.conv.ID, rc.conv.ChatID, rc.msg.Text)
	if err != nil {
		return err
	}
	rc.assembled = assembled

	rc.name, err = o.names.Extract(ctx, rc.msg.Text)
	if err != nil {
		return err
	}
	rc.applyName = ShouldApply(&rc.lead, rc.name)

	rc.intent, err = o.intents.Classify(ctx, rc.msg.Text, rc.assembled)
	if err != nil {
		return err
	}

	rc.newScore = NextScore(rc.lead.MaturityScore, rc.intent.Intent)
	rc.newPhase = PhaseForScore(rc.newScore)

	if !rc.applyName && ShouldSolicit(&rc.lead, rc.newScore) {
		request, err := o.names.Solicitation(ctx, rc.newScore, rc.assembled)
		if err != nil {
			slog.Warn("Orchestrator.run: name solicitation failed, continuing without it", "conversationID", rc.conv.ID, "error", err)
		} else {
			rc.nameRequest = request
		}
	}

	displayName := ""
	if rc.applyName {
		displayName = rc.name.Name
	} else if rc.lead.HasName() {
		displayName = rc.lead.DisplayName
	}
	rc.reply, err = o.responder.GenerateReply(ctx, ReplyInput{
		ChatID:           rc.conv.ChatID,
		InboundText:      rc.msg.Text,
		Intent:           rc.intent.Intent,
		AssembledContext: rc.assembled,
		Phase:            rc.newPhase,
		DisplayName:      displayName,
		NameRequest:      rc.nameRequest,
	})
	return err
}

// commitAndDeliver persists the outbound turns, delivers the reply, commits
// the accumulated lead mutations, and writes the audit record. Failures here
// are fatal for the job.
func (o *Orchestrator) commitAndDeliver(ctx context.Context, rc *runContext) (*models.ProcessingResult, error) {
	var deliveredIDs []string

	for _, step := range rc.reply.DeliveredSteps {
		deliveredIDs = append(deliveredIDs, step.MessageID)
		if err := o.persistOutboundTurn(ctx, rc, step.Content, step.MessageID); err != nil {
			return nil, err
		}
	}

	if rc.reply.Text != "" {
		messageID, err := o.delivery.SendText(ctx, rc.conv.ChatID, rc.reply.Text)
		if err != nil {
			return nil, fmt.Errorf("failed to deliver reply: %w", err)
		}
		deliveredIDs = append(deliveredIDs, messageID)
		if err := o.persistOutboundTurn(ctx, rc, rc.reply.Text, messageID); err != nil {
			return nil, err
		}
	}

	if rc.applyName {
		if err := o.repo.UpdateLeadName(rc.lead.ID, rc.name.Name); err != nil {
			return nil, fmt.Errorf("failed to update lead name: %w", err)
		}
		slog.Info("Orchestrator.commitAndDeliver: captured lead name", "leadID", rc.lead.ID, "confidence", rc.name.Confidence)
	}

	storedScore, err := o.repo.RaiseLeadScore(rc.lead.ID, rc.newScore)
	if err != nil {
		return nil, fmt.Errorf("failed to update lead score: %w", err)
	}
	rc.newScore = storedScore
	rc.newPhase = PhaseForScore(storedScore)

	if rc.newPhase == models.PhaseReady && rc.oldPhase != models.PhaseReady {
		if err := o.repo.SetConversationStatus(rc.conv.ID, models.ConversationStatusEscalated); err != nil {
			return nil, fmt.Errorf("failed to escalate conversation: %w", err)
		}
		slog.Info("Orchestrator.commitAndDeliver: lead is sales-ready, conversation escalated", "conversationID", rc.conv.ID, "leadID", rc.lead.ID, "score", rc.newScore)
	}

	summary := fmt.Sprintf("Intent %s raised score from %d to %d (phase %s); %d message(s) delivered.",
		rc.intent.Intent, rc.lead.MaturityScore, rc.newScore, rc.newPhase, len(deliveredIDs))
	o.writeInteractionLog(rc, rc.intent.Intent, summary)

	slog.Info("Orchestrator.commitAndDeliver: run completed", "conversationID", rc.conv.ID, "intent", rc.intent.Intent, "score", rc.newScore, "phase", rc.newPhase, "deliveredCount", len(deliveredIDs))
	return &models.ProcessingResult{
		NewScore:            rc.newScore,
		Phase:               rc.newPhase,
		Intent:              rc.intent.Intent,
		DeliveredMessageIDs: deliveredIDs,
		FallbackUsed:        false,
	}, nil
}

// deliverFallback sends the fixed fallback reply so the lead never gets
// silence. Only delivery or persistence failure surfaces as a job error.
func (o *Orchestrator) deliverFallback(ctx context.Context, rc *runContext, runErr error) (*models.ProcessingResult, error) {
	messageID, err := o.delivery.SendText(ctx, rc.conv.ChatID, o.fallback)
	if err != nil {
		return nil, fmt.Errorf("failed to deliver fallback reply: %w", err)
	}
	if err := o.persistOutboundTurn(ctx, rc, o.fallback, messageID); err != nil {
		return nil, err
	}

	summary := fmt.Sprintf("Fallback reply delivered after processing failure: %v", runErr)
	o.writeInteractionLog(rc, rc.intent.Intent, summary)

	return &models.ProcessingResult{
		NewScore:            rc.lead.MaturityScore,
		Phase:               rc.oldPhase,
		Intent:              rc.intent.Intent,
		DeliveredMessageIDs: []string{messageID},
		FallbackUsed:        true,
	}, nil
}

func (o *Orchestrator) persistOutboundTurn(ctx context.Context, rc *runContext, content, messageID string) error {
	turn := models.Turn{
		ID:                uuid.NewString(),
		ConversationID:    rc.conv.ID,
		Direction:         models.TurnDirectionOutbound,
		Content:           content,
		ExternalMessageID: messageID,
		CreatedAt:         time.Now(),
	}
	if err := o.repo.AddTurn(turn); err != nil {
		return fmt.Errorf("failed to persist outbound turn: %w", err)
	}
	if err := o.repo.TouchConversation(rc.conv.ID, turn.CreatedAt); err != nil {
		slog.Warn("Orchestrator.persistOutboundTurn: failed to touch conversation", "conversationID", rc.conv.ID, "error", err)
	}
	if o.index != nil {
		if err := o.index.UpsertTurn(ctx, turn.ID, rc.conv.ChatID, rc.lead.ID, content); err != nil {
			slog.Warn("Orchestrator.persistOutboundTurn: failed to index outbound turn", "turnID", turn.ID, "error", err)
		}
	}
	return nil
}

func (o *Orchestrator) writeInteractionLog(rc *runContext, intent models.Intent, summary string) {
	if intent == "" {
		intent = models.IntentOther
	}
	entry := models.InteractionLog{
		ID:             uuid.NewString(),
		ConversationID: rc.conv.ID,
		Intent:         intent,
		Summary:        summary,
		CreatedAt:      time.Now(),
	}
	if err := o.repo.AddInteractionLog(entry); err != nil {
		slog.Warn("Orchestrator.writeInteractionLog: failed to write interaction log", "conversationID", rc.conv.ID, "error", err)
	}
}
