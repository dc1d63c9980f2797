package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/param"

	"github.com/leadflow/leadflow/internal/genai"
	"github.com/leadflow/leadflow/internal/models"
)

// MaxToolRounds bounds the tool-call loop per turn to prevent runaway
// recursion when the model keeps requesting tools.
const MaxToolRounds = 5

const responderBasePrompt = `You are a consultative sales assistant chatting with a lead over WhatsApp.
Reply in the same language the lead writes in. Keep replies short and
conversational, as chat messages. Ask exactly one or two open questions per
reply. Never present a solution, offer, or price before the lead is clearly
ready for it, and never jump ahead: each reply advances the conversation by a
single natural step, regardless of how engaged the lead already is.
You may use the available tools to look up and send pre-approved playbook
content when the lead asks for something it covers (location, pricing sheets,
procedure explanations). Playbook steps are sent verbatim on your behalf; after
sending one, still write a short accompanying reply of your own.`

// phasePrompts give the stage-specific instructions appended to the base
// prompt, loosely following consultative (SPIN-style) selling.
var phasePrompts = map[models.Phase]string{
	models.PhaseSituation: `Current stage: SITUATION. You are establishing context. Ask open questions
about the lead's current situation and what brought them here. Do not probe
pain points yet and do not mention products.`,
	models.PhaseProblem: `Current stage: PROBLEM. The lead has engaged. Ask open questions that help
them articulate their difficulty or dissatisfaction. Do not discuss
consequences or solutions yet.`,
	models.PhaseImplication: `Current stage: IMPLICATION. Ask open questions that explore the consequences
of the problem the lead described, what it costs them to leave it unsolved.
Still no solutions or prices.`,
	models.PhaseNeedPayoff: `Current stage: NEED_PAYOFF. Ask questions that let the lead voice the value
of solving their problem. You may now connect their needs to what we offer,
but let them do most of the talking.`,
	models.PhaseReady: `Current stage: READY. The lead is sales-ready. Confirm next steps warmly and
facilitate scheduling or handoff. Answer pricing and logistics questions
directly, using playbook content where available.`,
}

// ReplyInput carries everything the responder needs for one reply.
type ReplyInput struct {
	ChatID           string
	InboundText      string
	Intent           models.Intent
	AssembledContext string
	Phase            models.Phase
	DisplayName      string
	// NameRequest, when non-empty, is appended after the generated reply.
	NameRequest string
}

// ReplyResult is the responder's output: the reply text plus any playbook
// steps already delivered through tool calls, in delivery order.
type ReplyResult struct {
	Text           string
	DeliveredSteps []DeliveredStep
}

// Responder generates the phase-aware reply, optionally letting the model
// invoke the playbook tools.
type Responder struct {
	client genai.ClientInterface
	tools  *PlaybookTools
}

// NewResponder creates a responder. tools may be nil to disable tool calling.
func NewResponder(client genai.ClientInterface, tools *PlaybookTools) *Responder {
	return &Responder{client: client, tools: tools}
}

// GenerateReply produces exactly one reply text for the inbound message,
// running the bounded tool-call loop when the model requests tools.
func (r *Responder) GenerateReply(ctx context.Context, in ReplyInput) (*ReplyResult, error) {
	ctx = genai.WithUsageKind(ctx, "generate_reply")
	messages := r.buildMessages(in)

	result := &ReplyResult{}

	var toolDefs []openai.ChatCompletionToolParam
	if r.tools != nil {
		toolDefs = r.tools.Definitions()
	}
	if len(toolDefs) == 0 {
		text, err := r.client.GenerateWithMessages(ctx, messages)
		if err != nil {
			return nil, fmt.Errorf("reply generation failed: %w", err)
		}
		result.Text = appendNameRequest(text, in.NameRequest)
		return result, nil
	}

	for round := 1; round <= MaxToolRounds; round++ {
		resp, err := r.client.GenerateWithTools(ctx, messages, toolDefs)
		if err != nil {
			return nil, fmt.Errorf("reply generation failed: %w", err)
		}

		if len(resp.ToolCalls) == 0 {
			if resp.Content == "" {
				break
			}
			result.Text = appendNameRequest(resp.Content, in.NameRequest)
			return result, nil
		}

		slog.Debug("Responder.GenerateReply: executing tool calls", "chatID", in.ChatID, "round", round, "toolCallCount", len(resp.ToolCalls))
		messages = r.executeToolCalls(ctx, in.ChatID, resp, messages, result)

		if resp.Content != "" {
			result.Text = appendNameRequest(resp.Content, in.NameRequest)
			return result, nil
		}
	}

	// The loop ended without user-facing content. Force a plain completion so
	// the lead still gets exactly one reply.
	slog.Warn("Responder.GenerateReply: tool loop ended without content, forcing final completion", "chatID", in.ChatID)
	messages = append(messages, openai.SystemMessage("Write your reply to the lead now. Do not call any more tools."))
	text, err := r.client.GenerateWithMessages(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("reply generation failed: %w", err)
	}
	result.Text = appendNameRequest(text, in.NameRequest)
	return result, nil
}

func (r *Responder) buildMessages(in ReplyInput) []openai.ChatCompletionMessageParamUnion {
	var system strings.Builder
	system.WriteString(responderBasePrompt)
	system.WriteString("\n\n")
	if p, ok := phasePrompts[in.Phase]; ok {
		system.WriteString(p)
	} else {
		system.WriteString(phasePrompts[models.PhaseSituation])
	}
	if in.DisplayName != "" {
		system.WriteString(fmt.Sprintf("\n\nThe lead's name is %s; address them by name when natural.", in.DisplayName))
	}
	system.WriteString(fmt.Sprintf("\n\nDetected intent of the latest message: %s.", in.Intent))

	return []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(system.String()),
		openai.SystemMessage("Conversation context:\n" + in.AssembledContext),
		openai.UserMessage(in.InboundText),
	}
}

// executeToolCalls dispatches the requested tools and appends the assistant
// message plus one tool result message per call to the conversation context.
func (r *Responder) executeToolCalls(ctx context.Context, chatID string, resp *genai.ToolCallResponse, messages []openai.ChatCompletionMessageParamUnion, result *ReplyResult) []openai.ChatCompletionMessageParamUnion {
	var toolCalls []openai.ChatCompletionMessageToolCallParam
	for _, tc := range resp.ToolCalls {
		toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallParam{
			ID:   tc.ID,
			Type: "function",
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	assistant := openai.ChatCompletionAssistantMessageParam{
		Content: openai.ChatCompletionAssistantMessageParamContentUnion{
			OfString: param.NewOpt(resp.Content),
		},
		ToolCalls: toolCalls,
	}
	messages = append(messages, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})

	for _, tc := range resp.ToolCalls {
		toolResult := r.dispatch(ctx, chatID, tc, result)
		messages = append(messages, openai.ToolMessage(toolResult, tc.ID))
	}
	return messages
}

// dispatch executes one tool call. Tool failures are reported back to the
// model as tool results, never raised: the reply loop must go on.
func (r *Responder) dispatch(ctx context.Context, chatID string, tc openai.ChatCompletionMessageToolCall, result *ReplyResult) string {
	switch models.ToolName(tc.Function.Name) {
	case models.ToolSearchPlaybooks:
		var params models.SearchPlaybooksParams
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &params); err != nil {
			return "Invalid search_playbooks arguments."
		}
		out, err := r.tools.ExecuteSearch(ctx, params)
		if err != nil {
			slog.Error("Responder.dispatch: search_playbooks failed", "chatID", chatID, "error", err)
			return "Playbook search is unavailable right now."
		}
		return out

	case models.ToolGetPlaybookMessages:
		var params models.GetPlaybookMessagesParams
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &params); err != nil {
			return "Invalid get_playbook_messages arguments."
		}
		out, err := r.tools.ExecuteGetMessages(ctx, params)
		if err != nil {
			slog.Error("Responder.dispatch: get_playbook_messages failed", "chatID", chatID, "error", err)
			return "Could not load that playbook."
		}
		return out

	case models.ToolSendPlaybookMessage:
		var params models.SendPlaybookMessageParams
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &params); err != nil {
			return "Invalid send_playbook_message arguments."
		}
		out, delivered, err := r.tools.ExecuteSend(ctx, chatID, params)
		if err != nil {
			slog.Error("Responder.dispatch: send_playbook_message failed", "chatID", chatID, "playbookID", params.PlaybookID, "stepOrder", params.StepOrder, "error", err)
			return "Could not send that playbook step."
		}
		result.DeliveredSteps = append(result.DeliveredSteps, *delivered)
		return out

	default:
		slog.Warn("Responder.dispatch: unknown tool requested", "chatID", chatID, "toolName", tc.Function.Name)
		return fmt.Sprintf("Unknown tool: %s", tc.Function.Name)
	}
}

// appendNameRequest appends the solicitation after the generated content,
// never before it.
func appendNameRequest(text, nameRequest string) string {
	text = strings.TrimSpace(text)
	if nameRequest == "" {
		return text
	}
	if text == "" {
		return nameRequest
	}
	return text + "\n\n" + nameRequest
}
