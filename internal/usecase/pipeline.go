// Package usecase contains application business logic services.
package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/zeroatsteel/zero-agent/internal/adapter/ai"
	"github.com/zeroatsteel/zero-agent/internal/adapter/ai/tokencount"
	"github.com/zeroatsteel/zero-agent/internal/adapter/observability"
	"github.com/zeroatsteel/zero-agent/internal/domain"
)

// Token budgets for the two calls of a round.
const (
	PrimaryMaxTokens   = 1024
	ValidatorMaxTokens = 256
	MaxRoundsLimit     = 5
)

// ValidatorSystemPrompt asks the validator for a machine-readable verdict.
const ValidatorSystemPrompt = `You are a strict validator. Return JSON only: {"status":"pass|fail","critique":"...","needs":["..."]}.`

var systemPrompts = map[string]string{
	domain.ModeSteel:   "You are Zero@Steel AI — a steel industry specialist assistant. Use precise, concise technical language aligned with EU CBAM and steel operations. Provide actionable diagnostics and recommendations.",
	domain.ModeDesign:  "You are Zero@Design AI — sustainability design specialist. Answer concisely with design-oriented insights.",
	domain.ModeGeneral: "You are Zero@AgentAI — a sustainability-focused AI assistant.",
}

// SystemPrompt returns the primary instruction for mode; unknown modes get the general prompt.
func SystemPrompt(mode string) string {
	if p, ok := systemPrompts[mode]; ok {
		return p
	}
	return systemPrompts[domain.ModeGeneral]
}

// NormalizeMode maps empty or unknown modes to general.
func NormalizeMode(mode string) string {
	if _, ok := systemPrompts[mode]; ok {
		return mode
	}
	return domain.ModeGeneral
}

// SelectModel returns preferred when it is a known candidate and the first candidate otherwise.
func SelectModel(preferred string, candidates []string) string {
	for _, c := range candidates {
		if c == preferred && preferred != "" {
			return preferred
		}
	}
	if len(candidates) == 0 {
		return preferred
	}
	return candidates[0]
}

// ClampRounds bounds a requested round count to [1, MaxRoundsLimit].
func ClampRounds(n int) int {
	return min(MaxRoundsLimit, max(1, n))
}

// RoundsOrDefault clamps a requested round count; nil means the caller did not ask and selects def.
func RoundsOrDefault(n *int, def int) int {
	if n == nil {
		return ClampRounds(def)
	}
	return ClampRounds(*n)
}

// LoopState is a step of the generate-validate state machine.
type LoopState int

// Loop states.
const (
	StateGenerating LoopState = iota
	StateValidating
	StateFeedback
	StateCancelled
	StateExhausted
	StatePassed
)

func (s LoopState) String() string {
	switch s {
	case StateGenerating:
		return "generating"
	case StateValidating:
		return "validating"
	case StateFeedback:
		return "feedback"
	case StateCancelled:
		return "cancelled"
	case StateExhausted:
		return "exhausted"
	case StatePassed:
		return "passed"
	default:
		return fmt.Sprintf("LoopState(%d)", int(s))
	}
}

// Terminal statuses of a loop run.
const (
	StatusPass      = "pass"
	StatusFail      = "fail"
	StatusCancelled = "cancelled"
)

// EventKind distinguishes the two observable steps of a round.
type EventKind int

// Round event kinds.
const (
	EventGenerated EventKind = iota
	EventValidated
)

// RoundEvent is reported after every generation and every validation.
type RoundEvent struct {
	Kind    EventKind
	Index   int
	Text    string
	Verdict domain.Verdict
}

// LoopInput configures one run.
type LoopInput struct {
	// Task is the user's request, quoted to the validator.
	Task           string
	Conversation   []domain.Message
	System         string
	Model          string
	Candidates     []string
	ValidatorModel string
	MaxRounds      int
	OnRound        func(RoundEvent)
	// Cancelled is polled at the top of every round; nil never cancels.
	Cancelled func(ctx context.Context) bool
}

// LoopResult is the outcome of a run. FinalText is set only when Status is pass.
type LoopResult struct {
	Status     string
	FinalText  string
	Iterations []domain.Round
	// Transcript is the run's conversation, ending with the accepted answer on pass.
	Transcript []domain.Message
}

// Passed reports whether the validator accepted an answer.
func (r LoopResult) Passed() bool { return r.Status == StatusPass }

// Loop drives rounds of primary generation and validator judgment.
type Loop struct {
	Primary   domain.ChatModel
	Validator domain.ChatModel
	// Tokens, when set, sizes the opening conversation for metrics.
	Tokens  *tokencount.Counter
	cleaner *ai.ResponseCleaner
}

// NewLoop constructs a Loop.
func NewLoop(primary, validator domain.ChatModel) Loop {
	return Loop{Primary: primary, Validator: validator, cleaner: ai.NewResponseCleaner()}
}

// Run executes the state machine until pass, exhaustion or cancellation.
// Primary failures abort the run; validator failures become fail verdicts.
func (l Loop) Run(ctx context.Context, in LoopInput) (LoopResult, error) {
	ctx, span := otel.Tracer("usecase.loop").Start(ctx, "Loop.Run")
	defer span.End()

	maxRounds := ClampRounds(in.MaxRounds)
	conv := append([]domain.Message(nil), in.Conversation...)
	span.SetAttributes(
		attribute.Int("loop.max_rounds", maxRounds),
		attribute.String("loop.model", in.Model),
		attribute.String("loop.validator_model", in.ValidatorModel),
	)
	if l.Tokens != nil {
		observability.PromptTokens.Observe(float64(l.Tokens.CountConversation(in.System, conv, in.Model)))
	}

	var (
		res     = LoopResult{Status: StatusFail}
		state   = StateGenerating
		round   int
		text    string
		verdict domain.Verdict
	)
	for {
		switch state {
		case StateGenerating:
			if in.Cancelled != nil && in.Cancelled(ctx) {
				state = StateCancelled
				continue
			}
			t, err := l.generate(ctx, in, conv)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "primary call failed")
				res.Transcript = conv
				return res, fmt.Errorf("op=loop.generate round=%d: %w", round, err)
			}
			text = t
			emit(in, RoundEvent{Kind: EventGenerated, Index: round, Text: text})
			state = StateValidating

		case StateValidating:
			verdict = l.validate(ctx, in, text)
			res.Iterations = append(res.Iterations, domain.Round{Index: round, Text: text, Verdict: verdict})
			observability.ObserveRound(verdict.Passed())
			emit(in, RoundEvent{Kind: EventValidated, Index: round, Verdict: verdict})
			state = StateFeedback

		case StateFeedback:
			if verdict.Passed() {
				state = StatePassed
				continue
			}
			conv = append(conv,
				domain.TextMessage(domain.RoleAssistantMsg, text),
				domain.TextMessage(domain.RoleUserMsg, FeedbackMessage(verdict)),
			)
			round++
			if round >= maxRounds {
				state = StateExhausted
			} else {
				state = StateGenerating
			}

		case StatePassed:
			res.Status = StatusPass
			res.FinalText = text
			res.Transcript = append(conv, domain.TextMessage(domain.RoleAssistantMsg, text))
			return l.finish(ctx, res), nil

		case StateExhausted:
			res.Transcript = conv
			return l.finish(ctx, res), nil

		case StateCancelled:
			res.Status = StatusCancelled
			res.Transcript = conv
			return l.finish(ctx, res), nil
		}
	}
}

func (l Loop) finish(ctx context.Context, res LoopResult) LoopResult {
	observability.ObserveLoopOutcome(res.Status)
	slog.DebugContext(ctx, "loop finished",
		slog.String("status", res.Status),
		slog.Int("rounds", len(res.Iterations)))
	return res
}

func emit(in LoopInput, ev RoundEvent) {
	if in.OnRound != nil {
		in.OnRound(ev)
	}
}

// generate calls the primary model, retrying once on an alternate candidate
// when the model is not recognized.
func (l Loop) generate(ctx context.Context, in LoopInput, conv []domain.Message) (string, error) {
	req := domain.ChatRequest{Model: in.Model, System: in.System, Messages: conv, MaxTokens: PrimaryMaxTokens}
	text, err := l.Primary.Chat(ctx, req)
	if err == nil || !ai.IsModelNotFound(err) {
		return text, err
	}
	alt := alternateModel(in.Model, in.Candidates)
	slog.WarnContext(ctx, "primary model rejected, retrying on alternate",
		slog.String("model", in.Model),
		slog.String("alternate", alt),
		slog.Any("error", err))
	req.Model = alt
	return l.Primary.Chat(ctx, req)
}

func alternateModel(current string, candidates []string) string {
	for _, c := range candidates {
		if c != current {
			return c
		}
	}
	return current
}

// validate never fails: call and parse errors become fail verdicts.
func (l Loop) validate(ctx context.Context, in LoopInput, answer string) domain.Verdict {
	req := domain.ChatRequest{
		Model:     in.ValidatorModel,
		System:    ValidatorSystemPrompt,
		Messages:  []domain.Message{domain.TextMessage(domain.RoleUserMsg, "Task: "+in.Task+"\nAnswer:\n"+answer)},
		MaxTokens: ValidatorMaxTokens,
	}
	raw, err := l.Validator.Chat(ctx, req)
	if err != nil {
		slog.WarnContext(ctx, "validator call failed", slog.Any("error", err))
		return domain.Verdict{Status: StatusFail, Critique: "Validator call failed: " + err.Error(), Needs: []string{}}
	}
	v, err := l.parseVerdict(raw)
	if err != nil {
		slog.WarnContext(ctx, "validator output not parseable", slog.Any("error", err), slog.Int("length", len(raw)))
		return domain.Verdict{Status: StatusFail, Critique: "Validator JSON parse failed", Needs: []string{}}
	}
	return v
}

func (l Loop) parseVerdict(raw string) (domain.Verdict, error) {
	cleaner := l.cleaner
	if cleaner == nil {
		cleaner = ai.NewResponseCleaner()
	}
	cleaned, err := cleaner.CleanAndValidateJSON(raw)
	if err != nil {
		return domain.Verdict{}, err
	}
	var out struct {
		Status   string          `json:"status"`
		Critique string          `json:"critique"`
		Needs    json.RawMessage `json:"needs"`
	}
	if err := json.Unmarshal([]byte(cleaned), &out); err != nil {
		return domain.Verdict{}, err
	}
	v := domain.Verdict{Status: out.Status, Critique: out.Critique, Needs: []string{}}
	if len(out.Needs) > 0 {
		var list []string
		var single string
		switch {
		case json.Unmarshal(out.Needs, &list) == nil:
			v.Needs = append(v.Needs, list...)
		case json.Unmarshal(out.Needs, &single) == nil && single != "":
			v.Needs = append(v.Needs, single)
		}
	}
	return v, nil
}

// FeedbackMessage is the user turn that carries a failed verdict into the next round.
func FeedbackMessage(v domain.Verdict) string {
	msg := "Adjust answer per validator. Feedback: " + v.Critique
	if len(v.Needs) > 0 {
		msg += "\nNeeds: " + strings.Join(v.Needs, ", ")
	}
	return msg
}
