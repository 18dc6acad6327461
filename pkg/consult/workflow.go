package consult

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/randalmurphal/medconsult/pkg/flowgraph"
	flowerrors "github.com/randalmurphal/medconsult/pkg/flowgraph/errors"
	"github.com/randalmurphal/medconsult/pkg/flowgraph/llm"
)

// Node IDs of the consultation workflow.
const (
	NodeDecision    = "decision"
	NodeQuestion    = "question_node"
	NodeSummary     = "summary_node"
	NodeEditSummary = "edit_summary_node"
	NodeAdvice      = "advice_node"
)

// Defaults for workflow options.
const (
	DefaultMaxQuestions     = 10
	DefaultDecisionAttempts = 3
)

var (
	// ErrEmptySummary is returned when the summary model produced no text.
	ErrEmptySummary = errors.New("empty patient summary")

	// ErrAmbiguousDecision is returned by a classification that contains
	// neither ADVICE nor QUESTION. The decision node recovers from it.
	ErrAmbiguousDecision = errors.New("ambiguous decision")
)

// Responder answers the patient, possibly calling tools on the way, and
// returns only the messages it produced.
type Responder interface {
	Respond(ctx context.Context, system string, history []llm.Message) ([]llm.Message, error)
}

// Models are the model collaborators of the workflow.
type Models struct {
	// Medical classifies the conversation and writes the advice.
	Medical llm.Client
	// Summarizer writes the patient summary.
	Summarizer llm.Client
	// Questioner asks follow-up questions.
	Questioner Responder
}

func (m Models) validate() error {
	switch {
	case m.Medical == nil:
		return errors.New("consult: medical model is required")
	case m.Summarizer == nil:
		return errors.New("consult: summarizer model is required")
	case m.Questioner == nil:
		return errors.New("consult: questioner is required")
	}
	return nil
}

// workflow holds the node implementations and their settings.
type workflow struct {
	models           Models
	prompts          Prompts
	maxQuestions     int
	decisionAttempts int
}

// NewWorkflow compiles the consultation graph:
//
//	decision -> question_node | summary_node
//	question_node -> summary_node | END
//	summary_node -> edit_summary_node (suspends for review) -> advice_node -> END
func NewWorkflow(models Models, opts ...Option) (*flowgraph.CompiledGraph[State, Update], error) {
	if err := models.validate(); err != nil {
		return nil, err
	}
	s := buildSettings(opts)
	if err := s.validate(); err != nil {
		return nil, err
	}

	w := &workflow{
		models:           models,
		prompts:          s.prompts,
		maxQuestions:     s.maxQuestions,
		decisionAttempts: s.decisionAttempts,
	}

	graph := flowgraph.NewGraph[State, Update](Merge).
		AddNode(NodeDecision, w.decide).
		AddNode(NodeQuestion, w.question).
		AddNode(NodeSummary, w.summarize).
		AddNode(NodeEditSummary, w.review).
		AddNode(NodeAdvice, w.advise).
		AddConditionalEdge(NodeDecision, w.routeDecision).
		AddConditionalEdge(NodeQuestion, w.routeAfterQuestion).
		AddEdge(NodeSummary, NodeEditSummary).
		AddEdge(NodeEditSummary, NodeAdvice).
		AddEdge(NodeAdvice, flowgraph.END).
		SetEntry(NodeDecision)

	compiled, err := graph.Compile()
	if err != nil {
		return nil, fmt.Errorf("compile consultation workflow: %w", err)
	}
	return compiled, nil
}

// decide classifies the conversation. It never fails: after the last
// unusable attempt it settles on QUESTION.
func (w *workflow) decide(ctx flowgraph.Context, s State) (Update, error) {
	req := llm.CompletionRequest{
		SystemPrompt: w.prompts.Decision,
		Messages:     dialogue(s.Messages),
	}

	cfg := flowerrors.NewRetryConfig(flowerrors.NoRetry,
		flowerrors.WithMaxAttempts(w.decisionAttempts),
		flowerrors.WithRetryableFunc(func(error) bool { return true }),
		flowerrors.WithOnRetry(func(attempt int, err error, _ time.Duration) {
			ctx.Logger().Warn("decision attempt failed",
				slog.Int("attempt", attempt),
				slog.Int("max_attempts", w.decisionAttempts),
				slog.String("error", err.Error()))
		}),
	)
	result := flowerrors.WithRetryContext(ctx, cfg, func(ctx context.Context) (Decision, error) {
		resp, err := w.models.Medical.Complete(ctx, req)
		if err != nil {
			return "", err
		}
		return parseDecision(resp.Content)
	})

	decision := result.Value
	if result.Err != nil {
		ctx.Logger().Warn("decision unresolved, defaulting to QUESTION",
			slog.Int("attempts", result.Attempts),
			slog.String("error", result.Err.Error()))
		decision = DecisionQuestion
	} else {
		ctx.Logger().Debug("decision made",
			slog.String("decision", string(decision)),
			slog.Int("attempt", result.Attempts))
	}
	return Update{DecisionResult: &decision}, nil
}

// parseDecision reads a classification. ADVICE wins when both words occur.
func parseDecision(content string) (Decision, error) {
	upper := strings.ToUpper(content)
	switch {
	case strings.Contains(upper, string(DecisionAdvice)):
		return DecisionAdvice, nil
	case strings.Contains(upper, string(DecisionQuestion)):
		return DecisionQuestion, nil
	}
	if len(content) > 80 {
		content = content[:80] + "..."
	}
	return "", fmt.Errorf("%w: %q", ErrAmbiguousDecision, content)
}

func (w *workflow) question(ctx flowgraph.Context, s State) (Update, error) {
	msgs, err := w.models.Questioner.Respond(ctx, w.prompts.Questioner, s.Messages)
	if err != nil {
		return Update{}, fmt.Errorf("ask question: %w", err)
	}
	return Update{
		Messages:      msgs,
		QuestionCount: ptr(s.QuestionCount + 1),
	}, nil
}

func (w *workflow) summarize(ctx flowgraph.Context, s State) (Update, error) {
	resp, err := w.models.Summarizer.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: w.prompts.Summary,
		Messages:     dialogue(s.Messages),
	})
	if err != nil {
		return Update{}, fmt.Errorf("summarize: %w", err)
	}
	if strings.TrimSpace(resp.Content) == "" {
		return Update{}, ErrEmptySummary
	}
	return Update{PatientSummary: ptr(resp.Content)}, nil
}

// review suspends the session until a reviewer confirms or edits the
// summary. A blank resume value keeps the summary as written.
func (w *workflow) review(ctx flowgraph.Context, s State) (Update, error) {
	if s.PatientSummary == "" {
		return Update{}, ErrEmptySummary
	}

	value, resumed := ctx.ResumeValue()
	if !resumed {
		return Update{}, flowgraph.Interrupt(ReviewRequest{
			Instruction: w.prompts.ReviewInstruction,
			Summary:     s.PatientSummary,
		})
	}

	edited, _ := value.(string)
	if strings.TrimSpace(edited) == "" {
		ctx.Logger().Info("summary confirmed unchanged")
		return Update{}, nil
	}
	ctx.Logger().Info("summary edited by reviewer")
	return Update{PatientSummary: &edited}, nil
}

func (w *workflow) advise(ctx flowgraph.Context, s State) (Update, error) {
	req := llm.CompletionRequest{SystemPrompt: w.prompts.AdviceSystem}
	if s.PatientSummary != "" {
		content, err := w.prompts.adviceRequest(CleanMarkdown(s.PatientSummary))
		if err != nil {
			return Update{}, fmt.Errorf("render advice request: %w", err)
		}
		req.Messages = []llm.Message{llm.UserMessage(content)}
	} else {
		req.Messages = dialogue(s.Messages)
	}

	resp, err := w.models.Medical.Complete(ctx, req)
	if err != nil {
		return Update{}, fmt.Errorf("advise: %w", err)
	}
	return Update{
		Messages: []llm.Message{llm.AssistantMessage(resp.Content)},
		Advice:   ptr(resp.Content),
	}, nil
}

// routeDecision leaves the question loop when the patient asked to skip it,
// the classifier chose ADVICE, or the question budget is spent.
func (w *workflow) routeDecision(_ flowgraph.Context, s State) string {
	if s.SkipToAdvice || s.DecisionResult == DecisionAdvice || s.QuestionCount >= w.maxQuestions {
		return NodeSummary
	}
	return NodeQuestion
}

// routeAfterQuestion ends the turn so the patient can answer, unless the
// patient asked to skip ahead or the question budget is spent.
func (w *workflow) routeAfterQuestion(_ flowgraph.Context, s State) string {
	if s.SkipToAdvice || s.QuestionCount >= w.maxQuestions {
		return NodeSummary
	}
	return flowgraph.END
}
