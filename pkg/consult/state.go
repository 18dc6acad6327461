package consult

import (
	"slices"

	"github.com/randalmurphal/medconsult/pkg/flowgraph/llm"
)

// Decision is the classifier's routing verdict.
type Decision string

// Decision values.
const (
	DecisionQuestion Decision = "QUESTION"
	DecisionAdvice   Decision = "ADVICE"
)

// State is the conversation state of one session.
type State struct {
	Messages       []llm.Message `json:"messages"`
	QuestionCount  int           `json:"question_count"`
	SkipToAdvice   bool          `json:"skip_to_advice"`
	PatientSummary string        `json:"patient_summary,omitempty"`
	DecisionResult Decision      `json:"decision_result,omitempty"`
	Advice         string        `json:"advice,omitempty"`
}

// Update is a node's partial change to State. Messages are appended; every
// non-nil pointer field replaces the current value.
type Update struct {
	Messages       []llm.Message `json:"messages,omitempty"`
	QuestionCount  *int          `json:"question_count,omitempty"`
	SkipToAdvice   *bool         `json:"skip_to_advice,omitempty"`
	PatientSummary *string       `json:"patient_summary,omitempty"`
	DecisionResult *Decision     `json:"decision_result,omitempty"`
	Advice         *string       `json:"advice,omitempty"`
}

// Merge applies u to s. It never shortens s.Messages and never aliases
// the backing array of the input state.
func Merge(s State, u Update) State {
	if len(u.Messages) > 0 {
		s.Messages = append(slices.Clip(s.Messages), u.Messages...)
	}
	if u.QuestionCount != nil {
		s.QuestionCount = *u.QuestionCount
	}
	if u.SkipToAdvice != nil {
		s.SkipToAdvice = *u.SkipToAdvice
	}
	if u.PatientSummary != nil {
		s.PatientSummary = *u.PatientSummary
	}
	if u.DecisionResult != nil {
		s.DecisionResult = *u.DecisionResult
	}
	if u.Advice != nil {
		s.Advice = *u.Advice
	}
	return s
}

// AssistantText returns the contents of the plain assistant turns in the
// update, in order.
func (u Update) AssistantText() []string {
	var out []string
	for _, m := range u.Messages {
		if m.Role == llm.RoleAssistant && len(m.ToolCalls) == 0 && m.Content != "" {
			out = append(out, m.Content)
		}
	}
	return out
}

// continueTurn is appended when the history ends on an assistant turn so the
// model always answers a user turn.
const continueTurn = "[continue analysis]"

// dialogue returns the user and assistant turns of history, ending with a
// user turn.
func dialogue(history []llm.Message) []llm.Message {
	out := make([]llm.Message, 0, len(history)+1)
	for _, m := range history {
		if m.IsDialogue() {
			out = append(out, llm.Message{Role: m.Role, Content: m.Content})
		}
	}
	if n := len(out); n > 0 && out[n-1].Role == llm.RoleAssistant {
		out = append(out, llm.UserMessage(continueTurn))
	}
	return out
}

func ptr[T any](v T) *T {
	return &v
}
