package consult

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/randalmurphal/medconsult/pkg/flowgraph/template"
)

//go:embed prompts.yaml
var defaultPromptsYAML []byte

// Prompts holds every fixed instruction the workflow sends.
type Prompts struct {
	Welcome           string `yaml:"welcome"`
	Decision          string `yaml:"decision"`
	Questioner        string `yaml:"questioner"`
	Summary           string `yaml:"summary"`
	ReviewInstruction string `yaml:"review_instruction"`
	AdviceSystem      string `yaml:"advice_system"`
	// AdviceRequest is rendered with ${summary} set to the cleaned summary.
	AdviceRequest string `yaml:"advice_request"`
}

// DefaultPrompts returns the embedded prompt set.
func DefaultPrompts() Prompts {
	var p Prompts
	if err := yaml.Unmarshal(defaultPromptsYAML, &p); err != nil {
		panic(fmt.Sprintf("consult: embedded prompts: %v", err))
	}
	return p
}

// LoadPrompts reads a YAML prompt file. Fields the file omits keep their
// default value. An empty path returns the defaults.
func LoadPrompts(path string) (Prompts, error) {
	p := DefaultPrompts()
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Prompts{}, fmt.Errorf("read prompts: %w", err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Prompts{}, fmt.Errorf("parse prompts %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return Prompts{}, fmt.Errorf("prompts %s: %w", path, err)
	}
	return p, nil
}

// Validate checks that every prompt is set and that AdviceRequest uses
// only the ${summary} placeholder.
func (p Prompts) Validate() error {
	required := []struct {
		name, value string
	}{
		{"decision", p.Decision},
		{"questioner", p.Questioner},
		{"summary", p.Summary},
		{"review_instruction", p.ReviewInstruction},
		{"advice_system", p.AdviceSystem},
		{"advice_request", p.AdviceRequest},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("%s prompt is empty", r.name)
		}
	}

	for _, name := range template.Placeholders(p.AdviceRequest) {
		if name != "summary" {
			return fmt.Errorf("advice_request: unknown placeholder ${%s}", name)
		}
	}
	return nil
}

var adviceExpander = template.NewExpander(template.WithMissingAction(template.MissingError))

// adviceRequest renders the user turn that carries the reviewed summary.
func (p Prompts) adviceRequest(summary string) (string, error) {
	return adviceExpander.Expand(p.AdviceRequest, map[string]string{"summary": summary})
}
