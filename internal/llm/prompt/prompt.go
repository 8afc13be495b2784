// Package prompt renders the system and user prompts for each workflow stage.
package prompt

import (
	"embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/linnemanlabs/warden/internal/workflow"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var templates = template.Must(template.New("prompt").Option("missingkey=error").ParseFS(templateFS, "templates/*.tmpl"))

// Prompt is the rendered input for one reasoner call.
type Prompt struct {
	System      string
	Human       string
	Temperature float64
}

var temperatures = map[workflow.Stage]float64{
	workflow.StageTriage:        0.1,
	workflow.StageInvestigation: 0.3,
	workflow.StageDecision:      0.1,
	workflow.StageResponse:      0.2,
}

// Temperature returns the sampling temperature used for stage.
func Temperature(stage workflow.Stage) float64 {
	return temperatures[stage]
}

// Render executes the templates for stage. A variable missing from vars is
// an error rather than an empty substitution.
func Render(stage workflow.Stage, vars workflow.Variables) (*Prompt, error) {
	if _, ok := temperatures[stage]; !ok {
		return nil, fmt.Errorf("prompt: unknown stage %q", stage)
	}

	system, err := execute("system_"+string(stage), vars)
	if err != nil {
		return nil, err
	}
	human, err := execute("human_"+string(stage), vars)
	if err != nil {
		return nil, err
	}
	return &Prompt{System: system, Human: human, Temperature: Temperature(stage)}, nil
}

func execute(name string, vars workflow.Variables) (string, error) {
	var b strings.Builder
	if err := templates.ExecuteTemplate(&b, name, map[string]string(vars)); err != nil {
		return "", fmt.Errorf("prompt: render %s: %w", name, err)
	}
	return b.String(), nil
}
