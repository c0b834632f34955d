package ai

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/doeshing/hostq/internal/domain"
)

const evidenceLimit = 4000

// templateData is what prompt templates (built-in and model.Prompt) can reference.
//
// Template Variables Available:
//   - {{.Question}}, {{.Intent}}, {{.Subject}}: the classified question
//   - {{.Hostname}}, {{.OS}}, {{.Arch}}, {{.Kernel}}, {{.CPUCount}}, {{.Tools}}: host facts
//   - {{.Catalog}}: one line per allow-listed probe
//   - {{.Evidence}}, {{.Failed}}: gathered probe results
//   - {{.Iteration}}, {{.Feedback}}: loop state for the drafting actor
//   - {{.Draft}}, {{.Confidence}}, {{.Citations}}: the draft under audit
type templateData struct {
	Question   string
	Intent     string
	Subject    string
	Hostname   string
	OS         string
	Arch       string
	Kernel     string
	CPUCount   int
	Tools      string
	Catalog    string
	Evidence   string
	Failed     string
	Iteration  int
	Feedback   string
	Draft      string
	Confidence float64
	Citations  string
}

func renderPlanMessages(model domain.ModelDefinition, req domain.PlanRequest) ([]domain.PromptMessage, error) {
	data := baseTemplateData(req.Question, req.Host, req.Catalog, req.Evidence)
	data.Iteration = req.Iteration
	data.Feedback = req.Feedback
	return renderPromptMessages(model, planSystemPrompt, planUserPrompt, data)
}

func renderAuditMessages(model domain.ModelDefinition, req domain.AuditRequest) ([]domain.PromptMessage, error) {
	data := baseTemplateData(req.Question, req.Host, req.Catalog, req.Evidence)
	data.Draft = req.Draft.Text
	data.Confidence = req.Draft.Confidence
	data.Citations = strings.Join(req.Draft.Citations, ", ")
	return renderPromptMessages(model, auditSystemPrompt, auditUserPrompt, data)
}

// renderPromptMessages puts the role's system prompt first, then any
// model-specific prompt messages, and ensures a user message exists.
func renderPromptMessages(model domain.ModelDefinition, system, user string, data templateData) ([]domain.PromptMessage, error) {
	messages := []domain.PromptMessage{{Role: "system", Content: system}}
	messages = append(messages, model.Prompt...)

	rendered := make([]domain.PromptMessage, 0, len(messages)+1)
	for _, msg := range messages {
		content, err := executeTemplate(msg.Content, data)
		if err != nil {
			return nil, err
		}
		rendered = append(rendered, domain.PromptMessage{
			Role:    msg.Role,
			Content: strings.TrimSpace(content),
		})
	}

	if !hasUserMessage(rendered) {
		content, err := executeTemplate(user, data)
		if err != nil {
			return nil, err
		}
		rendered = append(rendered, domain.PromptMessage{
			Role:    "user",
			Content: strings.TrimSpace(content),
		})
	}
	return rendered, nil
}

func baseTemplateData(q domain.Question, host domain.HostSnapshot, catalog []domain.ProbeSpec, evidence domain.Evidence) templateData {
	return templateData{
		Question: q.Text,
		Intent:   string(q.Intent),
		Subject:  q.Subject,
		Hostname: host.Hostname,
		OS:       host.OS,
		Arch:     host.Arch,
		Kernel:   host.Kernel,
		CPUCount: host.CPUCount,
		Tools:    strings.Join(host.AvailableTools, ", "),
		Catalog:  catalogSummary(catalog),
		Evidence: evidence.Summary(evidenceLimit),
		Failed:   failedSummary(evidence),
	}
}

func catalogSummary(specs []domain.ProbeSpec) string {
	lines := make([]string, 0, len(specs))
	for _, spec := range specs {
		line := "- " + spec.ID
		if len(spec.Params) > 0 {
			names := make([]string, 0, len(spec.Params))
			for name := range spec.Params {
				names = append(names, name+"=<"+name+">")
			}
			sort.Strings(names)
			line += " " + strings.Join(names, " ")
		}
		if spec.Description != "" {
			line += ": " + spec.Description
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func failedSummary(evidence domain.Evidence) string {
	var lines []string
	for _, r := range evidence {
		if r.Success {
			continue
		}
		lines = append(lines, fmt.Sprintf("- %s: %s", r.ProbeID, r.Error))
	}
	return strings.Join(lines, "\n")
}

func executeTemplate(raw string, data templateData) (string, error) {
	tmpl, err := template.New("prompt").Parse(raw)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func hasUserMessage(messages []domain.PromptMessage) bool {
	for _, msg := range messages {
		if strings.EqualFold(msg.Role, "user") {
			return true
		}
	}
	return false
}

const planSystemPrompt = `You are the drafting actor of hostq, a daemon that answers questions about the host it runs on.
You never run commands yourself. You may only ask for probes from the catalog below, and every
fact in your answer must come from gathered evidence.

Host: {{.Hostname}} ({{.OS}}/{{.Arch}}{{if .Kernel}}, kernel {{.Kernel}}{{end}}, {{.CPUCount}} CPUs)
{{if .Tools}}Tools: {{.Tools}}{{end}}

Probe catalog (use "id key=value" to pass parameters):
{{.Catalog}}

Reply with exactly one JSON object and nothing else, in one of these two shapes:
{"action":"request_probes","probes":["probe.id","probe.id key=value"],"reason":"why"}
{"action":"draft","text":"answer for the user","confidence":0.0,"citations":["probe.id"]}
confidence is between 0 and 1.`

const planUserPrompt = `Question: {{.Question}}
Intent: {{.Intent}}{{if .Subject}}
Subject: {{.Subject}}{{end}}
Round: {{.Iteration}}

Evidence so far:
{{if .Evidence}}{{.Evidence}}{{else}}(none){{end}}
{{if .Failed}}
Failed probes:
{{.Failed}}
{{end}}{{if .Feedback}}
Note: {{.Feedback}}
{{end}}`

const auditSystemPrompt = `You are the auditing actor of hostq. You check a drafted answer about the host against the
gathered evidence. Penalise any claim the evidence does not support.

Probe catalog:
{{.Catalog}}

Reply with exactly one JSON object and nothing else:
{"verdict":"approve|fix_and_accept|needs_more_evidence|refuse",
 "scores":{"evidence":0.0,"reasoning":0.0,"coverage":0.0},
 "fixed_answer":"corrected text when verdict is fix_and_accept",
 "probes":["probe.id"],
 "reason":"short justification"}
Scores are between 0 and 1. Request probes only with needs_more_evidence.`

const auditUserPrompt = `Question: {{.Question}}
Intent: {{.Intent}}

Draft (self-reported confidence {{printf "%.2f" .Confidence}}):
{{.Draft}}
{{if .Citations}}Cited: {{.Citations}}
{{end}}
Evidence:
{{if .Evidence}}{{.Evidence}}{{else}}(none){{end}}
{{if .Failed}}
Failed probes:
{{.Failed}}
{{end}}`
