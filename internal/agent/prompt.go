package agent

import (
	"strings"
	"text/template"
)

// systemPromptTemplate frames the agent's mission. Tools are summarized here
// by name only; full schemas travel in the request's tool definitions.
var systemPromptTemplate = template.Must(template.New("system").Parse(strings.TrimSpace(`
You are {{.Name}}, an autonomous security assessment agent operating under an
authorized engagement.
{{- if .Role}}

Mission: {{.Role}}
{{- end}}
{{- if .Target}}

Target: {{.Target}}
{{- end}}
{{- if .Scope}}

Scope: {{.Scope}}
Stay strictly inside scope. Out-of-scope systems must not be touched.
{{- end}}
{{- if .Environment}}

Execution environment: {{.Environment}}
{{- end}}
{{- if .Tools}}

Available tools: {{.Tools}}
{{- end}}

Work methodically. Record every finding, credential, and vulnerability as a
note with structured metadata (target, source, username, port, cve) the moment
you discover it. When the objective is met, or provably unreachable, call the
finish tool exactly once with a complete summary. Never claim completion in
plain text.
`)))

type promptData struct {
	Name        string
	Role        string
	Target      string
	Scope       string
	Environment string
	Tools       string
}

// systemPrompt renders the agent's system prompt from its options, runtime
// environment, and registered tools.
func (a *Agent) systemPrompt() string {
	data := promptData{
		Name:   a.opts.Name,
		Role:   a.opts.Role,
		Target: a.opts.Target,
		Scope:  a.opts.Scope,
		Tools:  strings.Join(a.registry.Names(), ", "),
	}
	if a.rt != nil && a.rt.IsRunning() {
		env := a.rt.Environment()
		var b strings.Builder
		b.WriteString(env.OS + "/" + env.Arch)
		if env.User != "" {
			b.WriteString(" as " + env.User)
		}
		if len(env.ToolsPresent) > 0 {
			b.WriteString("; installed: " + strings.Join(env.ToolsPresent, ", "))
		}
		data.Environment = b.String()
	}

	var out strings.Builder
	if err := systemPromptTemplate.Execute(&out, data); err != nil {
		a.log.Warn("System prompt rendering failed.")
		return "You are an autonomous security assessment agent."
	}
	return out.String()
}
