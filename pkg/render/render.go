// Package render turns conversations into markdown and system prompts into
// their final text. Both use text/template with the sprig function map.
package render

import (
	"bytes"
	"strings"
	"text/template"
	"time"

	"github.com/Masterminds/sprig"
	"github.com/charmbracelet/glamour"
	"github.com/go-go-golems/chatsync/pkg/chat"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// PromptData is what a system prompt template can refer to.
type PromptData struct {
	Conversation chat.Conversation
	Now          time.Time
}

// SystemPrompt renders prompt content as a template. Content that fails to
// parse or execute is returned unchanged, prompts are user text first.
func SystemPrompt(content string, data PromptData) string {
	if !strings.Contains(content, "{{") {
		return content
	}
	tmpl, err := template.New("system-prompt").Funcs(sprig.TxtFuncMap()).Parse(content)
	if err != nil {
		log.Debug().Err(err).Msg("System prompt is not a valid template, using it verbatim")
		return content
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		log.Debug().Err(err).Msg("Could not render system prompt, using it verbatim")
		return content
	}
	return buf.String()
}

type Renderer struct {
	// Concise drops message ids and timestamps.
	Concise     bool
	RenameRoles map[string]string
}

const conversationTemplate = `# {{.Title}}
{{if not $.Concise}}
- **ID**: {{.ID}}
- **Created**: {{.CreatedAt | date "2006-01-02 15:04:05"}}
{{end}}
{{range .Messages -}}
{{if $.Concise -}}
**{{roleName .Role}}**: {{.Content}}
{{- else -}}
### {{roleName .Role | title}}

- **ID**: {{.ID}}
- **At**: {{.CreatedAt | date "15:04:05"}}

{{.Content}}
{{- end}}

---

{{end -}}
`

// Markdown renders a conversation as a markdown document.
func (r *Renderer) Markdown(c chat.Conversation) (string, error) {
	funcs := sprig.TxtFuncMap()
	funcs["roleName"] = func(role chat.Role) string {
		if name, ok := r.RenameRoles[string(role)]; ok {
			return name
		}
		return string(role)
	}
	data := struct {
		chat.Conversation
		Concise bool
	}{c, r.Concise}

	tmpl, err := template.New("conversation").Funcs(funcs).Parse(conversationTemplate)
	if err != nil {
		return "", errors.Wrap(err, "parsing conversation template")
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", errors.Wrap(err, "rendering conversation")
	}
	return buf.String(), nil
}

// Terminal styles markdown for a terminal.
func Terminal(markdown string, style string) (string, error) {
	if style == "" {
		style = "dark"
	}
	styled, err := glamour.Render(markdown, style)
	if err != nil {
		return "", errors.Wrap(err, "styling markdown")
	}
	return styled, nil
}
