// ABOUTME: HTML exporter for recorded ACP sessions using Go html/template
// ABOUTME: Renders prompts, replies, plans, and tool calls as a styled page; thoughts collapse into <details>

package export

import (
	"html/template"
	"io"
	"strings"

	"github.com/mauromedda/acp-engine-go/internal/transcript"
)

// HTML renders records as a styled HTML document to w.
// The output uses a dark theme with role-specific color indicators:
// user (blue), assistant (green), tool and plan (gray).
func HTML(records []transcript.Record, w io.Writer) error {
	return htmlTmpl.Execute(w, Fold(records))
}

// escapeNewlines converts newlines to <br> for HTML rendering.
func escapeNewlines(s string) template.HTML {
	escaped := template.HTMLEscapeString(s)
	return template.HTML(strings.ReplaceAll(escaped, "\n", "<br>\n"))
}

func planMark(status string) string {
	switch status {
	case "completed":
		return "✓"
	case "in_progress":
		return "…"
	default:
		return "○"
	}
}

var funcMap = template.FuncMap{
	"escapeNewlines": escapeNewlines,
	"planMark":       planMark,
	"stopLabel":      stopLabel,
}

var htmlTmpl = template.Must(template.New("session").Funcs(funcMap).Parse(htmlTemplate))

const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>ACP Session {{ .Start.ID }}</title>
<style>
  * { margin: 0; padding: 0; box-sizing: border-box; }
  body {
    background: #1e1e2e;
    color: #cdd6f4;
    font-family: 'SF Mono', 'Cascadia Code', 'Fira Code', monospace;
    font-size: 14px;
    line-height: 1.6;
    padding: 24px;
    max-width: 900px;
    margin: 0 auto;
  }
  header { margin-bottom: 24px; color: #9399b2; font-size: 12px; }
  header h1 { color: #cdd6f4; font-size: 16px; }
  .message {
    margin-bottom: 16px;
    padding: 12px 16px;
    border-radius: 8px;
    border-left: 4px solid;
  }
  .message.user { border-left-color: #89b4fa; }
  .message.assistant { border-left-color: #a6e3a1; }
  .message.tool, .message.plan { border-left-color: #9399b2; background: #313244; }
  .message.failed { border-left-color: #f38ba8; }
  .role-badge {
    display: inline-block;
    font-size: 11px;
    font-weight: 600;
    text-transform: uppercase;
    letter-spacing: 0.5px;
    padding: 2px 8px;
    border-radius: 4px;
    margin-bottom: 8px;
  }
  .user .role-badge { background: #89b4fa22; color: #89b4fa; }
  .assistant .role-badge { background: #a6e3a122; color: #a6e3a1; }
  .tool .role-badge, .plan .role-badge { background: #9399b222; color: #9399b2; }
  .content-block { margin-top: 8px; }
  .tool-name { color: #cba6f7; font-weight: 600; }
  .tool-status, .stop-reason { color: #9399b2; font-size: 12px; }
  .location { color: #a6adc8; font-size: 12px; word-break: break-all; }
  .error { color: #f38ba8; margin-top: 8px; }
  details { margin-top: 8px; }
  details summary { cursor: pointer; color: #9399b2; font-size: 12px; font-weight: 600; }
  details .thought { margin-top: 8px; color: #a6adc8; font-size: 12px; white-space: pre-wrap; }
</style>
</head>
<body>
<header>
  <h1>Session {{ .Start.ID }}</h1>
  {{- if .Start.Agent }}<div>agent: {{ .Start.Agent }}{{ if .Start.Profile }} ({{ .Start.Profile }}){{ end }}</div>{{ end }}
  {{- if .Start.CWD }}<div>directory: {{ .Start.CWD }}</div>{{ end }}
</header>
{{- range .Entries }}
<div class="message {{ .Role }}{{ if .Failed }} failed{{ end }}">
  <span class="role-badge">{{ .Role }}</span>
  {{- if eq .Role "tool" }}
  <div><span class="tool-name">[{{ .Tool.Kind }}] {{ if .Tool.Title }}{{ .Tool.Title }}{{ else }}{{ .Tool.ID }}{{ end }}</span> <span class="tool-status">{{ .Tool.Status }}</span></div>
    {{- range .Tool.Locations }}
  <div class="location">{{ . }}</div>
    {{- end }}
  {{- else if eq .Role "plan" }}
    {{- range .Plan }}
  <div>{{ planMark .Status }} {{ .Content }}</div>
    {{- end }}
  {{- else }}
    {{- if .Thought }}
  <details>
    <summary>Thinking</summary>
    <div class="thought">{{ .Thought }}</div>
  </details>
    {{- end }}
  <div class="content-block">{{ escapeNewlines .Text }}</div>
    {{- if .Error }}
  <div class="error">error: {{ .Error }}</div>
    {{- else if stopLabel .StopReason }}
  <div class="stop-reason">({{ stopLabel .StopReason }})</div>
    {{- end }}
  {{- end }}
</div>
{{- end }}
</body>
</html>
`
