package export

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"math"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/kalambet/rat/internal/domain"
)

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

type transcriptEntry struct {
	Role      string
	Type      string
	CreatedAt string
	Text      string
	HTML      template.HTML
	Analysis  *analysisView
}

type flowSection struct {
	Title string
	Steps []domain.FlowStep
}

type namedSection struct {
	Title string
	Flows []domain.NamedFlow
}

type suggestedView struct {
	AppName   string
	Percent   int
	Reasoning string
}

type analysisView struct {
	Requirement        string
	SuggestedApps      []suggestedView
	Flows              []flowSection
	NamedFlows         []namedSection
	AcceptanceCriteria []string
	Risks              []string
	Notes              string
}

func newAnalysisView(ra domain.RequirementAnalysis) *analysisView {
	v := &analysisView{
		Requirement:        ra.Requirement,
		AcceptanceCriteria: ra.AcceptanceCriteria,
		Risks:              ra.Risks,
		Notes:              ra.Notes,
	}
	for _, s := range ra.SuggestedApps {
		v.SuggestedApps = append(v.SuggestedApps, suggestedView{
			AppName:   s.AppName,
			Percent:   int(math.Round(s.Confidence * 100)),
			Reasoning: s.Reasoning,
		})
	}
	if len(ra.MainFlow) > 0 {
		v.Flows = append(v.Flows, flowSection{Title: "Main flow", Steps: ra.MainFlow})
	}
	if len(ra.UnhappyFlow) > 0 {
		v.Flows = append(v.Flows, flowSection{Title: "Unhappy flow", Steps: ra.UnhappyFlow})
	}
	if len(ra.AlternateFlows) > 0 {
		v.NamedFlows = append(v.NamedFlows, namedSection{Title: "Alternate flows", Flows: ra.AlternateFlows})
	}
	if len(ra.NegativeFlows) > 0 {
		v.NamedFlows = append(v.NamedFlows, namedSection{Title: "Negative flows", Flows: ra.NegativeFlows})
	}
	return v
}

var transcriptTmpl = template.Must(template.New("transcript").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="UTF-8">
<title>{{.Title}}</title>
<style>
body { font-family: 'Segoe UI', Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 0 auto; padding: 40px 20px; color: #333; }
.message { border-radius: 12px; padding: 12px 16px; margin: 16px 0; }
.user { background: #eef4ff; }
.ai { background: #f6f6f6; }
.meta { color: #888; font-size: 12px; }
.text { white-space: pre-wrap; }
table { border-collapse: collapse; }
th, td { border: 1px solid #ddd; padding: 6px 10px; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
{{range .Entries}}<article class="message {{.Role}}" data-type="{{.Type}}">
<p class="meta">{{.Role}} · {{.Type}}{{if .CreatedAt}} · {{.CreatedAt}}{{end}}</p>
{{if .Analysis}}{{with .Analysis}}<section class="analysis">
{{if .Requirement}}<h2>Requirement</h2>
<p>{{.Requirement}}</p>
{{end}}{{if .SuggestedApps}}<h2>Suggested apps</h2>
<ul class="suggested-apps">
{{range .SuggestedApps}}<li><strong>{{.AppName}}</strong> ({{.Percent}}%){{if .Reasoning}}: {{.Reasoning}}{{end}}</li>
{{end}}</ul>
{{end}}{{range .Flows}}<h2>{{.Title}}</h2>
<ol>
{{range .Steps}}<li>{{if .Actor}}<strong>{{.Actor}}</strong>: {{end}}{{.Description}}</li>
{{end}}</ol>
{{end}}{{range .NamedFlows}}<h2>{{.Title}}</h2>
{{range .Flows}}<h3>{{.Name}}</h3>
<ol>
{{range .Steps}}<li>{{if .Actor}}<strong>{{.Actor}}</strong>: {{end}}{{.Description}}</li>
{{end}}</ol>
{{end}}{{end}}{{if .AcceptanceCriteria}}<h2>Acceptance criteria</h2>
<ul>
{{range .AcceptanceCriteria}}<li>{{.}}</li>
{{end}}</ul>
{{end}}{{if .Risks}}<h2>Risks</h2>
<ul>
{{range .Risks}}<li>{{.}}</li>
{{end}}</ul>
{{end}}{{if .Notes}}<h2>Notes</h2>
<p>{{.Notes}}</p>
{{end}}</section>
{{end}}{{else if .HTML}}<div class="markdown">{{.HTML}}</div>
{{else}}<p class="text">{{.Text}}</p>
{{end}}</article>
{{end}}</body>
</html>
`))

// RenderTranscript writes messages as a standalone HTML document. Answers are
// rendered as GitHub-flavored markdown and analyses as sectioned lists; user
// messages and anything undecodable are shown as escaped text.
func RenderTranscript(w io.Writer, title string, messages []domain.Message) error {
	entries := make([]transcriptEntry, 0, len(messages))
	for _, m := range messages {
		e := transcriptEntry{
			Role:      string(m.Role),
			Type:      m.Message.Type,
			CreatedAt: m.CreatedAt,
			Text:      m.Message.Text(),
		}
		switch m.Message.Type {
		case domain.TypeRequirementAnalysis:
			if ra, err := m.Message.Analysis(); err == nil {
				e.Analysis = newAnalysisView(ra)
			}
		case domain.TypeAnswer:
			var buf bytes.Buffer
			if err := markdown.Convert([]byte(e.Text), &buf); err != nil {
				return fmt.Errorf("rendering message %d: %w", m.ID, err)
			}
			// goldmark drops raw HTML unless WithUnsafe is set.
			e.HTML = template.HTML(buf.String())
		}
		entries = append(entries, e)
	}

	data := struct {
		Title   string
		Entries []transcriptEntry
	}{Title: title, Entries: entries}
	if err := transcriptTmpl.Execute(w, data); err != nil {
		return fmt.Errorf("rendering transcript: %w", err)
	}
	return nil
}
