package export

import (
	"bytes"
	"html/template"
	"strings"
	"time"
)

var reportTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"lower": strings.ToLower,
	"formatDate": func(t time.Time, layout string) string {
		if t.IsZero() {
			return ""
		}
		return t.UTC().Format(layout)
	},
	"statusLabel": statusLabel,
}).Parse(reportHTML))

func statusLabel(status string) string {
	switch status {
	case "pending_review":
		return "Pending review"
	case "approved":
		return "Approved"
	case "rejected":
		return "Rejected"
	default:
		return "Not submitted"
	}
}

type reportView struct {
	Report
	Approved int
	Rejected int
	Pending  int
	Missing  int
}

// RenderReportHTML renders the report template.
func RenderReportHTML(report Report) (string, error) {
	view := reportView{Report: report}
	for _, row := range report.Rows {
		switch row.Status {
		case "approved":
			view.Approved++
		case "rejected":
			view.Rejected++
		case "pending_review":
			view.Pending++
		default:
			view.Missing++
		}
	}
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, view); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const reportHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>Pre-arrival compliance {{.RequestID}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.5; max-width: 900px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 1.5rem; }
    table { border-collapse: collapse; width: 100%; }
    th, td { border: 1px solid #ccc; padding: 0.4rem; text-align: left; vertical-align: top; }
    .approved { color: #1a7f37; } .rejected { color: #cf222e; } .pending_review { color: #9a6700; }
    .log { font-size: 0.85em; color: #444; margin: 0; padding-left: 1rem; }
  </style>
</head>
<body>
  <h1>Pre-arrival compliance: {{.VesselName}}</h1>
  <div class="meta">Request {{.RequestID}} | Port {{.PortName}}{{if .ETA}} | ETA {{formatDate .ETA.UTC "Jan 2, 2006 15:04"}}{{end}} | Generated {{formatDate .GeneratedAt "Jan 2, 2006 15:04"}} UTC{{if .GeneratedBy}} by {{.GeneratedBy}}{{end}}</div>
  <p>{{.Approved}} approved, {{.Pending}} pending review, {{.Rejected}} rejected, {{.Missing}} not submitted.</p>
  <table>
    <tr><th>Document</th><th>Owner</th><th>Status</th><th>File</th><th>Remarks</th></tr>
    {{range .Rows}}
    <tr>
      <td>{{.DisplayName}}</td>
      <td>{{.Owner}}</td>
      <td class="{{lower .Status}}">{{statusLabel .Status}}</td>
      <td>{{.FileName}}</td>
      <td>
        {{if .RejectionReason}}<strong>Rejected:</strong> {{.RejectionReason}}<br>{{end}}
        {{if .Note}}<em>Note:</em> {{.Note}}{{end}}
        {{if .History}}<ul class="log">{{range .History}}<li>{{formatDate .CreatedAt "Jan 2 15:04"}} {{.Role}} {{.Kind}}: {{.Message}}</li>{{end}}</ul>{{end}}
      </td>
    </tr>
    {{end}}
  </table>
</body>
</html>`
