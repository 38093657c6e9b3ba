package email

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"
)

// RejectionNotice tells the ship contact that a submitted document was
// turned down.
type RejectionNotice struct {
	VesselName   string
	PortName     string
	RequestID    string
	DocumentName string
	Reason       string
	ReviewedBy   string
	RequestURL   string
}

// ShareNotice carries a pre-arrival pack link to external recipients.
type ShareNotice struct {
	VesselName  string
	PortName    string
	RequestID   string
	DownloadURL string
	Files       int
	ExpiresAt   time.Time
	SenderName  string
}

// SendRejectionNotice mails the rejection reason to the ship contact.
func (s *Service) SendRejectionNotice(to string, n RejectionNotice) error {
	if strings.TrimSpace(to) == "" {
		return fmt.Errorf("rejection notice: no recipient")
	}
	subject := fmt.Sprintf("%s rejected for %s (%s)", n.DocumentName, n.VesselName, n.RequestID)
	text := fmt.Sprintf("%s for %s at %s was rejected.\r\nReason: %s\r\nPlease upload a corrected copy.",
		n.DocumentName, n.VesselName, n.PortName, n.Reason)
	if n.RequestURL != "" {
		text += "\r\n" + n.RequestURL
	}
	html, err := renderTemplate(rejectionEmailTemplate, n)
	if err != nil {
		return fmt.Errorf("render rejection template: %w", err)
	}
	return s.SendHTMLEmail([]string{to}, subject, text, html)
}

// SendShareLink mails the pack download link to every recipient.
func (s *Service) SendShareLink(to []string, n ShareNotice) error {
	recipients := make([]string, 0, len(to))
	for _, addr := range to {
		if addr = strings.TrimSpace(addr); addr != "" {
			recipients = append(recipients, addr)
		}
	}
	if len(recipients) == 0 {
		return fmt.Errorf("share link: no recipients")
	}
	subject := fmt.Sprintf("Pre-arrival documents: %s (%s)", n.VesselName, n.RequestID)
	text := fmt.Sprintf("Pre-arrival documents for %s at %s.\r\nDownload: %s", n.VesselName, n.PortName, n.DownloadURL)
	html, err := renderTemplate(shareEmailTemplate, n)
	if err != nil {
		return fmt.Errorf("render share template: %w", err)
	}
	return s.SendHTMLEmail(recipients, subject, text, html)
}

func renderTemplate(tmpl string, data interface{}) (string, error) {
	t, err := template.New("email").Parse(tmpl)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const emailStyle = `
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #0066cc; padding-bottom: 10px; margin-bottom: 20px; }
        .button { display: inline-block; padding: 12px 24px; background: #0066cc; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .reason { background: #fff3cd; padding: 12px; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
        .link { word-break: break-all; color: #0066cc; }`

const rejectionEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>{{.DocumentName}} rejected</title>
    <style>` + emailStyle + `</style>
</head>
<body>
    <div class="header">
        <h1>{{.VesselName}} at {{.PortName}}</h1>
    </div>
    <p>The {{.DocumentName}} submitted for request {{.RequestID}} was rejected{{if .ReviewedBy}} by {{.ReviewedBy}}{{end}}.</p>
    <div class="reason"><strong>Reason:</strong> {{.Reason}}</div>
    <p>Please upload a corrected copy.</p>
    {{if .RequestURL}}<p><a href="{{.RequestURL}}" class="button">Open request</a></p>{{end}}
</body>
</html>`

const shareEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Pre-arrival documents</title>
    <style>` + emailStyle + `</style>
</head>
<body>
    <div class="header">
        <h1>{{.VesselName}} at {{.PortName}}</h1>
    </div>
    <p>{{if .SenderName}}{{.SenderName}} shared{{else}}Here are{{end}} the approved pre-arrival documents for request {{.RequestID}} ({{.Files}} files).</p>
    <p><a href="{{.DownloadURL}}" class="button">Download pack</a></p>
    <p class="link">{{.DownloadURL}}</p>
    {{if not .ExpiresAt.IsZero}}<div class="footer"><p>This link expires on {{.ExpiresAt.UTC.Format "Jan 2, 2006 15:04"}} UTC.</p></div>{{end}}
</body>
</html>`
