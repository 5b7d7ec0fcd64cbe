// Package notify renders operator notifications for failed runs.
package notify

import (
	"fmt"
	"html"
	"strings"

	"finrep/internal/domain"
)

// Message is a rendered notification.
type Message struct {
	Subject string
	Text    string
	HTML    string
}

// maxListedErrors caps how many run errors a message lists.
const maxListedErrors = 10

// Build renders the notification for a run that failed or violated its gate.
// dashboardURL may be empty.
func Build(result *domain.RunResult, dashboardURL string) Message {
	label := "failed"
	if result.Status == domain.DocumentStatusGateFailed {
		label = "failed the reference gate"
	}
	subject := fmt.Sprintf("[finrep] %s %s", result.DocumentID, label)

	var runURL string
	if dashboardURL != "" {
		runURL = fmt.Sprintf("%s/api/v1/runs/%s", strings.TrimRight(dashboardURL, "/"), result.RunID)
	}

	var text strings.Builder
	fmt.Fprintf(&text, "Document: %s\nReference: %s\nRun: %s\nStatus: %s\n", result.DocumentID, result.DocumentRef, result.RunID, result.Status)
	if g := result.Gate; g != nil {
		fmt.Fprintf(&text, "Gate: %d checked, %d violations\n", g.Checked, len(g.Violations))
		for _, v := range g.Violations {
			fmt.Fprintf(&text, "  - %s: %s\n", v.Field, v.Message)
		}
	}
	var lines []string
	for i, e := range result.Errors {
		if i == maxListedErrors {
			lines = append(lines, fmt.Sprintf("... and %d more", len(result.Errors)-maxListedErrors))
			break
		}
		lines = append(lines, fmt.Sprintf("[%s] %s", e.Kind, e.Message))
	}
	if len(lines) > 0 {
		text.WriteString("Errors:\n")
		for _, l := range lines {
			text.WriteString("  " + l + "\n")
		}
	}
	if runURL != "" {
		fmt.Fprintf(&text, "\nDetails: %s\n", runURL)
	}

	var body strings.Builder
	body.WriteString(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"></head>
<body style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px;">
`)
	fmt.Fprintf(&body, "  <h2 style=\"color: #333;\">%s</h2>\n", html.EscapeString(subject))
	fmt.Fprintf(&body, "  <pre style=\"white-space: pre-wrap; color: #444;\">%s</pre>\n", html.EscapeString(text.String()))
	body.WriteString("</body>\n</html>")

	return Message{Subject: subject, Text: text.String(), HTML: body.String()}
}
