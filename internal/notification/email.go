package notification

import (
	"bytes"
	"fmt"
	"net/smtp"
	"text/template"
	"time"

	"github.com/roaddata/webtris-scraper/internal/catalogue"
	"github.com/roaddata/webtris-scraper/internal/pipeline"
	"github.com/roaddata/webtris-scraper/pkg/config"
)

// EmailNotifier sends run summary emails
type EmailNotifier struct {
	config *config.SMTPConfig
}

// NewEmailNotifier creates a new email notifier
func NewEmailNotifier(cfg *config.SMTPConfig) *EmailNotifier {
	return &EmailNotifier{config: cfg}
}

type runSummary struct {
	RunID     string
	StartDate string
	EndDate   string
	Coverage  string
	TestRun   bool
	Sites     int
	Tasks     int
	Rows      int
	Duration  string
	Families  []familySummary
}

type familySummary struct {
	Family    string
	Rows      int
	Malformed int
	Active    int
	Inactive  int
}

var summaryTemplate = template.Must(template.New("summary").Parse(`
Road Data Scrape Run {{.Coverage}}
==================================

Run ID: {{.RunID}}
Window: {{.StartDate}} to {{.EndDate}}
Test Run: {{.TestRun}}
Sites: {{.Sites}}
Tasks: {{.Tasks}}
Rows: {{.Rows}}
Duration: {{.Duration}}

Per-family breakdown:
{{range .Families}}  {{.Family}}: {{.Rows}} rows ({{.Malformed}} malformed), {{.Active}} active / {{.Inactive}} inactive sites
{{end}}
---
Road Data Scraper Notification System
`))

// SendRunSummary sends an email summarising a completed (or aborted) run.
func (e *EmailNotifier) SendRunSummary(result *pipeline.Result) error {
	coverage := "COMPLETE"
	if !result.Complete {
		coverage = "PARTIAL"
	}

	summary := runSummary{
		RunID:     result.RunID,
		StartDate: result.Start.Format("2006-01-02"),
		EndDate:   result.End.Format("2006-01-02"),
		Coverage:  coverage,
		TestRun:   result.TestRun,
		Sites:     len(result.Sites),
		Tasks:     result.TaskCount,
		Rows:      result.Dataset.TotalRows(),
		Duration:  result.FinishedAt.Sub(result.StartedAt).Round(time.Second).String(),
	}
	for _, family := range catalogue.Families() {
		counts := result.Activity[family]
		summary.Families = append(summary.Families, familySummary{
			Family:    string(family),
			Rows:      result.Dataset.RowCount(family),
			Malformed: result.Dataset.Malformed[family],
			Active:    counts.Active,
			Inactive:  counts.Inactive,
		})
	}

	var buf bytes.Buffer
	if err := summaryTemplate.Execute(&buf, summary); err != nil {
		return fmt.Errorf("failed to render email template: %w", err)
	}

	subject := fmt.Sprintf("Road Data Scrape %s - %s to %s",
		coverage, summary.StartDate, summary.EndDate)
	return e.sendEmail(subject, buf.String())
}

func (e *EmailNotifier) sendEmail(subject, body string) error {
	// Skip sending if SMTP is not configured
	if e.config.Username == "" || e.config.Password == "" {
		fmt.Printf("SMTP not configured, skipping email:\nSubject: %s\n%s\n", subject, body)
		return nil
	}

	// Construct message
	message := fmt.Sprintf("From: %s\r\n", e.config.From)
	message += fmt.Sprintf("To: %s\r\n", e.config.To)
	message += fmt.Sprintf("Subject: %s\r\n", subject)
	message += fmt.Sprintf("Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	message += "\r\n"
	message += body

	// Setup authentication
	auth := smtp.PlainAuth("", e.config.Username, e.config.Password, e.config.Host)

	// Send email
	addr := fmt.Sprintf("%s:%d", e.config.Host, e.config.Port)
	err := smtp.SendMail(addr, auth, e.config.From, []string{e.config.To}, []byte(message))
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	fmt.Printf("Email sent successfully: %s\n", subject)
	return nil
}

// TestConnection tests the SMTP connection
func (e *EmailNotifier) TestConnection() error {
	if e.config.Username == "" {
		return fmt.Errorf("SMTP not configured")
	}

	// Try to connect
	addr := fmt.Sprintf("%s:%d", e.config.Host, e.config.Port)
	client, err := smtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer client.Close()

	fmt.Println("SMTP connection test successful")
	return nil
}
