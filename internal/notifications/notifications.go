package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"net/smtp"
	"sort"
	"strings"
	"time"
)

// NotificationType defines the type of notification
type NotificationType string

const (
	NotifyExportCompleted NotificationType = "export_completed"
	NotifyExportFailed    NotificationType = "export_failed"
	NotifyDatasetImported NotificationType = "dataset_imported"
)

// Level orders notifications for channel filtering.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notification represents a notification to be sent
type Notification struct {
	Type      NotificationType
	Title     string
	Message   string
	Level     Level
	Data      map[string]interface{}
	Timestamp time.Time
}

// Config holds notification configuration
type Config struct {
	Slack SlackConfig
	Email EmailConfig
}

// SlackConfig holds Slack configuration
type SlackConfig struct {
	WebhookURL string
	Channel    string
	Username   string
	IconEmoji  string
	Enabled    bool
	MinLevel   Level
}

// EmailConfig holds email configuration
type EmailConfig struct {
	SMTPHost string
	SMTPPort int
	Username string
	Password string
	From     string
	To       []string
	Enabled  bool
	MinLevel Level
}

// Service handles notifications
type Service struct {
	config Config
	logger *slog.Logger
	client *http.Client
}

// NewService creates a new notification service
func NewService(config Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		config: config,
		logger: logger,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Send sends a notification to all enabled channels
func (s *Service) Send(ctx context.Context, notif *Notification) error {
	var errs []error

	if s.config.Slack.Enabled && shouldNotify(notif.Level, s.config.Slack.MinLevel) {
		if err := s.sendSlack(ctx, notif); err != nil {
			errs = append(errs, fmt.Errorf("slack: %w", err))
		}
	}

	if s.config.Email.Enabled && shouldNotify(notif.Level, s.config.Email.MinLevel) {
		if err := s.sendEmail(ctx, notif); err != nil {
			errs = append(errs, fmt.Errorf("email: %w", err))
		}
	}

	return errors.Join(errs...)
}

func shouldNotify(actual, minimum Level) bool {
	order := map[Level]int{
		LevelInfo:    1,
		LevelWarning: 2,
		LevelError:   3,
	}
	return order[actual] >= order[minimum]
}

// SlackMessage represents a Slack message payload
type SlackMessage struct {
	Channel     string            `json:"channel,omitempty"`
	Username    string            `json:"username,omitempty"`
	IconEmoji   string            `json:"icon_emoji,omitempty"`
	Text        string            `json:"text,omitempty"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SlackAttachment represents a Slack attachment
type SlackAttachment struct {
	Color     string       `json:"color,omitempty"`
	Title     string       `json:"title,omitempty"`
	TitleLink string       `json:"title_link,omitempty"`
	Text      string       `json:"text,omitempty"`
	Fallback  string       `json:"fallback,omitempty"`
	Fields    []SlackField `json:"fields,omitempty"`
	Footer    string       `json:"footer,omitempty"`
	Timestamp int64        `json:"ts,omitempty"`
}

// SlackField represents a field in a Slack attachment
type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

var fieldTitles = map[string]string{
	"dataset_id": "Dataset",
	"dataset":    "Name",
	"format":     "Format",
	"job_id":     "Job",
	"output_url": "Output",
	"phenotypes": "Phenotypes",
	"error":      "Error",
}

func (s *Service) slackFields(data map[string]interface{}) []SlackField {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := []SlackField{}
	for _, k := range keys {
		title, ok := fieldTitles[k]
		if !ok {
			continue
		}
		fields = append(fields, SlackField{
			Title: title,
			Value: fmt.Sprint(data[k]),
			Short: k != "output_url" && k != "error",
		})
	}
	return fields
}

// sendSlack sends a notification to Slack
func (s *Service) sendSlack(ctx context.Context, notif *Notification) error {
	var link string
	if u, ok := notif.Data["output_url"].(string); ok && strings.HasPrefix(u, "http") {
		link = u
	}

	msg := SlackMessage{
		Channel:   s.config.Slack.Channel,
		Username:  s.config.Slack.Username,
		IconEmoji: s.config.Slack.IconEmoji,
		Attachments: []SlackAttachment{
			{
				Color:     levelToColor(notif.Level),
				Title:     notif.Title,
				TitleLink: link,
				Text:      notif.Message,
				Fallback:  fmt.Sprintf("%s: %s", notif.Title, notif.Message),
				Fields:    s.slackFields(notif.Data),
				Footer:    "colocmap",
				Timestamp: notif.Timestamp.Unix(),
			},
		},
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.config.Slack.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned status %d", resp.StatusCode)
	}

	s.logger.Info("slack notification sent",
		"type", notif.Type,
		"title", notif.Title)

	return nil
}

func levelToColor(level Level) string {
	switch level {
	case LevelError:
		return "#B2182B"
	case LevelWarning:
		return "#F4A582"
	default:
		return "#2166AC"
	}
}

// sendEmail sends a notification via email
func (s *Service) sendEmail(ctx context.Context, notif *Notification) error {
	subject := fmt.Sprintf("[colocmap] %s", notif.Title)
	body, err := formatEmailBody(notif)
	if err != nil {
		return err
	}

	msg := s.buildEmailMessage(subject, body)

	auth := smtp.PlainAuth("", s.config.Email.Username, s.config.Email.Password, s.config.Email.SMTPHost)
	addr := fmt.Sprintf("%s:%d", s.config.Email.SMTPHost, s.config.Email.SMTPPort)

	err = smtp.SendMail(addr, auth, s.config.Email.From, s.config.Email.To, []byte(msg))
	if err != nil {
		return err
	}

	s.logger.Info("email notification sent",
		"type", notif.Type,
		"title", notif.Title,
		"recipients", len(s.config.Email.To))

	return nil
}

// buildEmailMessage builds an email message
func (s *Service) buildEmailMessage(subject, body string) string {
	var msg strings.Builder
	msg.WriteString(fmt.Sprintf("From: %s\r\n", s.config.Email.From))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(s.config.Email.To, ",")))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)
	return msg.String()
}

var emailTemplate = template.Must(template.New("email").Parse(`
<!DOCTYPE html>
<html>
<head>
    <style>
        body { font-family: Arial, sans-serif; margin: 0; padding: 20px; background-color: #f5f5f5; }
        .container { max-width: 600px; margin: 0 auto; background: white; border-radius: 8px; }
        .header { padding: 20px; background: {{.HeaderColor}}; color: white; border-radius: 8px 8px 0 0; }
        .content { padding: 20px; }
        .data-table { width: 100%; border-collapse: collapse; margin-top: 15px; }
        .data-table td { padding: 8px; border-bottom: 1px solid #eee; }
        .data-table td:first-child { font-weight: bold; width: 30%; }
        .footer { padding: 15px 20px; background: #f9f9f9; border-radius: 0 0 8px 8px; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <h2 style="margin:0;">{{.Title}}</h2>
        </div>
        <div class="content">
            <p>{{.Message}}</p>
            {{if .Data}}
            <table class="data-table">
                {{range $key, $value := .Data}}
                <tr>
                    <td>{{$key}}</td>
                    <td>{{$value}}</td>
                </tr>
                {{end}}
            </table>
            {{end}}
        </div>
        <div class="footer">
            <p>Generated at: {{.Timestamp}}</p>
        </div>
    </div>
</body>
</html>
`))

func formatEmailBody(notif *Notification) (string, error) {
	data := map[string]interface{}{
		"Title":       notif.Title,
		"Message":     notif.Message,
		"HeaderColor": template.CSS(levelToColor(notif.Level)),
		"Data":        notif.Data,
		"Timestamp":   notif.Timestamp.Format(time.RFC1123),
	}

	var buf bytes.Buffer
	if err := emailTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// ExportResult describes a finished export job.
type ExportResult struct {
	JobID     string
	DatasetID string
	Dataset   string
	Format    string
	OutputURL string
	Duration  time.Duration
}

// NotifyExportCompleted announces a heatmap export that reached its bucket.
func (s *Service) NotifyExportCompleted(ctx context.Context, res ExportResult) error {
	notif := &Notification{
		Type:    NotifyExportCompleted,
		Title:   "Heatmap Export Ready",
		Message: fmt.Sprintf("%s export of %s finished in %s", strings.ToUpper(res.Format), res.Dataset, res.Duration.Round(time.Millisecond)),
		Level:   LevelInfo,
		Data: map[string]interface{}{
			"job_id":     res.JobID,
			"dataset_id": res.DatasetID,
			"dataset":    res.Dataset,
			"format":     res.Format,
			"output_url": res.OutputURL,
		},
		Timestamp: time.Now(),
	}

	return s.Send(ctx, notif)
}

// NotifyExportFailed reports an export that ran out of attempts.
func (s *Service) NotifyExportFailed(ctx context.Context, res ExportResult, err error) error {
	notif := &Notification{
		Type:    NotifyExportFailed,
		Title:   "Heatmap Export Failed",
		Message: fmt.Sprintf("Export of dataset %s failed: %s", res.DatasetID, err.Error()),
		Level:   LevelError,
		Data: map[string]interface{}{
			"job_id":     res.JobID,
			"dataset_id": res.DatasetID,
			"format":     res.Format,
			"error":      err.Error(),
		},
		Timestamp: time.Now(),
	}

	return s.Send(ctx, notif)
}

// NotifyDatasetImported announces a new dataset.
func (s *Service) NotifyDatasetImported(ctx context.Context, datasetID, name string, phenotypes int) error {
	notif := &Notification{
		Type:    NotifyDatasetImported,
		Title:   "Dataset Imported",
		Message: fmt.Sprintf("%s was imported with %d phenotypes", name, phenotypes),
		Level:   LevelInfo,
		Data: map[string]interface{}{
			"dataset_id": datasetID,
			"dataset":    name,
			"phenotypes": phenotypes,
		},
		Timestamp: time.Now(),
	}

	return s.Send(ctx, notif)
}
