package notifier

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/ubaguard/ubaguard/internal/models"
)

// EmailConfig holds SMTP configuration for the email channel.
type EmailConfig struct {
	Host                   string   // SMTP server host
	Port                   int      // SMTP server port (465 implicit TLS, 587 STARTTLS)
	Username               string   // SMTP username (optional)
	Password               string   // SMTP password (optional)
	From                   string   // From address
	Recipients             []string // base recipients for every alert
	HighPriorityRecipients []string // additional recipients for HIGH alerts
}

// Validate validates the email configuration.
func (c *EmailConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("SMTP host is required")
	}
	if c.Port == 0 {
		return fmt.Errorf("SMTP port is required")
	}
	if c.From == "" {
		return fmt.Errorf("from address is required")
	}
	if len(c.Recipients) == 0 {
		return fmt.Errorf("at least one recipient is required")
	}
	return nil
}

// EmailNotifier delivers alerts over SMTP. HIGH severity alerts are
// additionally sent to the high-priority recipient list.
type EmailNotifier struct {
	config EmailConfig
}

// NewEmailNotifier creates an email notifier.
func NewEmailNotifier(config EmailConfig) (*EmailNotifier, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid email config: %w", err)
	}
	return &EmailNotifier{config: config}, nil
}

// Name returns "email".
func (e *EmailNotifier) Name() string {
	return "email"
}

// Recipients returns the delivery list for an alert, widened for HIGH
// severity. Duplicates between the two lists are removed.
func (e *EmailNotifier) Recipients(alert *models.Alert) []string {
	recipients := make([]string, 0, len(e.config.Recipients)+len(e.config.HighPriorityRecipients))
	seen := make(map[string]struct{})
	add := func(addrs []string) {
		for _, a := range addrs {
			if _, ok := seen[a]; ok {
				continue
			}
			seen[a] = struct{}{}
			recipients = append(recipients, a)
		}
	}
	add(e.config.Recipients)
	if alert.Severity == models.SeverityHigh {
		add(e.config.HighPriorityRecipients)
	}
	return recipients
}

// Send sends the alert to every recipient in a single SMTP transaction.
func (e *EmailNotifier) Send(ctx context.Context, alert *models.Alert) error {
	recipients := e.Recipients(alert)
	subject := fmt.Sprintf("[%s] UBAGuard Alert: %s", strings.ToUpper(string(alert.Severity)), alert.UserID())
	msg := e.buildMessage(subject, recipients, alert)
	return e.sendMail(ctx, recipients, msg)
}

// Close is a no-op for the email notifier.
func (e *EmailNotifier) Close() error {
	return nil
}

// buildMessage builds a MIME multipart message with plain text and HTML parts.
func (e *EmailNotifier) buildMessage(subject string, recipients []string, alert *models.Alert) []byte {
	boundary := fmt.Sprintf("----=_Part_%d", time.Now().UnixNano())

	var msg strings.Builder
	msg.WriteString(fmt.Sprintf("From: %s\r\n", e.config.From))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(recipients, ", ")))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString(fmt.Sprintf("Content-Type: multipart/alternative; boundary=%q\r\n", boundary))
	msg.WriteString("\r\n")

	msg.WriteString(fmt.Sprintf("--%s\r\n", boundary))
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	msg.WriteString(plainBody(alert))
	msg.WriteString("\r\n")

	msg.WriteString(fmt.Sprintf("--%s\r\n", boundary))
	msg.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
	msg.WriteString(htmlBody(alert))
	msg.WriteString("\r\n")

	msg.WriteString(fmt.Sprintf("--%s--\r\n", boundary))
	return []byte(msg.String())
}

func plainBody(alert *models.Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Behavioral anomaly detected\r\n\r\n")
	fmt.Fprintf(&b, "Alert ID:      %s\r\n", alert.ID)
	fmt.Fprintf(&b, "User:          %s\r\n", alert.UserID())
	fmt.Fprintf(&b, "Severity:      %s\r\n", strings.ToUpper(string(alert.Severity)))
	fmt.Fprintf(&b, "Anomaly score: %.3f\r\n", alert.AnomalyScore)
	fmt.Fprintf(&b, "Event type:    %s\r\n", alert.TriggeringEventType())
	fmt.Fprintf(&b, "Time:          %s\r\n", alert.Timestamp.Format(time.RFC3339))
	if alert.Event != nil && alert.Event.SourceIP != "" {
		fmt.Fprintf(&b, "Source IP:     %s\r\n", alert.Event.SourceIP)
	}
	if len(alert.RecommendedActions) > 0 {
		b.WriteString("\r\nRecommended actions:\r\n")
		for _, action := range alert.RecommendedActions {
			fmt.Fprintf(&b, "  - %s\r\n", action)
		}
	}
	return b.String()
}

func htmlBody(alert *models.Alert) string {
	color := "#f0ad4e"
	if alert.Severity == models.SeverityHigh {
		color = "#d9534f"
	}

	var b strings.Builder
	b.WriteString("<html><body>")
	fmt.Fprintf(&b, "<h2 style=%q>%s anomaly alert</h2>", "color:"+color, strings.ToUpper(string(alert.Severity)))
	b.WriteString("<table cellpadding=\"4\">")
	fmt.Fprintf(&b, "<tr><td><b>Alert ID</b></td><td>%s</td></tr>", alert.ID)
	fmt.Fprintf(&b, "<tr><td><b>User</b></td><td>%s</td></tr>", alert.UserID())
	fmt.Fprintf(&b, "<tr><td><b>Anomaly score</b></td><td>%.3f</td></tr>", alert.AnomalyScore)
	fmt.Fprintf(&b, "<tr><td><b>Event type</b></td><td>%s</td></tr>", alert.TriggeringEventType())
	fmt.Fprintf(&b, "<tr><td><b>Time</b></td><td>%s</td></tr>", alert.Timestamp.Format(time.RFC3339))
	b.WriteString("</table>")
	if len(alert.RecommendedActions) > 0 {
		b.WriteString("<h3>Recommended actions</h3><ul>")
		for _, action := range alert.RecommendedActions {
			fmt.Fprintf(&b, "<li>%s</li>", action)
		}
		b.WriteString("</ul>")
	}
	b.WriteString("</body></html>")
	return b.String()
}

// sendMail delivers the message via SMTP with TLS.
func (e *EmailNotifier) sendMail(ctx context.Context, recipients []string, msg []byte) error {
	addr := fmt.Sprintf("%s:%d", e.config.Host, e.config.Port)
	tlsConfig := &tls.Config{ServerName: e.config.Host}

	var client *smtp.Client
	var err error
	if e.config.Port == 465 {
		client, err = e.connectImplicitTLS(addr, tlsConfig)
	} else {
		client, err = e.connectSTARTTLS(ctx, addr, tlsConfig)
	}
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer client.Close()

	if e.config.Username != "" && e.config.Password != "" {
		auth := smtp.PlainAuth("", e.config.Username, e.config.Password, e.config.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}

	if err := client.Mail(extractEmail(e.config.From)); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}
	for _, rcpt := range recipients {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("failed to add recipient %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to start data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close data: %w", err)
	}
	return client.Quit()
}

// connectImplicitTLS connects using implicit TLS (port 465).
func (e *EmailNotifier) connectImplicitTLS(addr string, tlsConfig *tls.Config) (*smtp.Client, error) {
	conn, err := tls.Dial("tcp", addr, tlsConfig)
	if err != nil {
		return nil, err
	}
	return smtp.NewClient(conn, e.config.Host)
}

// connectSTARTTLS connects using STARTTLS (port 587 or 25).
func (e *EmailNotifier) connectSTARTTLS(ctx context.Context, addr string, tlsConfig *tls.Config) (*smtp.Client, error) {
	dialer := &net.Dialer{Timeout: 30 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	client, err := smtp.NewClient(conn, e.config.Host)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(tlsConfig); err != nil {
			client.Close()
			return nil, fmt.Errorf("STARTTLS failed: %w", err)
		}
	}
	return client, nil
}

// extractEmail extracts the bare address from a "Name <email>" header value.
func extractEmail(addr string) string {
	if start := strings.Index(addr, "<"); start != -1 {
		if end := strings.Index(addr, ">"); end != -1 {
			return addr[start+1 : end]
		}
	}
	return addr
}
