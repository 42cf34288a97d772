package notify

import (
	"context"
	"log/slog"
	"strings"

	"golang.org/x/time/rate"

	"github.com/ludia8888/arrakis-scheduler/pkg/core"
)

// EmailSender delivers a notification to an email address.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// ChatSender delivers a notification to a chat channel or handle.
type ChatSender interface {
	SendMessage(ctx context.Context, channel, text string) error
}

// WebhookSender POSTs a notification payload to a URL.
type WebhookSender interface {
	Post(ctx context.Context, url string, payload map[string]any) error
}

// Dispatcher fans out lifecycle notifications. Every sink is optional; a
// zero-value Dispatcher logs and nothing else.
type Dispatcher struct {
	email   EmailSender
	chat    ChatSender
	webhook WebhookSender

	// priorityChannel receives critical/error alerts in addition to the log line.
	priorityChannel string

	// Each sink is gated by its own limiter so a saturated sink cannot
	// starve the others.
	emailLimit   *rate.Limiter
	chatLimit    *rate.Limiter
	webhookLimit *rate.Limiter

	logger *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithEmail configures the email sink.
func WithEmail(s EmailSender) Option { return func(d *Dispatcher) { d.email = s } }

// WithChat configures the chat sink.
func WithChat(s ChatSender) Option { return func(d *Dispatcher) { d.chat = s } }

// WithWebhook configures the webhook sink.
func WithWebhook(s WebhookSender) Option { return func(d *Dispatcher) { d.webhook = s } }

// WithPriorityChannel routes critical and error alerts to a dedicated chat channel.
func WithPriorityChannel(channel string) Option {
	return func(d *Dispatcher) { d.priorityChannel = channel }
}

// WithRateLimit caps deliveries per second, independently per sink.
// Deliveries over a sink's limit are dropped with a warning.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(d *Dispatcher) {
		d.emailLimit = rate.NewLimiter(rate.Limit(perSecond), burst)
		d.chatLimit = rate.NewLimiter(rate.Limit(perSecond), burst)
		d.webhookLimit = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithLogger sets the fallback/structured logger.
func WithLogger(l *slog.Logger) Option { return func(d *Dispatcher) { d.logger = l } }

// NewDispatcher creates a Dispatcher with the given sinks.
func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{logger: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SendJobNotification delivers a job lifecycle notification to each
// recipient. Failures are logged and swallowed; job status is never affected
// by notification problems.
func (d *Dispatcher) SendJobNotification(ctx context.Context, recipients []string, subject string, exec *core.JobExecution, meta *core.JobMetadata) {
	if len(recipients) == 0 {
		return
	}

	body := renderBody(exec, meta)

	for _, recipient := range recipients {
		d.deliver(ctx, recipient, subject, body, exec)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, recipient, subject, body string, exec *core.JobExecution) {
	defer func() {
		// A panicking sink must never take the job path down with it.
		if r := recover(); r != nil {
			d.logger.Error("notification sink panicked", "recipient", recipient, "panic", r)
		}
	}()

	switch {
	case strings.HasPrefix(recipient, "#") || strings.HasPrefix(recipient, "@"):
		if d.chat == nil {
			d.logFallback(recipient, subject, exec)
			return
		}
		if !allow(d.chatLimit) {
			d.dropLimited("chat", recipient, subject)
			return
		}
		if err := d.chat.SendMessage(ctx, recipient, subject+"\n"+body); err != nil {
			d.logger.Warn("chat notification failed", "channel", recipient, "error", err)
		}

	case strings.HasPrefix(recipient, "http://") || strings.HasPrefix(recipient, "https://"):
		if d.webhook == nil {
			d.logFallback(recipient, subject, exec)
			return
		}
		if !allow(d.webhookLimit) {
			d.dropLimited("webhook", recipient, subject)
			return
		}
		payload := map[string]any{
			"subject":      subject,
			"job_id":       exec.JobID,
			"execution_id": exec.ExecutionID,
			"status":       string(exec.Status),
			"error":        exec.Error,
			"duration":     exec.Duration().Seconds(),
		}
		if err := d.webhook.Post(ctx, recipient, payload); err != nil {
			d.logger.Warn("webhook notification failed", "url", recipient, "error", err)
		}

	case strings.Contains(recipient, "@"):
		if d.email == nil {
			d.logFallback(recipient, subject, exec)
			return
		}
		if !allow(d.emailLimit) {
			d.dropLimited("email", recipient, subject)
			return
		}
		if err := d.email.SendEmail(ctx, recipient, subject, body); err != nil {
			d.logger.Warn("email notification failed", "to", recipient, "error", err)
		}

	default:
		// Unrecognized recipient shapes are skipped silently.
	}
}

// SendAlert emits an operational alert. Every alert is logged; critical and
// error severities additionally go to the priority chat channel when one is
// configured.
func (d *Dispatcher) SendAlert(ctx context.Context, alertType, message string, details map[string]any) {
	attrs := []any{"alert_type", alertType}
	for k, v := range details {
		attrs = append(attrs, k, v)
	}

	switch alertType {
	case "critical", "error":
		d.logger.Error(message, attrs...)
		if d.chat != nil && d.priorityChannel != "" {
			if err := d.chat.SendMessage(ctx, d.priorityChannel, "["+strings.ToUpper(alertType)+"] "+message); err != nil {
				d.logger.Warn("priority alert delivery failed", "channel", d.priorityChannel, "error", err)
			}
		}
	case "warning":
		d.logger.Warn(message, attrs...)
	default:
		d.logger.Info(message, attrs...)
	}
}

func allow(l *rate.Limiter) bool {
	return l == nil || l.Allow()
}

func (d *Dispatcher) dropLimited(sink, recipient, subject string) {
	d.logger.Warn("notification rate limit exceeded, dropping",
		"sink", sink, "recipient", recipient, "subject", subject)
}

func (d *Dispatcher) logFallback(recipient, subject string, exec *core.JobExecution) {
	d.logger.Info("job notification",
		"recipient", recipient,
		"subject", subject,
		"job_id", exec.JobID,
		"execution_id", exec.ExecutionID,
		"status", string(exec.Status),
	)
}

func renderBody(exec *core.JobExecution, meta *core.JobMetadata) string {
	var b strings.Builder
	b.WriteString("Job: " + exec.JobID + "\n")
	if meta != nil && meta.Name != "" {
		b.WriteString("Name: " + meta.Name + "\n")
	}
	b.WriteString("Execution: " + exec.ExecutionID + "\n")
	b.WriteString("Status: " + string(exec.Status) + "\n")
	b.WriteString("Duration: " + exec.Duration().String() + "\n")
	if exec.Error != "" {
		b.WriteString("Error: " + exec.Error + "\n")
	}
	return b.String()
}
