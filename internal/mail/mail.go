// Package mail delivers the one-time codes emailed by the session manager.
//
// Three drivers are available, chosen by MAIL_DRIVER:
//   - log:  write the message to the structured log (local development)
//   - smtp: send directly through an SMTP relay (gomail)
//   - amqp: publish to a RabbitMQ queue drained by a separate mail worker
//
// Requests never wait on delivery. The server wraps the driver in Async, so
// a slow or broken relay costs a log line, not a failed registration.
package mail

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sakif/trainsync/internal/metrics"
)

// Message is a single outgoing email.
type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	Kind    string `json:"kind"` // metrics.MailVerification or metrics.MailReset
}

// Mailer sends messages.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// VerificationMessage builds the email carrying an email-verification code.
func VerificationMessage(to, code string, ttl time.Duration) Message {
	return Message{
		To:      to,
		Subject: "Verify your email",
		Body: fmt.Sprintf("Your verification code is %s.\n\nIt expires in %d minutes.",
			code, int(ttl.Minutes())),
		Kind: metrics.MailVerification,
	}
}

// ResetMessage builds the email carrying a password-reset code.
func ResetMessage(to, code string, ttl time.Duration) Message {
	return Message{
		To:      to,
		Subject: "Reset your password",
		Body: fmt.Sprintf("Your password reset code is %s.\n\nIt expires in %d minutes. "+
			"If you didn't ask for a reset you can ignore this email.", code, int(ttl.Minutes())),
		Kind: metrics.MailReset,
	}
}

// LogMailer writes messages to the log instead of sending them.
type LogMailer struct {
	logger *slog.Logger
}

func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(ctx context.Context, msg Message) error {
	m.logger.InfoContext(ctx, "mail (log driver)",
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
		slog.String("kind", msg.Kind),
		slog.String("body", msg.Body),
	)
	return nil
}

// DefaultSendTimeout bounds a single background delivery.
const DefaultSendTimeout = 30 * time.Second

// Async hands messages to another Mailer on a background goroutine.
// Send always returns nil; delivery errors are logged and counted.
type Async struct {
	next    Mailer
	logger  *slog.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewAsync(next Mailer, logger *slog.Logger, timeout time.Duration) *Async {
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	return &Async{next: next, logger: logger, timeout: timeout}
}

func (a *Async) Send(ctx context.Context, msg Message) error {
	// The request context is cancelled as soon as the response is written.
	base := context.WithoutCancel(ctx)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()

		sendCtx, cancel := context.WithTimeout(base, a.timeout)
		defer cancel()

		err := a.next.Send(sendCtx, msg)
		metrics.MailDispatchTotal.WithLabelValues(msg.Kind, metrics.Result(err)).Inc()
		if err != nil {
			a.logger.Error("mail delivery failed",
				slog.String("kind", msg.Kind),
				slog.String("error", err.Error()),
			)
		}
	}()
	return nil
}

// Wait blocks until every in-flight delivery has finished. Called during
// shutdown so queued codes aren't dropped.
func (a *Async) Wait() {
	a.wg.Wait()
}
