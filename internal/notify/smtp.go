package notify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"careloop.org/internal/obs"
)

const defaultSMTPTimeout = 10 * time.Second

// SMTPDispatcher sends mail over a plain SMTP submission endpoint with
// STARTTLS when the server offers it. Every network step runs under one
// connection deadline so a stuck relay surfaces as a timeout, not a hang.
type SMTPDispatcher struct {
	host    string
	port    int
	from    string
	auth    smtp.Auth
	timeout time.Duration
}

// SMTPOption configures the dispatcher.
type SMTPOption func(*SMTPDispatcher)

// WithSMTPAuth enables PLAIN authentication against the relay.
func WithSMTPAuth(username, password string) SMTPOption {
	return func(d *SMTPDispatcher) {
		if username != "" {
			d.auth = smtp.PlainAuth("", username, password, d.host)
		}
	}
}

// WithSMTPTimeout bounds the whole SMTP conversation.
func WithSMTPTimeout(timeout time.Duration) SMTPOption {
	return func(d *SMTPDispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// NewSMTPDispatcher builds a dispatcher for the given relay.
func NewSMTPDispatcher(host string, port int, from string, opts ...SMTPOption) (*SMTPDispatcher, error) {
	if strings.TrimSpace(host) == "" {
		return nil, errors.New("notify: smtp host is required")
	}
	if strings.TrimSpace(from) == "" {
		return nil, errors.New("notify: smtp from address is required")
	}
	d := &SMTPDispatcher{
		host:    host,
		port:    port,
		from:    from,
		timeout: defaultSMTPTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Dispatch implements Dispatcher.
func (d *SMTPDispatcher) Dispatch(ctx context.Context, msg Message) error {
	if strings.TrimSpace(msg.To) == "" {
		return errors.New("notify: recipient is required")
	}

	deadline := time.Now().Add(d.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}

	addr := net.JoinHostPort(d.host, fmt.Sprintf("%d", d.port))
	conn, err := net.DialTimeout("tcp", addr, time.Until(deadline))
	if err != nil {
		return fmt.Errorf("notify: dial %s: %w", addr, err)
	}
	defer conn.Close()
	if err := conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("notify: set deadline: %w", err)
	}

	client, err := smtp.NewClient(conn, d.host)
	if err != nil {
		return fmt.Errorf("notify: smtp handshake: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(nil); err != nil {
			return fmt.Errorf("notify: starttls: %w", err)
		}
	}
	if d.auth != nil {
		if err := client.Auth(d.auth); err != nil {
			return fmt.Errorf("notify: smtp auth: %w", err)
		}
	}
	if err := client.Mail(d.from); err != nil {
		return fmt.Errorf("notify: mail from: %w", err)
	}
	if err := client.Rcpt(msg.To); err != nil {
		return fmt.Errorf("notify: rcpt to: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("notify: data: %w", err)
	}
	if _, err := fmt.Fprintf(w, "From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n",
		d.from, msg.To, msg.Subject, msg.Body); err != nil {
		return fmt.Errorf("notify: write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("notify: finish body: %w", err)
	}
	return client.Quit()
}

// LogDispatcher writes messages to the structured log instead of sending
// them. Used when no SMTP relay is configured (local development).
type LogDispatcher struct{}

// Dispatch implements Dispatcher.
func (LogDispatcher) Dispatch(_ context.Context, msg Message) error {
	obs.LogRequest(map[string]any{
		"type":    "notify",
		"kind":    string(msg.Kind),
		"to":      msg.To,
		"subject": msg.Subject,
	})
	return nil
}
