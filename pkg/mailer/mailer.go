/**
 * @description
 * SMTP email sink built on go-mail. A send is bounded by the caller's context and
 * by the configured timeout, whichever expires first. The same timeout is applied
 * as a deadline on the SMTP connection, so an abandoned exchange also ends.
 *
 * @dependencies
 * - gopkg.in/mail.v2: message composition and SMTP delivery.
 */
package mailer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"gopkg.in/mail.v2"
)

func init() {
	// The dialer only sets connection deadlines after the server greeting, so a
	// server that accepts and never greets would hold the connection open.
	mail.NetDialTimeout = dialWithDeadline
}

func dialWithDeadline(network, address string, timeout time.Duration) (net.Conn, error) {
	conn, err := net.DialTimeout(network, address, timeout)
	if err != nil {
		return nil, err
	}
	if timeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
			conn.Close()
			return nil, err
		}
	}
	return conn, nil
}

// ErrDisabled is returned by a Mailer that has no SMTP host configured.
var ErrDisabled = errors.New("email delivery is disabled")

// Message is a single outbound email. HTML is optional.
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// Config holds the SMTP connection settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	Sender   string
	SSL      bool
	Timeout  time.Duration
}

// Mailer delivers messages over SMTP.
type Mailer struct {
	sender  string
	timeout time.Duration
	send    func(*mail.Message) error
}

// New creates a Mailer. An empty host yields a disabled mailer.
func New(cfg Config) *Mailer {
	if strings.TrimSpace(cfg.Host) == "" {
		return NewDisabled()
	}
	dialer := mail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	dialer.SSL = cfg.SSL
	if cfg.Timeout > 0 {
		dialer.Timeout = cfg.Timeout
	}

	return &Mailer{
		sender:  cfg.Sender,
		timeout: cfg.Timeout,
		send: func(gm *mail.Message) error {
			return dialer.DialAndSend(gm)
		},
	}
}

// NewDisabled returns a Mailer whose sends always fail with ErrDisabled.
func NewDisabled() *Mailer {
	return &Mailer{}
}

// Enabled reports whether the mailer can deliver anything.
func (m *Mailer) Enabled() bool {
	return m != nil && m.send != nil
}

// Send delivers msg. It returns once the SMTP exchange finishes or the deadline
// passes; in the latter case the result is ignored and the exchange ends on its
// connection deadline.
func (m *Mailer) Send(ctx context.Context, msg Message) error {
	if !m.Enabled() {
		return ErrDisabled
	}
	if strings.TrimSpace(msg.To) == "" {
		return fmt.Errorf("email recipient is empty")
	}

	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	gm := m.buildMessage(msg)
	done := make(chan error, 1)
	go func() {
		done <- m.send(gm)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send to %s: %w", msg.To, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("smtp send to %s: %w", msg.To, ctx.Err())
	}
}

func (m *Mailer) buildMessage(msg Message) *mail.Message {
	gm := mail.NewMessage()
	gm.SetHeader("From", m.sender)
	gm.SetHeader("To", msg.To)
	gm.SetHeader("Subject", msg.Subject)

	switch {
	case msg.Text != "" && msg.HTML != "":
		gm.SetBody("text/plain", msg.Text)
		gm.AddAlternative("text/html", msg.HTML)
	case msg.HTML != "":
		gm.SetBody("text/html", msg.HTML)
	default:
		gm.SetBody("text/plain", msg.Text)
	}
	return gm
}
