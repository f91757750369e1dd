package mail

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"net/textproto"
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment variables read by ConfigFromEnv.
const (
	EnvServer   = "SMTP_SERVER"
	EnvPort     = "SMTP_PORT"
	EnvSender   = "SENDER_EMAIL"
	EnvPassword = "SMTP_PASSWORD"
)

// SMTPConfig holds gateway credentials.
type SMTPConfig struct {
	Server   string
	Port     int
	Sender   string
	Password string
	FromName string
	Timeout  time.Duration
}

// ConfigFromEnv reads the gateway settings from the environment. Missing or
// malformed values are reported by Validate, not here.
func ConfigFromEnv() SMTPConfig {
	port, _ := strconv.Atoi(strings.TrimSpace(os.Getenv(EnvPort)))
	return SMTPConfig{
		Server:   strings.TrimSpace(os.Getenv(EnvServer)),
		Port:     port,
		Sender:   strings.TrimSpace(os.Getenv(EnvSender)),
		Password: os.Getenv(EnvPassword),
	}
}

// Validate reports the first missing setting.
func (c SMTPConfig) Validate() error {
	switch {
	case c.Server == "":
		return fmt.Errorf("%s is not set", EnvServer)
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("%s is not a valid port", EnvPort)
	case c.Sender == "":
		return fmt.Errorf("%s is not set", EnvSender)
	case c.Password == "":
		return fmt.Errorf("%s is not set", EnvPassword)
	}
	return nil
}

// SMTPSender delivers through an SMTP gateway with STARTTLS and PLAIN auth. When
// the configuration is incomplete every send is simulated.
type SMTPSender struct {
	cfg    SMTPConfig
	logger *slog.Logger
	dial   func(ctx context.Context, addr string) (net.Conn, error)
}

// NewSMTPSender creates a sender.
func NewSMTPSender(cfg SMTPConfig, logger *slog.Logger) *SMTPSender {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	d := &net.Dialer{}
	return &SMTPSender{cfg: cfg, logger: logger, dial: func(ctx context.Context, addr string) (net.Conn, error) {
		return d.DialContext(ctx, "tcp", addr)
	}}
}

// Send performs one delivery attempt.
func (s *SMTPSender) Send(ctx context.Context, msg Message) Outcome {
	if err := s.cfg.Validate(); err != nil {
		s.logger.Warn("smtp gateway not configured, simulating delivery", "to", msg.To, "reason", err.Error())
		return Simulated(err.Error())
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	err := s.deliver(ctx, msg)
	if err == nil {
		s.logger.Info("message delivered", "to", msg.To, "subject", msg.Subject)
		return Delivered()
	}

	permanent := isPermanent(err)
	s.logger.Warn("message delivery failed", "to", msg.To, "permanent", permanent, "error", err)
	return Failed(err.Error(), permanent)
}

func (s *SMTPSender) deliver(ctx context.Context, msg Message) error {
	addr := net.JoinHostPort(s.cfg.Server, strconv.Itoa(s.cfg.Port))
	conn, err := s.dial(ctx, addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, s.cfg.Server)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer func() { _ = client.Close() }()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: s.cfg.Server, MinVersion: tls.VersionTLS12}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}
	if ok, _ := client.Extension("AUTH"); ok {
		if err := client.Auth(smtp.PlainAuth("", s.cfg.Sender, s.cfg.Password, s.cfg.Server)); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	if err := client.Mail(s.cfg.Sender); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	if err := client.Rcpt(msg.To); err != nil {
		return fmt.Errorf("rcpt to: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(s.compose(msg)); err != nil {
		_ = w.Close()
		return fmt.Errorf("write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finish data: %w", err)
	}
	// the message is accepted here; QUIT errors are only logged
	if err := client.Quit(); err != nil {
		s.logger.Warn("smtp quit failed after message was accepted", "to", msg.To, "error", err)
	}
	return nil
}

func (s *SMTPSender) compose(msg Message) []byte {
	from := s.cfg.Sender
	if s.cfg.FromName != "" {
		from = fmt.Sprintf("%q <%s>", s.cfg.FromName, s.cfg.Sender)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", sanitizeHeader(msg.Subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(strings.ReplaceAll(msg.Body, "\r\n", "\n"), "\n", "\r\n"))
	return []byte(b.String())
}

func sanitizeHeader(v string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(v)
}

// isPermanent reports a 5xx reply from the gateway.
func isPermanent(err error) bool {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		return tpErr.Code >= 500 && tpErr.Code < 600
	}
	return false
}
