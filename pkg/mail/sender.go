// Package mail implements the transmission capability: delivering a drafted
// message to one recipient through an SMTP gateway.
package mail

import (
	"context"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
)

// Status classifies a send attempt.
type Status string

const (
	StatusDelivered Status = "delivered"
	StatusSimulated Status = "simulated"
	StatusFailed    Status = "failed"
)

// Message is one outbound email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Outcome is the result of exactly one send attempt. Permanent is set when the
// gateway rejected the message itself rather than failing to carry it.
type Outcome struct {
	Status    Status
	Reason    string
	Permanent bool
}

// Delivered reports a successful handoff.
func Delivered() Outcome { return Outcome{Status: StatusDelivered} }

// Simulated reports that no gateway is configured.
func Simulated(reason string) Outcome { return Outcome{Status: StatusSimulated, Reason: reason} }

// Failed reports a failed attempt.
func Failed(reason string, permanent bool) Outcome {
	return Outcome{Status: StatusFailed, Reason: reason, Permanent: permanent}
}

// Sender is the port used by the Transmit unit. Send performs at most one attempt
// and never retries.
type Sender interface {
	Send(ctx context.Context, msg Message) Outcome
}

var addressPattern = regexp.MustCompile(`^[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}$`)

// ValidateAddress checks that addr is a single plain mailbox address.
func ValidateAddress(addr string) error {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return fmt.Errorf("recipient address is empty")
	}
	parsed, err := mail.ParseAddress(addr)
	if err != nil {
		return fmt.Errorf("recipient address %q: %w", addr, err)
	}
	if parsed.Address != addr || !addressPattern.MatchString(addr) {
		return fmt.Errorf("recipient address %q is not a plain mailbox", addr)
	}
	return nil
}

// SplitSubject separates a leading "Subject:" line from the body. ok is false when
// the draft carries no subject line.
func SplitSubject(draft string) (subject, body string, ok bool) {
	text := strings.TrimLeft(draft, " \t\r\n")
	line, rest, _ := strings.Cut(text, "\n")
	line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "**"))
	if len(line) < len("subject:") || !strings.EqualFold(line[:len("subject:")], "subject:") {
		return "", draft, false
	}
	subject = strings.TrimSpace(strings.Trim(line[len("subject:"):], "* "))
	return subject, strings.TrimLeft(rest, "\r\n"), subject != ""
}
