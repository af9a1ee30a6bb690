package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/agentlensai/agentlens/pkg/models"
)

// EmailConfig is the channel config for email channels.
type EmailConfig struct {
	Host     string   `json:"host"`
	Port     int      `json:"port"`
	Username string   `json:"username,omitempty"`
	Password string   `json:"password,omitempty"`
	From     string   `json:"from"`
	To       []string `json:"to"`
}

// Email delivers notifications over SMTP.
type Email struct {
	// sendMail is swapped out in tests.
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmail creates the email provider.
func NewEmail() *Email {
	return &Email{sendMail: smtp.SendMail}
}

// Send implements Provider. The SMTP exchange happens in a goroutine so the
// shared 10-second timeout still applies to a stuck server.
func (e *Email) Send(ctx context.Context, channel *models.NotificationChannel, payload *Payload) DeliveryResult {
	var cfg EmailConfig
	if err := json.Unmarshal(channel.Config, &cfg); err != nil {
		return failure(0, models.ValidationError("invalid email channel config"))
	}
	if cfg.Host == "" || cfg.From == "" || len(cfg.To) == 0 {
		return failure(0, models.ValidationError("email channel config requires host, from, and to"))
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}

	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	msg := buildEmailMessage(cfg.From, cfg.To, payload)

	done := make(chan error, 1)
	go func() {
		done <- e.sendMail(addr, auth, cfg.From, cfg.To, msg)
	}()

	select {
	case err := <-done:
		if err != nil {
			return failure(1, err)
		}
		return DeliveryResult{Success: true, Attempt: 1}
	case <-time.After(requestTimeout):
		return failure(1, fmt.Errorf("smtp delivery to %s timed out", addr))
	case <-ctx.Done():
		return failure(1, ctx.Err())
	}
}

func buildEmailMessage(from string, to []string, p *Payload) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: [%s] %s\r\n", strings.ToUpper(p.Severity), p.Title)
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(p.Message)
	fmt.Fprintf(&b, "\r\n\r\nRule: %s\r\nCurrent value: %.4f\r\nThreshold: %.4f\r\n",
		p.RuleName, p.CurrentValue, p.Threshold)
	if p.GroupCount > 1 {
		fmt.Fprintf(&b, "Grouped occurrences: %d\r\n", p.GroupCount)
	}
	fmt.Fprintf(&b, "Triggered at: %s\r\n", p.TriggeredAt.UTC().Format("2006-01-02 15:04:05 UTC"))
	return []byte(b.String())
}
