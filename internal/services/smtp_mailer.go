package services

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

// SMTP TLS modes.
const (
	SMTPModeTLS      = "tls"
	SMTPModeSTARTTLS = "starttls"
	SMTPModePlain    = "plain"
)

// SMTPConfig holds the relay settings.
type SMTPConfig struct {
	Host        string
	Port        int
	Username    string
	Password    string
	FromAddress string
	TLSMode     string
	Timeout     time.Duration
}

// SMTPMailer sends mail through an authenticated SMTP relay.
type SMTPMailer struct {
	config SMTPConfig
	auth   smtp.Auth
	now    func() time.Time
}

func NewSMTPMailer(cfg SMTPConfig) (*SMTPMailer, error) {
	if cfg.Host == "" {
		return nil, errors.New("smtp host is required")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, errors.New("smtp port must be between 1 and 65535")
	}
	if cfg.FromAddress == "" {
		return nil, errors.New("smtp sender address is required")
	}
	switch cfg.TLSMode {
	case SMTPModeTLS, SMTPModeSTARTTLS, SMTPModePlain:
	default:
		return nil, fmt.Errorf("smtp tls mode must be %s, %s or %s", SMTPModeTLS, SMTPModeSTARTTLS, SMTPModePlain)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	m := &SMTPMailer{config: cfg, now: time.Now}
	if cfg.Username != "" {
		m.auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return m, nil
}

// Send implements Mailer.
func (m *SMTPMailer) Send(ctx context.Context, to, subject, htmlBody string) error {
	client, err := m.dial(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	if err := m.authenticate(client); err != nil {
		return err
	}
	if err := client.Mail(m.config.FromAddress); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("smtp RCPT TO: %w", err)
	}

	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := writer.Write(m.buildMessage(to, subject, htmlBody)); err != nil {
		_ = writer.Close()
		return fmt.Errorf("smtp write message: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("smtp close data: %w", err)
	}

	// Some relays drop the connection right after DATA.
	_ = client.Quit()
	return nil
}

// Verify connects and authenticates without sending anything.
func (m *SMTPMailer) Verify(ctx context.Context) error {
	client, err := m.dial(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	if err := m.authenticate(client); err != nil {
		return err
	}
	return client.Quit()
}

func (m *SMTPMailer) dial(ctx context.Context) (*smtp.Client, error) {
	addr := net.JoinHostPort(m.config.Host, strconv.Itoa(m.config.Port))
	ctx, cancel := context.WithTimeout(ctx, m.config.Timeout)
	defer cancel()

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connect to smtp server: %w", err)
	}
	// The whole SMTP exchange shares one deadline.
	_ = conn.SetDeadline(m.now().Add(2 * m.config.Timeout))

	tlsConfig := &tls.Config{ServerName: m.config.Host, MinVersion: tls.VersionTLS12}
	if m.config.TLSMode == SMTPModeTLS {
		conn = tls.Client(conn, tlsConfig)
	}

	client, err := smtp.NewClient(conn, m.config.Host)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("create smtp client: %w", err)
	}

	if m.config.TLSMode == SMTPModeSTARTTLS {
		if err := client.StartTLS(tlsConfig); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("smtp STARTTLS: %w", err)
		}
	}
	return client, nil
}

func (m *SMTPMailer) authenticate(client *smtp.Client) error {
	if m.auth == nil {
		return nil
	}
	if err := client.Auth(m.auth); err != nil {
		return fmt.Errorf("smtp authentication failed: %w", err)
	}
	return nil
}

func (m *SMTPMailer) buildMessage(to, subject, htmlBody string) []byte {
	var b strings.Builder
	writeHeader := func(key, value string) {
		b.WriteString(key)
		b.WriteString(": ")
		b.WriteString(value)
		b.WriteString("\r\n")
	}

	writeHeader("From", m.config.FromAddress)
	writeHeader("To", to)
	writeHeader("Subject", mime.QEncoding.Encode("utf-8", subject))
	writeHeader("Date", m.now().Format(time.RFC1123Z))
	writeHeader("MIME-Version", "1.0")
	writeHeader("Content-Type", `text/html; charset="UTF-8"`)
	b.WriteString("\r\n")
	b.WriteString(htmlBody)

	return []byte(b.String())
}
