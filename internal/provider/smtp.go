package provider

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/kursadbilgin/investor-mailer/internal/domain"
)

const defaultSMTPTimeout = 30 * time.Second

// SMTPConfig holds the credentials of an interactive SMTP login. They live in
// memory only and never reach disk.
type SMTPConfig struct {
	Host        string
	Port        int
	Username    string
	AppPassword string
	// TLSConfig overrides the STARTTLS client config. Nil uses the host name.
	TLSConfig *tls.Config
}

var _ Capability = (*SMTPSession)(nil)

// SMTPSession is a foreground capability established by an explicit login.
// It is not an Acquirer, so the background scheduler cannot be wired to it.
type SMTPSession struct {
	cfg     SMTPConfig
	timeout time.Duration
}

// Connect validates the credentials against the server and returns a session
// on success.
func Connect(ctx context.Context, cfg SMTPConfig) (*SMTPSession, error) {
	cfg.Host = strings.TrimSpace(cfg.Host)
	cfg.Username = strings.TrimSpace(cfg.Username)
	if cfg.Host == "" {
		return nil, fmt.Errorf("%w: smtp host is required", domain.ErrValidation)
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("%w: invalid smtp port %d", domain.ErrValidation, cfg.Port)
	}
	if err := domain.ValidateEmail(cfg.Username); err != nil {
		return nil, err
	}
	if cfg.AppPassword == "" {
		return nil, fmt.Errorf("%w: app password is required", domain.ErrValidation)
	}

	session := &SMTPSession{cfg: cfg, timeout: defaultSMTPTimeout}

	client, err := session.dial(ctx)
	if err != nil {
		return nil, err
	}
	_ = client.Quit()

	return session, nil
}

func (s *SMTPSession) Account() string {
	return s.cfg.Username
}

func (s *SMTPSession) Send(ctx context.Context, to string, subject string, htmlBody string) domain.DeliveryOutcome {
	if err := s.send(ctx, to, subject, htmlBody); err != nil {
		return domain.Failed(smtpFailureDetail(err))
	}
	return domain.Delivered("")
}

func (s *SMTPSession) send(ctx context.Context, to string, subject string, htmlBody string) error {
	msg, err := BuildMIME(Message{From: s.cfg.Username, To: to, Subject: subject, HTML: htmlBody})
	if err != nil {
		return err
	}

	client, err := s.dial(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Mail(s.cfg.Username); err != nil {
		return err
	}
	if err := client.Rcpt(strings.TrimSpace(to)); err != nil {
		return err
	}

	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		_ = w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	return client.Quit()
}

// dial opens an authenticated connection, upgrading with STARTTLS when the
// server offers it.
func (s *SMTPSession) dial(ctx context.Context) (*smtp.Client, error) {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))

	dialer := &net.Dialer{Timeout: s.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &ProviderError{Message: "smtp connect failed", Transient: true, Cause: err}
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(s.timeout))
	}

	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return nil, &ProviderError{Message: "smtp handshake failed", Transient: true, Cause: err}
	}

	if ok, _ := client.Extension("STARTTLS"); ok {
		tlsConfig := s.cfg.TLSConfig
		if tlsConfig == nil {
			tlsConfig = &tls.Config{ServerName: s.cfg.Host, MinVersion: tls.VersionTLS12}
		}
		if err := client.StartTLS(tlsConfig); err != nil {
			_ = client.Close()
			return nil, &ProviderError{Message: "smtp starttls failed", Cause: err}
		}
	}

	if ok, _ := client.Extension("AUTH"); ok {
		auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.AppPassword, s.cfg.Host)
		if err := client.Auth(auth); err != nil {
			_ = client.Close()
			return nil, &ProviderError{Message: "smtp authentication failed", Cause: err}
		}
	}

	return client, nil
}

func smtpFailureDetail(err error) string {
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) && protoErr.Code >= 550 && protoErr.Code <= 553 {
		return fmt.Sprintf("recipient rejected: %s", protoErr.Msg)
	}
	return err.Error()
}
