// Package mail delivers account emails.
package mail

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"html"
	"net"
	"net/smtp"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Message is a single HTML email
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Gateway sends messages
type Gateway interface {
	Send(ctx context.Context, msg Message) error
}

// VerificationMessage builds the account verification email
func VerificationMessage(to, link string) Message {
	return Message{
		To:      to,
		Subject: "Email Verification",
		HTML: fmt.Sprintf(`<p>Please click <a href="%s">here</a> to verify your email.</p>`,
			html.EscapeString(link)),
	}
}

// SMTPConfig holds the relay settings
type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

// SMTPGateway sends mail through an SMTP relay
type SMTPGateway struct {
	cfg  SMTPConfig
	send func(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error
	log  *zap.Logger
}

// NewSMTPGateway creates a gateway for the relay
func NewSMTPGateway(cfg SMTPConfig, log *zap.Logger) *SMTPGateway {
	return &SMTPGateway{
		cfg:  cfg,
		send: sendMail,
		log:  log,
	}
}

// Send delivers msg. The dial and the whole SMTP exchange end when ctx does.
func (g *SMTPGateway) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.ContainsAny(msg.To, "\r\n") || strings.ContainsAny(msg.Subject, "\r\n") {
		return fmt.Errorf("invalid mail header")
	}

	var auth smtp.Auth
	if g.cfg.Username != "" {
		auth = smtp.PlainAuth("", g.cfg.Username, g.cfg.Password, g.cfg.Host)
	}

	addr := net.JoinHostPort(g.cfg.Host, g.cfg.Port)
	if err := g.send(ctx, addr, auth, g.cfg.From, []string{msg.To}, buildMIME(g.cfg.From, msg)); err != nil {
		g.log.Error("Failed to send mail", zap.String("to", msg.To), zap.String("subject", msg.Subject), zap.Error(err))
		return fmt.Errorf("failed to send mail: %w", err)
	}

	g.log.Info("Mail sent", zap.String("to", msg.To), zap.String("subject", msg.Subject))
	return nil
}

// sendMail follows smtp.SendMail but bounds the connection by ctx: its
// deadline becomes the socket deadline and cancellation aborts pending I/O.
func sendMail(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return err
		}
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	c, err := smtp.NewClient(conn, host)
	if err != nil {
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: host}); err != nil {
			return err
		}
	}
	if a != nil {
		if ok, _ := c.Extension("AUTH"); !ok {
			return errors.New("smtp: server doesn't support AUTH")
		}
		if err := c.Auth(a); err != nil {
			return err
		}
	}

	if err := c.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

func buildMIME(from string, msg Message) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + msg.To + "\r\n")
	b.WriteString("Subject: " + msg.Subject + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.HTML)
	b.WriteString("\r\n")
	return []byte(b.String())
}

// LogGateway writes messages to the log instead of sending them. Used when
// no SMTP relay is configured.
type LogGateway struct {
	log *zap.Logger
}

// NewLogGateway creates a log-only gateway
func NewLogGateway(log *zap.Logger) *LogGateway {
	return &LogGateway{log: log}
}

// Send logs the recipient at info. The body carries live verification links,
// so it only shows up at debug level.
func (g *LogGateway) Send(ctx context.Context, msg Message) error {
	g.log.Info("Mail delivery disabled, message dropped",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
	)
	g.log.Debug("Dropped mail body", zap.String("to", msg.To), zap.String("body", msg.HTML))
	return nil
}
