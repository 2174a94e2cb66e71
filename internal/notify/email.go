package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"html"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/scoutlab/pubscout/internal/config"
	"github.com/scoutlab/pubscout/internal/model"
)

// smtpTimeout bounds the whole SMTP session, dial included, so a hung
// server fails the channel instead of blocking the run.
const smtpTimeout = 10 * time.Second

// Email sends alerts as HTML mail over SMTP with STARTTLS.
type Email struct {
	cfg     config.EmailConfig
	timeout time.Duration
	send    func(addr string, timeout time.Duration, auth smtp.Auth, from string, to []string, msg []byte) error
}

func NewEmail(cfg config.EmailConfig) *Email {
	return &Email{cfg: cfg, timeout: smtpTimeout, send: sendMail}
}

func (e *Email) Name() string { return "email" }

func (e *Email) Send(ctx context.Context, rec model.PublicationRecord, score model.ScoreResult) error {
	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "email: context")
	}
	if e.cfg.Host == "" || e.cfg.From == "" || len(e.cfg.To) == 0 {
		return eris.New("email: host, from and to are required")
	}

	var auth smtp.Auth
	if e.cfg.Username != "" {
		auth = smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Host)
	}

	addr := fmt.Sprintf("%s:%d", e.cfg.Host, e.cfg.Port)
	msg := buildMessage(e.cfg.From, e.cfg.To, rec, score)
	if err := e.send(addr, e.timeout, auth, e.cfg.From, e.cfg.To, msg); err != nil {
		return eris.Wrap(err, "email: send")
	}
	return nil
}

// sendMail mirrors smtp.SendMail but sets a connection deadline covering
// the full exchange.
func sendMail(addr string, timeout time.Duration, auth smtp.Auth, from string, to []string, msg []byte) error {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return err
	}
	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		conn.Close()
		return err
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		conn.Close()
		return err
	}
	c, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: host}); err != nil {
			return err
		}
	}
	if auth != nil {
		if err := c.Auth(auth); err != nil {
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

func buildMessage(from string, to []string, rec model.PublicationRecord, score model.ScoreResult) []byte {
	subject := "High-Potential Publication Alert: " + rec.Title

	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + strings.Join(to, ", ") + "\r\n")
	b.WriteString("Subject: " + subject + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(emailBody(rec, score))
	return []byte(b.String())
}

func emailBody(rec model.PublicationRecord, score model.ScoreResult) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	b.WriteString("<h2>High-Potential Publication Detected</h2>")
	b.WriteString("<h3>Publication Details</h3>")
	b.WriteString("<p><strong>Title:</strong> " + html.EscapeString(rec.Title) + "</p>")
	if len(rec.Authors) > 0 {
		b.WriteString("<p><strong>Authors:</strong> " + html.EscapeString(strings.Join(rec.Authors, ", ")) + "</p>")
	}
	if rec.Department != "" {
		b.WriteString("<p><strong>Department:</strong> " + html.EscapeString(rec.Department) + "</p>")
	}
	b.WriteString(fmt.Sprintf("<p><strong>Score:</strong> %.1f/10</p>", score.Score))
	if score.Rationale != "" {
		b.WriteString("<h3>Analysis</h3>")
		b.WriteString("<p>" + html.EscapeString(score.Rationale) + "</p>")
	}
	if rec.URL != "" {
		b.WriteString(`<p><a href="` + rec.URL + `">View Publication</a></p>`)
	}
	b.WriteString("</body></html>")
	return b.String()
}
