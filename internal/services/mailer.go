package services

import (
	"bytes"
	"fmt"
	"html/template"
	"log"
	"net/smtp"
	"strings"
	"time"
)

// SMTPSettings configures outgoing invitation mail. With no host or user the
// mailer logs messages instead of sending them.
type SMTPSettings struct {
	Host string
	Port string
	User string
	Pass string
	From string
}

type Mailer struct {
	smtp    SMTPSettings
	devMode bool
	send    func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewMailer(settings SMTPSettings) *Mailer {
	devMode := settings.Host == "" || settings.User == ""
	if devMode {
		log.Println("⚠ Mailer running in DEV MODE (logging to console)")
	}
	return &Mailer{smtp: settings, devMode: devMode, send: smtp.SendMail}
}

// Invitation is the content of a candidate invite.
type Invitation struct {
	To         string
	Assessment string
	Link       string
	ExpiresAt  time.Time
}

var invitationTmpl = template.Must(template.New("invite").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"></head>
<body style="font-family: 'Segoe UI', Arial, sans-serif; margin: 0; padding: 0; background-color: #f8fafc;">
  <div style="max-width: 480px; margin: 40px auto; background: white; border-radius: 12px; overflow: hidden;">
    <div style="padding: 32px;">
      <h2 style="margin: 0 0 16px; font-size: 20px; color: #1e293b;">{{.Assessment}}</h2>
      <p style="color: #64748b; font-size: 14px; line-height: 1.6; margin: 0 0 16px;">
        You have been invited to a proctored assessment. It has a timed multiple-choice part and a
        short voice part. Your camera, microphone and screen are recorded while you answer.
      </p>
      <a href="{{.Link}}" style="display: inline-block; background: #0f766e; color: white; text-decoration: none; padding: 12px 32px; border-radius: 8px; font-weight: 600; font-size: 14px;">
        Start assessment
      </a>
      <p style="color: #94a3b8; font-size: 12px; margin: 24px 0 0; line-height: 1.5;">
        If the button doesn't work, copy and paste this link:<br>
        <a href="{{.Link}}" style="color: #0f766e;">{{.Link}}</a>
      </p>
      <p style="color: #94a3b8; font-size: 12px; margin: 16px 0 0;">
        This link can be used once and expires {{.ExpiresAt.UTC.Format "Jan 2, 2006 15:04 MST"}}.
      </p>
    </div>
  </div>
</body>
</html>`))

func (m *Mailer) SendInvitation(inv Invitation) error {
	if inv.To == "" || !strings.Contains(inv.To, "@") {
		return &ValidationError{Fields: map[string]string{"email": "A valid email address is required"}}
	}

	var body bytes.Buffer
	if err := invitationTmpl.Execute(&body, inv); err != nil {
		return fmt.Errorf("failed to render invitation: %w", err)
	}
	return m.sendHTML(inv.To, fmt.Sprintf("Your assessment: %s", inv.Assessment), body.String())
}

func (m *Mailer) sendHTML(to, subject, htmlBody string) error {
	if m.devMode {
		log.Printf("📧 [DEV EMAIL] To: %s | Subject: %s", to, subject)
		log.Printf("📧 Body:\n%s", htmlBody)
		return nil
	}

	message := buildMessage(m.smtp.From, to, subject, htmlBody)
	auth := smtp.PlainAuth("", m.smtp.User, m.smtp.Pass, m.smtp.Host)
	addr := fmt.Sprintf("%s:%s", m.smtp.Host, m.smtp.Port)

	if err := m.send(addr, auth, m.smtp.From, []string{to}, message); err != nil {
		return fmt.Errorf("failed to send email to %s: %w", to, err)
	}

	log.Printf("📧 Email sent to %s: %s", to, subject)
	return nil
}

func buildMessage(from, to, subject, htmlBody string) []byte {
	headers := []string{
		fmt.Sprintf("From: %s", from),
		fmt.Sprintf("To: %s", to),
		fmt.Sprintf("Subject: %s", subject),
		"MIME-Version: 1.0",
		"Content-Type: text/html; charset=UTF-8",
	}
	return []byte(strings.Join(headers, "\r\n") + "\r\n\r\n" + htmlBody)
}
