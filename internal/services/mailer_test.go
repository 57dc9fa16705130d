package services

import (
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"
)

func TestMailer_SendInvitation(t *testing.T) {
	m := NewMailer(SMTPSettings{Host: "smtp.example.com", Port: "587", User: "u", Pass: "p", From: "hr@example.com"})

	var gotAddr string
	var gotTo []string
	var gotMsg []byte
	m.send = func(addr string, _ smtp.Auth, _ string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg = addr, to, msg
		return nil
	}

	err := m.SendInvitation(Invitation{
		To:         "cand@example.com",
		Assessment: "Go <Backend> screen",
		Link:       "https://screen.example.com/assessment/tok",
		ExpiresAt:  time.Date(2026, 10, 20, 9, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotAddr != "smtp.example.com:587" {
		t.Errorf("Expected smtp.example.com:587, got %q", gotAddr)
	}
	if len(gotTo) != 1 || gotTo[0] != "cand@example.com" {
		t.Errorf("Unexpected recipients: %v", gotTo)
	}
	msg := string(gotMsg)
	if !strings.Contains(msg, "Subject: Your assessment: Go <Backend> screen") {
		t.Error("Expected subject header")
	}
	if !strings.Contains(msg, "Go &lt;Backend&gt; screen") {
		t.Error("Expected escaped title in body")
	}
	if !strings.Contains(msg, "https://screen.example.com/assessment/tok") {
		t.Error("Expected link in body")
	}
	if !strings.Contains(msg, "Oct 20, 2026 09:00 UTC") {
		t.Error("Expected expiry in body")
	}
}

func TestMailer_Errors(t *testing.T) {
	m := NewMailer(SMTPSettings{Host: "smtp.example.com", Port: "587", User: "u", From: "hr@example.com"})
	m.send = func(string, smtp.Auth, string, []string, []byte) error { return errors.New("connection refused") }

	if err := m.SendInvitation(Invitation{To: "cand@example.com", Link: "x"}); err == nil {
		t.Error("Expected send error to propagate")
	}

	err := m.SendInvitation(Invitation{To: "not-an-email"})
	if _, ok := err.(*ValidationError); !ok {
		t.Errorf("Expected ValidationError, got %T", err)
	}
}

func TestMailer_DevModeLogsOnly(t *testing.T) {
	m := NewMailer(SMTPSettings{})
	m.send = func(string, smtp.Auth, string, []string, []byte) error {
		t.Fatal("dev mode must not send")
		return nil
	}
	if err := m.SendInvitation(Invitation{To: "cand@example.com", Assessment: "t", Link: "l"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
