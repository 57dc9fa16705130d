package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"talentscreen-backend/internal/assessment"
	"talentscreen-backend/internal/middleware"
	"talentscreen-backend/internal/models"
)

const sampleAssessment = `
title: Backend engineer screen
policy:
  mcq_duration_sec: 600
  tab_switch_limit: 3
mcq:
  - text: Which HTTP status means Gone?
    options: ["404", "410", "451"]
    correct_answer: "410"
  - text: Which keyword starts a goroutine?
    options: [go, defer]
    correct_answer: go
voice:
  - text: Describe a production incident you handled.
`

func TestParseAssessment(t *testing.T) {
	a, questions, err := parseAssessment([]byte(sampleAssessment))
	require.NoError(t, err)
	assert.Equal(t, "Backend engineer screen", a.Title)

	var policy assessment.Policy
	require.NoError(t, json.Unmarshal(a.PolicyJSON, &policy))
	assert.Equal(t, 600, policy.MCQDurationSec)
	assert.Equal(t, 3, policy.TabSwitchLimit)

	require.Len(t, questions, 3)
	assert.Equal(t, models.QuestionMCQ, questions[0].Kind)
	assert.Equal(t, 1, questions[0].Position)
	assert.Equal(t, "410", *questions[0].CorrectAnswer)
	assert.Equal(t, 2, questions[1].Position)
	assert.Equal(t, models.QuestionVoice, questions[2].Kind)
	assert.Equal(t, 1, questions[2].Position)
	assert.Nil(t, questions[2].CorrectAnswer)
}

func TestParseAssessment_Rejects(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"missing title", "mcq: [{text: q, options: [a, b], correct_answer: a}]", "title"},
		{"no mcq", "title: t", "mcq"},
		{"one option", "title: t\nmcq: [{text: q, options: [a], correct_answer: a}]", "two options"},
		{"answer not an option", "title: t\nmcq: [{text: q, options: [a, b], correct_answer: c}]", "not one of the options"},
		{"negative tab limit", "title: t\npolicy: {tab_switch_limit: -2}\nmcq: [{text: q, options: [a, b], correct_answer: a}]", "tab_switch_limit"},
		{"empty voice text", "title: t\nmcq: [{text: q, options: [a, b], correct_answer: a}]\nvoice: [{text: ''}]", "voice[0]"},
		{"bad yaml", "title: [", "invalid assessment YAML"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := parseAssessment([]byte(tc.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestIssueTokenCmd(t *testing.T) {
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{
		"issue-token",
		"--session", "7d9f4e3c-1b2a-4c5d-8e6f-0a1b2c3d4e5f",
		"--session-secret", "s3cret",
		"--frontend-url", "https://screen.example.com/",
	})
	require.NoError(t, root.Execute())

	line := strings.TrimSpace(out.String())
	require.True(t, strings.HasPrefix(line, "https://screen.example.com/assessment/"), line)

	token := strings.TrimPrefix(line, "https://screen.example.com/assessment/")
	id, err := middleware.NewSessionTokens("s3cret").Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "7d9f4e3c-1b2a-4c5d-8e6f-0a1b2c3d4e5f", id.String())
}

func TestIssueTokenCmd_OutlivesLinkDeadline(t *testing.T) {
	policyFile := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(policyFile, []byte("mcq_duration_sec: 600\nvoice_duration_sec: 300\n"), 0o600))

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{
		"issue-token",
		"--session", "7d9f4e3c-1b2a-4c5d-8e6f-0a1b2c3d4e5f",
		"--session-secret", "s3cret",
		"--policy-file", policyFile,
		"--frontend-url", "https://screen.example.com",
		"--ttl=-5m",
	})
	require.NoError(t, root.Execute())

	token := strings.TrimPrefix(strings.TrimSpace(out.String()), "https://screen.example.com/assessment/")
	_, err := middleware.NewSessionTokens("s3cret").Parse(token)
	require.NoError(t, err, "a session started before the link deadline must keep a usable token")

	claims := jwt.MapClaims{}
	_, _, err = jwt.NewParser().ParseUnverified(token, claims)
	require.NoError(t, err)
	exp, err := claims.GetExpirationTime()
	require.NoError(t, err)
	want := time.Now().Add(-5*time.Minute + 15*time.Minute + 30*time.Minute)
	assert.WithinDuration(t, want, exp.Time, 5*time.Second)
}

func TestRecruiterTokenCmd(t *testing.T) {
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"recruiter-token", "--recruiter", "hr-42", "--secret", "hr-secret"})
	require.NoError(t, root.Execute())

	id, err := middleware.NewJWTAuth("hr-secret").ParseRecruiterToken(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "hr-42", id)
}

func TestIssueTokenCmd_RequiresSecret(t *testing.T) {
	t.Setenv("SESSION_TOKEN_SECRET", "")
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"issue-token", "--session", "7d9f4e3c-1b2a-4c5d-8e6f-0a1b2c3d4e5f", "--session-secret", ""})
	assert.Error(t, root.Execute())
}
