package main

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"talentscreen-backend/internal/assessment"
	"talentscreen-backend/internal/models"
)

// assessmentFile is the YAML layout accepted by create-assessment.
//
//	title: Backend engineer screen
//	policy:
//	  mcq_duration_sec: 600
//	mcq:
//	  - text: Which HTTP status means Gone?
//	    options: ["404", "410", "451"]
//	    correct_answer: "410"
//	voice:
//	  - text: Describe a production incident you handled.
type assessmentFile struct {
	Title  string             `yaml:"title"`
	Policy *assessment.Policy `yaml:"policy"`
	MCQ    []struct {
		Text          string   `yaml:"text"`
		Options       []string `yaml:"options"`
		CorrectAnswer string   `yaml:"correct_answer"`
	} `yaml:"mcq"`
	Voice []struct {
		Text string `yaml:"text"`
	} `yaml:"voice"`
}

func loadAssessmentFile(path string) (*models.Assessment, []*models.Question, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return parseAssessment(data)
}

func parseAssessment(data []byte) (*models.Assessment, []*models.Question, error) {
	var f assessmentFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, nil, fmt.Errorf("invalid assessment YAML: %w", err)
	}
	if strings.TrimSpace(f.Title) == "" {
		return nil, nil, fmt.Errorf("title is required")
	}
	if len(f.MCQ) == 0 {
		return nil, nil, fmt.Errorf("at least one mcq question is required")
	}

	a := &models.Assessment{Title: f.Title}
	if f.Policy != nil {
		if f.Policy.TabSwitchLimit < 0 {
			return nil, nil, fmt.Errorf("policy.tab_switch_limit must not be negative")
		}
		raw, err := json.Marshal(f.Policy)
		if err != nil {
			return nil, nil, err
		}
		a.PolicyJSON = raw
	}

	questions := make([]*models.Question, 0, len(f.MCQ)+len(f.Voice))
	for i, q := range f.MCQ {
		if strings.TrimSpace(q.Text) == "" {
			return nil, nil, fmt.Errorf("mcq[%d]: text is required", i)
		}
		if len(q.Options) < 2 {
			return nil, nil, fmt.Errorf("mcq[%d]: at least two options are required", i)
		}
		if !slices.Contains(q.Options, q.CorrectAnswer) {
			return nil, nil, fmt.Errorf("mcq[%d]: correct_answer %q is not one of the options", i, q.CorrectAnswer)
		}
		correct := q.CorrectAnswer
		questions = append(questions, &models.Question{
			Kind:          models.QuestionMCQ,
			Position:      i + 1,
			Text:          q.Text,
			Options:       q.Options,
			CorrectAnswer: &correct,
		})
	}
	for i, q := range f.Voice {
		if strings.TrimSpace(q.Text) == "" {
			return nil, nil, fmt.Errorf("voice[%d]: text is required", i)
		}
		questions = append(questions, &models.Question{
			Kind:     models.QuestionVoice,
			Position: i + 1,
			Text:     q.Text,
		})
	}

	return a, questions, nil
}
