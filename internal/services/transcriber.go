package services

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// AnswerCheck is the verdict on one recorded voice answer.
type AnswerCheck struct {
	Valid      bool
	Transcript string
}

// AnswerChecker decides whether a recorded voice answer counts.
type AnswerChecker interface {
	Check(ctx context.Context, audio []byte, mimeType string, duration time.Duration) (AnswerCheck, error)
}

// HeuristicChecker accepts any answer that is long enough and large enough.
type HeuristicChecker struct {
	MinDuration time.Duration
	MinBytes    int
}

func DefaultHeuristic() HeuristicChecker {
	return HeuristicChecker{MinDuration: time.Second, MinBytes: 1024}
}

func (c HeuristicChecker) Check(_ context.Context, audio []byte, _ string, duration time.Duration) (AnswerCheck, error) {
	return AnswerCheck{Valid: duration >= c.MinDuration && len(audio) >= c.MinBytes}, nil
}

// GeminiTranscriber transcribes answers that pass the heuristic; an answer
// with an empty transcript is invalid. Transcription errors fall back to the
// heuristic verdict.
type GeminiTranscriber struct {
	client    *genai.Client
	model     *genai.GenerativeModel
	heuristic HeuristicChecker
	rateChan  chan struct{} // Token bucket
}

func NewGeminiTranscriber(apiKey string, concurrentReqs int) (*GeminiTranscriber, error) {
	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := client.GenerativeModel("gemini-2.0-flash")
	model.SetTemperature(0)

	if concurrentReqs <= 0 {
		concurrentReqs = 1
	}
	rateChan := make(chan struct{}, concurrentReqs)
	for i := 0; i < concurrentReqs; i++ {
		rateChan <- struct{}{}
	}

	return &GeminiTranscriber{
		client:    client,
		model:     model,
		heuristic: DefaultHeuristic(),
		rateChan:  rateChan,
	}, nil
}

func (g *GeminiTranscriber) Close() {
	g.client.Close()
}

func (g *GeminiTranscriber) Check(ctx context.Context, audio []byte, mimeType string, duration time.Duration) (AnswerCheck, error) {
	base, _ := g.heuristic.Check(ctx, audio, mimeType, duration)
	if !base.Valid {
		return base, nil
	}

	text, err := g.Transcribe(ctx, audio, mimeType)
	if err != nil {
		log.Printf("transcriber: falling back to heuristic: %v", err)
		return base, nil
	}
	return AnswerCheck{Valid: text != "", Transcript: text}, nil
}

// acquireRate blocks until a rate slot is available
func (g *GeminiTranscriber) acquireRate(ctx context.Context) error {
	select {
	case <-g.rateChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(2 * time.Minute):
		return fmt.Errorf("timeout waiting for Gemini rate slot")
	}
}

func (g *GeminiTranscriber) releaseRate() {
	g.rateChan <- struct{}{}
}

// Transcribe uploads the audio through the Gemini File API and returns the
// verbatim transcript.
func (g *GeminiTranscriber) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	if err := g.acquireRate(ctx); err != nil {
		return "", err
	}
	defer g.releaseRate()

	if len(audio) == 0 {
		return "", fmt.Errorf("audio payload is empty")
	}
	if mimeType == "" {
		mimeType = "audio/webm"
	}

	file, err := g.client.UploadFile(ctx, "", bytes.NewReader(audio), &genai.UploadFileOptions{
		DisplayName: "voice-answer",
		MIMEType:    mimeType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload audio to Gemini: %w", err)
	}
	defer g.client.DeleteFile(context.Background(), file.Name)

	for i := 0; i < 20 && file.State != genai.FileStateActive; i++ {
		current, getErr := g.client.GetFile(ctx, file.Name)
		if getErr != nil {
			return "", fmt.Errorf("failed to get uploaded file status: %w", getErr)
		}
		if current.State == genai.FileStateFailed {
			return "", fmt.Errorf("Gemini failed to process uploaded audio file")
		}
		file = current
		if file.State == genai.FileStateActive {
			break
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(time.Second):
		}
	}
	if file.State != genai.FileStateActive {
		return "", fmt.Errorf("audio file did not become active in time")
	}

	resp, err := g.model.GenerateContent(ctx,
		genai.Text("Transcribe the candidate's spoken answer verbatim. Return plain text only. Return an empty response if nothing intelligible is said."),
		genai.FileData{MIMEType: mimeType, URI: file.URI},
	)
	if err != nil {
		return "", fmt.Errorf("Gemini transcription error: %w", err)
	}

	return strings.TrimSpace(extractText(resp)), nil
}

func extractText(resp *genai.GenerateContentResponse) string {
	var text strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				if t, ok := part.(genai.Text); ok {
					text.WriteString(string(t))
				}
			}
		}
	}
	return text.String()
}
