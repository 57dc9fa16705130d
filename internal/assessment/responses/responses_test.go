package responses_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"talentscreen-backend/internal/assessment"
	"talentscreen-backend/internal/assessment/assessmenttest"
	"talentscreen-backend/internal/assessment/responses"
)

func load(t *testing.T, backend *assessmenttest.Backend) *responses.Manager {
	t.Helper()
	m := responses.NewManager(backend, backend, "tok")
	_, err := m.Load(context.Background())
	require.NoError(t, err)
	return m
}

func TestLoadEmptyFails(t *testing.T) {
	backend := assessmenttest.NewBackend(assessment.QuestionSet{Voice: assessmenttest.Voice(2)})
	m := responses.NewManager(backend, backend, "tok")

	_, err := m.Load(context.Background())
	assert.ErrorIs(t, err, assessment.ErrNoQuestionsAvailable)
}

func TestLoadPropagatesSourceError(t *testing.T) {
	backend := assessmenttest.NewBackend(assessment.QuestionSet{})
	backend.QuestionsErr = assessment.ErrTokenInvalid
	m := responses.NewManager(backend, backend, "tok")

	_, err := m.Load(context.Background())
	assert.ErrorIs(t, err, assessment.ErrTokenInvalid)
}

func TestScoreScenario(t *testing.T) {
	backend := assessmenttest.NewBackend(assessment.QuestionSet{MCQ: assessmenttest.MCQ(10)})
	m := load(t, backend)

	for i := 1; i <= 7; i++ {
		_, err := m.RecordAnswer(fmt.Sprintf("mcq-%d", i), "A")
		require.NoError(t, err)
	}
	_, err := m.RecordAnswer("mcq-8", "B")
	require.NoError(t, err)
	assert.Equal(t, 70, m.Score())

	skipped := m.SkipUnanswered()
	assert.Equal(t, []string{"mcq-9", "mcq-10"}, skipped)
	assert.Equal(t, 70, m.Score())
	assert.Equal(t, 8, m.Answered())
	assert.Equal(t, 10, m.Total())
}

func TestScoreTracksEveryChange(t *testing.T) {
	backend := assessmenttest.NewBackend(assessment.QuestionSet{MCQ: assessmenttest.MCQ(3)})
	m := load(t, backend)

	_, _ = m.RecordAnswer("mcq-1", "A")
	assert.Equal(t, 33, m.Score())
	_, _ = m.RecordAnswer("mcq-2", "A")
	assert.Equal(t, 67, m.Score())
	_, _ = m.RecordAnswer("mcq-2", "C")
	assert.Equal(t, 33, m.Score())
}

func TestRecordAnswerIsUpsert(t *testing.T) {
	backend := assessmenttest.NewBackend(assessment.QuestionSet{MCQ: assessmenttest.MCQ(2)})
	m := load(t, backend)

	_, err := m.RecordAnswer("mcq-1", "B")
	require.NoError(t, err)
	view, err := m.RecordAnswer("mcq-1", "A")
	require.NoError(t, err)

	assert.Equal(t, assessment.StatusAnswered, view.Status)
	require.NotNil(t, view.UserAnswer)
	assert.Equal(t, "A", *view.UserAnswer)

	qs := m.Questions()
	require.Len(t, qs, 2)
	assert.Equal(t, assessment.StatusAnswered, qs[0].Status)
	assert.Equal(t, assessment.StatusPending, qs[1].Status)

	require.NoError(t, m.Flush(context.Background()))
	saves := backend.Saves()
	require.NotEmpty(t, saves)
	assert.Equal(t, assessmenttest.Save{QuestionID: "mcq-1", Value: "A"}, saves[len(saves)-1])
}

func TestUnknownQuestion(t *testing.T) {
	m := load(t, assessmenttest.NewBackend(assessment.QuestionSet{MCQ: assessmenttest.MCQ(1)}))
	_, err := m.RecordAnswer("nope", "A")
	assert.ErrorIs(t, err, assessment.ErrUnknownQuestion)
}

func TestFailedSaveRetriedOnNextAnswer(t *testing.T) {
	backend := assessmenttest.NewBackend(assessment.QuestionSet{MCQ: assessmenttest.MCQ(2)})
	backend.SetSaveErr(errors.New("connection reset"))
	m := load(t, backend)

	_, err := m.RecordAnswer("mcq-1", "A")
	require.NoError(t, err)
	require.NoError(t, m.Flush(context.Background()))
	require.Eventually(t, func() bool { return m.Unsaved() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 50, m.Score())

	backend.SetSaveErr(nil)
	_, err = m.RecordAnswer("mcq-2", "A")
	require.NoError(t, err)
	require.NoError(t, m.Flush(context.Background()))

	assert.Zero(t, m.Unsaved())
	assert.ElementsMatch(t, []assessmenttest.Save{
		{QuestionID: "mcq-1", Value: "A"},
		{QuestionID: "mcq-2", Value: "A"},
	}, backend.Saves())
}

func TestClosedRejectsAnswers(t *testing.T) {
	m := load(t, assessmenttest.NewBackend(assessment.QuestionSet{MCQ: assessmenttest.MCQ(1)}))
	m.Close()
	_, err := m.RecordAnswer("mcq-1", "A")
	assert.ErrorIs(t, err, assessment.ErrClosed)
}

func TestSkippedNeverRevertsAnswered(t *testing.T) {
	m := load(t, assessmenttest.NewBackend(assessment.QuestionSet{MCQ: assessmenttest.MCQ(2)}))
	_, _ = m.RecordAnswer("mcq-1", "A")

	m.SkipUnanswered()
	m.SkipUnanswered()

	qs := m.Questions()
	assert.Equal(t, assessment.StatusAnswered, qs[0].Status)
	assert.Equal(t, assessment.StatusSkipped, qs[1].Status)
}
