// Package responses tracks multiple-choice answers for one session, keeps
// the running score current and persists answers best-effort.
package responses

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"talentscreen-backend/internal/assessment"
)

const persistTimeout = 15 * time.Second

type saveRequest struct {
	questionID string
	value      string
	version    int
}

// Manager exclusively owns the MCQ question list. The UI only ever sees
// QuestionView projections.
type Manager struct {
	source assessment.QuestionSource
	sink   assessment.AnswerSink
	token  string

	mu        sync.Mutex
	questions []*assessment.Question
	index     map[string]*assessment.Question
	versions  map[string]int
	unsaved   map[string]saveRequest
	pending   []saveRequest
	draining  bool
	idle      chan struct{}
	score     int
	closed    bool
}

func NewManager(source assessment.QuestionSource, sink assessment.AnswerSink, token string) *Manager {
	return &Manager{
		source:   source,
		sink:     sink,
		token:    token,
		index:    make(map[string]*assessment.Question),
		versions: make(map[string]int),
		unsaved:  make(map[string]saveRequest),
	}
}

// Load fetches the question set for the session. An empty multiple-choice
// list fails with assessment.ErrNoQuestionsAvailable.
func (m *Manager) Load(ctx context.Context) (assessment.QuestionSet, error) {
	set, err := m.source.Questions(ctx, m.token)
	if err != nil {
		return assessment.QuestionSet{}, fmt.Errorf("failed to load questions: %w", err)
	}
	if len(set.MCQ) == 0 {
		return assessment.QuestionSet{}, assessment.ErrNoQuestionsAvailable
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.questions = make([]*assessment.Question, 0, len(set.MCQ))
	m.index = make(map[string]*assessment.Question, len(set.MCQ))
	for i := range set.MCQ {
		q := set.MCQ[i]
		q.Kind = assessment.QuestionMCQ
		q.Status = assessment.StatusPending
		q.UserAnswer = nil
		m.questions = append(m.questions, &q)
		m.index[q.ID] = &q
	}
	m.score = 0

	return set, nil
}

// RecordAnswer updates local state immediately and persists in the
// background. Answers that previously failed to persist are retried with it.
// Recording the same question again replaces the value; the status stays
// answered.
func (m *Manager) RecordAnswer(questionID, value string) (assessment.QuestionView, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return assessment.QuestionView{}, assessment.ErrClosed
	}
	q, ok := m.index[questionID]
	if !ok {
		m.mu.Unlock()
		return assessment.QuestionView{}, fmt.Errorf("%w: %s", assessment.ErrUnknownQuestion, questionID)
	}

	answer := value
	q.UserAnswer = &answer
	q.Status = assessment.StatusAnswered
	m.score = m.computeScoreLocked()

	m.versions[questionID]++
	reqs := []saveRequest{{questionID: questionID, value: value, version: m.versions[questionID]}}
	delete(m.unsaved, questionID)
	for id, req := range m.unsaved {
		reqs = append(reqs, req)
		delete(m.unsaved, id)
	}
	view := q.View()
	m.mu.Unlock()

	m.enqueue(reqs...)
	return view, nil
}

func (m *Manager) enqueue(reqs ...saveRequest) {
	m.mu.Lock()
	m.pending = append(m.pending, reqs...)
	if m.draining {
		m.mu.Unlock()
		return
	}
	m.draining = true
	m.idle = make(chan struct{})
	m.mu.Unlock()

	go m.drain()
}

// drain persists queued answers in order, skipping ones superseded by a newer value.
func (m *Manager) drain() {
	for {
		m.mu.Lock()
		if len(m.pending) == 0 {
			m.draining = false
			close(m.idle)
			m.mu.Unlock()
			return
		}
		req := m.pending[0]
		m.pending = m.pending[1:]
		latest := m.versions[req.questionID] == req.version
		m.mu.Unlock()

		if !latest {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		err := m.sink.SaveAnswer(ctx, m.token, req.questionID, req.value)
		cancel()
		if err != nil {
			log.Printf("responses: %v for question %s: %v", assessment.ErrPersistAnswerFailed, req.questionID, err)
			m.mu.Lock()
			if m.versions[req.questionID] == req.version {
				m.unsaved[req.questionID] = req
			}
			m.mu.Unlock()
		}
	}
}

// Flush retries unsaved answers once and waits for queued persists to
// finish or ctx to expire.
func (m *Manager) Flush(ctx context.Context) error {
	m.mu.Lock()
	var retry []saveRequest
	for id, req := range m.unsaved {
		retry = append(retry, req)
		delete(m.unsaved, id)
	}
	m.mu.Unlock()

	if len(retry) > 0 {
		m.enqueue(retry...)
	}

	m.mu.Lock()
	if !m.draining {
		m.mu.Unlock()
		return nil
	}
	idle := m.idle
	m.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close rejects further answers. Already queued persists still run.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
}

// SkipUnanswered marks every pending question skipped and returns their ids.
func (m *Manager) SkipUnanswered() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []string
	for _, q := range m.questions {
		if q.Status == assessment.StatusPending {
			q.Status = assessment.StatusSkipped
			ids = append(ids, q.ID)
		}
	}
	return ids
}

// Score is the integer percentage of correct answers over all questions.
func (m *Manager) Score() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.score
}

func (m *Manager) computeScoreLocked() int {
	correct := 0
	for _, q := range m.questions {
		if q.UserAnswer != nil && *q.UserAnswer == q.CorrectAnswer {
			correct++
		}
	}
	return assessment.ScorePercent(correct, len(m.questions))
}

func (m *Manager) Answered() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, q := range m.questions {
		if q.Status == assessment.StatusAnswered {
			n++
		}
	}
	return n
}

func (m *Manager) Total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.questions)
}

// Unsaved is the number of answers whose last persist attempt failed.
func (m *Manager) Unsaved() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.unsaved)
}

func (m *Manager) Questions() []assessment.QuestionView {
	m.mu.Lock()
	defer m.mu.Unlock()

	views := make([]assessment.QuestionView, 0, len(m.questions))
	for _, q := range m.questions {
		views = append(views, q.View())
	}
	return views
}
