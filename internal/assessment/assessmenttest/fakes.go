// Package assessmenttest provides in-memory devices, recorders, event
// sources and backends for exercising the assessment components.
package assessmenttest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"talentscreen-backend/internal/assessment"
	"talentscreen-backend/internal/assessment/media"
	"talentscreen-backend/internal/assessment/proctoring"
)

type Track struct {
	kind    assessment.MediaKind
	stopped atomic.Bool
}

func (t *Track) Kind() assessment.MediaKind { return t.kind }
func (t *Track) Stop()                      { t.stopped.Store(true) }
func (t *Track) Stopped() bool              { return t.stopped.Load() }

type Stream struct {
	id      string
	tracks  []*Track
	ended   chan struct{}
	endOnce sync.Once
}

func NewStream(id string, kinds ...assessment.MediaKind) *Stream {
	s := &Stream{id: id, ended: make(chan struct{})}
	for _, k := range kinds {
		s.tracks = append(s.tracks, &Track{kind: k})
	}
	return s
}

func (s *Stream) ID() string { return s.id }

func (s *Stream) Tracks() []media.Track {
	out := make([]media.Track, 0, len(s.tracks))
	for _, t := range s.tracks {
		out = append(out, t)
	}
	return out
}

func (s *Stream) Ended() <-chan struct{} { return s.ended }

// End simulates the user stopping the share from the browser.
func (s *Stream) End() { s.endOnce.Do(func() { close(s.ended) }) }

// Released reports whether every track has been stopped.
func (s *Stream) Released() bool {
	for _, t := range s.tracks {
		if !t.Stopped() {
			return false
		}
	}
	return true
}

// Devices hands out fake streams. Set the error fields to simulate refusals.
type Devices struct {
	UserMediaErr    error
	DisplayMediaErr error
	// NoCamera drops the video track from user-media grants.
	NoCamera bool
	// DisplayGate, when set, holds DisplayMedia open until it is closed,
	// like a screen picker the candidate has not answered yet.
	DisplayGate chan struct{}

	mu      sync.Mutex
	streams []*Stream
	user    int
	display int
	picking int
}

func (d *Devices) UserMedia(_ context.Context, video, audio bool) (media.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.user++
	if d.UserMediaErr != nil {
		return nil, d.UserMediaErr
	}
	var kinds []assessment.MediaKind
	if video && !d.NoCamera {
		kinds = append(kinds, assessment.MediaCamera)
	}
	if audio {
		kinds = append(kinds, assessment.MediaMicrophone)
	}
	s := NewStream(fmt.Sprintf("user-%d", d.user), kinds...)
	d.streams = append(d.streams, s)
	return s, nil
}

func (d *Devices) DisplayMedia(ctx context.Context) (media.Stream, error) {
	if d.DisplayGate != nil {
		d.mu.Lock()
		d.picking++
		d.mu.Unlock()
		select {
		case <-d.DisplayGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.display++
	if d.DisplayMediaErr != nil {
		return nil, d.DisplayMediaErr
	}
	s := NewStream(fmt.Sprintf("screen-%d", d.display), assessment.MediaScreen)
	d.streams = append(d.streams, s)
	return s, nil
}

// Picking is the number of DisplayMedia calls that reached the gate.
func (d *Devices) Picking() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.picking
}

// Requests is the total number of media requests made.
func (d *Devices) Requests() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.user + d.display
}

func (d *Devices) Streams() []*Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Stream(nil), d.streams...)
}

// Screen returns the most recent display stream.
func (d *Devices) Screen() *Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := len(d.streams) - 1; i >= 0; i-- {
		if t := d.streams[i].tracks; len(t) > 0 && t[0].kind == assessment.MediaScreen {
			return d.streams[i]
		}
	}
	return nil
}

// AllReleased reports whether every stream ever granted has been stopped.
func (d *Devices) AllReleased() bool {
	for _, s := range d.Streams() {
		if !s.Released() {
			return false
		}
	}
	return true
}

// Recorders builds fake recorders whose blobs hold Payload bytes.
type Recorders struct {
	Payload   []byte
	StartErr  error
	StopErr   error
	StopDelay time.Duration

	mu      sync.Mutex
	started map[assessment.RecordingKind]int
	stops   atomic.Int32
}

func (f *Recorders) Start(stream media.Stream, kind assessment.RecordingKind) (media.Recorder, error) {
	if f.StartErr != nil {
		return nil, f.StartErr
	}
	f.mu.Lock()
	if f.started == nil {
		f.started = make(map[assessment.RecordingKind]int)
	}
	f.started[kind]++
	f.mu.Unlock()
	return &recorder{factory: f, kind: kind, begun: time.Now()}, nil
}

func (f *Recorders) Started(kind assessment.RecordingKind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started[kind]
}

// Stops counts recorder Stop calls that reached the underlying recorder.
func (f *Recorders) Stops() int { return int(f.stops.Load()) }

type recorder struct {
	factory *Recorders
	kind    assessment.RecordingKind
	begun   time.Time
}

func (r *recorder) Stop(ctx context.Context) (*assessment.Blob, error) {
	r.factory.stops.Add(1)
	if d := r.factory.StopDelay; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if r.factory.StopErr != nil {
		return nil, r.factory.StopErr
	}
	payload := r.factory.Payload
	if payload == nil {
		payload = make([]byte, 2048)
	}
	return &assessment.Blob{
		Data:     append([]byte(nil), payload...),
		MimeType: "video/webm",
		Duration: time.Since(r.begun),
	}, nil
}

// Events is a hand-driven visibility/fullscreen event source.
type Events struct {
	mu   sync.Mutex
	subs map[int]chan proctoring.Event
	next int
}

func (e *Events) Subscribe() (<-chan proctoring.Event, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.subs == nil {
		e.subs = make(map[int]chan proctoring.Event)
	}
	id := e.next
	e.next++
	ch := make(chan proctoring.Event, 64)
	e.subs[id] = ch
	return ch, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if c, ok := e.subs[id]; ok {
			close(c)
			delete(e.subs, id)
		}
	}
}

// Emit delivers kind to every subscriber.
func (e *Events) Emit(kind proctoring.EventKind) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ch := range e.subs {
		ch <- proctoring.Event{Kind: kind, At: time.Now()}
	}
}

func (e *Events) Subscribers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.subs)
}

type Display struct {
	RequestErr error

	requests atomic.Int32
	exits    atomic.Int32
}

func (d *Display) RequestFullscreen() error {
	d.requests.Add(1)
	return d.RequestErr
}

func (d *Display) ExitFullscreen() error {
	d.exits.Add(1)
	return nil
}

func (d *Display) Requests() int { return int(d.requests.Load()) }
func (d *Display) Exits() int    { return int(d.exits.Load()) }
