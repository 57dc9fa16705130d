// Package media owns every capture stream and recorder used during an
// assessment. No other component touches a stream directly: callers get
// handles back and must go through the Manager to stop, upload or release.
package media

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"talentscreen-backend/internal/assessment"
)

// Track is one device track inside a stream.
type Track interface {
	Kind() assessment.MediaKind
	Stop()
}

// Stream is a live capture stream. Ended is closed when the stream stops
// out-of-band, e.g. the user clicks the browser's "stop sharing" control.
type Stream interface {
	ID() string
	Tracks() []Track
	Ended() <-chan struct{}
}

// Devices grants capture streams. Implementations should return errors
// wrapping assessment.ErrPermissionDenied or assessment.ErrDeviceUnavailable.
type Devices interface {
	UserMedia(ctx context.Context, video, audio bool) (Stream, error)
	DisplayMedia(ctx context.Context) (Stream, error)
}

// Recorder buffers a stream until stopped. Stop must not return until the
// blob is fully materialized.
type Recorder interface {
	Stop(ctx context.Context) (*assessment.Blob, error)
}

type RecorderFactory interface {
	Start(stream Stream, kind assessment.RecordingKind) (Recorder, error)
}

type Uploader interface {
	UploadRecording(ctx context.Context, token string, camera, screen *assessment.Blob) (string, error)
}

type Manager struct {
	devices   Devices
	recorders RecorderFactory
	uploader  Uploader

	mu      sync.Mutex
	streams []Stream
	handles []*Handle
	closed  bool
	quit    chan struct{}
}

func NewManager(devices Devices, recorders RecorderFactory, uploader Uploader) *Manager {
	return &Manager{
		devices:   devices,
		recorders: recorders,
		uploader:  uploader,
		quit:      make(chan struct{}),
	}
}

// Acquire requests the given kinds. Camera and microphone are granted together
// as one user-media stream, screen as a separate display stream. If any
// request fails every stream acquired by this call is released before the
// error is returned.
func (m *Manager) Acquire(ctx context.Context, kinds ...assessment.MediaKind) ([]Stream, error) {
	var video, audio, screen bool
	for _, k := range kinds {
		switch k {
		case assessment.MediaCamera:
			video = true
		case assessment.MediaMicrophone:
			audio = true
		case assessment.MediaScreen:
			screen = true
		default:
			return nil, fmt.Errorf("unknown media kind %q", k)
		}
	}

	if m.isClosed() {
		return nil, assessment.ErrClosed
	}

	var acquired []Stream
	if video || audio {
		s, err := m.devices.UserMedia(ctx, video, audio)
		if err != nil {
			return nil, classify(err)
		}
		acquired = append(acquired, s)
	}
	if screen {
		s, err := m.devices.DisplayMedia(ctx)
		if err != nil {
			for _, s := range acquired {
				stopTracks(s)
			}
			return nil, classify(err)
		}
		acquired = append(acquired, s)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		for _, s := range acquired {
			stopTracks(s)
		}
		return nil, assessment.ErrClosed
	}
	m.streams = append(m.streams, acquired...)
	m.mu.Unlock()

	return acquired, nil
}

// SystemCheck is the outcome of the camera+microphone permission probe.
type SystemCheck struct {
	Camera     bool `json:"camera"`
	Microphone bool `json:"microphone"`
}

// Probe acquires camera and microphone, reports which tracks were granted and
// releases the probe stream immediately. A grant missing either track fails
// with assessment.ErrDeviceUnavailable; the returned check still says which.
func (m *Manager) Probe(ctx context.Context) (SystemCheck, error) {
	streams, err := m.Acquire(ctx, assessment.MediaCamera, assessment.MediaMicrophone)
	if err != nil {
		return SystemCheck{}, err
	}
	defer m.Release(streams...)

	var check SystemCheck
	for _, s := range streams {
		for _, t := range s.Tracks() {
			switch t.Kind() {
			case assessment.MediaCamera:
				check.Camera = true
			case assessment.MediaMicrophone:
				check.Microphone = true
			}
		}
	}
	switch {
	case !check.Camera:
		return check, fmt.Errorf("%w: no camera track granted", assessment.ErrDeviceUnavailable)
	case !check.Microphone:
		return check, fmt.Errorf("%w: no microphone track granted", assessment.ErrDeviceUnavailable)
	}
	return check, nil
}

// StartRecording begins buffering stream into a new handle.
func (m *Manager) StartRecording(stream Stream, kind assessment.RecordingKind) (*Handle, error) {
	if m.isClosed() {
		return nil, assessment.ErrClosed
	}

	rec, err := m.recorders.Start(stream, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to start %s recorder: %w", kind, classify(err))
	}

	h := newHandle(kind, stream, rec)

	m.mu.Lock()
	m.handles = append(m.handles, h)
	m.mu.Unlock()

	return h, nil
}

// StopRecording stops h and waits until its blob is materialized. The
// handle's stream is released afterwards whatever the outcome. Concurrent
// callers share the single stop and all observe the same result.
func (m *Manager) StopRecording(ctx context.Context, h *Handle) (*assessment.Blob, error) {
	if h == nil {
		return nil, assessment.ErrNotRecording
	}

	h.once.Do(func() {
		go func() {
			blob, err := h.recorder.Stop(ctx)
			m.Release(h.stream)
			h.finish(blob, err)
		}()
	})

	select {
	case <-h.done:
		return h.result()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Upload posts the composite and screen blobs. Either handle may be nil or
// have an empty blob; a failure is reported as assessment.ErrUploadFailed.
func (m *Manager) Upload(ctx context.Context, token string, camera, screen *Handle) (string, error) {
	camBlob, screenBlob := camera.Blob(), screen.Blob()
	if camBlob.Size() == 0 && screenBlob.Size() == 0 {
		return "", fmt.Errorf("nothing recorded: %w", assessment.ErrUploadFailed)
	}

	camera.setStatus(assessment.UploadUploading)
	screen.setStatus(assessment.UploadUploading)

	id, err := m.uploader.UploadRecording(ctx, token, camBlob, screenBlob)
	if err != nil {
		camera.setStatus(assessment.UploadFailed)
		screen.setStatus(assessment.UploadFailed)
		if errors.Is(err, assessment.ErrUploadFailed) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", assessment.ErrUploadFailed, err)
	}

	camera.setStatus(assessment.UploadUploaded)
	screen.setStatus(assessment.UploadUploaded)
	return id, nil
}

// WatchEnded calls fn once if stream ends out-of-band. The watcher exits
// without calling fn once the manager is torn down.
func (m *Manager) WatchEnded(stream Stream, fn func()) {
	go func() {
		select {
		case <-stream.Ended():
			if m.isClosed() {
				return
			}
			log.Printf("media: stream %s ended out-of-band", stream.ID())
			fn()
		case <-m.quit:
		}
	}()
}

// Release stops every track of the given streams.
func (m *Manager) Release(streams ...Stream) {
	m.mu.Lock()
	for _, s := range streams {
		for i, active := range m.streams {
			if active == s {
				m.streams = append(m.streams[:i], m.streams[i+1:]...)
				break
			}
		}
	}
	m.mu.Unlock()

	for _, s := range streams {
		stopTracks(s)
	}
}

// ReleaseAll stops every stream still held by the manager.
func (m *Manager) ReleaseAll() {
	m.mu.Lock()
	streams := m.streams
	m.streams = nil
	m.mu.Unlock()

	for _, s := range streams {
		stopTracks(s)
	}
}

// Teardown is the unconditional unmount hook: it stops every track even if a
// recorder stop or upload is still in flight. Data in flight may be lost.
func (m *Manager) Teardown() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	close(m.quit)
	streams := m.streams
	m.streams = nil
	m.mu.Unlock()

	for _, s := range streams {
		stopTracks(s)
	}
}

// Active returns the number of streams not yet released.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.streams)
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func stopTracks(s Stream) {
	for _, t := range s.Tracks() {
		t.Stop()
	}
}

// classify keeps taxonomy errors and maps anything else to DeviceUnavailable.
func classify(err error) error {
	if errors.Is(err, assessment.ErrPermissionDenied) ||
		errors.Is(err, assessment.ErrDeviceUnavailable) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", assessment.ErrDeviceUnavailable, err)
}

// Handle is one in-progress or finished recording.
type Handle struct {
	Kind      assessment.RecordingKind
	StartedAt time.Time

	stream   Stream
	recorder Recorder

	once sync.Once
	done chan struct{}

	mu     sync.Mutex
	blob   *assessment.Blob
	err    error
	status assessment.UploadStatus
}

func newHandle(kind assessment.RecordingKind, stream Stream, rec Recorder) *Handle {
	return &Handle{
		Kind:      kind,
		StartedAt: time.Now(),
		stream:    stream,
		recorder:  rec,
		done:      make(chan struct{}),
		status:    assessment.UploadPending,
	}
}

func (h *Handle) Stream() Stream { return h.stream }

// Stopped reports whether the blob (or stop error) is available.
func (h *Handle) Stopped() bool {
	if h == nil {
		return false
	}
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Blob is nil until the recording has been stopped successfully.
func (h *Handle) Blob() *assessment.Blob {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.blob
}

func (h *Handle) Status() assessment.UploadStatus {
	if h == nil {
		return assessment.UploadPending
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

func (h *Handle) setStatus(s assessment.UploadStatus) {
	if h == nil {
		return
	}
	h.mu.Lock()
	h.status = s
	h.mu.Unlock()
}

func (h *Handle) finish(blob *assessment.Blob, err error) {
	h.mu.Lock()
	h.blob = blob
	h.err = err
	if blob != nil && blob.Duration == 0 {
		blob.Duration = time.Since(h.StartedAt)
	}
	h.mu.Unlock()
	close(h.done)
}

func (h *Handle) result() (*assessment.Blob, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.blob, h.err
}
