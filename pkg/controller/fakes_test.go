package controller

import (
	"context"
	"sync"

	"github.com/tomaslejdung/sharescreen/pkg/media"
	"github.com/tomaslejdung/sharescreen/pkg/session"
)

type fakeTrack struct {
	kind media.Kind

	mu      sync.Mutex
	enabled bool
	stopped bool
	closed  int
}

func newFakeTrack(kind media.Kind) *fakeTrack {
	return &fakeTrack{kind: kind, enabled: true}
}

func (t *fakeTrack) ID() string       { return string(t.kind) }
func (t *fakeTrack) Kind() media.Kind { return t.kind }

func (t *fakeTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
}

func (t *fakeTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *fakeTrack) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	t.enabled = false
}

func (t *fakeTrack) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed++
	return nil
}

func (t *fakeTrack) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed > 0 && t.stopped
}

type fakeRemote struct {
	user session.ParticipantID
	kind media.Kind
}

func (r *fakeRemote) ID() string                         { return string(r.user) + "/" + string(r.kind) }
func (r *fakeRemote) Kind() media.Kind                   { return r.kind }
func (r *fakeRemote) Participant() session.ParticipantID { return r.user }
func (r *fakeRemote) Stats() media.TrackStats            { return media.TrackStats{} }

// fakeTransport captures on demand. Setting block holds captures until the
// channel is closed.
type fakeTransport struct {
	events chan media.Event

	mu           sync.Mutex
	uid          session.ParticipantID
	joined       bool
	left         int
	withAudio    bool
	captureErr   error
	publishErr   error
	subscribeErr error
	block        chan struct{}
	profiles     []string
	captured     []*fakeTrack
	published    map[media.Kind]media.LocalTrack
	unpublished  int
}

func newFakeTransport(uid session.ParticipantID) *fakeTransport {
	return &fakeTransport{
		uid:       uid,
		events:    make(chan media.Event, 8),
		published: make(map[media.Kind]media.LocalTrack),
	}
}

func (f *fakeTransport) Join(_ context.Context, opts media.JoinOptions) (session.ParticipantID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joined = true
	return f.uid, nil
}

func (f *fakeTransport) Leave(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joined = false
	f.left++
	return nil
}

func (f *fakeTransport) CreateScreenCaptureTracks(ctx context.Context, profile media.Profile) ([]media.LocalTrack, error) {
	f.mu.Lock()
	f.profiles = append(f.profiles, profile.Name)
	block, captureErr, withAudio := f.block, f.captureErr, f.withAudio
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	if captureErr != nil {
		return nil, captureErr
	}

	tracks := []*fakeTrack{newFakeTrack(media.KindVideo)}
	if withAudio {
		tracks = append(tracks, newFakeTrack(media.KindAudio))
	}
	f.mu.Lock()
	f.captured = append(f.captured, tracks...)
	f.mu.Unlock()

	out := make([]media.LocalTrack, len(tracks))
	for i, t := range tracks {
		out[i] = t
	}
	return out, nil
}

func (f *fakeTransport) Publish(ctx context.Context, tracks ...media.LocalTrack) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	for _, t := range tracks {
		f.published[t.Kind()] = t
	}
	return nil
}

func (f *fakeTransport) Unpublish(_ context.Context, tracks ...media.LocalTrack) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range tracks {
		if f.published[t.Kind()] == t {
			delete(f.published, t.Kind())
		}
		f.unpublished++
	}
	return nil
}

func (f *fakeTransport) Subscribe(_ context.Context, user session.ParticipantID, kind media.Kind) (media.RemoteTrack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	return &fakeRemote{user: user, kind: kind}, nil
}

func (f *fakeTransport) Events() <-chan media.Event { return f.events }

func (f *fakeTransport) publishedKinds() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

func (f *fakeTransport) capturedTracks() []*fakeTrack {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeTrack(nil), f.captured...)
}

func (f *fakeTransport) set(fn func(f *fakeTransport)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

type fakeUI struct {
	mu      sync.Mutex
	flags   map[Flag]bool
	errors  []string
	video   media.Track
	muted   bool
	audio   media.Track
	cleared int
}

func newFakeUI() *fakeUI {
	return &fakeUI{flags: make(map[Flag]bool)}
}

func (u *fakeUI) SetFlag(flag Flag, on bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.flags[flag] = on
}

func (u *fakeUI) ShowError(message string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.errors = append(u.errors, message)
}

func (u *fakeUI) PlayVideo(track media.Track, muted bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.video = track
	u.muted = muted
}

func (u *fakeUI) PlayAudio(track media.Track) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.audio = track
}

func (u *fakeUI) ClearScreen() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.video = nil
	u.cleared++
}

func (u *fakeUI) flag(f Flag) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.flags[f]
}

func (u *fakeUI) errorCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.errors)
}

func (u *fakeUI) playing() (media.Track, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.video, u.muted
}

func (u *fakeUI) clearCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.cleared
}

// fakeSession hands the test full control over the replica's event log
type fakeSession struct {
	id      session.ParticipantID
	replica *session.Replica

	mu       sync.Mutex
	requests []session.EventKind
}

func newFakeSession(id session.ParticipantID, snap session.Snapshot) *fakeSession {
	r := session.NewReplica(nil)
	r.Reset(snap)
	return &fakeSession{id: id, replica: r}
}

func (s *fakeSession) ParticipantID() session.ParticipantID { return s.id }
func (s *fakeSession) Room() string                         { return "ROOM" }
func (s *fakeSession) Replica() *session.Replica            { return s.replica }
func (s *fakeSession) Close() error                         { return nil }

func (s *fakeSession) Request(_ context.Context, kind session.EventKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, kind)
	return nil
}

func (s *fakeSession) requested() []session.EventKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]session.EventKind(nil), s.requests...)
}
