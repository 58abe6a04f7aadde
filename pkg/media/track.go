package media

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/tomaslejdung/sharescreen/pkg/session"
)

// localTrack feeds samples from a capture source into a WebRTC track
type localTrack struct {
	kind   Kind
	track  *webrtc.TrackLocalStaticSample
	source SampleSource
	logger *zap.Logger

	enabled atomic.Bool

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func newLocalTrack(kind Kind, streamID string, source SampleSource, logger *zap.Logger) (*localTrack, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: source.MimeType()},
		string(kind),
		streamID,
	)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &localTrack{
		kind:   kind,
		track:  track,
		source: source,
		logger: logger.With(zap.String("track", string(kind))),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	t.enabled.Store(true)
	go t.pump(ctx)
	return t, nil
}

// pump writes one sample per sample duration. Samples read while disabled
// are dropped so the track stays in time with the source.
func (t *localTrack) pump(ctx context.Context) {
	defer close(t.done)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		sample, err := t.source.NextSample()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				t.logger.Warn("capture source failed", zap.Error(err))
			}
			return
		}
		if t.enabled.Load() {
			if err := t.track.WriteSample(sample); err != nil && !errors.Is(err, io.ErrClosedPipe) {
				t.logger.Debug("write sample failed", zap.Error(err))
			}
		}

		wait := sample.Duration
		if wait <= 0 {
			wait = time.Millisecond
		}
		timer.Reset(wait)
	}
}

func (t *localTrack) ID() string { return t.track.ID() }

func (t *localTrack) Kind() Kind { return t.kind }

func (t *localTrack) SetEnabled(enabled bool) { t.enabled.Store(enabled) }

func (t *localTrack) Enabled() bool { return t.enabled.Load() }

func (t *localTrack) Stop() {
	t.enabled.Store(false)
	t.cancel()
	<-t.done
}

func (t *localTrack) Close() error {
	t.closeOnce.Do(func() {
		t.Stop()
		t.closeErr = t.source.Close()
	})
	return t.closeErr
}

// remoteTrack drains RTP from a subscribed track and counts what arrives
type remoteTrack struct {
	user  session.ParticipantID
	kind  Kind
	track *webrtc.TrackRemote

	packets atomic.Uint64
	bytes   atomic.Uint64
}

func newRemoteTrack(user session.ParticipantID, kind Kind, track *webrtc.TrackRemote) *remoteTrack {
	t := &remoteTrack{user: user, kind: kind, track: track}
	go t.drain()
	return t
}

// drain runs until the peer connection closes the track
func (t *remoteTrack) drain() {
	buf := make([]byte, 1500)
	for {
		n, _, err := t.track.Read(buf)
		if err != nil {
			return
		}
		t.packets.Add(1)
		t.bytes.Add(uint64(n))
	}
}

func (t *remoteTrack) ID() string { return t.track.ID() }

func (t *remoteTrack) Kind() Kind { return t.kind }

func (t *remoteTrack) Participant() session.ParticipantID { return t.user }

func (t *remoteTrack) Stats() TrackStats {
	return TrackStats{Packets: t.packets.Load(), Bytes: t.bytes.Load()}
}
