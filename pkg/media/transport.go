package media

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/tomaslejdung/sharescreen/pkg/session"
)

const eventBufferSize = 32

type peerKey struct {
	user session.ParticipantID
	kind Kind
}

// inboundPeer receives one kind from one publisher
type inboundPeer struct {
	pc    *webrtc.PeerConnection
	ready chan *remoteTrack
}

// PeerTransport is a peer-to-peer WebRTC Transport. A publisher serves
// every subscriber over its own peer connection per media kind; negotiation
// runs over the session's signaling channel.
type PeerTransport struct {
	signaler Signaler
	capture  CaptureFunc
	config   webrtc.Configuration
	logger   *zap.Logger

	mu        sync.Mutex
	self      session.ParticipantID
	joined    bool
	published map[Kind]*localTrack
	outbound  map[peerKey]*webrtc.PeerConnection
	inbound   map[peerKey]*inboundPeer

	events chan Event
	stop   chan struct{}
	done   chan struct{}
}

// NewPeerTransport creates a transport negotiating over signaler and
// capturing with capture.
func NewPeerTransport(signaler Signaler, capture CaptureFunc, ice ICEConfig, logger *zap.Logger) *PeerTransport {
	if capture == nil {
		capture = UnsupportedCapture
	}
	return &PeerTransport{
		signaler:  signaler,
		capture:   capture,
		config:    ice.Configuration(),
		logger:    logger,
		published: make(map[Kind]*localTrack),
		outbound:  make(map[peerKey]*webrtc.PeerConnection),
		inbound:   make(map[peerKey]*inboundPeer),
		events:    make(chan Event, eventBufferSize),
	}
}

// Join starts handling signals and asks current publishers to announce
// themselves.
func (t *PeerTransport) Join(ctx context.Context, opts JoinOptions) (session.ParticipantID, error) {
	if opts.Channel == "" {
		return "", errors.New("media channel is required")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	t.mu.Lock()
	if t.joined {
		self := t.self
		t.mu.Unlock()
		return self, nil
	}
	t.self = t.signaler.ParticipantID()
	t.joined = true
	t.stop = make(chan struct{})
	t.done = make(chan struct{})
	self := t.self
	t.mu.Unlock()

	t.logger.Info("media transport joined", zap.String("channel", opts.Channel), zap.String("uid", string(self)))
	go t.signalLoop()

	if err := t.signaler.SendSignal(Signal{Type: SignalHello}); err != nil {
		return self, fmt.Errorf("failed to announce: %w", err)
	}
	return self, nil
}

// Leave unpublishes everything and closes every peer connection.
func (t *PeerTransport) Leave(ctx context.Context) error {
	t.mu.Lock()
	if !t.joined {
		t.mu.Unlock()
		return nil
	}
	tracks := make([]LocalTrack, 0, len(t.published))
	for _, lt := range t.published {
		tracks = append(tracks, lt)
	}
	t.mu.Unlock()

	err := t.Unpublish(ctx, tracks...)

	t.mu.Lock()
	t.joined = false
	for key, in := range t.inbound {
		_ = in.pc.Close()
		delete(t.inbound, key)
	}
	for key, pc := range t.outbound {
		_ = pc.Close()
		delete(t.outbound, key)
	}
	close(t.stop)
	done := t.done
	t.mu.Unlock()

	<-done
	t.logger.Info("media transport left")
	return err
}

// CreateScreenCaptureTracks captures the screen with profile. The returned
// video track comes first; audio follows when the capture has it.
func (t *PeerTransport) CreateScreenCaptureTracks(ctx context.Context, profile Profile) ([]LocalTrack, error) {
	video, audio, err := t.capture(ctx, profile)
	if err != nil {
		return nil, err
	}
	if video == nil {
		if audio != nil {
			_ = audio.Close()
		}
		return nil, ErrNoVideo
	}

	streamID := "sharescreen"
	if id := t.signaler.ParticipantID(); id != "" {
		streamID = string(id)
	}

	vt, err := newLocalTrack(KindVideo, streamID, video, t.logger)
	if err != nil {
		_ = video.Close()
		if audio != nil {
			_ = audio.Close()
		}
		return nil, fmt.Errorf("failed to create video track: %w", err)
	}
	tracks := []LocalTrack{vt}

	if audio != nil {
		at, err := newLocalTrack(KindAudio, streamID, audio, t.logger)
		if err != nil {
			_ = vt.Close()
			_ = audio.Close()
			return nil, fmt.Errorf("failed to create audio track: %w", err)
		}
		tracks = append(tracks, at)
	}

	t.logger.Info("screen capture started",
		zap.String("profile", profile.Name),
		zap.Int("tracks", len(tracks)))
	return tracks, nil
}

// Publish makes tracks available to every participant.
func (t *PeerTransport) Publish(ctx context.Context, tracks ...LocalTrack) error {
	for _, track := range tracks {
		if err := ctx.Err(); err != nil {
			return err
		}
		lt, ok := track.(*localTrack)
		if !ok {
			return fmt.Errorf("track %s was not created by this transport", track.ID())
		}

		t.mu.Lock()
		if !t.joined {
			t.mu.Unlock()
			return ErrNotJoined
		}
		t.published[lt.kind] = lt
		t.mu.Unlock()

		if err := t.signaler.SendSignal(Signal{Type: SignalPublish, Kind: lt.kind}); err != nil {
			return fmt.Errorf("failed to announce %s: %w", lt.kind, err)
		}
		t.logger.Info("track published", zap.String("kind", string(lt.kind)))
	}
	return nil
}

// Unpublish withdraws tracks. Tracks that are not published are ignored.
func (t *PeerTransport) Unpublish(ctx context.Context, tracks ...LocalTrack) error {
	var errs []error
	for _, track := range tracks {
		lt, ok := track.(*localTrack)
		if !ok {
			continue
		}

		t.mu.Lock()
		if t.published[lt.kind] != lt {
			t.mu.Unlock()
			continue
		}
		delete(t.published, lt.kind)
		for key, pc := range t.outbound {
			if key.kind == lt.kind {
				_ = pc.Close()
				delete(t.outbound, key)
			}
		}
		joined := t.joined
		t.mu.Unlock()

		if joined {
			if err := t.signaler.SendSignal(Signal{Type: SignalUnpublish, Kind: lt.kind}); err != nil {
				errs = append(errs, err)
			}
		}
		t.logger.Info("track unpublished", zap.String("kind", string(lt.kind)))
	}
	return errors.Join(errs...)
}

// Subscribe asks user for its kind track and waits until media flows in.
func (t *PeerTransport) Subscribe(ctx context.Context, user session.ParticipantID, kind Kind) (RemoteTrack, error) {
	t.mu.Lock()
	if !t.joined {
		t.mu.Unlock()
		return nil, ErrNotJoined
	}
	key := peerKey{user: user, kind: kind}
	if old, ok := t.inbound[key]; ok {
		_ = old.pc.Close()
		delete(t.inbound, key)
	}
	in, err := t.newInbound(key)
	if err != nil {
		t.mu.Unlock()
		return nil, err
	}
	t.inbound[key] = in
	t.mu.Unlock()

	if err := t.signaler.SendSignal(Signal{Type: SignalSubscribe, To: user, Kind: kind}); err != nil {
		t.dropInbound(key, in)
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	select {
	case track := <-in.ready:
		return track, nil
	case <-ctx.Done():
		t.dropInbound(key, in)
		return nil, ctx.Err()
	}
}

// Events reports remote publish and unpublish.
func (t *PeerTransport) Events() <-chan Event {
	return t.events
}

func (t *PeerTransport) newInbound(key peerKey) (*inboundPeer, error) {
	pc, err := webrtc.NewPeerConnection(t.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}
	in := &inboundPeer{pc: pc, ready: make(chan *remoteTrack, 1)}

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		rt := newRemoteTrack(key.user, key.kind, track)
		select {
		case in.ready <- rt:
		default:
		}
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		t.logger.Debug("inbound connection state",
			zap.String("user", string(key.user)),
			zap.String("kind", string(key.kind)),
			zap.String("state", state.String()))
		if state == webrtc.PeerConnectionStateFailed {
			// The publisher vanished without unpublishing
			if t.dropInbound(key, in) {
				t.emit(Event{Kind: UserUnpublished, User: key.user, Media: key.kind})
			}
		}
	})
	return in, nil
}

// dropInbound closes in if it is still the inbound peer for key.
func (t *PeerTransport) dropInbound(key peerKey, in *inboundPeer) bool {
	t.mu.Lock()
	current, ok := t.inbound[key]
	if ok && current == in {
		delete(t.inbound, key)
	}
	t.mu.Unlock()
	go func() { _ = in.pc.Close() }()
	return ok && current == in
}

func (t *PeerTransport) emit(ev Event) {
	t.mu.Lock()
	stop := t.stop
	t.mu.Unlock()

	select {
	case t.events <- ev:
	case <-stop:
	}
}

func (t *PeerTransport) signalLoop() {
	t.mu.Lock()
	stop, done := t.stop, t.done
	t.mu.Unlock()
	defer close(done)

	signals := t.signaler.Signals()
	for {
		select {
		case <-stop:
			return
		case sig, ok := <-signals:
			if !ok {
				return
			}
			t.handleSignal(sig)
		}
	}
}

func (t *PeerTransport) handleSignal(sig Signal) {
	logger := t.logger.With(
		zap.String("signal", string(sig.Type)),
		zap.String("from", string(sig.From)),
		zap.String("kind", string(sig.Kind)))

	switch sig.Type {
	case SignalHello:
		t.mu.Lock()
		kinds := make([]Kind, 0, len(t.published))
		for kind := range t.published {
			kinds = append(kinds, kind)
		}
		t.mu.Unlock()
		for _, kind := range kinds {
			if err := t.signaler.SendSignal(Signal{Type: SignalPublish, To: sig.From, Kind: kind}); err != nil {
				logger.Warn("failed to announce", zap.Error(err))
			}
		}

	case SignalPublish:
		t.emit(Event{Kind: UserPublished, User: sig.From, Media: sig.Kind})

	case SignalUnpublish:
		key := peerKey{user: sig.From, kind: sig.Kind}
		t.mu.Lock()
		in, ok := t.inbound[key]
		t.mu.Unlock()
		if ok {
			t.dropInbound(key, in)
		}
		t.emit(Event{Kind: UserUnpublished, User: sig.From, Media: sig.Kind})

	case SignalSubscribe:
		// Gathering blocks, so serve the subscriber off the signal loop
		go func() {
			if err := t.serve(sig.From, sig.Kind); err != nil {
				logger.Warn("failed to serve subscriber", zap.Error(err))
			}
		}()

	case SignalOffer:
		go func() {
			if err := t.answer(sig); err != nil {
				logger.Warn("failed to answer offer", zap.Error(err))
			}
		}()

	case SignalAnswer:
		key := peerKey{user: sig.From, kind: sig.Kind}
		t.mu.Lock()
		pc, ok := t.outbound[key]
		t.mu.Unlock()
		if !ok {
			return
		}
		answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sig.SDP}
		if err := pc.SetRemoteDescription(answer); err != nil {
			logger.Warn("failed to apply answer", zap.Error(err))
		}

	default:
		logger.Debug("unknown media signal")
	}
}

// serve opens a peer connection sending our kind track to subscriber
func (t *PeerTransport) serve(subscriber session.ParticipantID, kind Kind) error {
	t.mu.Lock()
	lt, ok := t.published[kind]
	t.mu.Unlock()
	if !ok {
		return nil
	}

	pc, err := webrtc.NewPeerConnection(t.config)
	if err != nil {
		return fmt.Errorf("failed to create peer connection: %w", err)
	}
	sender, err := pc.AddTrack(lt.track)
	if err != nil {
		_ = pc.Close()
		return fmt.Errorf("failed to add %s track: %w", kind, err)
	}

	// Drain RTCP so interceptors keep working
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()

	key := peerKey{user: subscriber, kind: kind}
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateConnected:
			t.logger.Info("subscriber connected",
				zap.String("user", string(subscriber)),
				zap.String("kind", string(kind)),
				zap.String("connection", connectionType(pc)))
		case webrtc.PeerConnectionStateFailed:
			t.mu.Lock()
			if t.outbound[key] == pc {
				delete(t.outbound, key)
			}
			t.mu.Unlock()
			go func() { _ = pc.Close() }()
		}
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		_ = pc.Close()
		return fmt.Errorf("failed to create offer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		_ = pc.Close()
		return fmt.Errorf("failed to set local description: %w", err)
	}
	<-gatherComplete

	t.mu.Lock()
	if !t.joined || t.published[kind] != lt {
		t.mu.Unlock()
		_ = pc.Close()
		return nil
	}
	if old, ok := t.outbound[key]; ok {
		_ = old.Close()
	}
	t.outbound[key] = pc
	t.mu.Unlock()

	return t.signaler.SendSignal(Signal{
		Type: SignalOffer,
		To:   subscriber,
		Kind: kind,
		SDP:  pc.LocalDescription().SDP,
	})
}

// answer completes an inbound peer connection opened by Subscribe
func (t *PeerTransport) answer(sig Signal) error {
	key := peerKey{user: sig.From, kind: sig.Kind}
	t.mu.Lock()
	in, ok := t.inbound[key]
	t.mu.Unlock()
	if !ok {
		return nil
	}

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sig.SDP}
	if err := in.pc.SetRemoteDescription(offer); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}
	answer, err := in.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("failed to create answer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(in.pc)
	if err := in.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("failed to set local description: %w", err)
	}
	<-gatherComplete

	return t.signaler.SendSignal(Signal{
		Type: SignalAnswer,
		To:   sig.From,
		Kind: sig.Kind,
		SDP:  in.pc.LocalDescription().SDP,
	})
}
