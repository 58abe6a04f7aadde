// Package controller drives one participant: it turns session notifications
// into UI and media actions, and user intent into session requests.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/leandro-lugaresi/hub"
	"go.uber.org/zap"

	"github.com/tomaslejdung/sharescreen/pkg/media"
	"github.com/tomaslejdung/sharescreen/pkg/session"
)

const (
	actionBufferSize       = 64
	notificationBufferSize = 64

	DefaultGrantTimeout     = 5 * time.Second
	DefaultSubscribeTimeout = 15 * time.Second
)

var (
	// ErrUnknownProfile is returned by SelectProfile for an unknown name
	ErrUnknownProfile = errors.New("unknown capture profile")

	errShareDenied = errors.New("share request denied")
)

// Session is the participant's handle on the shared session.
type Session interface {
	ParticipantID() session.ParticipantID
	Room() string
	Replica() *session.Replica
	Request(ctx context.Context, kind session.EventKind) error
	Close() error
}

// Config configures a Controller
type Config struct {
	AppID   string
	Token   string
	Profile media.Profile
	// GrantTimeout bounds the wait for sharing-started after a share request
	GrantTimeout     time.Duration
	SubscribeTimeout time.Duration
}

// shareTask is one in-flight share attempt
type shareTask struct {
	cancel  context.CancelFunc
	granted chan struct{}
	once    sync.Once
}

func (t *shareTask) grant() { t.once.Do(func() { close(t.granted) }) }

// Controller is the local participant controller. Every input is run on a
// single loop goroutine, which owns all fields below the mutex.
type Controller struct {
	sess      Session
	transport media.Transport
	ui        UI
	cfg       Config
	logger    *zap.Logger

	actions chan func()
	quit    chan struct{}
	done    chan struct{}

	mu           sync.Mutex
	sub          hub.Subscription
	subscribed   bool
	teardownOnce sync.Once

	// loop owned
	initialized  bool
	self         session.ParticipantID // session identity
	uid          session.ParticipantID // media identity
	profile      media.Profile
	task         *shareTask
	video        media.LocalTrack
	audio        media.LocalTrack
	videoEnabled bool
	audioEnabled bool
}

// New creates a controller and starts its loop. Nothing happens until
// Initialize.
func New(sess Session, transport media.Transport, ui UI, cfg Config, logger *zap.Logger) *Controller {
	if cfg.GrantTimeout <= 0 {
		cfg.GrantTimeout = DefaultGrantTimeout
	}
	if cfg.SubscribeTimeout <= 0 {
		cfg.SubscribeTimeout = DefaultSubscribeTimeout
	}
	if cfg.Profile.Name == "" {
		cfg.Profile = media.DefaultProfile()
	}

	c := &Controller{
		sess:      sess,
		transport: transport,
		ui:        ui,
		cfg:       cfg,
		logger:    logger,
		actions:   make(chan func(), actionBufferSize),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		profile:   cfg.Profile,
	}
	go c.loop()
	return c
}

func (c *Controller) loop() {
	defer close(c.done)
	for {
		select {
		case fn := <-c.actions:
			fn()
		case <-c.quit:
			return
		}
	}
}

// post queues fn on the loop. It is dropped once the loop has stopped.
func (c *Controller) post(fn func()) bool {
	select {
	case c.actions <- fn:
		return true
	case <-c.quit:
		return false
	}
}

// call runs fn on the loop and waits for it
func (c *Controller) call(fn func()) {
	finished := make(chan struct{})
	if !c.post(func() { fn(); close(finished) }) {
		return
	}
	select {
	case <-finished:
	case <-c.done:
	}
}

// Initialize joins the media channel of the session's room and starts
// following session notifications and transport events.
func (c *Controller) Initialize(ctx context.Context) error {
	uid, err := c.transport.Join(ctx, media.JoinOptions{
		AppID:   c.cfg.AppID,
		Channel: c.sess.Room(),
		Token:   c.cfg.Token,
	})
	if err != nil {
		return fmt.Errorf("failed to join media channel: %w", err)
	}

	sub := c.sess.Replica().Subscribe(notificationBufferSize)
	c.mu.Lock()
	c.sub = sub
	c.subscribed = true
	c.mu.Unlock()

	go c.forwardNotifications(sub)
	go c.forwardEvents()

	c.call(func() {
		c.self = c.sess.ParticipantID()
		c.uid = uid
		c.initialized = true
		c.logger.Info("controller initialized",
			zap.String("room", c.sess.Room()),
			zap.String("participant", string(c.self)),
			zap.String("uid", string(uid)))
		c.refresh()
	})
	return nil
}

func (c *Controller) forwardNotifications(sub hub.Subscription) {
	for msg := range sub.Receiver {
		kind, ok := session.KindFromTopic(msg.Topic())
		if !ok {
			continue
		}
		id, _ := msg.Fields[session.FieldParticipantID].(session.ParticipantID)
		n := session.Notification{Kind: kind, Participant: id}
		// keep draining after the loop stops so the replica never blocks
		c.post(func() { c.onNotification(n) })
	}
}

func (c *Controller) forwardEvents() {
	events := c.transport.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if !c.post(func() { c.onTransportEvent(ev) }) {
				return
			}
		case <-c.quit:
			return
		}
	}
}

// RequestShare asks for sharing rights and shares the screen once granted.
func (c *Controller) RequestShare() {
	c.post(c.startShare)
}

// RequestStopShare abandons any share attempt, releases local tracks and
// gives up sharing rights.
func (c *Controller) RequestStopShare() {
	c.post(c.stopShare)
}

// ToggleLocalVideo flips the local video track between enabled and muted.
func (c *Controller) ToggleLocalVideo() {
	c.post(func() {
		if c.video == nil {
			return
		}
		c.videoEnabled = !c.videoEnabled
		c.video.SetEnabled(c.videoEnabled)
		c.ui.SetFlag(FlagVideoMuted, !c.videoEnabled)
	})
}

// ToggleLocalAudio flips the local audio track between enabled and muted.
func (c *Controller) ToggleLocalAudio() {
	c.post(func() {
		if c.audio == nil {
			return
		}
		c.audioEnabled = !c.audioEnabled
		c.audio.SetEnabled(c.audioEnabled)
		c.ui.SetFlag(FlagAudioMuted, !c.audioEnabled)
	})
}

// SelectProfile sets the capture profile used by the next share.
func (c *Controller) SelectProfile(name string) error {
	p, ok := media.ProfileByName(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProfile, name)
	}
	c.post(func() { c.profile = p })
	return nil
}

// Teardown stops sharing, leaves the media channel, stops following the
// session and closes it. Only the first call has an effect.
func (c *Controller) Teardown(ctx context.Context) error {
	var err error
	c.teardownOnce.Do(func() {
		c.call(func() {
			c.cancelTask()
			c.releaseHeld()
		})
		close(c.quit)
		<-c.done

		err = errors.Join(c.transport.Leave(ctx), c.sess.Close())

		// Close returns once the session stopped applying events, so
		// nothing publishes to the subscription any more
		c.mu.Lock()
		if c.subscribed {
			c.sess.Replica().Unsubscribe(c.sub)
			c.subscribed = false
		}
		c.mu.Unlock()

		c.logger.Info("controller torn down")
	})
	return err
}

func (c *Controller) startShare() {
	if !c.initialized || c.task != nil || c.video != nil {
		return
	}

	// Requests go out from the loop so they reach the sequencer in the
	// order the user made them
	if err := c.sess.Request(context.Background(), session.EventShareRequested); err != nil {
		c.logger.Warn("share request failed", zap.Error(err))
		c.ui.ShowError("Unable to share screen: the session is unavailable.")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	task := &shareTask{
		cancel:  cancel,
		granted: make(chan struct{}),
	}
	c.task = task
	go c.runShare(ctx, task, c.self, c.profile)
}

// runShare captures, waits for the grant and publishes. The outcome is
// handed back to the loop.
//
// Another participant's share starting and ending before ours is sequenced
// says nothing about our request, so only the grant or the timeout decide.
func (c *Controller) runShare(ctx context.Context, task *shareTask, self session.ParticipantID, profile media.Profile) {
	tracks, err := c.transport.CreateScreenCaptureTracks(ctx, profile)
	if err != nil {
		c.post(func() { c.finishShare(task, nil, err) })
		return
	}

	timer := time.NewTimer(c.cfg.GrantTimeout)
	defer timer.Stop()

	select {
	case <-task.granted:
	case <-timer.C:
		// the grant may be applied but not yet delivered to the loop
		if !c.sess.Replica().IsSharing(self) {
			err = errShareDenied
		}
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err == nil {
		if err = c.transport.Publish(ctx, tracks...); err != nil {
			err = fmt.Errorf("failed to publish: %w", err)
		}
	}
	if err != nil {
		c.release(tracks)
		c.post(func() { c.finishShare(task, nil, err) })
		return
	}
	if !c.post(func() { c.finishShare(task, tracks, nil) }) {
		c.release(tracks)
	}
}

func (c *Controller) finishShare(task *shareTask, tracks []media.LocalTrack, err error) {
	if c.task != task {
		// abandoned by a stop
		c.release(tracks)
		return
	}
	c.task = nil
	task.cancel()

	if err == nil && !c.sess.Replica().IsSharing(c.self) {
		err = errShareDenied
		c.release(tracks)
	}
	if err != nil {
		c.logger.Info("share attempt failed", zap.Error(err))
		if !errors.Is(err, context.Canceled) {
			c.ui.ShowError(shareErrorMessage(err))
		}
		c.relinquish()
		c.refresh()
		return
	}

	for _, t := range tracks {
		switch t.Kind() {
		case media.KindVideo:
			c.video = t
			c.videoEnabled = true
		case media.KindAudio:
			c.audio = t
			c.audioEnabled = true
		}
	}
	c.ui.SetFlag(FlagVideoMuted, false)
	c.ui.SetFlag(FlagAudioMuted, false)
	c.ui.SetFlag(FlagHasAudio, c.audio != nil)
	c.ui.PlayVideo(c.video, true)
	c.logger.Info("sharing screen", zap.String("profile", c.profile.Name), zap.Bool("audio", c.audio != nil))
	c.refresh()
}

func shareErrorMessage(err error) string {
	switch {
	case errors.Is(err, media.ErrCaptureUnavailable), errors.Is(err, media.ErrNoVideo):
		return "Unable to share screen. Make sure screen capture is allowed for this application."
	case errors.Is(err, errShareDenied):
		return "Unable to share screen: someone else is sharing or nobody else is here."
	default:
		return "Unable to share screen: " + err.Error()
	}
}

func (c *Controller) stopShare() {
	c.cancelTask()
	c.releaseHeld()
	c.relinquish()
	c.refresh()
}

// relinquish gives up sharing rights if the replica says we hold them
func (c *Controller) relinquish() {
	if !c.initialized || !c.sess.Replica().IsSharing(c.self) {
		return
	}
	if err := c.sess.Request(context.Background(), session.EventStopRequested); err != nil {
		c.logger.Warn("stop request failed", zap.Error(err))
	}
}

func (c *Controller) cancelTask() {
	if c.task != nil {
		c.task.cancel()
		c.task = nil
	}
}

// releaseHeld releases the tracks we share. Safe to call when none are held.
func (c *Controller) releaseHeld() {
	if c.video == nil && c.audio == nil {
		return
	}
	var tracks []media.LocalTrack
	if c.video != nil {
		tracks = append(tracks, c.video)
	}
	if c.audio != nil {
		tracks = append(tracks, c.audio)
	}
	c.video, c.audio = nil, nil
	c.videoEnabled, c.audioEnabled = false, false
	c.release(tracks)

	c.ui.SetFlag(FlagVideoMuted, false)
	c.ui.SetFlag(FlagAudioMuted, false)
	c.ui.SetFlag(FlagHasAudio, false)
	c.ui.ClearScreen()
}

// release disables, stops, closes and unpublishes tracks
func (c *Controller) release(tracks []media.LocalTrack) {
	if len(tracks) == 0 {
		return
	}
	for _, t := range tracks {
		t.SetEnabled(false)
		t.Stop()
		if err := t.Close(); err != nil {
			c.logger.Debug("failed to close track", zap.String("kind", string(t.Kind())), zap.Error(err))
		}
	}
	if err := c.transport.Unpublish(context.Background(), tracks...); err != nil {
		c.logger.Warn("failed to unpublish", zap.Error(err))
	}
}

func (c *Controller) onNotification(n session.Notification) {
	if !c.initialized {
		return
	}

	switch n.Kind {
	case session.SharingStarted:
		if n.Participant != c.self {
			break
		}
		switch {
		case c.task != nil:
			c.task.grant()
		case c.video == nil:
			// granted after the attempt was abandoned
			c.relinquish()
		}
	case session.SharingEnded:
		if n.Participant == c.self && c.video != nil && !c.sess.Replica().IsSharing(c.self) {
			c.releaseHeld()
		}
	}
	c.refresh()
}

func (c *Controller) onTransportEvent(ev media.Event) {
	if !c.initialized || ev.User == c.uid {
		return
	}

	switch ev.Kind {
	case media.UserPublished:
		go c.subscribe(ev.User, ev.Media)
	case media.UserUnpublished:
		// arrives once per media kind
		c.ui.ClearScreen()
	}
}

func (c *Controller) subscribe(user session.ParticipantID, kind media.Kind) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.SubscribeTimeout)
	defer cancel()

	track, err := c.transport.Subscribe(ctx, user, kind)
	c.post(func() {
		if err != nil {
			c.logger.Warn("subscribe failed",
				zap.String("user", string(user)),
				zap.String("kind", string(kind)),
				zap.Error(err))
			c.ui.ShowError(fmt.Sprintf("Unable to receive %s from another participant.", kind))
			return
		}
		switch kind {
		case media.KindVideo:
			c.ui.PlayVideo(track, false)
		case media.KindAudio:
			c.ui.PlayAudio(track)
		}
	})
}

// refresh recomputes the display flags derived from the shared state
func (c *Controller) refresh() {
	if !c.initialized {
		return
	}
	r := c.sess.Replica()
	c.ui.SetFlag(FlagAlone, r.IsAlone())
	c.ui.SetFlag(FlagSomeoneSharing, r.IsSomeoneSharing())
	c.ui.SetFlag(FlagSharingLocally, r.IsSharing(c.self))
}
