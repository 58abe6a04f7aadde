// Package media is the real-time media boundary: capture tracks, publish
// them to the room and subscribe to what others publish.
package media

import (
	"context"
	"errors"

	"github.com/tomaslejdung/sharescreen/pkg/session"
)

var (
	// ErrCaptureUnavailable is returned when screen capture is not possible
	// on this platform or was refused.
	ErrCaptureUnavailable = errors.New("screen capture unavailable")
	// ErrNoVideo is returned when a capture produced no video track.
	ErrNoVideo = errors.New("capture produced no video track")
	// ErrNotJoined is returned by transport operations before Join.
	ErrNotJoined = errors.New("media transport not joined")
)

// Kind is the media kind of a track
type Kind string

const (
	KindVideo Kind = "video"
	KindAudio Kind = "audio"
)

// Track is a media track, local or remote.
type Track interface {
	ID() string
	Kind() Kind
}

// LocalTrack is a captured track owned by this participant.
type LocalTrack interface {
	Track
	SetEnabled(enabled bool)
	Enabled() bool
	// Stop halts sample production. The track can no longer be enabled.
	Stop()
	// Close stops the track and releases its capture source.
	Close() error
}

// TrackStats counts what a remote track has received
type TrackStats struct {
	Packets uint64
	Bytes   uint64
}

// RemoteTrack is a track published by another participant.
type RemoteTrack interface {
	Track
	Participant() session.ParticipantID
	Stats() TrackStats
}

// EventKind names a transport event
type EventKind string

const (
	UserPublished   EventKind = "user-published"
	UserUnpublished EventKind = "user-unpublished"
)

// Event reports that a remote participant published or unpublished a track.
type Event struct {
	Kind  EventKind
	User  session.ParticipantID
	Media Kind
}

// JoinOptions identify the media channel to join. AppID and Token are kept
// for transports that authenticate; the peer transport ignores them.
type JoinOptions struct {
	AppID   string
	Channel string
	Token   string
}

// Transport is the media transport used by the participant controller.
type Transport interface {
	Join(ctx context.Context, opts JoinOptions) (session.ParticipantID, error)
	Leave(ctx context.Context) error
	CreateScreenCaptureTracks(ctx context.Context, profile Profile) ([]LocalTrack, error)
	Publish(ctx context.Context, tracks ...LocalTrack) error
	Unpublish(ctx context.Context, tracks ...LocalTrack) error
	Subscribe(ctx context.Context, user session.ParticipantID, kind Kind) (RemoteTrack, error)
	Events() <-chan Event
}
