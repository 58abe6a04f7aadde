package controller

import "github.com/tomaslejdung/sharescreen/pkg/media"

// Flag is a boolean display state of the UI
type Flag string

const (
	FlagAlone          Flag = "alone"
	FlagSomeoneSharing Flag = "someone-sharing"
	FlagSharingLocally Flag = "sharing-locally"
	FlagVideoMuted     Flag = "video-muted"
	FlagAudioMuted     Flag = "audio-muted"
	FlagHasAudio       Flag = "has-audio"
)

// UI is the presentation surface driven by the controller. Methods are
// called from the controller's loop and must not block.
type UI interface {
	SetFlag(flag Flag, on bool)
	ShowError(message string)
	// PlayVideo renders track on the screen surface. muted is set for the
	// local preview.
	PlayVideo(track media.Track, muted bool)
	PlayAudio(track media.Track)
	ClearScreen()
}
