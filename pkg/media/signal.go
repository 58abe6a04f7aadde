package media

import "github.com/tomaslejdung/sharescreen/pkg/session"

// SignalType names a media negotiation message relayed by the session server
type SignalType string

const (
	SignalHello     SignalType = "media-hello"     // newcomer asks publishers to announce
	SignalPublish   SignalType = "media-publish"   // sender publishes Kind
	SignalUnpublish SignalType = "media-unpublish" // sender stopped publishing Kind
	SignalSubscribe SignalType = "media-subscribe" // sender wants Kind from To
	SignalOffer     SignalType = "media-offer"
	SignalAnswer    SignalType = "media-answer"
)

// Signal is one media negotiation message. From is filled in by the server.
// An empty To addresses every other participant.
type Signal struct {
	Type SignalType            `json:"type"`
	From session.ParticipantID `json:"from,omitempty"`
	To   session.ParticipantID `json:"to,omitempty"`
	Kind Kind                  `json:"kind,omitempty"`
	SDP  string                `json:"sdp,omitempty"`
}

// Signaler carries media signals between participants.
type Signaler interface {
	ParticipantID() session.ParticipantID
	SendSignal(sig Signal) error
	Signals() <-chan Signal
}
