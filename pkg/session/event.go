package session

// EventKind names a session-wide input to the state machine
type EventKind string

const (
	EventParticipantJoined EventKind = "participant-joined"
	EventParticipantLeft   EventKind = "participant-left"
	EventShareRequested    EventKind = "share-requested"
	EventStopRequested     EventKind = "stop-requested"
)

// Event is one entry of a room's totally ordered event log.
type Event struct {
	Seq         uint64        `json:"seq"`
	Kind        EventKind     `json:"kind"`
	Participant ParticipantID `json:"participant"`
	Member      *Member       `json:"member,omitempty"` // participant-joined only
}

// NotificationKind names a successful transition
type NotificationKind string

const (
	ParticipantAdded   NotificationKind = "participant-added"
	ParticipantRemoved NotificationKind = "participant-removed"
	SharingStarted     NotificationKind = "sharing-started"
	SharingEnded       NotificationKind = "sharing-ended"
)

// Notification is emitted by State.Apply for every transition that happened.
type Notification struct {
	Kind        NotificationKind
	Participant ParticipantID
}

// Hub topics carrying notifications. Every message has the field
// FieldParticipantID holding a ParticipantID.
const (
	TopicParticipantAdded   = "session.participant_added"
	TopicParticipantRemoved = "session.participant_removed"
	TopicSharingStarted     = "session.sharing_started"
	TopicSharingEnded       = "session.sharing_ended"

	// TopicAll matches every notification topic
	TopicAll = "session.*"

	FieldParticipantID = "participant_id"
)

// Topic returns the hub topic for the notification.
func (n Notification) Topic() string {
	switch n.Kind {
	case ParticipantAdded:
		return TopicParticipantAdded
	case ParticipantRemoved:
		return TopicParticipantRemoved
	case SharingStarted:
		return TopicSharingStarted
	case SharingEnded:
		return TopicSharingEnded
	}
	return ""
}

// KindFromTopic is the inverse of Notification.Topic.
func KindFromTopic(topic string) (NotificationKind, bool) {
	switch topic {
	case TopicParticipantAdded:
		return ParticipantAdded, true
	case TopicParticipantRemoved:
		return ParticipantRemoved, true
	case TopicSharingStarted:
		return SharingStarted, true
	case TopicSharingEnded:
		return SharingEnded, true
	}
	return "", false
}

// SnapshotMember is one participant inside a Snapshot.
type SnapshotMember struct {
	ID     ParticipantID `json:"id"`
	Member Member        `json:"member"`
}

// Snapshot is a serializable image of a State after applying every event up
// to and including Seq. Late joiners bootstrap from it.
type Snapshot struct {
	Seq          uint64           `json:"seq"`
	Participants []SnapshotMember `json:"participants"`
	Sharer       ParticipantID    `json:"sharer,omitempty"`
}
