package session

import (
	"slices"

	"github.com/samber/lo"
)

// ParticipantID identifies one connected participant. Assigned by the sequencer
// and stable for the lifetime of that connection.
type ParticipantID string

// Member holds display metadata sent with a join. It takes no part in any
// sharing decision.
type Member struct {
	Nickname string `json:"nickname,omitempty"`
	Initials string `json:"initials,omitempty"`
	Color    string `json:"color,omitempty"`
}

// State is one replica of the shared session: who is present and who, if
// anyone, holds sharing rights.
//
// State is not safe for concurrent use; Replica wraps it for that.
type State struct {
	participants map[ParticipantID]Member
	sharer       ParticipantID
}

// NewState returns the initial state: nobody present, nobody sharing.
func NewState() *State {
	return &State{
		participants: make(map[ParticipantID]Member),
	}
}

// Apply performs the transition for ev and returns the notifications it
// produced, in emission order. Invalid or stale input produces nothing.
func (s *State) Apply(ev Event) []Notification {
	if ev.Participant == "" {
		return nil
	}

	switch ev.Kind {
	case EventParticipantJoined:
		return s.onJoined(ev)
	case EventParticipantLeft:
		return s.onLeft(ev.Participant)
	case EventShareRequested:
		return s.onShareRequested(ev.Participant)
	case EventStopRequested:
		return s.onStopRequested(ev.Participant)
	default:
		return nil
	}
}

func (s *State) onJoined(ev Event) []Notification {
	if _, ok := s.participants[ev.Participant]; ok {
		return nil
	}

	var m Member
	if ev.Member != nil {
		m = *ev.Member
	}
	s.participants[ev.Participant] = m
	return []Notification{{Kind: ParticipantAdded, Participant: ev.Participant}}
}

func (s *State) onLeft(id ParticipantID) []Notification {
	if _, ok := s.participants[id]; !ok {
		return nil
	}

	delete(s.participants, id)
	out := []Notification{{Kind: ParticipantRemoved, Participant: id}}

	// a sharer disconnecting mid-share ends the share in the same transition
	if s.sharer == id {
		s.sharer = ""
		out = append(out, Notification{Kind: SharingEnded, Participant: id})
	}
	return out
}

func (s *State) onShareRequested(id ParticipantID) []Notification {
	if !s.Has(id) || !s.CanShare() {
		return nil
	}

	s.sharer = id
	return []Notification{{Kind: SharingStarted, Participant: id}}
}

// onStopRequested always announces the end, even when id was not the sharer.
// Clients rely on it to refresh; see DESIGN.md for the tightening discussion.
func (s *State) onStopRequested(id ParticipantID) []Notification {
	if s.sharer == id {
		s.sharer = ""
	}
	return []Notification{{Kind: SharingEnded, Participant: id}}
}

// Has reports whether id is currently a participant.
func (s *State) Has(id ParticipantID) bool {
	_, ok := s.participants[id]
	return ok
}

// Member returns the display metadata of id.
func (s *State) Member(id ParticipantID) (Member, bool) {
	m, ok := s.participants[id]
	return m, ok
}

// Participants returns the participant ids sorted, so every replica lists
// them identically.
func (s *State) Participants() []ParticipantID {
	ids := lo.Keys(s.participants)
	slices.Sort(ids)
	return ids
}

// Len returns the number of participants.
func (s *State) Len() int {
	return len(s.participants)
}

// Sharer returns the current sharer, or "" when nobody is sharing.
func (s *State) Sharer() ParticipantID {
	return s.sharer
}

// IsAlone reports fewer than two participants.
func (s *State) IsAlone() bool {
	return len(s.participants) < 2
}

// IsSomeoneSharing reports whether a sharer is set.
func (s *State) IsSomeoneSharing() bool {
	return s.sharer != ""
}

// IsSharing reports whether id holds sharing rights.
func (s *State) IsSharing(id ParticipantID) bool {
	return id != "" && s.sharer == id
}

// CanShare reports whether a share request would be granted right now.
func (s *State) CanShare() bool {
	return !s.IsAlone() && !s.IsSomeoneSharing()
}

// Snapshot captures the state as of sequence number seq.
func (s *State) Snapshot(seq uint64) Snapshot {
	snap := Snapshot{
		Seq:    seq,
		Sharer: s.sharer,
	}
	for _, id := range s.Participants() {
		snap.Participants = append(snap.Participants, SnapshotMember{ID: id, Member: s.participants[id]})
	}
	return snap
}

// Restore replaces the state with snap. A sharer that is not among the
// snapshot's participants is dropped.
func (s *State) Restore(snap Snapshot) {
	s.participants = make(map[ParticipantID]Member, len(snap.Participants))
	for _, p := range snap.Participants {
		if p.ID == "" {
			continue
		}
		s.participants[p.ID] = p.Member
	}

	s.sharer = ""
	if s.Has(snap.Sharer) {
		s.sharer = snap.Sharer
	}
}
