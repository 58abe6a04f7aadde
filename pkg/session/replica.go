package session

import (
	"errors"
	"fmt"
	"sync"

	"github.com/leandro-lugaresi/hub"
)

// ErrSequenceGap is returned when an event arrives ahead of its predecessor.
// The replica can no longer be trusted and must be rebuilt from a snapshot.
var ErrSequenceGap = errors.New("event sequence gap")

// Replica is one participant's copy of the shared session state. Events are
// applied in sequence order and every resulting notification is published on
// the replica's hub.
type Replica struct {
	hub *hub.Hub

	// applyMu serializes Apply and Reset including their publishing, so
	// subscribers observe notifications in event order
	applyMu sync.Mutex

	mu    sync.RWMutex
	state *State
	seq   uint64
}

// NewReplica creates an empty replica publishing on h. A nil h gets a private hub.
func NewReplica(h *hub.Hub) *Replica {
	if h == nil {
		h = hub.New()
	}
	return &Replica{
		hub:   h,
		state: NewState(),
	}
}

// Reset adopts a snapshot from the sequencer. No notifications are published;
// callers refresh from the accessors afterwards.
func (r *Replica) Reset(snap Snapshot) {
	r.applyMu.Lock()
	defer r.applyMu.Unlock()

	r.mu.Lock()
	r.state.Restore(snap)
	r.seq = snap.Seq
	r.mu.Unlock()
}

// Apply applies ev if it is the next event in sequence. Duplicates of already
// applied events are ignored, which makes at-least-once delivery safe.
func (r *Replica) Apply(ev Event) ([]Notification, error) {
	r.applyMu.Lock()
	defer r.applyMu.Unlock()

	r.mu.Lock()
	switch {
	case ev.Seq <= r.seq:
		r.mu.Unlock()
		return nil, nil
	case ev.Seq > r.seq+1:
		last := r.seq
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: have %d, got %d", ErrSequenceGap, last, ev.Seq)
	}
	ns := r.state.Apply(ev)
	r.seq = ev.Seq
	r.mu.Unlock()

	for _, n := range ns {
		r.hub.Publish(hub.Message{
			Name: n.Topic(),
			Fields: hub.Fields{
				FieldParticipantID: n.Participant,
			},
		})
	}
	return ns, nil
}

// Subscribe returns a subscription to every notification of this replica.
func (r *Replica) Subscribe(capacity int) hub.Subscription {
	return r.hub.Subscribe(capacity, TopicAll)
}

// Unsubscribe ends sub; its Receiver is closed.
func (r *Replica) Unsubscribe(sub hub.Subscription) {
	r.hub.Unsubscribe(sub)
}

// Seq returns the sequence number of the last applied event.
func (r *Replica) Seq() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.seq
}

// Participants returns the sorted participant ids.
func (r *Replica) Participants() []ParticipantID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.Participants()
}

// Member returns the display metadata of id.
func (r *Replica) Member(id ParticipantID) (Member, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.Member(id)
}

// Sharer returns the current sharer, "" if none.
func (r *Replica) Sharer() ParticipantID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.Sharer()
}

func (r *Replica) IsAlone() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.IsAlone()
}

func (r *Replica) IsSomeoneSharing() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.IsSomeoneSharing()
}

func (r *Replica) IsSharing(id ParticipantID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.IsSharing(id)
}

func (r *Replica) CanShare() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.CanShare()
}

// Snapshot returns the replica's current image.
func (r *Replica) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.Snapshot(r.seq)
}
