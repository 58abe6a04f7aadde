package signal

import (
	jsoniter "github.com/json-iterator/go"

	"github.com/tomaslejdung/sharescreen/pkg/media"
	"github.com/tomaslejdung/sharescreen/pkg/session"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// MessageType names a websocket frame
type MessageType string

const (
	TypeJoin    MessageType = "join"    // client -> server, first frame
	TypeWelcome MessageType = "welcome" // server -> client, reply to join
	TypeEvent   MessageType = "event"   // server -> client, sequenced event
	TypeShare   MessageType = "share"   // client -> server
	TypeStop    MessageType = "stop"    // client -> server
	TypeMedia   MessageType = "media"   // relayed both ways
	TypeError   MessageType = "error"   // server -> client
)

// Message represents a websocket signaling message
type Message struct {
	Type        MessageType           `json:"type"`
	Room        string                `json:"room,omitempty"`        // room code, welcome only
	Participant session.ParticipantID `json:"participant,omitempty"` // assigned id, welcome only
	Member      *session.Member       `json:"member,omitempty"`      // display metadata, join only
	Snapshot    *session.Snapshot     `json:"snapshot,omitempty"`    // welcome only
	Event       *session.Event        `json:"event,omitempty"`       // event only
	Media       *media.Signal         `json:"media,omitempty"`       // media only
	Error       string                `json:"error,omitempty"`
}

func encode(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

func decode(data []byte) (Message, error) {
	var msg Message
	err := json.Unmarshal(data, &msg)
	return msg, err
}
