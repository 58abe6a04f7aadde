package media

import (
	"github.com/pion/webrtc/v3"
)

// ICE servers for NAT traversal
var defaultICEServers = []webrtc.ICEServer{
	{URLs: []string{"stun:stun.l.google.com:19302"}},
	{URLs: []string{"stun:stun1.l.google.com:19302"}},
	{URLs: []string{"stun:stun2.l.google.com:19302"}},
}

// ICEConfig holds ICE server configuration
type ICEConfig struct {
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool
	// NoSTUN leaves out the public STUN servers, for closed networks.
	NoSTUN bool
}

// Configuration builds the peer connection configuration.
func (c ICEConfig) Configuration() webrtc.Configuration {
	iceServers := make([]webrtc.ICEServer, 0, len(defaultICEServers)+1)

	if !c.ForceRelay && !c.NoSTUN {
		iceServers = append(iceServers, defaultICEServers...)
	}

	if c.TURNServer != "" {
		turnServer := webrtc.ICEServer{
			URLs: []string{c.TURNServer},
		}
		if c.TURNUser != "" {
			turnServer.Username = c.TURNUser
			turnServer.Credential = c.TURNPass
			turnServer.CredentialType = webrtc.ICECredentialTypePassword
		}
		iceServers = append(iceServers, turnServer)
	}

	iceTransportPolicy := webrtc.ICETransportPolicyAll
	if c.ForceRelay {
		iceTransportPolicy = webrtc.ICETransportPolicyRelay
	}

	return webrtc.Configuration{
		ICEServers:         iceServers,
		ICETransportPolicy: iceTransportPolicy,
	}
}

// connectionType reports whether the selected candidate pair is direct or relayed
func connectionType(pc *webrtc.PeerConnection) string {
	stats := pc.GetStats()

	for _, stat := range stats {
		pair, ok := stat.(webrtc.ICECandidatePairStats)
		if !ok || pair.State != webrtc.StatsICECandidatePairStateSucceeded {
			continue
		}
		if local, ok := stats[pair.LocalCandidateID].(webrtc.ICECandidateStats); ok {
			if local.CandidateType == webrtc.ICECandidateTypeRelay {
				return "relay"
			}
			return "direct"
		}
	}
	return "unknown"
}
