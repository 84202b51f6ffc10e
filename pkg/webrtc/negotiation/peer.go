package negotiation

import (
	"github.com/pion/webrtc/v3"
)

// PeerConnection is the part of *webrtc.PeerConnection the machine drives.
type PeerConnection interface {
	CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	RemoteDescription() *webrtc.SessionDescription
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	OnICECandidate(f func(*webrtc.ICECandidate))
	OnConnectionStateChange(f func(webrtc.PeerConnectionState))
	OnICEConnectionStateChange(f func(webrtc.ICEConnectionState))
	Close() error
}

// PeerFactory builds a fresh peer connection with local media attached.
type PeerFactory func() (PeerConnection, error)

var _ PeerConnection = (*webrtc.PeerConnection)(nil)
