// Package rtcmedia wraps pion peer connections and local media for the
// negotiation state machine.
package rtcmedia

import (
	"errors"
	"sync"

	"github.com/AmoolyaSuneja/ChatMe/pkg/webrtc/negotiation"
	"github.com/AmoolyaSuneja/ChatMe/pkg/webrtc/rtcmedia/config"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// ErrNoPeerConnection is returned by calls made before Create or after Close.
var ErrNoPeerConnection = errors.New("rtcmedia: peer connection is nil")

// Connection is a pion peer connection with local media attached. Callbacks
// registered through the negotiation interface are forwarded from handlers
// installed once at Create.
type Connection struct {
	opt   *config.WebRTCOption
	media *LocalMedia
	log   *zap.Logger

	mu          sync.RWMutex
	pc          *webrtc.PeerConnection
	onCandidate func(*webrtc.ICECandidate)
	onState     func(webrtc.PeerConnectionState)
	onICEState  func(webrtc.ICEConnectionState)
	onTrack     func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
}

var _ negotiation.PeerConnection = (*Connection)(nil)

// NewConnection creates a connection manager; media may be nil for a
// receive-only peer.
func NewConnection(opt *config.WebRTCOption, media *LocalMedia, log *zap.Logger) *Connection {
	if opt == nil {
		opt = config.DefaultWebRTCOption()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Connection{opt: opt, media: media, log: log}
}

// Create builds the pion peer connection and attaches local tracks.
func (c *Connection) Create() error {
	engine, err := GetMediaEngine()
	if err != nil {
		return err
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(engine))
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: c.opt.ICEServers})
	if err != nil {
		c.log.Error("failed to create peer connection", zap.Error(err))
		return err
	}
	if c.media != nil {
		if err := c.media.AddTo(pc); err != nil {
			_ = pc.Close()
			return err
		}
	} else {
		// receive-only transceivers keep the offer carrying both media sections
		for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
			if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}); err != nil {
				_ = pc.Close()
				return err
			}
		}
	}

	c.mu.Lock()
	c.pc = pc
	c.mu.Unlock()
	c.registerEventHandlers(pc)
	return nil
}

func (c *Connection) registerEventHandlers(pc *webrtc.PeerConnection) {
	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		c.mu.RLock()
		f := c.onCandidate
		c.mu.RUnlock()
		if candidate != nil {
			c.log.Debug("ICE candidate generated", zap.String("candidate", candidate.String()))
		}
		if f != nil {
			f(candidate)
		}
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		c.log.Debug("connection state changed", zap.String("state", state.String()))
		c.mu.RLock()
		f := c.onState
		c.mu.RUnlock()
		if f != nil {
			f(state)
		}
	})
	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		c.mu.RLock()
		f := c.onICEState
		c.mu.RUnlock()
		if f != nil {
			f(state)
		}
	})
	pc.OnTrack(func(remote *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		c.log.Info("received remote track",
			zap.String("kind", remote.Kind().String()),
			zap.String("codec", remote.Codec().MimeType),
			zap.Uint32("ssrc", uint32(remote.SSRC())),
			zap.String("stream", remote.StreamID()))
		c.mu.RLock()
		f := c.onTrack
		c.mu.RUnlock()
		if f != nil {
			f(remote, receiver)
		}
	})
}

func (c *Connection) peer() (*webrtc.PeerConnection, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.pc == nil {
		return nil, ErrNoPeerConnection
	}
	return c.pc, nil
}

func (c *Connection) OnICECandidate(f func(*webrtc.ICECandidate)) {
	c.mu.Lock()
	c.onCandidate = f
	c.mu.Unlock()
}

func (c *Connection) OnConnectionStateChange(f func(webrtc.PeerConnectionState)) {
	c.mu.Lock()
	c.onState = f
	c.mu.Unlock()
}

func (c *Connection) OnICEConnectionStateChange(f func(webrtc.ICEConnectionState)) {
	c.mu.Lock()
	c.onICEState = f
	c.mu.Unlock()
}

// OnTrack sets the remote track callback.
func (c *Connection) OnTrack(f func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	c.mu.Lock()
	c.onTrack = f
	c.mu.Unlock()
}

func (c *Connection) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	pc, err := c.peer()
	if err != nil {
		return err
	}
	return pc.AddICECandidate(candidate)
}

func (c *Connection) RemoteDescription() *webrtc.SessionDescription {
	pc, err := c.peer()
	if err != nil {
		return nil
	}
	return pc.RemoteDescription()
}

func (c *Connection) SetLocalDescription(desc webrtc.SessionDescription) error {
	pc, err := c.peer()
	if err != nil {
		return err
	}
	return pc.SetLocalDescription(desc)
}

func (c *Connection) SetRemoteDescription(desc webrtc.SessionDescription) error {
	pc, err := c.peer()
	if err != nil {
		return err
	}
	return pc.SetRemoteDescription(desc)
}

func (c *Connection) CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	pc, err := c.peer()
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	return pc.CreateOffer(options)
}

func (c *Connection) CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	pc, err := c.peer()
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	return pc.CreateAnswer(options)
}

// Close closes the peer connection. Local media stays alive for the next
// connection; stop it separately.
func (c *Connection) Close() error {
	c.mu.Lock()
	pc := c.pc
	c.pc = nil
	c.mu.Unlock()
	if pc == nil {
		return nil
	}
	return pc.Close()
}

// NewPeerFactory returns a factory producing connections that share media.
func NewPeerFactory(opt *config.WebRTCOption, media *LocalMedia, onTrack func(*webrtc.TrackRemote, *webrtc.RTPReceiver), log *zap.Logger) negotiation.PeerFactory {
	return func() (negotiation.PeerConnection, error) {
		c := NewConnection(opt, media, log)
		c.OnTrack(onTrack)
		if err := c.Create(); err != nil {
			return nil, err
		}
		return c, nil
	}
}
