package config

import (
	"fmt"
	"time"

	appconfig "github.com/AmoolyaSuneja/ChatMe/pkg/config"
	"github.com/AmoolyaSuneja/ChatMe/pkg/webrtc/constants"
	"github.com/pion/webrtc/v3"
)

// WebRTCOption WebRTC config options
type WebRTCOption struct {
	ICEServers  []webrtc.ICEServer `json:"iceServers"`  // ICE servers
	StreamID    string             `json:"streamId"`    // stream ID of local tracks
	ICETimeout  time.Duration      `json:"iceTimeout"`  // ICE timeout
	AudioCodec  string             `json:"audioCodec"`  // opus | pcmu
	VideoCodec  string             `json:"videoCodec"`  // vp8 | h264
	EnableVideo bool               `json:"enableVideo"` // add a video track
}

func DefaultWebRTCOption() *WebRTCOption {
	return &WebRTCOption{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{
					"stun:stun.l.google.com:19302",
					"stun:stun1.l.google.com:19302",
				},
			},
		},
		StreamID:    constants.DefaultStreamID,
		ICETimeout:  constants.DefaultICETimeout,
		AudioCodec:  constants.CodecOPUS,
		VideoCodec:  constants.CodecVP8,
		EnableVideo: true,
	}
}

// FromClientConfig builds options from the client section of the app config.
func FromClientConfig(c appconfig.ClientConfig) *WebRTCOption {
	opt := DefaultWebRTCOption()
	if len(c.ICEServers) == 0 {
		return opt
	}
	opt.ICEServers = make([]webrtc.ICEServer, 0, len(c.ICEServers))
	for _, s := range c.ICEServers {
		server := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			server.Credential = s.Credential
			server.CredentialType = webrtc.ICECredentialTypePassword
		}
		opt.ICEServers = append(opt.ICEServers, server)
	}
	return opt
}

// GetICETimeout get ICE timeout
func (o *WebRTCOption) GetICETimeout() time.Duration {
	if o.ICETimeout == 0 {
		return constants.DefaultICETimeout
	}
	return o.ICETimeout
}

// String config to string
func (o WebRTCOption) String() string {
	return fmt.Sprintf("WebRTCOption{ICEServers: %d, StreamID: %s, ICETimeout: %v, Audio: %s, Video: %s/%v}",
		len(o.ICEServers), o.StreamID, o.ICETimeout, o.AudioCodec, o.VideoCodec, o.EnableVideo)
}
