package rtcmedia

import (
	"strings"

	"github.com/AmoolyaSuneja/ChatMe/pkg/webrtc/constants"
	"github.com/pion/webrtc/v3"
)

// CodecParameters returns the RTP parameters registered for a codec name.
// Unknown names fall back to Opus for audio and VP8 for video.
func CodecParameters(name string, kind webrtc.RTPCodecType) webrtc.RTPCodecParameters {
	switch strings.ToLower(name) {
	case constants.CodecPCMU:
		return webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU, ClockRate: 8000},
			PayloadType:        0,
		}
	case constants.CodecOPUS:
		return webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
			PayloadType:        111,
		}
	case constants.CodecH264:
		return webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:    webrtc.MimeTypeH264,
				ClockRate:   90000,
				SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
			},
			PayloadType: 102,
		}
	case constants.CodecVP8:
		return webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
			PayloadType:        96,
		}
	}
	if kind == webrtc.RTPCodecTypeVideo {
		return CodecParameters(constants.CodecVP8, kind)
	}
	return CodecParameters(constants.CodecOPUS, kind)
}

// GetMediaEngine registers the codecs a browser peer offers for a call.
func GetMediaEngine() (*webrtc.MediaEngine, error) {
	m := &webrtc.MediaEngine{}
	audio := []string{constants.CodecOPUS, constants.CodecPCMU}
	video := []string{constants.CodecVP8, constants.CodecH264}

	for _, name := range audio {
		if err := m.RegisterCodec(CodecParameters(name, webrtc.RTPCodecTypeAudio), webrtc.RTPCodecTypeAudio); err != nil {
			return nil, err
		}
	}
	for _, name := range video {
		if err := m.RegisterCodec(CodecParameters(name, webrtc.RTPCodecTypeVideo), webrtc.RTPCodecTypeVideo); err != nil {
			return nil, err
		}
	}
	return m, nil
}
