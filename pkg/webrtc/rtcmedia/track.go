package rtcmedia

import (
	"errors"
	"sync"
	"time"

	"github.com/AmoolyaSuneja/ChatMe/pkg/webrtc/rtcmedia/config"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"go.uber.org/zap"
)

// ErrTracksStopped is returned when writing to stopped local media.
var ErrTracksStopped = errors.New("rtcmedia: local tracks stopped")

// LocalMedia owns the outgoing audio/video tracks of a session. The same
// tracks are attached to every peer connection the session creates, so a
// replaced peer connection keeps sending the same media.
type LocalMedia struct {
	streamID string
	audio    *webrtc.TrackLocalStaticSample
	video    *webrtc.TrackLocalStaticSample
	log      *zap.Logger

	mu           sync.RWMutex
	audioEnabled bool
	videoEnabled bool
	stopped      bool
}

// NewLocalMedia creates the local tracks described by opt.
func NewLocalMedia(opt *config.WebRTCOption, log *zap.Logger) (*LocalMedia, error) {
	if opt == nil {
		opt = config.DefaultWebRTCOption()
	}
	if log == nil {
		log = zap.NewNop()
	}
	audio, err := webrtc.NewTrackLocalStaticSample(
		CodecParameters(opt.AudioCodec, webrtc.RTPCodecTypeAudio).RTPCodecCapability,
		"audio",
		opt.StreamID,
	)
	if err != nil {
		return nil, err
	}
	lm := &LocalMedia{
		streamID:     opt.StreamID,
		audio:        audio,
		log:          log,
		audioEnabled: true,
		videoEnabled: opt.EnableVideo,
	}
	if opt.EnableVideo {
		lm.video, err = webrtc.NewTrackLocalStaticSample(
			CodecParameters(opt.VideoCodec, webrtc.RTPCodecTypeVideo).RTPCodecCapability,
			"video",
			opt.StreamID,
		)
		if err != nil {
			return nil, err
		}
	}
	return lm, nil
}

// AddTo attaches the local tracks to pc.
func (lm *LocalMedia) AddTo(pc *webrtc.PeerConnection) error {
	lm.mu.RLock()
	stopped := lm.stopped
	lm.mu.RUnlock()
	if stopped {
		return ErrTracksStopped
	}
	for _, track := range lm.Tracks() {
		if _, err := pc.AddTrack(track); err != nil {
			return err
		}
	}
	return nil
}

// Tracks returns the local tracks, audio first.
func (lm *LocalMedia) Tracks() []*webrtc.TrackLocalStaticSample {
	tracks := []*webrtc.TrackLocalStaticSample{lm.audio}
	if lm.video != nil {
		tracks = append(tracks, lm.video)
	}
	return tracks
}

func (lm *LocalMedia) HasVideo() bool { return lm.video != nil }

// SetAudioEnabled mutes or unmutes the microphone track.
func (lm *LocalMedia) SetAudioEnabled(on bool) {
	lm.mu.Lock()
	lm.audioEnabled = on
	lm.mu.Unlock()
	lm.log.Debug("audio toggled", zap.Bool("enabled", on))
}

// SetVideoEnabled turns the camera track on or off. It is a no-op without
// a video track.
func (lm *LocalMedia) SetVideoEnabled(on bool) {
	if lm.video == nil {
		return
	}
	lm.mu.Lock()
	lm.videoEnabled = on
	lm.mu.Unlock()
	lm.log.Debug("video toggled", zap.Bool("enabled", on))
}

func (lm *LocalMedia) AudioEnabled() bool {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	return lm.audioEnabled && !lm.stopped
}

func (lm *LocalMedia) VideoEnabled() bool {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	return lm.video != nil && lm.videoEnabled && !lm.stopped
}

// WriteAudio sends one audio frame. Frames written while muted are dropped.
func (lm *LocalMedia) WriteAudio(data []byte, duration time.Duration) error {
	return lm.write(lm.audio, lm.AudioEnabled, data, duration)
}

// WriteVideo sends one video frame. Frames written while the camera is off
// are dropped.
func (lm *LocalMedia) WriteVideo(data []byte, duration time.Duration) error {
	if lm.video == nil {
		return nil
	}
	return lm.write(lm.video, lm.VideoEnabled, data, duration)
}

func (lm *LocalMedia) write(track *webrtc.TrackLocalStaticSample, enabled func() bool, data []byte, duration time.Duration) error {
	lm.mu.RLock()
	stopped := lm.stopped
	lm.mu.RUnlock()
	if stopped {
		return ErrTracksStopped
	}
	if !enabled() {
		return nil
	}
	return track.WriteSample(media.Sample{Data: data, Duration: duration})
}

// Stop ends the local tracks. Later writes fail and Stop is idempotent.
func (lm *LocalMedia) Stop() {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if lm.stopped {
		return
	}
	lm.stopped = true
	lm.log.Debug("local tracks stopped", zap.String("stream", lm.streamID))
}

func (lm *LocalMedia) Stopped() bool {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	return lm.stopped
}
