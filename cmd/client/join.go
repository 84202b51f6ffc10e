package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/AmoolyaSuneja/ChatMe/pkg/config"
	"github.com/AmoolyaSuneja/ChatMe/pkg/discovery"
	"github.com/AmoolyaSuneja/ChatMe/pkg/logger"
	"github.com/AmoolyaSuneja/ChatMe/pkg/store"
	"github.com/AmoolyaSuneja/ChatMe/pkg/webrtc/negotiation"
	"github.com/AmoolyaSuneja/ChatMe/pkg/webrtc/rtcmedia"
	rtcconfig "github.com/AmoolyaSuneja/ChatMe/pkg/webrtc/rtcmedia/config"
	"github.com/AmoolyaSuneja/ChatMe/pkg/webrtc/session"
	"github.com/pion/webrtc/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	flagNoVideo bool
	flagMuted   bool
	flagOffline bool
)

var joinCmd = &cobra.Command{
	Use:     "join <room-code>",
	Aliases: []string{"j"},
	Short:   "Join a room and start a call",
	Long: `Join the room with the given code and negotiate a call with the other
participant. Press Ctrl+C to leave.

Examples:
  chatme join K3Q9ZP2M
  chatme join --offline K3Q9ZP2M
  chatme join --no-video --signal-url ws://10.0.0.2:3001/ws K3Q9ZP2M`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCall(cmd.Context(), args[0], nil)
	},
}

func init() {
	for _, c := range []*cobra.Command{joinCmd, createCmd} {
		c.Flags().BoolVar(&flagNoVideo, "no-video", false, "send audio only")
		c.Flags().BoolVar(&flagMuted, "muted", false, "start with the microphone muted")
		c.Flags().BoolVar(&flagOffline, "offline", false, "skip the relay and signal through the shared store")
	}
}

// runCall runs one session until interrupted or the call fails for good.
func runCall(parent context.Context, roomID string, publish *discovery.Room) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()
	log := logger.Named("client")

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	signals := store.NewSignalLog(st)
	janitor := store.NewJanitor(signals, store.NewDirectory(st), log.Named("janitor"))
	if err := janitor.Start(); err != nil {
		log.Warn("janitor not started", zap.Error(err))
	} else {
		defer janitor.Stop()
	}

	opt := rtcconfig.FromClientConfig(cfg.Client)
	opt.EnableVideo = !flagNoVideo
	media, err := rtcmedia.NewLocalMedia(opt, log.Named("media"))
	if err != nil {
		return err
	}
	media.SetAudioEnabled(!flagMuted)

	ctx, cancel := signal.NotifyContext(contextOrBackground(parent), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	failed := make(chan struct{}, 1)
	sess, err := session.New(session.Options{
		RoomID:    roomID,
		SignalURL: signalURL(cfg, flagOffline),
		Client:    cfg.Client,
		Publish:   publish,
		OnStatus:  PrintStatus,
		OnState: func(s negotiation.State) {
			PrintState(s)
			if s == negotiation.StateFailed {
				select {
				case failed <- struct{}{}:
				default:
				}
			}
		},
	}, session.Deps{
		Store:   st,
		Peers:   rtcmedia.NewPeerFactory(opt, media, drainTrack(log), log.Named("peer")),
		Media:   media,
		Log:     log,
		Signals: signals,
	})
	if err != nil {
		media.Stop()
		return err
	}

	fmt.Println(TitleStyle.Render(fmt.Sprintf("Joining room %s as %s", sess.RoomID(), sess.ParticipantID())))
	if err := sess.Start(ctx); err != nil {
		return errors.Join(err, sess.Stop())
	}
	if sess.Degraded() {
		PrintWarning("relay unavailable, signaling through the shared store")
	}

	var runErr error
	select {
	case <-ctx.Done():
	case <-failed:
		runErr = fmt.Errorf("call failed in room %s", sess.RoomID())
	}
	fmt.Println(MutedStyle.Render("Leaving room..."))
	return errors.Join(runErr, sess.Stop())
}

func signalURL(cfg *config.Config, offline bool) string {
	if offline {
		return ""
	}
	return cfg.Client.SignalURL
}

func contextOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

// drainTrack reads remote media so pion's buffers never fill; playback is
// left to whatever consumes the log.
func drainTrack(log *zap.Logger) func(*webrtc.TrackRemote, *webrtc.RTPReceiver) {
	return func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info("remote track",
			zap.String("kind", track.Kind().String()),
			zap.String("codec", track.Codec().MimeType),
		)
		buf := make([]byte, 1500)
		for {
			if _, _, err := track.Read(buf); err != nil {
				if !errors.Is(err, io.EOF) {
					log.Debug("remote track ended", zap.Error(err))
				}
				return
			}
		}
	}
}
