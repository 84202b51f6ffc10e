package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/AmoolyaSuneja/ChatMe/pkg/config"
	"github.com/AmoolyaSuneja/ChatMe/pkg/logger"
	"github.com/AmoolyaSuneja/ChatMe/pkg/store"
	"github.com/AmoolyaSuneja/ChatMe/pkg/utils"
	"github.com/AmoolyaSuneja/ChatMe/pkg/webrtc/negotiation"
	"github.com/AmoolyaSuneja/ChatMe/pkg/webrtc/rtcmedia"
	rtcconfig "github.com/AmoolyaSuneja/ChatMe/pkg/webrtc/rtcmedia/config"
	"github.com/AmoolyaSuneja/ChatMe/pkg/webrtc/session"
	"go.uber.org/zap"
)

// Runs two participants in one process and waits until both report a
// connected call. With -relay they signal through a running relay,
// otherwise through an in-memory store.
func main() {
	relay := flag.String("relay", "", "relay websocket URL, e.g. ws://localhost:3001/ws")
	timeout := flag.Duration("timeout", 30*time.Second, "give up after this long")
	flag.Parse()

	// Initialize logger
	if err := logger.Init(&logger.LogConfig{
		Level:      "debug",
		Filename:   "loopback.log",
		MaxSize:    5,
		MaxAge:     1,
		MaxBackups: 1,
	}, "dev"); err != nil {
		log.Fatalf("[Loopback] logger: %v", err)
	}
	defer logger.Sync()

	client := config.ClientConfig{
		ConnectTimeout:   3 * time.Second,
		PollInterval:     200 * time.Millisecond,
		SignalMaxAge:     30 * time.Second,
		InitialOfferWait: 2 * time.Second,
		JoinScanWindow:   15 * time.Second,
		ReconnectDelay:   3 * time.Second,
		MaxReconnects:    3,
	}
	st := store.NewMemoryStore()
	defer st.Close()
	signals := store.NewSignalLog(st)
	room := utils.GenerateRoomCode()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, *timeout)
	defer cancelTimeout()

	connected := make(chan string, 2)
	var sessions []*session.Session
	for _, name := range []string{"alice", "bob"} {
		opt := rtcconfig.DefaultWebRTCOption()
		opt.ICEServers = nil
		opt.EnableVideo = false
		media, err := rtcmedia.NewLocalMedia(opt, logger.Named(name))
		if err != nil {
			log.Fatalf("[Loopback] %s media: %v", name, err)
		}
		name := name
		sess, err := session.New(session.Options{
			RoomID:    room,
			SignalURL: *relay,
			Client:    client,
			OnStatus: func(s string) {
				fmt.Printf("[%s] %s\n", name, s)
			},
			OnState: func(s negotiation.State) {
				if s != negotiation.StateConnected {
					return
				}
				select {
				case connected <- name:
				default:
				}
			},
		}, session.Deps{
			Store:   st,
			Peers:   rtcmedia.NewPeerFactory(opt, media, nil, logger.Named(name)),
			Media:   media,
			Log:     logger.Named(name),
			Signals: signals,
		})
		if err != nil {
			log.Fatalf("[Loopback] %s session: %v", name, err)
		}
		if err := sess.Start(ctx); err != nil {
			log.Fatalf("[Loopback] %s start: %v", name, err)
		}
		sessions = append(sessions, sess)
	}
	defer func() {
		for _, s := range sessions {
			if err := s.Stop(); err != nil {
				logger.Warn("stop session", zap.Error(err))
			}
		}
	}()

	for seen := 0; seen < len(sessions); {
		select {
		case name := <-connected:
			seen++
			fmt.Printf("[Loopback] %s connected\n", name)
		case <-ctx.Done():
			fmt.Printf("[Loopback] gave up in room %s: %v\n", room, ctx.Err())
			return
		}
	}
	fmt.Printf("[Loopback] room %s: both participants connected\n", room)
}
