// Package session ties one participant's transport, negotiation and media
// together for the lifetime of a call.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	appconfig "github.com/AmoolyaSuneja/ChatMe/pkg/config"
	"github.com/AmoolyaSuneja/ChatMe/pkg/discovery"
	apperrors "github.com/AmoolyaSuneja/ChatMe/pkg/errors"
	"github.com/AmoolyaSuneja/ChatMe/pkg/protocol"
	"github.com/AmoolyaSuneja/ChatMe/pkg/store"
	"github.com/AmoolyaSuneja/ChatMe/pkg/utils"
	"github.com/AmoolyaSuneja/ChatMe/pkg/webrtc/constants"
	"github.com/AmoolyaSuneja/ChatMe/pkg/webrtc/negotiation"
	"github.com/AmoolyaSuneja/ChatMe/pkg/webrtc/transport"
	"go.uber.org/zap"
)

// Media is the local capture owned by a session.
type Media interface {
	SetAudioEnabled(on bool)
	SetVideoEnabled(on bool)
	Stop()
}

type Options struct {
	RoomID        string
	ParticipantID string
	// SignalURL is the relay websocket; empty means the shared store only.
	SignalURL string
	Client    appconfig.ClientConfig
	// Publish, when set, is written to the room directory on Start and
	// removed on Stop.
	Publish *discovery.Room

	OnStatus func(string)
	OnState  func(negotiation.State)
}

// Deps are the collaborators a session is built from.
type Deps struct {
	Store store.Store
	Peers negotiation.PeerFactory
	Media Media
	Log   *zap.Logger
	// Signals lets sessions in one process share the signal log lock.
	// Built from Store when nil.
	Signals *store.SignalLog
	// Dial replaces the websocket dialer.
	Dial transport.PrimaryDialer
}

type Session struct {
	opts Options
	deps Deps
	log  *zap.Logger

	signals   *store.SignalLog
	directory *store.Directory
	selector  *transport.Selector
	machine   *negotiation.Machine

	mu        sync.Mutex
	storage   *transport.StorageTransport
	published bool
	started   bool
	stopOnce  sync.Once
	stopErr   error
}

func New(opts Options, deps Deps) (*Session, error) {
	opts.RoomID = protocol.NormalizeRoomID(opts.RoomID)
	if !protocol.ValidRoomID(opts.RoomID) {
		return nil, apperrors.NewAppErrorf(apperrors.ErrCodeInvalidInput, "invalid room code %q", opts.RoomID)
	}
	if deps.Store == nil || deps.Peers == nil {
		return nil, apperrors.NewAppError(apperrors.ErrCodeInvalidInput, "session needs a store and a peer factory")
	}
	if opts.ParticipantID == "" {
		opts.ParticipantID = utils.GenerateParticipantID()
	}
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.Signals == nil {
		deps.Signals = store.NewSignalLog(deps.Store)
	}
	return &Session{
		opts:      opts,
		deps:      deps,
		log:       deps.Log.With(zap.String("room", opts.RoomID), zap.String("participant", opts.ParticipantID)),
		signals:   deps.Signals,
		directory: store.NewDirectory(deps.Store),
	}, nil
}

func (s *Session) ParticipantID() string { return s.opts.ParticipantID }

func (s *Session) RoomID() string { return s.opts.RoomID }

// Start creates the peer connection, connects through the selector and
// begins negotiating. A peer connection failure is a resource error.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return apperrors.NewAppError(apperrors.ErrCodeInvalidInput, "session already started")
	}
	s.started = true
	s.mu.Unlock()

	s.status(constants.StatusConnecting)
	c := s.opts.Client

	nopts := negotiation.DefaultOptions(s.opts.ParticipantID)
	nopts.InitialOfferWait = c.InitialOfferWait
	nopts.ReconnectDelay = c.ReconnectDelay
	nopts.MaxReconnects = c.MaxReconnects
	nopts.JoinScanWindow = c.JoinScanWindow
	nopts.RecentJoins = s.recentJoins
	nopts.OnStatus = s.status
	nopts.OnState = s.opts.OnState

	s.selector = transport.NewSelector(s.dialRelay(), s.openStorage,
		transport.WithConnectTimeout(nonZero(c.ConnectTimeout, 8*time.Second)),
		transport.WithStatus(s.status),
		transport.WithDegradedHook(s.announce),
		transport.WithLogger(s.log.Named("transport")),
	)

	machine, err := negotiation.New(s.selector, s.deps.Peers, nopts, s.log.Named("negotiation"))
	if err != nil {
		s.status(constants.StatusMediaUnavailable)
		if s.deps.Media != nil {
			s.deps.Media.Stop()
		}
		return err
	}
	s.machine = machine
	machine.Start()
	s.selector.OnMessage(machine.Handle)

	if err := s.selector.Connect(ctx); err != nil {
		return err
	}

	if room := s.opts.Publish; room != nil {
		room.ID = s.opts.RoomID
		room.CreatorID = s.opts.ParticipantID
		if err := s.directory.Publish(ctx, *room); err != nil {
			s.log.Warn("publish room", zap.Error(err))
		} else {
			s.mu.Lock()
			s.published = true
			s.mu.Unlock()
		}
	}
	s.log.Info("session started", zap.String("transport", string(s.selector.Kind())))
	return nil
}

func (s *Session) dialRelay() transport.PrimaryDialer {
	if s.deps.Dial != nil {
		return s.deps.Dial
	}
	if s.opts.SignalURL == "" {
		return nil
	}
	return func(ctx context.Context) (transport.Transport, error) {
		return transport.DialWebSocket(ctx, s.opts.SignalURL, s.opts.RoomID, s.opts.ParticipantID, s.log.Named("relay"))
	}
}

func (s *Session) openStorage() (transport.Transport, error) {
	c := s.opts.Client
	st, err := transport.NewStorageTransport(s.signals, transport.StorageOptions{
		RoomID:        s.opts.RoomID,
		ParticipantID: s.opts.ParticipantID,
		PollInterval:  c.PollInterval,
		MaxAge:        c.SignalMaxAge,
	}, s.log.Named("storage"))
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.storage = st
	s.mu.Unlock()
	return st, nil
}

// announce tells same-store participants we joined; the relay does this
// for us on the primary transport.
func (s *Session) announce(t transport.Transport) {
	if t.AnnouncesJoin() {
		return
	}
	msg, err := protocol.New(protocol.TypeUserJoined, nil)
	if err != nil {
		return
	}
	msg.UserID = s.opts.ParticipantID
	ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultSendTimeout)
	defer cancel()
	if err := t.Send(ctx, msg); err != nil {
		s.log.Warn("announce join", zap.Error(err))
	}
}

func (s *Session) recentJoins(ctx context.Context, window time.Duration) ([]*protocol.Message, error) {
	s.mu.Lock()
	st := s.storage
	s.mu.Unlock()
	if st == nil {
		return nil, nil
	}
	return st.RecentJoins(ctx, window)
}

// Degraded reports whether the session runs on the shared store.
func (s *Session) Degraded() bool {
	return s.selector != nil && s.selector.Degraded()
}

// Snapshot returns the negotiation view, or the zero value before Start.
func (s *Session) Snapshot() negotiation.Snapshot {
	if s.machine == nil {
		return negotiation.Snapshot{State: negotiation.StateIdle}
	}
	return s.machine.Snapshot()
}

func (s *Session) SetAudioEnabled(on bool) {
	if s.deps.Media != nil {
		s.deps.Media.SetAudioEnabled(on)
	}
}

func (s *Session) SetVideoEnabled(on bool) {
	if s.deps.Media != nil {
		s.deps.Media.SetVideoEnabled(on)
	}
}

// Stop tears the session down: timers and polling, then the transport,
// then local tracks, then the peer connection. Calling it again is a no-op.
func (s *Session) Stop() error {
	s.stopOnce.Do(func() {
		var errs []error
		if s.machine != nil {
			s.machine.Stop()
		}
		s.mu.Lock()
		st := s.storage
		published := s.published
		s.mu.Unlock()
		if st != nil {
			errs = append(errs, st.Close())
		}
		if s.selector != nil {
			errs = append(errs, s.selector.Close())
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if st != nil {
			if err := st.Forget(ctx); err != nil {
				errs = append(errs, apperrors.Transport(err, "forget signal records"))
			}
		}
		if published {
			if err := s.directory.Remove(ctx, s.opts.RoomID); err != nil {
				errs = append(errs, err)
			}
		}

		if s.deps.Media != nil {
			s.deps.Media.Stop()
		}
		if s.machine != nil {
			errs = append(errs, s.machine.ClosePeer())
		}
		s.stopErr = errors.Join(errs...)
		s.log.Info("session stopped")
	})
	return s.stopErr
}

func (s *Session) status(msg string) {
	s.log.Debug("status", zap.String("status", msg))
	if s.opts.OnStatus != nil {
		s.opts.OnStatus(msg)
	}
}

func nonZero(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
