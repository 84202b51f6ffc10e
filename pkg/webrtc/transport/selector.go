package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	apperrors "github.com/AmoolyaSuneja/ChatMe/pkg/errors"
	"github.com/AmoolyaSuneja/ChatMe/pkg/protocol"
	"github.com/AmoolyaSuneja/ChatMe/pkg/webrtc/constants"
	"go.uber.org/zap"
)

// DegradedStatus is reported when the session falls back to the shared store.
const DegradedStatus = constants.StatusRelayUnavailable

// PrimaryDialer opens the relay transport. It must honour ctx.
type PrimaryDialer func(ctx context.Context) (Transport, error)

// FallbackFactory builds the degraded transport.
type FallbackFactory func() (Transport, error)

// failureNotifier is implemented by transports that can report a dropped
// connection after a successful connect.
type failureNotifier interface {
	OnFailure(func(error))
}

// Selector is a Transport that prefers the relay and switches, once and for
// good, to the degraded transport when the relay cannot be reached or fails.
type Selector struct {
	primary        PrimaryDialer
	fallback       FallbackFactory
	connectTimeout time.Duration
	log            *zap.Logger

	mu         sync.Mutex
	active     Transport
	degraded   bool
	closed     bool
	handler    Handler
	onStatus   func(string)
	onDegraded func(Transport)
}

type SelectorOption func(*Selector)

// WithConnectTimeout bounds the primary connect attempt; default 8s.
func WithConnectTimeout(d time.Duration) SelectorOption {
	return func(s *Selector) { s.connectTimeout = d }
}

// WithStatus receives user-facing status lines.
func WithStatus(f func(string)) SelectorOption {
	return func(s *Selector) { s.onStatus = f }
}

// WithDegradedHook runs after the switch to the degraded transport.
func WithDegradedHook(f func(Transport)) SelectorOption {
	return func(s *Selector) { s.onDegraded = f }
}

func WithLogger(l *zap.Logger) SelectorOption {
	return func(s *Selector) { s.log = l }
}

func NewSelector(primary PrimaryDialer, fallback FallbackFactory, opts ...SelectorOption) *Selector {
	s := &Selector{
		primary:        primary,
		fallback:       fallback,
		connectTimeout: 8 * time.Second,
		log:            zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Connect tries the relay within the connect timeout and falls back to the
// degraded transport on any failure.
func (s *Selector) Connect(ctx context.Context) error {
	if s.primary != nil {
		dialCtx, cancel := context.WithTimeout(ctx, s.connectTimeout)
		t, err := s.primary(dialCtx)
		cancel()
		if err == nil {
			s.mu.Lock()
			if s.closed {
				s.mu.Unlock()
				_ = t.Close()
				return ErrClosed
			}
			s.active = t
			h := s.handler
			s.mu.Unlock()

			if h != nil {
				t.OnMessage(h)
			}
			if fn, ok := t.(failureNotifier); ok {
				fn.OnFailure(func(err error) { s.degrade(err) })
			}
			s.status(constants.StatusSignalingUp)
			return nil
		}
		if ctx.Err() != nil {
			return apperrors.Transport(ctx.Err(), "connect cancelled")
		}
		s.log.Warn("relay unreachable, falling back", zap.Error(err))
	}
	return s.degrade(errors.New("no relay configured"))
}

func (s *Selector) degrade(cause error) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.degraded {
		s.mu.Unlock()
		return nil
	}
	s.degraded = true
	old := s.active
	s.active = nil
	s.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	if s.fallback == nil {
		return apperrors.Transport(cause, "relay unavailable and no fallback")
	}
	t, err := s.fallback()
	if err != nil {
		return apperrors.Transport(err, "start degraded transport")
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = t.Close()
		return ErrClosed
	}
	s.active = t
	h := s.handler
	hook := s.onDegraded
	s.mu.Unlock()

	if h != nil {
		t.OnMessage(h)
	}
	s.log.Info("switched to degraded transport", zap.NamedError("cause", cause))
	s.status(DegradedStatus)
	if hook != nil {
		hook(t)
	}
	return nil
}

func (s *Selector) status(msg string) {
	if s.onStatus != nil {
		s.onStatus(msg)
	}
}

// Send goes through the active transport. A relay send failure triggers
// the switch and the message is retried once on the degraded transport.
func (s *Selector) Send(ctx context.Context, msg *protocol.Message) error {
	s.mu.Lock()
	t, closed, degraded := s.active, s.closed, s.degraded
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if t == nil {
		return apperrors.NewAppError(apperrors.ErrCodeTransport, "no active transport")
	}
	err := t.Send(ctx, msg)
	if err == nil || degraded {
		return err
	}
	if derr := s.degrade(err); derr != nil {
		return derr
	}
	s.mu.Lock()
	t = s.active
	s.mu.Unlock()
	if t == nil {
		return ErrClosed
	}
	return t.Send(ctx, msg)
}

func (s *Selector) OnMessage(h Handler) {
	s.mu.Lock()
	s.handler = h
	t := s.active
	s.mu.Unlock()
	if t != nil {
		t.OnMessage(h)
	}
}

// Active returns the transport currently in use, or nil.
func (s *Selector) Active() Transport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Selector) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

// Kind reports the active transport's kind.
func (s *Selector) Kind() Kind {
	if s.Degraded() {
		return KindStorage
	}
	return KindRelay
}

// AnnouncesJoin reports the active transport's behaviour; false before
// Connect.
func (s *Selector) AnnouncesJoin() bool {
	s.mu.Lock()
	t := s.active
	s.mu.Unlock()
	return t != nil && t.AnnouncesJoin()
}

func (s *Selector) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	t := s.active
	s.active = nil
	s.mu.Unlock()
	if t != nil {
		return t.Close()
	}
	return nil
}
