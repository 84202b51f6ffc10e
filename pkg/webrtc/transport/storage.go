package transport

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	apperrors "github.com/AmoolyaSuneja/ChatMe/pkg/errors"
	"github.com/AmoolyaSuneja/ChatMe/pkg/protocol"
	"github.com/AmoolyaSuneja/ChatMe/pkg/store"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// StorageOptions configures a StorageTransport.
type StorageOptions struct {
	RoomID        string
	ParticipantID string
	PollInterval  time.Duration // default 500ms
	MaxAge        time.Duration // records older than this are purged; default 30s
	Now           func() time.Time
	// DedupSize bounds the set of record keys already dispatched.
	DedupSize int
}

func (o StorageOptions) withDefaults() StorageOptions {
	if o.PollInterval <= 0 {
		o.PollInterval = 500 * time.Millisecond
	}
	if o.MaxAge <= 0 {
		o.MaxAge = 30 * time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.DedupSize <= 0 {
		o.DedupSize = 512
	}
	return o
}

// StorageTransport exchanges messages through the room's signal log. It
// only reaches participants sharing the same store.
type StorageTransport struct {
	log  *store.SignalLog
	opts StorageOptions
	seen *lru.Cache[uint64, struct{}]
	zl   *zap.Logger

	dispatcher
	stop     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// NewStorageTransport starts polling immediately.
func NewStorageTransport(signals *store.SignalLog, opts StorageOptions, log *zap.Logger) (*StorageTransport, error) {
	if opts.RoomID == "" || opts.ParticipantID == "" {
		return nil, apperrors.NewAppError(apperrors.ErrCodeInvalidInput, "storage transport needs room and participant")
	}
	if log == nil {
		log = zap.NewNop()
	}
	opts = opts.withDefaults()
	seen, err := lru.New[uint64, struct{}](opts.DedupSize)
	if err != nil {
		return nil, err
	}
	t := &StorageTransport{
		log:     signals,
		opts:    opts,
		seen:    seen,
		zl:      log,
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go t.run()
	return t, nil
}

func (t *StorageTransport) Kind() Kind { return KindStorage }

func (t *StorageTransport) AnnouncesJoin() bool { return false }

func (t *StorageTransport) OnMessage(h Handler) { t.set(h) }

// Send appends msg to the room log stamped with this participant.
func (t *StorageTransport) Send(ctx context.Context, msg *protocol.Message) error {
	select {
	case <-t.stop:
		return ErrClosed
	default:
	}
	rec := msg.Clone()
	rec.From = t.opts.ParticipantID
	rec.RoomID = t.opts.RoomID
	rec.Timestamp = t.opts.Now().UnixMilli()
	rec.Processed = false
	if err := t.log.Append(ctx, t.opts.RoomID, rec); err != nil {
		return apperrors.Transport(err, "append signal record")
	}
	return nil
}

func (t *StorageTransport) run() {
	defer close(t.stopped)
	ticker := time.NewTicker(t.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), t.opts.PollInterval*4)
			if err := t.Poll(ctx); err != nil {
				t.zl.Warn("signal poll failed", zap.Error(err))
			}
			cancel()
		}
	}
}

// Poll purges records older than MaxAge, then dispatches new records from
// other participants and marks them processed.
func (t *StorageTransport) Poll(ctx context.Context) error {
	var fresh []*protocol.Message
	now := t.opts.Now()
	err := t.log.Update(ctx, t.opts.RoomID, func(recs []*protocol.Message) []*protocol.Message {
		recs = store.FreshSignals(recs, t.opts.MaxAge, now)
		for _, r := range recs {
			if r.From == t.opts.ParticipantID || r.Processed {
				continue
			}
			r.Processed = true
			key := recordKey(r)
			if t.seen.Contains(key) {
				continue
			}
			t.seen.Add(key, struct{}{})
			fresh = append(fresh, r)
		}
		return recs
	})
	if err != nil {
		return apperrors.Transport(err, "poll signal log")
	}
	for _, m := range fresh {
		t.dispatch(m)
	}
	return nil
}

// RecentJoins returns user-joined records from other participants newer
// than window, whether or not they were processed.
func (t *StorageTransport) RecentJoins(ctx context.Context, window time.Duration) ([]*protocol.Message, error) {
	recs, err := t.log.Load(ctx, t.opts.RoomID)
	if err != nil {
		return nil, apperrors.Transport(err, "load signal log")
	}
	cutoff := t.opts.Now().Add(-window).UnixMilli()
	var out []*protocol.Message
	for _, r := range recs {
		if r.Type == protocol.TypeUserJoined && r.From != t.opts.ParticipantID && r.Timestamp > cutoff {
			out = append(out, r)
		}
	}
	return out, nil
}

// Forget removes this participant's records from the room log.
func (t *StorageTransport) Forget(ctx context.Context) error {
	return t.log.RemoveFrom(ctx, t.opts.RoomID, t.opts.ParticipantID)
}

// Close stops polling and waits for an in-flight poll to finish.
func (t *StorageTransport) Close() error {
	t.stopOnce.Do(func() { close(t.stop) })
	<-t.stopped
	return nil
}

func recordKey(m *protocol.Message) uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%d|%s|", m.From, m.Timestamp, m.Type)
	h.Write(m.Payload)
	return h.Sum64()
}
