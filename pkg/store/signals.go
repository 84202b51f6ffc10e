package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/AmoolyaSuneja/ChatMe/pkg/protocol"
)

// SignalKeyPrefix starts every per-room signal record key.
const SignalKeyPrefix = "signals_"

// SignalKey returns the record key for roomID.
func SignalKey(roomID string) string {
	return SignalKeyPrefix + roomID
}

// SignalLog is the per-room JSON array of signaling records used by the
// degraded transport. Each record is a protocol.Message carrying from,
// timestamp, processed and roomId.
type SignalLog struct {
	store Store
	// serialises read-modify-write inside this process
	mu sync.Mutex
}

func NewSignalLog(s Store) *SignalLog {
	return &SignalLog{store: s}
}

// Load returns the records of roomID, empty when none exist.
func (l *SignalLog) Load(ctx context.Context, roomID string) ([]*protocol.Message, error) {
	return l.load(ctx, SignalKey(roomID))
}

func (l *SignalLog) load(ctx context.Context, key string) ([]*protocol.Message, error) {
	data, err := l.store.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var recs []*protocol.Message
	if len(data) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, fmt.Errorf("store: decode %s: %w", key, err)
	}
	return recs, nil
}

func (l *SignalLog) save(ctx context.Context, key string, recs []*protocol.Message) error {
	if recs == nil {
		recs = []*protocol.Message{}
	}
	data, err := json.Marshal(recs)
	if err != nil {
		return err
	}
	return l.store.Set(ctx, key, data)
}

// Append adds rec to the room's log.
func (l *SignalLog) Append(ctx context.Context, roomID string, rec *protocol.Message) error {
	return l.Update(ctx, roomID, func(recs []*protocol.Message) []*protocol.Message {
		return append(recs, rec)
	})
}

// Update applies fn to the room's records and writes the result back.
func (l *SignalLog) Update(ctx context.Context, roomID string, fn func([]*protocol.Message) []*protocol.Message) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := SignalKey(roomID)
	recs, err := l.load(ctx, key)
	if err != nil {
		return err
	}
	return l.save(ctx, key, fn(recs))
}

// RemoveFrom deletes every record sent by participant.
func (l *SignalLog) RemoveFrom(ctx context.Context, roomID, participant string) error {
	return l.Update(ctx, roomID, func(recs []*protocol.Message) []*protocol.Message {
		kept := recs[:0]
		for _, r := range recs {
			if r.From != participant {
				kept = append(kept, r)
			}
		}
		return kept
	})
}

// Prune drops records older than maxAge from every room and returns how
// many were removed.
func (l *SignalLog) Prune(ctx context.Context, maxAge time.Duration, now time.Time) (int, error) {
	keys, err := l.store.Keys(ctx, SignalKeyPrefix)
	if err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for _, key := range keys {
		recs, err := l.load(ctx, key)
		if err != nil {
			return removed, err
		}
		fresh := FreshSignals(recs, maxAge, now)
		if len(fresh) == len(recs) {
			continue
		}
		removed += len(recs) - len(fresh)
		if err := l.save(ctx, key, fresh); err != nil {
			return removed, err
		}
	}
	return removed, nil
}

// FreshSignals keeps records younger than maxAge.
func FreshSignals(recs []*protocol.Message, maxAge time.Duration, now time.Time) []*protocol.Message {
	cutoff := now.Add(-maxAge).UnixMilli()
	out := make([]*protocol.Message, 0, len(recs))
	for _, r := range recs {
		if r.Timestamp > cutoff {
			out = append(out, r)
		}
	}
	return out
}
