package store

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	DefaultCleanupSpec  = "@every 30s"
	DefaultRoomMaxAge   = time.Hour
	DefaultSignalMaxAge = 5 * time.Minute
	janitorRunTimeout   = 10 * time.Second
)

// Janitor periodically prunes expired directory rooms and stale signal
// records from a shared store.
type Janitor struct {
	signals      *SignalLog
	directory    *Directory
	cron         *cron.Cron
	spec         string
	roomMaxAge   time.Duration
	signalMaxAge time.Duration
	now          func() time.Time
	log          *zap.Logger
}

type JanitorOption func(*Janitor)

func WithSchedule(spec string) JanitorOption {
	return func(j *Janitor) { j.spec = spec }
}

func WithMaxAges(room, signal time.Duration) JanitorOption {
	return func(j *Janitor) {
		j.roomMaxAge = room
		j.signalMaxAge = signal
	}
}

func WithClock(now func() time.Time) JanitorOption {
	return func(j *Janitor) { j.now = now }
}

func NewJanitor(signals *SignalLog, directory *Directory, log *zap.Logger, opts ...JanitorOption) *Janitor {
	if log == nil {
		log = zap.NewNop()
	}
	j := &Janitor{
		signals:      signals,
		directory:    directory,
		spec:         DefaultCleanupSpec,
		roomMaxAge:   DefaultRoomMaxAge,
		signalMaxAge: DefaultSignalMaxAge,
		now:          time.Now,
		log:          log,
	}
	for _, o := range opts {
		o(j)
	}
	return j
}

// RunOnce performs one cleanup pass.
func (j *Janitor) RunOnce(ctx context.Context) (rooms, signals int, err error) {
	now := j.now()
	if j.directory != nil {
		if rooms, err = j.directory.Prune(ctx, j.roomMaxAge, now); err != nil {
			return rooms, 0, err
		}
	}
	if j.signals != nil {
		if signals, err = j.signals.Prune(ctx, j.signalMaxAge, now); err != nil {
			return rooms, signals, err
		}
	}
	return rooms, signals, nil
}

// Start schedules RunOnce on the configured spec.
func (j *Janitor) Start() error {
	j.cron = cron.New()
	_, err := j.cron.AddFunc(j.spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), janitorRunTimeout)
		defer cancel()
		rooms, signals, err := j.RunOnce(ctx)
		if err != nil {
			j.log.Warn("cleanup failed", zap.Error(err))
			return
		}
		if rooms > 0 || signals > 0 {
			j.log.Debug("cleanup", zap.Int("rooms_removed", rooms), zap.Int("signals_removed", signals))
		}
	})
	if err != nil {
		return err
	}
	j.cron.Start()
	return nil
}

// Stop halts the schedule and waits for a running pass to finish.
func (j *Janitor) Stop() {
	if j.cron == nil {
		return
	}
	<-j.cron.Stop().Done()
	j.cron = nil
}
