package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultSweepInterval is how often the sweeper scans the registry.
	DefaultSweepInterval = time.Minute

	// DefaultSweepGrace is added on top of the room timeout before the
	// sweeper considers a room stale.
	DefaultSweepGrace = time.Minute
)

// Lister exposes the live rooms of a registry to the sweeper.
type Lister interface {
	Rooms() []*Room
}

// Sweeper periodically force-destroys rooms that outlived their timeout.
// It is a backstop against a per-room timer that failed to fire, not the
// primary expiry mechanism. Staleness is measured from room creation,
// not last activity, matching the relay's long-observed behavior.
type Sweeper struct {
	store    Lister
	interval time.Duration
	maxAge   time.Duration
	logger   zerolog.Logger
}

type SweeperConfig struct {
	Store    Lister
	Interval time.Duration
	MaxAge   time.Duration
	Logger   *zerolog.Logger
}

func NewSweeper(cfg SweeperConfig) *Sweeper {
	return &Sweeper{
		store:    cfg.Store,
		interval: cfg.Interval,
		maxAge:   cfg.MaxAge,
		logger:   cfg.Logger.With().Str("component", "sweeper").Logger(),
	}
}

// Run loops until ctx is cancelled.
func (sw *Sweeper) Run(ctx context.Context, wg *sync.WaitGroup) {
	defer func() {
		sw.logger.Debug().Msg("sweeper stopped")
		wg.Done()
	}()

	sw.logger.Info().Dur("interval", sw.interval).Dur("maxAge", sw.maxAge).Msg("sweeper started")

	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sw.Sweep()
		}
	}
}

// Sweep destroys every room older than maxAge.
func (sw *Sweeper) Sweep() {
	now := time.Now()
	for _, room := range sw.store.Rooms() {
		age := now.Sub(room.CreatedAt())
		if age <= sw.maxAge {
			continue
		}
		sw.logger.Warn().
			Str("room", Tag(room.ID())).
			Dur("age", age).
			Msg("destroying stale room missed by its timer")
		room.Destroy()
	}
}
