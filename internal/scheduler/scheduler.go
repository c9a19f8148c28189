package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/railzwaylabs/pricing/internal/clock"
	"github.com/railzwaylabs/pricing/internal/config"
	"github.com/railzwaylabs/pricing/internal/metrics"
	recorddomain "github.com/railzwaylabs/pricing/internal/pricerecord/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("scheduler",
	fx.Provide(New),
	fx.Invoke(Start),
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Config      config.Config
	Clock       clock.Clock
	Repo        recorddomain.Repository
	Invalidator recorddomain.Invalidator
	Metrics     *metrics.Metrics `optional:"true"`
}

// Scheduler runs the background jobs of the pricing service.
type Scheduler struct {
	db          *gorm.DB
	log         *zap.Logger
	cfg         config.SchedulerConfig
	clock       clock.Clock
	repo        recorddomain.Repository
	invalidator recorddomain.Invalidator
	metrics     *metrics.Metrics

	mu        sync.Mutex
	lastSweep time.Time
}

func New(p Params) *Scheduler {
	m := p.Metrics
	if m == nil {
		m = metrics.NewNop()
	}
	return &Scheduler{
		db:          p.DB,
		log:         p.Log.Named("scheduler"),
		cfg:         p.Config.Scheduler,
		clock:       p.Clock,
		repo:        p.Repo,
		invalidator: p.Invalidator,
		metrics:     m,
	}
}

// Start runs the scheduler for the lifetime of the fx app when enabled.
func Start(lc fx.Lifecycle, s *Scheduler) {
	if !s.cfg.Enabled {
		s.log.Info("scheduler disabled")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				s.RunForever(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return nil
		},
	})
}

// RunForever sweeps price windows on every tick until ctx is cancelled.
func (s *Scheduler) RunForever(ctx context.Context) {
	every := s.cfg.WindowSweepEvery
	if every <= 0 {
		every = 30 * time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	s.log.Info("scheduler started", zap.Duration("window_sweep_every", every))
	for {
		if err := s.SweepWindows(ctx); err != nil && ctx.Err() == nil {
			s.log.Warn("window sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return
		case <-ticker.C:
		}
	}
}
