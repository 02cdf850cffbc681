package oauth

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kirogw/kiro-gateway/internal/config"
	"github.com/kirogw/kiro-gateway/internal/pool"
)

// BackgroundConfig mirrors the original's BackgroundRefreshConfig
// (original_source/src/kiro/background_refresh.rs). Supplemented feature
// #5 in SPEC_FULL.md: a proactive refresh loop separate from the
// on-demand EnsureFresh path.
type BackgroundConfig struct {
	CheckInterval        time.Duration
	BatchSize            int
	Concurrency          int
	RefreshBeforeExpiry  time.Duration
}

func DefaultBackgroundConfig() BackgroundConfig {
	return BackgroundConfig{
		CheckInterval:       config.BackgroundRefreshCheckInterval,
		BatchSize:           config.BackgroundRefreshBatchSize,
		Concurrency:         config.BackgroundRefreshConcurrency,
		RefreshBeforeExpiry: config.BackgroundRefreshBeforeExpiry,
	}
}

// Background periodically scans the pool for credentials expiring soon and
// refreshes them ahead of use, sharing the Manager's singleflight group
// with the request path so a proactive and a request-triggered refresh for
// the same credential collapse into one call.
type Background struct {
	pool    *pool.Pool
	manager *Manager
	cfg     BackgroundConfig

	stop chan struct{}
	wg   sync.WaitGroup
}

func NewBackground(p *pool.Pool, m *Manager, cfg BackgroundConfig) *Background {
	return &Background{pool: p, manager: m, cfg: cfg, stop: make(chan struct{})}
}

// Start launches the loop in a background goroutine. Call Stop to shut it
// down cleanly.
func (b *Background) Start(ctx context.Context) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ticker := time.NewTicker(b.cfg.CheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-b.stop:
				return
			case <-ticker.C:
				b.runOnce(ctx)
			}
		}
	}()
}

func (b *Background) Stop() {
	close(b.stop)
	b.wg.Wait()
}

func (b *Background) runOnce(ctx context.Context) {
	due := b.dueCredentials()
	if len(due) == 0 {
		return
	}
	if len(due) > b.cfg.BatchSize {
		due = due[:b.cfg.BatchSize]
	}

	sem := make(chan struct{}, b.cfg.Concurrency)
	var wg sync.WaitGroup
	for _, id := range due {
		sem <- struct{}{}
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			defer func() { <-sem }()
			if _, err := b.manager.EnsureFresh(ctx, id); err != nil {
				log.Warn().Err(err).Int64("credential_id", id).Msg("oauth: background refresh failed")
			}
		}(id)
	}
	wg.Wait()
}

func (b *Background) dueCredentials() []int64 {
	now := time.Now()
	var due []int64
	for _, v := range b.pool.AllSnapshots() {
		if !v.Enabled {
			continue
		}
		c, ok := b.pool.CredentialByID(v.ID)
		if !ok {
			continue
		}
		info := c.OAuthSnapshot()
		if info.ExpiresAt.IsZero() {
			continue
		}
		if info.ExpiresAt.Sub(now) <= b.cfg.RefreshBeforeExpiry {
			due = append(due, v.ID)
		}
	}
	return due
}
