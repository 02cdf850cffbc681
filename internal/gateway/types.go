// Package gateway is the HTTP surface: request auth, the Anthropic<->Kiro
// conversion boundary, streaming/non-streaming response assembly, and the
// thin admin JSON API over the credential pool.
package gateway

import (
	"github.com/kirogw/kiro-gateway/internal/config"
	"github.com/kirogw/kiro-gateway/internal/convert"
	"github.com/kirogw/kiro-gateway/internal/kiroclient"
	"github.com/kirogw/kiro-gateway/internal/monitoring"
	"github.com/kirogw/kiro-gateway/internal/pool"
	"github.com/kirogw/kiro-gateway/internal/ratelimit"
	"github.com/kirogw/kiro-gateway/internal/retry"
	"github.com/kirogw/kiro-gateway/internal/usage"
)

// Gateway holds every collaborator a handler needs. One instance is built
// in cmd/server/main.go and its Router() mounted on the HTTP server.
type Gateway struct {
	Config      *config.Config
	Pool        *pool.Pool
	Engine      *retry.Engine
	Client      *kiroclient.Client
	Usage       *usage.Store
	Metrics     *monitoring.MetricsCollector
	RateLimiter *ratelimit.Limiter
	Compression convert.Pipeline
	events      *eventBroadcaster
}

// New builds a Gateway from its collaborators.
func New(cfg *config.Config, p *pool.Pool, engine *retry.Engine, client *kiroclient.Client, store *usage.Store, metrics *monitoring.MetricsCollector, rl *ratelimit.Limiter) *Gateway {
	compression := convert.Pipeline(convert.NoopPipeline{})
	if cfg.Compression.WhitespaceCoalescing {
		compression = convert.WhitespacePipeline{}
	}
	return &Gateway{
		Config:      cfg,
		Pool:        p,
		Engine:      engine,
		Client:      client,
		Usage:       store,
		Metrics:     metrics,
		RateLimiter: rl,
		Compression: compression,
		events:      newEventBroadcaster(),
	}
}

func (g *Gateway) compressionOptions() convert.CompressionOptions {
	c := g.Config.Compression
	return convert.CompressionOptions{
		Enabled:            c.WhitespaceCoalescing,
		ThinkingStrategy:   convert.ThinkingStrategy(c.ThinkingStrategy),
		ToolResultMaxLines: c.ToolResultHeadLines + c.ToolResultTailLines,
		ToolInputMaxChars:  c.ToolInputMaxBytes,
		ToolDescMaxChars:   c.ToolDescriptionMaxLen,
		HistoryPairKeep:    c.KeepHistoryPairs,
	}
}
