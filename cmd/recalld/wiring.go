package main

import (
	"fmt"

	"github.com/fyrsmithlabs/recalld/internal/config"
	"github.com/fyrsmithlabs/recalld/internal/host"
	httpserver "github.com/fyrsmithlabs/recalld/internal/http"
	"github.com/fyrsmithlabs/recalld/internal/logging"
	"github.com/fyrsmithlabs/recalld/internal/retrieval"
	"github.com/fyrsmithlabs/recalld/internal/telemetry"
	"github.com/fyrsmithlabs/recalld/internal/vectorsync"
)

// syncConfig maps the chat-facing options onto the sync engine.
func syncConfig(cfg *config.Config) vectorsync.Config {
	return vectorsync.Config{
		Enabled:      cfg.Enabled,
		ChunkSize:    cfg.ChunkSize,
		BatchSize:    cfg.BatchSize,
		PollInterval: cfg.Sync.PollInterval.Duration(),
		LockTimeout:  cfg.Sync.LockTimeout.Duration(),
	}
}

// retrievalConfig maps the chat-facing options onto the retrieval
// pipeline and validates the result.
func retrievalConfig(cfg *config.Config) (retrieval.Config, error) {
	extra, err := cfg.ExtraCollectionKeys()
	if err != nil {
		return retrieval.Config{}, err
	}

	rc := retrieval.Config{
		Enabled:        cfg.Enabled,
		Query:          cfg.Query,
		Insert:         cfg.Insert,
		Protect:        cfg.Protect,
		ScoreThreshold: cfg.ScoreThreshold,
		Template:       cfg.Template,
		Position:       host.ParsePosition(cfg.Position),
		Depth:          cfg.Depth,
		Decay: retrieval.DecayConfig{
			Enabled:    cfg.TemporalDecay.Enabled,
			Mode:       retrieval.DecayMode(cfg.TemporalDecay.Mode),
			HalfLife:   cfg.TemporalDecay.HalfLife,
			LinearRate: cfg.TemporalDecay.LinearRate,
		},
		Importance: retrieval.ImportanceConfig{
			Enabled: cfg.Importance.Enabled,
			Tiered:  cfg.Importance.Tiered,
		},
		ExtraCollections: extra,
	}
	if err := rc.Validate(); err != nil {
		return retrieval.Config{}, err
	}
	return rc, nil
}

// serverConfig maps the server section onto the HTTP server.
func serverConfig(cfg *config.Config) *httpserver.Config {
	return &httpserver.Config{
		Host:      cfg.Server.Host,
		Port:      cfg.Server.Port,
		APIKey:    cfg.Server.APIKey.Value(),
		BodyLimit: cfg.Server.BodyLimit,
	}
}

// loggingConfig decodes the logging section over the defaults.
func loggingConfig(cfg *config.Config) (*logging.Config, error) {
	lc := logging.NewDefaultConfig()
	if err := cfg.Section("logging", lc); err != nil {
		return nil, err
	}
	if err := lc.Validate(); err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	return lc, nil
}

// telemetryConfig decodes the telemetry section over the defaults.
func telemetryConfig(cfg *config.Config) (*telemetry.Config, error) {
	tc := telemetry.NewDefaultConfig()
	tc.ServiceVersion = version
	if err := cfg.Section("telemetry", tc); err != nil {
		return nil, err
	}
	if err := tc.Validate(); err != nil {
		return nil, err
	}
	return tc, nil
}
