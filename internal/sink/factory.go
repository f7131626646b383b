package sink

import (
	"context"
	"fmt"
	"io"
	"time"

	"imessage-undeleter/internal/config"
	"imessage-undeleter/internal/tracker"
	"imessage-undeleter/internal/vault"
)

// Dependencies are the shared collaborators sinks may need.
type Dependencies struct {
	// Encryptor seals archive sinks with encrypt = true.
	Encryptor tracker.Encryptor

	Clock   tracker.Clock
	IDs     tracker.IDGenerator
	Logger  tracker.Logger
	Console io.Writer
}

// NewSinksFromConfig builds the enabled sinks in configuration order.
func NewSinksFromConfig(ctx context.Context, cfgs []config.SinkConfig, deps Dependencies) ([]tracker.Sink, error) {
	var sinks []tracker.Sink
	for _, cfg := range cfgs {
		if !cfg.Enabled {
			continue
		}
		s, err := NewSinkFromConfig(ctx, cfg, deps)
		if err != nil {
			return nil, fmt.Errorf("sink %s: %w", cfg.SinkName(), err)
		}
		sinks = append(sinks, s)
	}
	return sinks, nil
}

// NewSinkFromConfig creates a single sink based on the sink config type.
func NewSinkFromConfig(ctx context.Context, cfg config.SinkConfig, deps Dependencies) (tracker.Sink, error) {
	name := cfg.SinkName()
	switch cfg.Type {
	case "file":
		path, err := config.ExpandHome(cfg.Path)
		if err != nil {
			return nil, err
		}
		return NewFileSink(name, path, cfg.Pretty), nil
	case "table":
		path, err := config.ExpandHome(cfg.Path)
		if err != nil {
			return nil, err
		}
		return NewTableSink(name, path, cfg.TableName, deps.Clock), nil
	case "webhook":
		return NewWebhookSink(name, cfg.URL, WebhookOptions{
			AuthToken:  cfg.AuthToken,
			Timeout:    time.Duration(cfg.TimeoutSeconds) * time.Second,
			PingOnInit: cfg.PingOnInit,
			IDs:        deps.IDs,
			Clock:      deps.Clock,
		}, deps.Logger), nil
	case "console":
		return NewConsoleSink(name, cfg.Format, deps.Console), nil
	case "archive":
		if cfg.Vault == nil {
			return nil, fmt.Errorf("archive sink requires a vault")
		}
		v, err := vault.NewVaultFromConfig(ctx, *cfg.Vault)
		if err != nil {
			return nil, fmt.Errorf("creating vault: %w", err)
		}
		var enc tracker.Encryptor
		if cfg.Encrypt {
			if deps.Encryptor == nil {
				return nil, fmt.Errorf("archive sink has encrypt set but no encryptor is configured")
			}
			enc = deps.Encryptor
		}
		return NewArchiveSink(name, v, enc), nil
	default:
		return nil, fmt.Errorf("unknown sink type: %s", cfg.Type)
	}
}
