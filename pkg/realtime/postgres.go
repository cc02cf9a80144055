package realtime

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

const listenerPingInterval = 90 * time.Second

// ListenerConfig configures the Postgres change listener.
type ListenerConfig struct {
	DSN          string
	Channel      string
	MinReconnect time.Duration
	MaxReconnect time.Duration
}

// ListenPostgres subscribes to cfg.Channel and publishes every decoded
// notification to hub until ctx is cancelled. Reconnects are handled by
// pq.Listener.
func ListenPostgres(ctx context.Context, cfg ListenerConfig, hub *Hub, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MinReconnect <= 0 {
		cfg.MinReconnect = 10 * time.Second
	}
	if cfg.MaxReconnect < cfg.MinReconnect {
		cfg.MaxReconnect = time.Minute
	}
	logger = logger.With(zap.String("channel", cfg.Channel))

	listener := pq.NewListener(cfg.DSN, cfg.MinReconnect, cfg.MaxReconnect, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnected:
			logger.Info("realtime listener connected")
		case pq.ListenerEventDisconnected:
			logger.Warn("realtime listener disconnected", zap.Error(err))
		case pq.ListenerEventReconnected:
			logger.Info("realtime listener reconnected")
		case pq.ListenerEventConnectionAttemptFailed:
			logger.Warn("realtime listener connection attempt failed", zap.Error(err))
		}
	})
	defer listener.Close() //nolint:errcheck

	if err := listener.Listen(cfg.Channel); err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Channel, err)
	}

	ticker := time.NewTicker(listenerPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-listener.Notify:
			// A nil notification marks a reconnect; changes may have been missed.
			if n == nil {
				hub.Publish(Event{Table: "*", Action: "RESYNC", At: time.Now().UTC()})
				continue
			}
			event, err := DecodeEvent(n.Extra)
			if err != nil {
				logger.Warn("discarding malformed change event", zap.String("payload", n.Extra), zap.Error(err))
				continue
			}
			hub.Publish(event)
		case <-ticker.C:
			if err := listener.Ping(); err != nil {
				logger.Warn("realtime listener ping failed", zap.Error(err))
			}
		}
	}
}
