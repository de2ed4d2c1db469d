package liveness

import (
	"context"
	"log/slog"
	"time"

	"scanner-bridge/domain"
	"scanner-bridge/logging"
)

const DefaultInterval = 30 * time.Second

type Tracker interface {
	Connections() []domain.Connection
}

// Supervisor evicts connections that missed a probe. One missed cycle is
// enough: a connection that has not answered the previous ping by the next
// sweep is terminated.
type Supervisor struct {
	tracker  Tracker
	interval time.Duration
}

func New(tracker Tracker, interval time.Duration) *Supervisor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Supervisor{tracker: tracker, interval: interval}
}

func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("liveness supervisor started", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("liveness supervisor stopped")
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep runs one probe cycle and returns how many connections it evicted.
func (s *Supervisor) Sweep() int {
	evicted := 0
	for _, conn := range s.tracker.Connections() {
		if !conn.Alive() {
			slog.Info("evicting unresponsive client", logging.ClientID(conn.ID()), logging.Role(conn.Role()))
			conn.Terminate()
			evicted++
			continue
		}

		conn.MarkProbed()
		if err := conn.Ping(); err != nil {
			slog.Debug("probe failed", logging.ClientID(conn.ID()), logging.Err(err))
		}
	}
	return evicted
}
