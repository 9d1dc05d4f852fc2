// Package audit mirrors every significant event the extractor emits into
// ClickHouse, batched the way the teacher's worker pool batches raw_events.
// This is an analytics-friendly side channel; it is never on the
// persistence-correctness path (SPEC_FULL.md Domain Stack).
package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"github.com/dylantcon/countertrak-ingest/internal/models"
)

const (
	defaultBatchSize     = 200
	defaultFlushInterval = 2 * time.Second
)

// Sink batches significant events and flushes them to ClickHouse on a
// size or time threshold, draining on Close.
type Sink struct {
	conn  driver.Conn
	log   *zap.SugaredLogger
	batch int
	every time.Duration

	mu      sync.Mutex
	pending []models.SignificantEvent

	flushNow chan struct{}
	done     chan struct{}
	wg       sync.WaitGroup
}

// Open dials ClickHouse via its DSN (e.g. "clickhouse://host:9000/countertrak").
func Open(dsn string, logger *zap.SugaredLogger) (*Sink, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: parse dsn: %w", err)
	}
	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("audit: open: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("audit: ping: %w", err)
	}

	s := &Sink{
		conn:     conn,
		log:      logger,
		batch:    defaultBatchSize,
		every:    defaultFlushInterval,
		flushNow: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	s.wg.Add(1)
	go s.loop()
	return s, nil
}

// Record enqueues events for the next flush; it never blocks the caller on
// I/O (the ingest path must stay fast — spec.md §4.6 latency ceiling).
func (s *Sink) Record(events []models.SignificantEvent) {
	if len(events) == 0 {
		return
	}
	s.mu.Lock()
	s.pending = append(s.pending, events...)
	full := len(s.pending) >= s.batch
	s.mu.Unlock()

	if full {
		select {
		case s.flushNow <- struct{}{}:
		default:
		}
	}
}

func (s *Sink) loop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.flush()
		case <-s.flushNow:
			s.flush()
		case <-s.done:
			s.flush()
			return
		}
	}
}

func (s *Sink) flush() {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return
	}
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	chBatch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO countertrak.significant_events
			(kind, match_id, round_number, steam_id, weapon, win_team, win_condition, delta, event_timestamp)`)
	if err != nil {
		s.logError("prepare batch", err)
		return
	}
	for _, ev := range batch {
		if err := chBatch.Append(
			ev.Kind, ev.MatchID, ev.Round, ev.SteamID, ev.Weapon,
			string(ev.WinTeam), string(ev.Condition), ev.Delta, ev.Timestamp,
		); err != nil {
			s.logError("append event", err)
			return
		}
	}
	if err := chBatch.Send(); err != nil {
		s.logError("send batch", err)
	}
}

func (s *Sink) logError(op string, err error) {
	if s.log != nil {
		s.log.Errorw("audit sink "+op+" failed", "error", err)
	}
}

// Close drains any pending events and closes the underlying connection.
func (s *Sink) Close() error {
	close(s.done)
	s.wg.Wait()
	return s.conn.Close()
}
