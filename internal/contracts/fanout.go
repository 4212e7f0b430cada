package contracts

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
)

// PostgresFanoutStore backs FanoutStore with a durable event log plus
// Postgres LISTEN/NOTIFY for cross-node delivery, the same database/sql
// opening and schema-bootstrap style internal/session's Redis-or-memory
// cache split is grounded on for storage backends in general: one real
// driver, created lazily, with an in-memory single-node mode remaining the
// default.
type PostgresFanoutStore struct {
	db      *sql.DB
	channel string
}

// NewPostgresFanoutStore opens dsn with the lib/pq driver, creates the
// contract_events table if it doesn't already exist, and returns a store
// publishing on the given NOTIFY channel.
func NewPostgresFanoutStore(dsn, channel string) (*PostgresFanoutStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("contracts: open postgres: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("contracts: ping postgres: %w", err)
	}

	const schema = `
CREATE TABLE IF NOT EXISTS contract_events (
	event_id       BIGSERIAL PRIMARY KEY,
	profile_id     TEXT NOT NULL,
	kind           SMALLINT NOT NULL,
	contract_hash  TEXT NOT NULL,
	origin_node_id TEXT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS contract_events_profile_id_idx ON contract_events (profile_id, event_id);
`
	schemaCtx, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel2()
	if _, err := db.ExecContext(schemaCtx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("contracts: create contract_events table: %w", err)
	}

	return &PostgresFanoutStore{db: db, channel: channel}, nil
}

// Close releases the underlying connection pool.
func (s *PostgresFanoutStore) Close() error {
	return s.db.Close()
}

// Persist implements FanoutStore: it inserts the event, assigns it the
// table's next event_id, and NOTIFYs s.channel with the persisted event
// (including that id) as its JSON payload, so a FanoutListener never needs
// a round trip back to Replay just to learn what changed.
func (s *PostgresFanoutStore) Persist(ctx context.Context, event Event) (uint64, error) {
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO contract_events (profile_id, kind, contract_hash, origin_node_id)
		 VALUES ($1, $2, $3, $4) RETURNING event_id`,
		event.ProfileID, int(event.Kind), event.ContractHash, event.OriginNodeID)
	if err := row.Scan(&event.EventID); err != nil {
		return 0, fmt.Errorf("contracts: insert event: %w", err)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return 0, fmt.Errorf("contracts: marshal event for notify: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, s.channel, string(payload)); err != nil {
		return 0, fmt.Errorf("contracts: notify channel %q: %w", s.channel, err)
	}
	return event.EventID, nil
}

// Replay implements FanoutStore against the contract_events table.
func (s *PostgresFanoutStore) Replay(ctx context.Context, profileID string, afterEventID uint64, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, profile_id, kind, contract_hash, origin_node_id
		 FROM contract_events
		 WHERE profile_id = $1 AND event_id > $2
		 ORDER BY event_id ASC
		 LIMIT $3`,
		profileID, afterEventID, limit)
	if err != nil {
		return nil, fmt.Errorf("contracts: query replay for profile %q: %w", profileID, err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var event Event
		var kind int
		if err := rows.Scan(&event.EventID, &event.ProfileID, &kind, &event.ContractHash, &event.OriginNodeID); err != nil {
			return nil, fmt.Errorf("contracts: scan replayed event: %w", err)
		}
		event.Kind = Kind(kind)
		events = append(events, event)
	}
	return events, rows.Err()
}

// FanoutListener subscribes to a Postgres NOTIFY channel via pq.Listener
// and applies every incoming contract event to a Tracker through
// ApplyRemoteEvent, giving remote nodes' changes a local effect without
// polling the event log.
type FanoutListener struct {
	listener *pq.Listener
	tracker  *Tracker
	nodeID   string
	logger   *slog.Logger
}

// NewFanoutListener dials dsn and starts listening on channel. A dropped
// connection is re-dialed by pq's listener with a 10s minimum and 1m
// maximum reconnect interval.
func NewFanoutListener(dsn, channel, nodeID string, tracker *Tracker, logger *slog.Logger) (*FanoutListener, error) {
	if logger == nil {
		logger = slog.Default()
	}
	reportProblem := func(event pq.ListenerEventType, err error) {
		if err != nil {
			logger.Warn("contract fanout listener connection event", "event", event, "error", err)
		}
	}
	listener := pq.NewListener(dsn, 10*time.Second, time.Minute, reportProblem)
	if err := listener.Listen(channel); err != nil {
		listener.Close()
		return nil, fmt.Errorf("contracts: listen on channel %q: %w", channel, err)
	}
	return &FanoutListener{listener: listener, tracker: tracker, nodeID: nodeID, logger: logger}, nil
}

// Run processes notifications until ctx is canceled, applying each one to
// the Tracker it was built with. Safe to run in its own goroutine.
func (l *FanoutListener) Run(ctx context.Context) {
	ticker := time.NewTicker(90 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case notification, ok := <-l.listener.Notify:
			if !ok {
				return
			}
			if notification == nil {
				// nil notification marks a dropped-and-reestablished
				// connection; the listener resubscribes on its own, but
				// events that fired during the gap are only recoverable
				// through a caller-driven ReplayProfile.
				continue
			}
			l.apply(notification.Extra)
		case <-ticker.C:
			go func() {
				if err := l.listener.Ping(); err != nil {
					l.logger.Warn("contract fanout listener ping failed", "error", err)
				}
			}()
		}
	}
}

func (l *FanoutListener) apply(payload string) {
	var event Event
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		l.logger.Warn("contract fanout: malformed event payload", "error", err)
		return
	}
	if event.OriginNodeID == l.nodeID {
		// This node published it; PublishLocalChange already broadcast it
		// locally, so applying it again here would be a harmless but
		// redundant no-op dedup check. Skip the round trip.
		return
	}
	l.tracker.ApplyRemoteEvent(event)
}

// Close stops listening and releases the underlying connection.
func (l *FanoutListener) Close() error {
	return l.listener.Close()
}
