package calldb

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Event is one command seen by the hub during a call.
type Event struct {
	SessionID string
	Seq       int
	At        time.Time
	Direction string // "in" from a stage, "out" to a stage
	Stage     string
	Command   string
}

// CreateSession opens a call log session.
func (s *Store) CreateSession(ctx context.Context, id, remoteURI string, at time.Time) error {
	_, err := s.exec(ctx,
		`INSERT INTO call_sessions (id, remote_uri, started_at) VALUES (?, ?, ?)`,
		id, remoteURI, toMillis(at),
	)
	return err
}

// EndSession sets the ended_at timestamp.
func (s *Store) EndSession(ctx context.Context, id string, at time.Time) error {
	_, err := s.exec(ctx,
		`UPDATE call_sessions SET ended_at = ? WHERE id = ?`,
		toMillis(at), id,
	)
	return err
}

// AppendEvent records one command of a session.
func (s *Store) AppendEvent(ctx context.Context, ev Event) error {
	_, err := s.exec(ctx,
		`INSERT INTO call_events (id, session_id, seq, at, direction, stage, command) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), ev.SessionID, ev.Seq, toMillis(ev.At), ev.Direction, ev.Stage, ev.Command,
	)
	return err
}

// SessionEvents returns the events of a session in order.
func (s *Store) SessionEvents(ctx context.Context, id string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT session_id, seq, at, direction, stage, command FROM call_events WHERE session_id = ? ORDER BY seq ASC`,
	), id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		var at int64
		if err = rows.Scan(&ev.SessionID, &ev.Seq, &at, &ev.Direction, &ev.Stage, &ev.Command); err != nil {
			return nil, err
		}
		ev.At = time.UnixMilli(at).UTC()
		events = append(events, ev)
	}
	return events, rows.Err()
}

// SessionEnded reports whether a session exists and has ended.
func (s *Store) SessionEnded(ctx context.Context, id string) (bool, error) {
	var ended sql.NullInt64
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT ended_at FROM call_sessions WHERE id = ?`), id).Scan(&ended)
	if err != nil {
		return false, err
	}
	return ended.Valid, nil
}
