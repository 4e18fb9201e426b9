package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/KumarDevelopmentUS/DS5-sub001/internal/match"
)

// matchDoc is the JSONB document kept in matches.data.
type matchDoc struct {
	Title        string         `json:"title"`
	Config       match.Config   `json:"config"`
	Participants []match.Player `json:"participants"`
}

// SQLiteStore implements Store on libSQL. Status and timestamps are columns
// so they can be compared-and-set; the rest of the match is a JSONB document.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) CreateMatch(ctx context.Context, m match.Match) (match.Match, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	m.CreatedAt = m.CreatedAt.UTC()
	if m.Status == "" {
		m.Status = match.StatusPending
	}
	m.Version = 1

	data, err := json.Marshal(matchDoc{Title: m.Title, Config: m.Config, Participants: m.Participants})
	if err != nil {
		return match.Match{}, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO matches (id, status, creator_id, data, created_at, started_at, ended_at, version)
		VALUES (?, ?, ?, jsonb(?), ?, ?, ?, ?)
	`, m.ID, string(m.Status), m.CreatorID, string(data), formatTime(m.CreatedAt),
		nullTime(m.StartedAt), nullTime(m.EndedAt), m.Version)
	if isConstraintError(err) {
		return match.Match{}, fmt.Errorf("%w: match %s already exists", match.ErrConflict, m.ID)
	}
	if err != nil {
		return match.Match{}, err
	}

	m.CurrentScore = match.NewScore()
	m.LastSeq = 0
	return m, nil
}

func (s *SQLiteStore) GetMatch(ctx context.Context, matchID string) (match.Match, error) {
	m, err := getMatch(ctx, s.db, matchID)
	if err != nil {
		return match.Match{}, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT team, COALESCE(SUM(points), 0), COALESCE(MAX(seq), 0)
		FROM match_events
		WHERE match_id = ?
		GROUP BY team
	`, matchID)
	if err != nil {
		return match.Match{}, err
	}
	defer rows.Close()

	m.CurrentScore = match.NewScore()
	for rows.Next() {
		var team string
		var points int
		var maxSeq uint64
		if err := rows.Scan(&team, &points, &maxSeq); err != nil {
			return match.Match{}, err
		}
		m.CurrentScore[match.Team(team)] = points
		m.LastSeq = max(m.LastSeq, maxSeq)
	}
	return m, rows.Err()
}

func (s *SQLiteStore) CountMatches(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM matches`).Scan(&n)
	return n, err
}

func (s *SQLiteStore) ListEvents(ctx context.Context, matchID string, since uint64) ([]match.Event, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM matches WHERE id = ?`, matchID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, match.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, match_id, seq, type, team, player_id, json(data), created_at
		FROM match_events
		WHERE match_id = ? AND seq > ?
		ORDER BY seq
	`, matchID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []match.Event{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *SQLiteStore) AppendEvent(ctx context.Context, ev match.Event) (match.Event, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return match.Event{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM matches WHERE id = ?`, ev.MatchID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return match.Event{}, match.ErrNotFound
	}
	if err != nil {
		return match.Event{}, classify(err)
	}
	if match.Status(status) != match.StatusActive {
		return match.Event{}, fmt.Errorf("%w: match is %s", match.ErrInvalidState, status)
	}

	var last uint64
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) FROM match_events WHERE match_id = ?
	`, ev.MatchID).Scan(&last)
	if err != nil {
		return match.Event{}, classify(err)
	}

	ev.Seq = last + 1
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	ev.CreatedAt = ev.CreatedAt.UTC()

	data, err := json.Marshal(ev.Data)
	if err != nil {
		return match.Event{}, err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO match_events (id, match_id, seq, type, team, player_id, points, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, jsonb(?), ?)
	`, ev.ID, ev.MatchID, ev.Seq, string(ev.Type), string(ev.Team), ev.PlayerID,
		ev.Data.Points, string(data), formatTime(ev.CreatedAt))
	if err != nil {
		return match.Event{}, fmt.Errorf("append event: %w", classify(err))
	}

	if err := tx.Commit(); err != nil {
		return match.Event{}, fmt.Errorf("commit: %w", classify(err))
	}
	return ev, nil
}

func (s *SQLiteStore) DeleteLastEvent(ctx context.Context, matchID, eventID string) (match.Event, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return match.Event{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := getMatch(ctx, tx, matchID); err != nil {
		return match.Event{}, err
	}

	tail, err := scanEvent(tx.QueryRowContext(ctx, `
		SELECT id, match_id, seq, type, team, player_id, json(data), created_at
		FROM match_events
		WHERE match_id = ?
		ORDER BY seq DESC
		LIMIT 1
	`, matchID))
	if errors.Is(err, sql.ErrNoRows) {
		return match.Event{}, fmt.Errorf("%w: no events to undo", match.ErrInvalidState)
	}
	if err != nil {
		return match.Event{}, classify(err)
	}
	if eventID != "" && tail.ID != eventID {
		return match.Event{}, fmt.Errorf("%w: event %s is no longer the most recent", match.ErrConflict, eventID)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM match_events WHERE id = ?`, tail.ID); err != nil {
		return match.Event{}, classify(err)
	}
	if err := tx.Commit(); err != nil {
		return match.Event{}, fmt.Errorf("commit: %w", classify(err))
	}
	return tail, nil
}

func (s *SQLiteStore) UpdateMatchStatus(ctx context.Context, m match.Match, from match.Status) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE matches SET status = ?, started_at = ?, ended_at = ?, version = ?
		WHERE id = ? AND status = ? AND version < ?
	`, string(m.Status), nullTime(m.StartedAt), nullTime(m.EndedAt), m.Version, m.ID, string(from), m.Version)
	if err != nil {
		return classify(err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		if _, err := getMatch(ctx, s.db, m.ID); err != nil {
			return err
		}
		return fmt.Errorf("%w: match %s is no longer %s at version %d", match.ErrConflict, m.ID, from, m.Version-1)
	}
	return nil
}

func (s *SQLiteStore) UpdateParticipants(ctx context.Context, matchID string, players []match.Player, version uint64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	m, err := getMatch(ctx, tx, matchID)
	if err != nil {
		return err
	}
	if !m.RosterOpen() {
		return fmt.Errorf("%w: roster is locked once the match has started", match.ErrInvalidState)
	}

	data, err := json.Marshal(matchDoc{Title: m.Title, Config: m.Config, Participants: players})
	if err != nil {
		return err
	}
	result, err := tx.ExecContext(ctx, `
		UPDATE matches SET data = jsonb(?), version = ?
		WHERE id = ? AND status = ? AND version < ?
	`, string(data), version, matchID, string(match.StatusPending), version)
	if err != nil {
		return classify(err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: match %s is already past version %d", match.ErrConflict, matchID, version)
	}
	return classify(tx.Commit())
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

func getMatch(ctx context.Context, q querier, matchID string) (match.Match, error) {
	var (
		m                  match.Match
		status, data       string
		createdAt          string
		startedAt, endedAt sql.NullString
	)
	err := q.QueryRowContext(ctx, `
		SELECT id, status, creator_id, json(data), created_at, started_at, ended_at, version
		FROM matches WHERE id = ?
	`, matchID).Scan(&m.ID, &status, &m.CreatorID, &data, &createdAt, &startedAt, &endedAt, &m.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return match.Match{}, match.ErrNotFound
	}
	if err != nil {
		return match.Match{}, err
	}

	var doc matchDoc
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return match.Match{}, fmt.Errorf("decoding match %s: %w", matchID, err)
	}
	m.Status = match.Status(status)
	m.Title = doc.Title
	m.Config = doc.Config
	m.Participants = doc.Participants
	if m.Participants == nil {
		m.Participants = []match.Player{}
	}
	m.CreatedAt = parseTime(createdAt)
	m.StartedAt = parseNullTime(startedAt)
	m.EndedAt = parseNullTime(endedAt)
	return m, nil
}

func scanEvent(row rowScanner) (match.Event, error) {
	var (
		ev                  match.Event
		typ, team, data, at string
	)
	if err := row.Scan(&ev.ID, &ev.MatchID, &ev.Seq, &typ, &team, &ev.PlayerID, &data, &at); err != nil {
		return match.Event{}, err
	}
	if err := json.Unmarshal([]byte(data), &ev.Data); err != nil {
		return match.Event{}, fmt.Errorf("decoding event %s: %w", ev.ID, err)
	}
	ev.Type = match.EventType(typ)
	ev.Team = match.Team(team)
	ev.CreatedAt = parseTime(at)
	return ev, nil
}

// classify maps SQLite contention errors onto match.ErrConflict so callers
// can retry them.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if isConstraintError(err) || isBusyError(err) {
		return fmt.Errorf("%w: %v", match.ErrConflict, err)
	}
	return err
}

func isConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}
