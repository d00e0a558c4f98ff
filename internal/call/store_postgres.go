package call

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"messenger-platform/pkg/utils"
)

// PostgresStore persists sessions across three tables:
// - call_sessions       (one row per room_id)
// - call_participants   (one row per room_id+user_id; PK enforces at-most-once)
// - call_events         (append-only audit trail)
//
// Mutations lock the session row (SELECT ... FOR UPDATE) to serialize
// concurrent writers per room, then apply field-scoped updates. The terminal
// check happens under that lock, which is what makes Terminate a reliable
// convergence point for racing End/Timeout/Decline paths.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, sess Session) error {
	if sess.RoomID == "" || sess.InitiatorID == "" {
		return ErrInvalidArgument
	}
	meta, err := json.Marshal(sess.Metadata)
	if err != nil {
		return fmt.Errorf("call: marshal metadata: %w", err)
	}

	return utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		const q = `
INSERT INTO call_sessions (room_id, initiator_id, media_type, status, metadata, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $6)
ON CONFLICT (room_id) DO NOTHING
`
		res, err := tx.ExecContext(ctx, q, sess.RoomID, sess.InitiatorID, string(sess.MediaType), string(sess.Status), meta, sess.CreatedAt)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrExists
		}

		const pq = `
INSERT INTO call_participants (room_id, user_id, state, ord, updated_at)
VALUES ($1, $2, $3, $4, $5)
`
		for i, p := range sess.Participants {
			if _, err := tx.ExecContext(ctx, pq, sess.RoomID, p.UserID, string(p.State), i, p.UpdatedAt); err != nil {
				return err
			}
		}

		for _, e := range sess.Events {
			if err := appendEventTx(ctx, tx, sess.RoomID, e); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *PostgresStore) Get(ctx context.Context, roomID string) (Session, error) {
	var out Session
	err := utils.WithTx(ctx, s.db, &sql.TxOptions{ReadOnly: true}, func(ctx context.Context, tx *sql.Tx) error {
		sess, err := loadSessionTx(ctx, tx, roomID, false)
		if err != nil {
			return err
		}
		out = sess
		return nil
	})
	return out, err
}

func (s *PostgresStore) SetParticipantState(ctx context.Context, roomID, userID string, to ParticipantState, at time.Time) error {
	return utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		terminated, _, err := lockSessionTx(ctx, tx, roomID)
		if err != nil {
			return err
		}
		if terminated {
			return ErrTerminal
		}

		var cur string
		const sel = `SELECT state FROM call_participants WHERE room_id = $1 AND user_id = $2`
		if err := tx.QueryRowContext(ctx, sel, roomID, userID).Scan(&cur); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotParticipant
			}
			return err
		}
		if !ParticipantState(cur).CanTransition(to) {
			return ErrTerminal
		}

		const upd = `
UPDATE call_participants SET state = $3, updated_at = $4
WHERE room_id = $1 AND user_id = $2
`
		if _, err := tx.ExecContext(ctx, upd, roomID, userID, string(to), at); err != nil {
			return err
		}
		return touchSessionTx(ctx, tx, roomID, at)
	})
}

func (s *PostgresStore) MarkAnswered(ctx context.Context, roomID string, at time.Time) error {
	return utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		terminated, status, err := lockSessionTx(ctx, tx, roomID)
		if err != nil {
			return err
		}
		if status == StatusAnswered {
			return nil
		}
		if terminated || !status.CanTransition(StatusAnswered) {
			return ErrTerminal
		}
		const upd = `UPDATE call_sessions SET status = $2, updated_at = $3 WHERE room_id = $1`
		_, err = tx.ExecContext(ctx, upd, roomID, string(StatusAnswered), at)
		return err
	})
}

func (s *PostgresStore) AppendEvent(ctx context.Context, roomID string, e Event) error {
	return utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		return appendEventTx(ctx, tx, roomID, e)
	})
}

func (s *PostgresStore) Terminate(ctx context.Context, roomID string, status Status, reason, endedBy string, at time.Time) (Session, error) {
	var out Session
	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		terminated, cur, err := lockSessionTx(ctx, tx, roomID)
		if err != nil {
			return err
		}
		if terminated || !cur.CanTransition(status) {
			return ErrTerminal
		}

		const missQ = `
UPDATE call_participants SET state = $2, updated_at = $3
WHERE room_id = $1 AND state = $4
  AND user_id <> (SELECT initiator_id FROM call_sessions WHERE room_id = $1)
`
		if _, err := tx.ExecContext(ctx, missQ, roomID, string(ParticipantMissed), at, string(ParticipantRinging)); err != nil {
			return err
		}

		const endQ = `
UPDATE call_sessions
SET status = $2, ended_at = $3, end_reason = $4, ended_by = $5, updated_at = $3
WHERE room_id = $1
`
		if _, err := tx.ExecContext(ctx, endQ, roomID, string(status), at, reason, nullable(endedBy)); err != nil {
			return err
		}

		sess, err := loadSessionTx(ctx, tx, roomID, true)
		if err != nil {
			return err
		}
		out = sess
		return nil
	})
	return out, err
}

// lockSessionTx locks the session row and reports its terminated flag and
// current status.
func lockSessionTx(ctx context.Context, tx *sql.Tx, roomID string) (bool, Status, error) {
	const q = `
SELECT status, ended_at IS NOT NULL
FROM call_sessions
WHERE room_id = $1
FOR UPDATE
`
	var status string
	var terminated bool
	if err := tx.QueryRowContext(ctx, q, roomID).Scan(&status, &terminated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, "", ErrNotFound
		}
		return false, "", err
	}
	return terminated, Status(status), nil
}

func touchSessionTx(ctx context.Context, tx *sql.Tx, roomID string, at time.Time) error {
	const q = `UPDATE call_sessions SET updated_at = $2 WHERE room_id = $1`
	_, err := tx.ExecContext(ctx, q, roomID, at)
	return err
}

func appendEventTx(ctx context.Context, tx *sql.Tx, roomID string, e Event) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("call: marshal event payload: %w", err)
	}
	const q = `
INSERT INTO call_events (room_id, type, user_id, payload, created_at)
VALUES ($1, $2, $3, $4, $5)
`
	if _, err := tx.ExecContext(ctx, q, roomID, e.Type, nullable(e.UserID), payload, e.Timestamp); err != nil {
		return err
	}
	return nil
}

func loadSessionTx(ctx context.Context, tx *sql.Tx, roomID string, forUpdate bool) (Session, error) {
	q := `
SELECT room_id, initiator_id, media_type, status, metadata, created_at, updated_at, ended_at, end_reason, ended_by
FROM call_sessions
WHERE room_id = $1
`
	if forUpdate {
		q += "FOR UPDATE\n"
	}

	var sess Session
	var media, status string
	var meta []byte
	var endedAt sql.NullTime
	var endReason, endedBy sql.NullString
	if err := tx.QueryRowContext(ctx, q, roomID).Scan(
		&sess.RoomID,
		&sess.InitiatorID,
		&media,
		&status,
		&meta,
		&sess.CreatedAt,
		&sess.UpdatedAt,
		&endedAt,
		&endReason,
		&endedBy,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, err
	}
	sess.MediaType = MediaType(media)
	sess.Status = Status(status)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &sess.Metadata); err != nil {
			return Session{}, fmt.Errorf("call: unmarshal metadata: %w", err)
		}
	}
	if endedAt.Valid {
		t := endedAt.Time
		sess.EndedAt = &t
	}
	sess.EndReason = endReason.String
	sess.EndedBy = endedBy.String

	const pq = `
SELECT user_id, state, updated_at
FROM call_participants
WHERE room_id = $1
ORDER BY ord
`
	rows, err := tx.QueryContext(ctx, pq, roomID)
	if err != nil {
		return Session{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var p Participant
		var st string
		if err := rows.Scan(&p.UserID, &st, &p.UpdatedAt); err != nil {
			return Session{}, err
		}
		p.State = ParticipantState(st)
		sess.Participants = append(sess.Participants, p)
	}
	if err := rows.Err(); err != nil {
		return Session{}, err
	}

	const eq = `
SELECT type, user_id, payload, created_at
FROM call_events
WHERE room_id = $1
ORDER BY id
`
	erows, err := tx.QueryContext(ctx, eq, roomID)
	if err != nil {
		return Session{}, err
	}
	defer erows.Close()
	for erows.Next() {
		var e Event
		var userID sql.NullString
		var payload []byte
		if err := erows.Scan(&e.Type, &userID, &payload, &e.Timestamp); err != nil {
			return Session{}, err
		}
		e.UserID = userID.String
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &e.Payload); err != nil {
				return Session{}, fmt.Errorf("call: unmarshal event payload: %w", err)
			}
		}
		sess.Events = append(sess.Events, e)
	}
	if err := erows.Err(); err != nil {
		return Session{}, err
	}
	return sess, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
