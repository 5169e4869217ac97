package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/checkin-credits/internal/model"
)

// CheckInRepo persists seat holds. The UNIQUE(event_id, user_id) index is
// the last line of defence against double check-in.
type CheckInRepo struct{ store *Store }

func NewCheckInRepo(s *Store) *CheckInRepo { return &CheckInRepo{store: s} }

const checkInColumns = `id, event_id, user_id, type, attended, created_at`

func scanCheckIn(row interface{ Scan(...any) error }) (model.CheckIn, error) {
	var (
		c        model.CheckIn
		attended sql.NullBool
		created  int64
	)
	if err := row.Scan(&c.ID, &c.EventID, &c.UserID, &c.Type, &attended, &created); err != nil {
		return model.CheckIn{}, scanErr(err)
	}
	if attended.Valid {
		v := attended.Bool
		c.Attended = &v
	}
	c.CreatedAt = fromMillis(created)
	return c, nil
}

// InsertTx creates the check-in row. A second row for the same pair fails
// with ErrConflict.
func (r *CheckInRepo) InsertTx(ctx context.Context, tx *Tx, c *model.CheckIn) error {
	if c.ID == "" {
		c.ID = model.NewID()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	var attended sql.NullBool
	if c.Attended != nil {
		attended = sql.NullBool{Bool: *c.Attended, Valid: true}
	}
	_, err := tx.exec(ctx,
		`INSERT INTO check_ins (`+checkInColumns+`) VALUES (?,?,?,?,?,?)`,
		c.ID, c.EventID, c.UserID, string(c.Type), attended, toMillis(c.CreatedAt))
	return err
}

// GetByEventAndUserTx returns the pair's check-in or ErrNotFound.
func (r *CheckInRepo) GetByEventAndUserTx(ctx context.Context, tx *Tx, eventID, userID string) (model.CheckIn, error) {
	return scanCheckIn(tx.queryRow(ctx,
		"SELECT "+checkInColumns+" FROM check_ins WHERE event_id = ? AND user_id = ?"+tx.forUpdate(),
		eventID, userID))
}

// GetByIDTx locks and returns one check-in.
func (r *CheckInRepo) GetByIDTx(ctx context.Context, tx *Tx, id string) (model.CheckIn, error) {
	return scanCheckIn(tx.queryRow(ctx,
		"SELECT "+checkInColumns+" FROM check_ins WHERE id = ?"+tx.forUpdate(), id))
}

// CountByEventTx counts occupied seats. Call it after locking the event.
func (r *CheckInRepo) CountByEventTx(ctx context.Context, tx *Tx, eventID string) (int, error) {
	var n int
	err := tx.queryRow(ctx, "SELECT COUNT(*) FROM check_ins WHERE event_id = ?", eventID).Scan(&n)
	return n, err
}

// DeleteTx removes a check-in and frees its seat.
func (r *CheckInRepo) DeleteTx(ctx context.Context, tx *Tx, id string) error {
	res, err := tx.exec(ctx, "DELETE FROM check_ins WHERE id = ?", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetAttendedTx records attendance after the event.
func (r *CheckInRepo) SetAttendedTx(ctx context.Context, tx *Tx, id string, attended bool) error {
	_, err := tx.exec(ctx, "UPDATE check_ins SET attended = ? WHERE id = ?", attended, id)
	return err
}

// ListByUser returns a member's check-ins, newest first.
func (r *CheckInRepo) ListByUser(ctx context.Context, userID string, limit int) ([]model.CheckIn, error) {
	rows, err := r.store.conn().query(ctx,
		"SELECT "+checkInColumns+" FROM check_ins WHERE user_id = ? ORDER BY id DESC LIMIT ?",
		userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.CheckIn
	for rows.Next() {
		c, err := scanCheckIn(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CountByEvent counts occupied seats outside a transaction.
func (r *CheckInRepo) CountByEvent(ctx context.Context, eventID string) (int, error) {
	var n int
	err := r.store.conn().queryRow(ctx, "SELECT COUNT(*) FROM check_ins WHERE event_id = ?", eventID).Scan(&n)
	return n, err
}
