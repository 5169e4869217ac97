package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/checkin-credits/internal/model"
)

// EventRepo manages persistence for events. Capacity is read here but the
// seat count is derived from check_ins.
type EventRepo struct{ store *Store }

func NewEventRepo(s *Store) *EventRepo { return &EventRepo{store: s} }

const eventColumns = `id, title, is_live, start_date, duration, check_ins_max_quantity,
	recorded_url, created_at, updated_at`

func scanEvent(row interface{ Scan(...any) error }) (model.Event, error) {
	var (
		e        model.Event
		start    sql.NullInt64
		capacity sql.NullInt64
		url      sql.NullString
		created  int64
		updated  int64
	)
	err := row.Scan(&e.ID, &e.Title, &e.IsLive, &start, &e.Duration, &capacity,
		&url, &created, &updated)
	if err != nil {
		return model.Event{}, scanErr(err)
	}
	e.StartDate = timePtr(start)
	if capacity.Valid {
		c := int(capacity.Int64)
		e.CheckInsMaxQuantity = &c
	}
	e.RecordedURL = stringPtr(url)
	e.CreatedAt = fromMillis(created)
	e.UpdatedAt = fromMillis(updated)
	return e, nil
}

// Create inserts an event.
func (r *EventRepo) Create(ctx context.Context, e *model.Event) error {
	if e.ID == "" {
		e.ID = model.NewID()
	}
	now := time.Now().UTC()
	e.CreatedAt, e.UpdatedAt = now, now
	var capacity sql.NullInt64
	if e.CheckInsMaxQuantity != nil {
		capacity = sql.NullInt64{Int64: int64(*e.CheckInsMaxQuantity), Valid: true}
	}
	_, err := r.store.conn().exec(ctx,
		`INSERT INTO events (`+eventColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		e.ID, e.Title, e.IsLive, nullMillis(e.StartDate), e.Duration, capacity,
		nullString(e.RecordedURL), toMillis(now), toMillis(now))
	return err
}

// GetByID fetches an event without locking.
func (r *EventRepo) GetByID(ctx context.Context, id string) (model.Event, error) {
	return scanEvent(r.store.conn().queryRow(ctx,
		"SELECT "+eventColumns+" FROM events WHERE id = ?", id))
}

// GetForUpdateTx locks the event row. Concurrent check-ins for the same
// event serialise on this lock before counting seats.
func (r *EventRepo) GetForUpdateTx(ctx context.Context, tx *Tx, id string) (model.Event, error) {
	return scanEvent(tx.queryRow(ctx,
		"SELECT "+eventColumns+" FROM events WHERE id = ?"+tx.forUpdate(), id))
}

// GetTx reads the event inside a transaction without locking it.
func (r *EventRepo) GetTx(ctx context.Context, tx *Tx, id string) (model.Event, error) {
	return scanEvent(tx.queryRow(ctx,
		"SELECT "+eventColumns+" FROM events WHERE id = ?", id))
}

// Availability returns the event with its current occupancy.
func (r *EventRepo) Availability(ctx context.Context, id string) (model.EventAvailability, error) {
	e, err := r.GetByID(ctx, id)
	if err != nil {
		return model.EventAvailability{}, err
	}
	var n int
	if err := r.store.conn().queryRow(ctx,
		"SELECT COUNT(*) FROM check_ins WHERE event_id = ?", id).Scan(&n); err != nil {
		return model.EventAvailability{}, err
	}
	a := model.EventAvailability{Event: e, CheckInsCount: n}
	if e.CheckInsMaxQuantity != nil {
		left := *e.CheckInsMaxQuantity - n
		if left < 0 {
			left = 0
		}
		a.SeatsLeft = &left
	}
	return a, nil
}
