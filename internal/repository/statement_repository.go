package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/checkin-credits/internal/model"
)

// StatementRepo appends to and reads from the credit ledger. Statements
// are never updated or deleted.
type StatementRepo struct{ store *Store }

func NewStatementRepo(s *Store) *StatementRepo { return &StatementRepo{store: s} }

const statementColumns = `id, user_id, type, check_in_type, check_ins_quantity,
	check_in_id, payment_id, title, description, created_at`

func scanStatement(row interface{ Scan(...any) error }) (model.Statement, error) {
	var (
		s         model.Statement
		checkInID sql.NullString
		paymentID sql.NullString
		desc      sql.NullString
		created   int64
	)
	err := row.Scan(&s.ID, &s.UserID, &s.Type, &s.CheckInType, &s.Quantity,
		&checkInID, &paymentID, &s.Title, &desc, &created)
	if err != nil {
		return model.Statement{}, scanErr(err)
	}
	s.CheckInID = stringPtr(checkInID)
	s.PaymentID = stringPtr(paymentID)
	s.Description = desc.String
	s.CreatedAt = fromMillis(created)
	return s, nil
}

// InsertTx appends a statement. ID and CreatedAt are filled in when empty.
// A reused payment id surfaces as ErrConflict.
func (r *StatementRepo) InsertTx(ctx context.Context, tx *Tx, s *model.Statement) error {
	if s.ID == "" {
		s.ID = model.NewID()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	var desc sql.NullString
	if s.Description != "" {
		desc = sql.NullString{String: s.Description, Valid: true}
	}
	_, err := tx.exec(ctx,
		`INSERT INTO statements (`+statementColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		s.ID, s.UserID, string(s.Type), string(s.CheckInType), s.Quantity,
		nullString(s.CheckInID), nullString(s.PaymentID), s.Title, desc, toMillis(s.CreatedAt))
	return err
}

// FindByPaymentIDTx returns the statement that recorded a payment.
func (r *StatementRepo) FindByPaymentIDTx(ctx context.Context, tx *Tx, paymentID string) (model.Statement, error) {
	return scanStatement(tx.queryRow(ctx,
		"SELECT "+statementColumns+" FROM statements WHERE payment_id = ?", paymentID))
}

// ExistsTx reports whether the user has any statement of the given
// direction in the pool. It keeps one-time grants such as the trial credit
// from being issued twice.
func (r *StatementRepo) ExistsTx(ctx context.Context, tx *Tx, userID string, typ model.StatementType, pool model.CheckInType) (bool, error) {
	var n int
	err := tx.queryRow(ctx,
		"SELECT COUNT(*) FROM statements WHERE user_id = ? AND type = ? AND check_in_type = ?",
		userID, string(typ), string(pool)).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListByCheckInID returns every statement tied to a check-in, oldest first.
func (r *StatementRepo) ListByCheckInID(ctx context.Context, checkInID string) ([]model.Statement, error) {
	rows, err := r.store.conn().query(ctx,
		"SELECT "+statementColumns+" FROM statements WHERE check_in_id = ? ORDER BY id", checkInID)
	if err != nil {
		return nil, err
	}
	return collectStatements(rows)
}

// ListByUser pages through a user's statements newest first. before is an
// exclusive statement id cursor; empty starts from the newest entry.
func (r *StatementRepo) ListByUser(ctx context.Context, userID, before string, limit int) ([]model.Statement, error) {
	q := "SELECT " + statementColumns + " FROM statements WHERE user_id = ?"
	args := []any{userID}
	if before != "" {
		q += " AND id < ?"
		args = append(args, before)
	}
	q += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)
	rows, err := r.store.conn().query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return collectStatements(rows)
}

// ListAll streams statements in id order in pages; fn is called for each
// page until it returns an error or the ledger is exhausted.
func (r *StatementRepo) ListAll(ctx context.Context, pageSize int, fn func([]model.Statement) error) error {
	after := ""
	for {
		rows, err := r.store.conn().query(ctx,
			"SELECT "+statementColumns+" FROM statements WHERE id > ? ORDER BY id LIMIT ?", after, pageSize)
		if err != nil {
			return err
		}
		page, err := collectStatements(rows)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			return nil
		}
		if err := fn(page); err != nil {
			return err
		}
		after = page[len(page)-1].ID
	}
}

// SumByPoolTx returns the signed statement total per pool for a user, read
// in the same transaction as the balance it is compared with.
func (r *StatementRepo) SumByPoolTx(ctx context.Context, tx *Tx, userID string) (map[model.CheckInType]int64, error) {
	rows, err := tx.query(ctx,
		`SELECT check_in_type,
		        SUM(CASE WHEN type = ? THEN check_ins_quantity ELSE -check_ins_quantity END)
		   FROM statements WHERE user_id = ? GROUP BY check_in_type`,
		string(model.StatementCredit), userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	sums := make(map[model.CheckInType]int64, len(model.SpendOrder))
	for rows.Next() {
		var (
			pool string
			sum  int64
		)
		if err := rows.Scan(&pool, &sum); err != nil {
			return nil, err
		}
		sums[model.CheckInType(pool)] = sum
	}
	return sums, rows.Err()
}

func collectStatements(rows *sql.Rows) ([]model.Statement, error) {
	defer rows.Close()
	var out []model.Statement
	for rows.Next() {
		s, err := scanStatement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
