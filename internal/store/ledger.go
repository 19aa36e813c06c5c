package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Transaction types persisted in credit_transactions.
const (
	TransactionTypePurchase = "purchase"
	TransactionTypeUsage    = "usage"
	TransactionTypeRefund   = "refund"
	TransactionTypeBonus    = "bonus"
)

// ErrInsufficientCredits is returned when a debit would take a balance below
// zero. Nothing is committed on this path.
var ErrInsufficientCredits = errors.New("insufficient credits")

// ledger conflict retry bound (SQLSTATE 40001/40P01).
const maxLedgerRetries = 3

// TransactionRecord is one immutable row of the append-only credit log.
type TransactionRecord struct {
	ID            string
	UserID        string
	Amount        int64
	BalanceAfter  int64
	Type          string
	FeatureKey    string
	Description   string
	Metadata      map[string]interface{}
	ReservationID string
	CreatedAt     time.Time
}

// Balance is the materialized per-user fold of the transaction log.
type Balance struct {
	UserID          string
	Balance         int64
	LifetimeCredits int64
	Tier            string
	UpdatedAt       time.Time
}

// AppendRequest describes a transaction to append atomically.
type AppendRequest struct {
	UserID        string
	Amount        int64
	Type          string
	FeatureKey    string
	Description   string
	Metadata      map[string]interface{}
	ReservationID string
}

// GetBalance returns the materialized balance for a user. A user without a
// balance row reads as zero; the row is created by the first transaction.
func (s *Store) GetBalance(ctx context.Context, userID string) (Balance, error) {
	if userID == "" {
		return Balance{}, fmt.Errorf("user_id required")
	}
	var b Balance
	err := s.DB.QueryRowContext(ctx, `
SELECT user_id, balance, lifetime_credits, tier, updated_at FROM credit_balances WHERE user_id=$1
`, userID).Scan(&b.UserID, &b.Balance, &b.LifetimeCredits, &b.Tier, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Balance{UserID: userID, Tier: "basic"}, nil
	}
	if err != nil {
		return Balance{}, err
	}
	return b, nil
}

// AppendTransaction atomically appends a signed credit transaction and updates
// the materialized balance. Concurrent appends for the same user serialize on
// the balance row lock; transient serialization conflicts are retried a
// bounded number of times. A request carrying an already-committed
// reservation id returns the existing transaction instead of a second debit.
func (s *Store) AppendTransaction(ctx context.Context, req AppendRequest) (TransactionRecord, error) {
	if req.UserID == "" {
		return TransactionRecord{}, fmt.Errorf("user_id required")
	}
	switch req.Type {
	case TransactionTypePurchase, TransactionTypeUsage, TransactionTypeRefund, TransactionTypeBonus:
	default:
		return TransactionRecord{}, fmt.Errorf("unknown transaction type %q", req.Type)
	}

	var (
		rec TransactionRecord
		err error
	)
	for attempt := 0; attempt <= maxLedgerRetries; attempt++ {
		rec, err = s.appendOnce(ctx, req)
		if err == nil {
			return rec, nil
		}
		if isRetryableConflict(err) {
			continue
		}
		if req.ReservationID != "" && isUniqueViolation(err) {
			// Another attempt with the same reservation id already committed.
			return s.getTransactionByReservation(ctx, req.ReservationID)
		}
		return TransactionRecord{}, err
	}
	return TransactionRecord{}, fmt.Errorf("ledger conflict after %d retries: %w", maxLedgerRetries, err)
}

func (s *Store) appendOnce(ctx context.Context, req AppendRequest) (TransactionRecord, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return TransactionRecord{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if req.ReservationID != "" {
		existing, found, lookErr := lookupReservation(ctx, tx, req.ReservationID)
		if lookErr != nil {
			err = lookErr
			return TransactionRecord{}, err
		}
		if found {
			_ = tx.Rollback()
			return existing, nil
		}
	}

	var balance, lifetime int64
	err = tx.QueryRowContext(ctx, `
SELECT balance, lifetime_credits FROM credit_balances WHERE user_id=$1 FOR UPDATE
`, req.UserID).Scan(&balance, &lifetime)
	if errors.Is(err, sql.ErrNoRows) {
		if _, err = tx.ExecContext(ctx, `
INSERT INTO credit_balances (user_id, balance, lifetime_credits, tier) VALUES ($1,0,0,'basic')
ON CONFLICT (user_id) DO NOTHING
`, req.UserID); err != nil {
			return TransactionRecord{}, err
		}
		err = tx.QueryRowContext(ctx, `
SELECT balance, lifetime_credits FROM credit_balances WHERE user_id=$1 FOR UPDATE
`, req.UserID).Scan(&balance, &lifetime)
	}
	if err != nil {
		return TransactionRecord{}, err
	}

	newBalance := balance + req.Amount
	if newBalance < 0 {
		err = fmt.Errorf("balance %d cannot cover %d: %w", balance, -req.Amount, ErrInsufficientCredits)
		return TransactionRecord{}, err
	}

	meta := req.Metadata
	if meta == nil {
		meta = map[string]interface{}{}
	}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return TransactionRecord{}, fmt.Errorf("marshal transaction metadata: %w", err)
	}

	rec := TransactionRecord{
		UserID:        req.UserID,
		Amount:        req.Amount,
		BalanceAfter:  newBalance,
		Type:          req.Type,
		FeatureKey:    req.FeatureKey,
		Description:   req.Description,
		Metadata:      meta,
		ReservationID: req.ReservationID,
	}
	err = tx.QueryRowContext(ctx, `
INSERT INTO credit_transactions (user_id, amount, balance_after, transaction_type, feature_key, description, transaction_metadata, reservation_id, created_at)
VALUES ($1,$2,$3,$4,NULLIF($5,''),$6,$7,NULLIF($8,''),NOW())
RETURNING id, created_at;
`, req.UserID, req.Amount, newBalance, req.Type, req.FeatureKey, req.Description, metaBytes, req.ReservationID).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return TransactionRecord{}, err
	}

	if req.Amount > 0 {
		lifetime += req.Amount
	}
	if _, err = tx.ExecContext(ctx, `
UPDATE credit_balances SET balance=$2, lifetime_credits=$3, updated_at=NOW() WHERE user_id=$1
`, req.UserID, newBalance, lifetime); err != nil {
		return TransactionRecord{}, err
	}

	if err = tx.Commit(); err != nil {
		return TransactionRecord{}, err
	}
	return rec, nil
}

func lookupReservation(ctx context.Context, tx *sql.Tx, reservationID string) (TransactionRecord, bool, error) {
	rec, err := scanTransactionRow(tx.QueryRowContext(ctx, `
SELECT id, user_id, amount, balance_after, transaction_type, COALESCE(feature_key,''), COALESCE(description,''), transaction_metadata, COALESCE(reservation_id,''), created_at
FROM credit_transactions WHERE reservation_id=$1
`, reservationID))
	if errors.Is(err, sql.ErrNoRows) {
		return TransactionRecord{}, false, nil
	}
	if err != nil {
		return TransactionRecord{}, false, err
	}
	return rec, true, nil
}

func (s *Store) getTransactionByReservation(ctx context.Context, reservationID string) (TransactionRecord, error) {
	return scanTransactionRow(s.DB.QueryRowContext(ctx, `
SELECT id, user_id, amount, balance_after, transaction_type, COALESCE(feature_key,''), COALESCE(description,''), transaction_metadata, COALESCE(reservation_id,''), created_at
FROM credit_transactions WHERE reservation_id=$1
`, reservationID))
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTransactionRow(row rowScanner) (TransactionRecord, error) {
	var (
		rec       TransactionRecord
		metaBytes []byte
	)
	if err := row.Scan(&rec.ID, &rec.UserID, &rec.Amount, &rec.BalanceAfter, &rec.Type,
		&rec.FeatureKey, &rec.Description, &metaBytes, &rec.ReservationID, &rec.CreatedAt); err != nil {
		return TransactionRecord{}, err
	}
	if len(metaBytes) > 0 {
		_ = json.Unmarshal(metaBytes, &rec.Metadata)
	}
	return rec, nil
}

// ListTransactions returns a page of the user's credit log, newest first,
// along with the total row count.
func (s *Store) ListTransactions(ctx context.Context, userID string, page, limit int) ([]TransactionRecord, int, error) {
	if userID == "" {
		return nil, 0, fmt.Errorf("user_id required")
	}
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}
	var total int
	if err := s.DB.QueryRowContext(ctx, `
SELECT COUNT(*) FROM credit_transactions WHERE user_id=$1
`, userID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, user_id, amount, balance_after, transaction_type, COALESCE(feature_key,''), COALESCE(description,''), transaction_metadata, COALESCE(reservation_id,''), created_at
FROM credit_transactions
WHERE user_id=$1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3
`, userID, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []TransactionRecord
	for rows.Next() {
		rec, err := scanTransactionRow(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, rec)
	}
	return out, total, rows.Err()
}

// BalanceDrift reports a materialized balance that disagrees with the folded
// transaction log.
type BalanceDrift struct {
	UserID       string
	Materialized int64
	LogSum       int64
}

// ReconcileBalances folds the full transaction log per user and reports every
// balance row that drifted from it. This is the audit path only; the hot path
// never rescans the log.
func (s *Store) ReconcileBalances(ctx context.Context) ([]BalanceDrift, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT b.user_id, b.balance, COALESCE(SUM(t.amount), 0) AS log_sum
FROM credit_balances b
LEFT JOIN credit_transactions t ON t.user_id = b.user_id
GROUP BY b.user_id, b.balance
HAVING b.balance <> COALESCE(SUM(t.amount), 0)
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var drifts []BalanceDrift
	for rows.Next() {
		var d BalanceDrift
		if err := rows.Scan(&d.UserID, &d.Materialized, &d.LogSum); err != nil {
			return nil, err
		}
		drifts = append(drifts, d)
	}
	return drifts, rows.Err()
}

func isRetryableConflict(err error) bool {
	var pgErr *pq.Error
	if errors.As(err, &pgErr) {
		// serialization_failure, deadlock_detected
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

func isUniqueViolation(err error) bool {
	var pgErr *pq.Error
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
