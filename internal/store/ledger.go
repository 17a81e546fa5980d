package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Session is the locally stored credential for a signed-in user.
type Session struct {
	UserID      string
	Token       string
	Provider    string
	OperationID string
}

// Account is a locally provisioned user account.
type Account struct {
	UserID      string
	DisplayName string
	Email       string
	OperationID string
}

// Balance is the cached wallet balance for an account.
type Balance struct {
	AccountID   string
	AmountMinor int64
	Currency    string
}

// Transaction is a local record of a settled payment.
type Transaction struct {
	ID          string
	OperationID string
	AccountID   string
	AmountMinor int64
	Currency    string
	Reference   string
}

// SaveSession stores the session credential for a user, replacing any
// previous credential.
func (t *Tx) SaveSession(ctx context.Context, sess Session) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO sessions (user_id, token, provider, operation_id, seq)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			token = excluded.token,
			provider = excluded.provider,
			operation_id = excluded.operation_id,
			seq = excluded.seq
	`, sess.UserID, sess.Token, sess.Provider, t.operationID, t.store.NextSeq())
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// ProvisionAccount creates the local account if it does not exist.
// Returns true if the account was created by this call (first-time user).
func (t *Tx) ProvisionAccount(ctx context.Context, acct Account) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO accounts (user_id, display_name, email, operation_id, seq)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO NOTHING
	`, acct.UserID, acct.DisplayName, acct.Email, t.operationID, t.store.NextSeq())
	if err != nil {
		return false, fmt.Errorf("provision account: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("provision account: rows affected: %w", err)
	}
	return n > 0, nil
}

// CreditBalance adds amount to the cached balance and returns the new value.
func (t *Tx) CreditBalance(ctx context.Context, accountID, currency string, amount int64) (int64, error) {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO balances (account_id, amount_minor, currency, seq)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			amount_minor = amount_minor + excluded.amount_minor,
			currency = excluded.currency,
			seq = excluded.seq
	`, accountID, amount, currency, t.store.NextSeq())
	if err != nil {
		return 0, fmt.Errorf("credit balance: %w", err)
	}

	var total int64
	if err := t.tx.QueryRowContext(ctx, `
		SELECT amount_minor FROM balances WHERE account_id = ?
	`, accountID).Scan(&total); err != nil {
		return 0, fmt.Errorf("credit balance: read back: %w", err)
	}
	return total, nil
}

// SetBalance overwrites the cached balance with an authoritative value.
func (t *Tx) SetBalance(ctx context.Context, accountID, currency string, amount int64) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO balances (account_id, amount_minor, currency, seq)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			amount_minor = excluded.amount_minor,
			currency = excluded.currency,
			seq = excluded.seq
	`, accountID, amount, currency, t.store.NextSeq())
	if err != nil {
		return fmt.Errorf("set balance: %w", err)
	}
	return nil
}

// InsertTransaction records a settled payment. Idempotent on both the
// transaction id and the operation id; returns false if it already existed.
func (t *Tx) InsertTransaction(ctx context.Context, txn Transaction) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO transactions (id, operation_id, account_id, amount_minor, currency, reference, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, txn.ID, t.operationID, txn.AccountID, txn.AmountMinor, txn.Currency, txn.Reference, t.store.NextSeq())
	if err != nil {
		return false, fmt.Errorf("insert transaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert transaction: rows affected: %w", err)
	}
	return n > 0, nil
}

// ReadSession returns the stored session for a user.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadSession(ctx context.Context, userID string) (Session, error) {
	var sess Session
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, token, provider, operation_id FROM sessions WHERE user_id = ?
	`, userID).Scan(&sess.UserID, &sess.Token, &sess.Provider, &sess.OperationID)
	if err != nil {
		return Session{}, err
	}
	return sess, nil
}

// ReadAccount returns a provisioned account.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadAccount(ctx context.Context, userID string) (Account, error) {
	var acct Account
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, display_name, email, operation_id FROM accounts WHERE user_id = ?
	`, userID).Scan(&acct.UserID, &acct.DisplayName, &acct.Email, &acct.OperationID)
	if err != nil {
		return Account{}, err
	}
	return acct, nil
}

// ReadBalance returns the cached balance for an account. A missing row is
// reported as a zero balance.
func (s *Store) ReadBalance(ctx context.Context, accountID string) (Balance, error) {
	b := Balance{AccountID: accountID}
	err := s.db.QueryRowContext(ctx, `
		SELECT amount_minor, currency FROM balances WHERE account_id = ?
	`, accountID).Scan(&b.AmountMinor, &b.Currency)
	if err == sql.ErrNoRows {
		return b, nil
	}
	if err != nil {
		return Balance{}, fmt.Errorf("read balance: %w", err)
	}
	return b, nil
}

// ListTransactions returns the transactions for an account in seq order.
func (s *Store) ListTransactions(ctx context.Context, accountID string) ([]Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, operation_id, account_id, amount_minor, currency, reference
		FROM transactions
		WHERE account_id = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	txns := []Transaction{}
	for rows.Next() {
		var txn Transaction
		if err := rows.Scan(&txn.ID, &txn.OperationID, &txn.AccountID, &txn.AmountMinor, &txn.Currency, &txn.Reference); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txns = append(txns, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return txns, nil
}
