package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/handoff/internal/ir"
)

// Effect performs the kind-specific side effects of a confirmed operation
// inside the claim transaction and returns the outcome to record.
type Effect func(ctx context.Context, tx *Tx) (ir.AppliedOutcome, error)

// Tx is the write surface an Effect may use. All writes commit or roll back
// together with the applied_outcomes row.
type Tx struct {
	tx          *sql.Tx
	store       *Store
	operationID string
}

// OperationID returns the operation whose outcome is being applied.
func (t *Tx) OperationID() string {
	return t.operationID
}

// ApplyOutcome runs effect at most once per operation id.
//
// Returns:
//   - outcome: the recorded outcome (new or existing)
//   - applied: true if effect ran and committed, false if an outcome already
//     existed and effect was skipped
//   - error: any error; on error nothing is committed
//
// This is the crash-safe variant of the sequence
// ReadOutcome → side effects → write outcome.
func (s *Store) ApplyOutcome(ctx context.Context, operationID string, effect Effect) (ir.AppliedOutcome, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ir.AppliedOutcome{}, false, fmt.Errorf("apply outcome: begin tx: %w", err)
	}
	defer tx.Rollback()

	existing, found, err := readOutcome(ctx, tx, operationID)
	if err != nil {
		return ir.AppliedOutcome{}, false, fmt.Errorf("apply outcome: %w", err)
	}
	if found {
		if err := tx.Commit(); err != nil {
			return ir.AppliedOutcome{}, false, fmt.Errorf("apply outcome: commit (existing): %w", err)
		}
		return existing, false, nil
	}

	outcome, err := effect(ctx, &Tx{tx: tx, store: s, operationID: operationID})
	if err != nil {
		return ir.AppliedOutcome{}, false, err
	}
	outcome.OperationID = operationID
	outcome.Seq = s.NextSeq()

	dataJSON, err := marshalData(outcome.Data)
	if err != nil {
		return ir.AppliedOutcome{}, false, fmt.Errorf("apply outcome: %w", err)
	}
	digest, err := ir.OutcomeDigest(operationID, outcome.Kind, outcome.Data)
	if err != nil {
		return ir.AppliedOutcome{}, false, fmt.Errorf("apply outcome: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO applied_outcomes
		(operation_id, kind, mode, destination, data, digest, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(operation_id) DO NOTHING
	`,
		operationID,
		string(outcome.Kind),
		string(outcome.Mode),
		outcome.Destination,
		dataJSON,
		digest,
		outcome.Seq,
	)
	if err != nil {
		return ir.AppliedOutcome{}, false, fmt.Errorf("apply outcome: insert: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return ir.AppliedOutcome{}, false, fmt.Errorf("apply outcome: rows affected: %w", err)
	}
	if rowsAffected == 0 {
		// Claimed by someone else between the read and the insert; the
		// deferred rollback discards this effect.
		return ir.AppliedOutcome{}, false, fmt.Errorf("apply outcome: %s claimed concurrently", operationID)
	}

	if err := tx.Commit(); err != nil {
		return ir.AppliedOutcome{}, false, fmt.Errorf("apply outcome: commit: %w", err)
	}
	return outcome, true, nil
}

// ReadOutcome returns the applied outcome for an operation, if any.
func (s *Store) ReadOutcome(ctx context.Context, operationID string) (ir.AppliedOutcome, bool, error) {
	return readOutcome(ctx, s.db, operationID)
}

// CountOutcomes returns the number of applied outcomes of a kind.
// Used for diagnostics and tests.
func (s *Store) CountOutcomes(ctx context.Context, kind ir.Kind) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM applied_outcomes WHERE kind = ?
	`, string(kind)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count outcomes: %w", err)
	}
	return n, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func readOutcome(ctx context.Context, q queryRower, operationID string) (ir.AppliedOutcome, bool, error) {
	var (
		out              ir.AppliedOutcome
		kind, mode, data string
	)
	err := q.QueryRowContext(ctx, `
		SELECT operation_id, kind, mode, destination, data, seq
		FROM applied_outcomes
		WHERE operation_id = ?
	`, operationID).Scan(&out.OperationID, &kind, &mode, &out.Destination, &data, &out.Seq)
	if err == sql.ErrNoRows {
		return ir.AppliedOutcome{}, false, nil
	}
	if err != nil {
		return ir.AppliedOutcome{}, false, fmt.Errorf("read outcome: %w", err)
	}

	out.Kind = ir.Kind(kind)
	out.Mode = ir.Mode(mode)
	out.Data, err = unmarshalData(data)
	if err != nil {
		return ir.AppliedOutcome{}, false, fmt.Errorf("read outcome: %w", err)
	}
	return out, true, nil
}
