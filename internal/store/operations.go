package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/handoff/internal/ir"
)

// SignalRecord is a persisted signal with the coordinator's disposition.
type SignalRecord struct {
	ID          string
	Signal      ir.Signal
	Disposition string
	Seq         int64
}

// SaveOperation inserts or updates an operation.
// Called on every transition; a terminal status archives the operation.
func (s *Store) SaveOperation(ctx context.Context, op ir.Operation) error {
	metaJSON, err := marshalMetadata(op.Metadata)
	if err != nil {
		return fmt.Errorf("save operation: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO operations
		(id, kind, status, external_reference, attempts, error, metadata, created_at, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			external_reference = excluded.external_reference,
			attempts = excluded.attempts,
			error = excluded.error,
			seq = excluded.seq
	`,
		op.ID,
		string(op.Kind),
		string(op.Status),
		op.ExternalReference,
		op.Attempts,
		op.Error,
		metaJSON,
		op.CreatedAt.UnixMilli(),
		s.NextSeq(),
	)
	if err != nil {
		return fmt.Errorf("save operation: %w", err)
	}
	return nil
}

// ReadOperation retrieves a single operation by ID.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadOperation(ctx context.Context, id string) (ir.Operation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, status, external_reference, attempts, error, metadata, created_at
		FROM operations
		WHERE id = ?
	`, id)
	return scanOperation(row)
}

// ListOperations returns operations ordered by seq ASC, id ASC.
// An empty kind lists every kind. A limit <= 0 means no limit.
//
// Returns an empty slice (not nil) if there are no operations.
func (s *Store) ListOperations(ctx context.Context, kind ir.Kind, limit int) ([]ir.Operation, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, status, external_reference, attempts, error, metadata, created_at
		FROM operations
		WHERE ? = '' OR kind = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
		LIMIT ?
	`, string(kind), string(kind), limit)
	if err != nil {
		return nil, fmt.Errorf("query operations: %w", err)
	}
	defer rows.Close()

	ops := []ir.Operation{}
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate operations: %w", err)
	}
	return ops, nil
}

// ExpireStale marks operations left pending or verifying by a previous
// process as expired. Returns the number of operations expired.
func (s *Store) ExpireStale(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE operations
		SET status = ?, error = ?, seq = ?
		WHERE status IN (?, ?)
	`,
		string(ir.StatusExpired),
		"abandoned by previous process",
		s.NextSeq(),
		string(ir.StatusPending),
		string(ir.StatusVerifying),
	)
	if err != nil {
		return 0, fmt.Errorf("expire stale operations: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expire stale operations: rows affected: %w", err)
	}
	return int(n), nil
}

// RecordSignal appends a received signal and the coordinator's disposition
// ("accepted", "ignored", "stale", ...). Returns the content-addressed id.
func (s *Store) RecordSignal(ctx context.Context, sig ir.Signal, disposition string) (string, error) {
	seq := s.NextSeq()
	id, err := ir.SignalID(sig, seq)
	if err != nil {
		return "", fmt.Errorf("record signal: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO signals
		(id, operation_id, source, outcome, reference, raw_payload, disposition, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		id,
		sig.OperationID,
		string(sig.Source),
		string(sig.Outcome),
		sig.ExternalReference,
		sig.RawPayload,
		disposition,
		seq,
	)
	if err != nil {
		return "", fmt.Errorf("record signal: %w", err)
	}
	return id, nil
}

// ReadSignals returns the signal log for an operation in seq order.
// Returns an empty slice (not nil) if none were recorded.
func (s *Store) ReadSignals(ctx context.Context, operationID string) ([]SignalRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, operation_id, source, outcome, reference, raw_payload, disposition, seq
		FROM signals
		WHERE operation_id = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, operationID)
	if err != nil {
		return nil, fmt.Errorf("query signals: %w", err)
	}
	defer rows.Close()

	records := []SignalRecord{}
	for rows.Next() {
		var (
			rec             SignalRecord
			source, outcome string
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.Signal.OperationID,
			&source,
			&outcome,
			&rec.Signal.ExternalReference,
			&rec.Signal.RawPayload,
			&rec.Disposition,
			&rec.Seq,
		); err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		rec.Signal.Source = ir.Source(source)
		rec.Signal.Outcome = ir.SignalOutcome(outcome)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate signals: %w", err)
	}
	return records, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOperation(row rowScanner) (ir.Operation, error) {
	var (
		op                 ir.Operation
		kind, status, meta string
		createdAt          int64
	)
	err := row.Scan(
		&op.ID,
		&kind,
		&status,
		&op.ExternalReference,
		&op.Attempts,
		&op.Error,
		&meta,
		&createdAt,
	)
	if err == sql.ErrNoRows {
		return ir.Operation{}, err
	}
	if err != nil {
		return ir.Operation{}, fmt.Errorf("scan operation: %w", err)
	}

	op.Kind = ir.Kind(kind)
	op.Status = ir.Status(status)
	op.CreatedAt = time.UnixMilli(createdAt).UTC()
	op.Metadata, err = unmarshalMetadata(meta)
	if err != nil {
		return ir.Operation{}, err
	}
	return op, nil
}
