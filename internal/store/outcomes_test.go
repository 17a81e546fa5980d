package store

import (
	"context"
	"errors"
	"testing"

	"github.com/roach88/handoff/internal/ir"
)

func TestApplyOutcome_RunsEffectOnce(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	calls := 0
	effect := func(ctx context.Context, tx *Tx) (ir.AppliedOutcome, error) {
		calls++
		if _, err := tx.CreditBalance(ctx, "user-1", "USD", 1500); err != nil {
			return ir.AppliedOutcome{}, err
		}
		return ir.AppliedOutcome{
			Kind:        ir.KindPayment,
			Mode:        ir.ModeApply,
			Destination: ir.DestinationPaymentSuccess,
			Data:        ir.IRObject{"amount": ir.IRInt(1500)},
		}, nil
	}

	first, applied, err := s.ApplyOutcome(ctx, "op-1", effect)
	if err != nil {
		t.Fatalf("first ApplyOutcome failed: %v", err)
	}
	if !applied {
		t.Error("expected applied=true on first call")
	}
	if first.OperationID != "op-1" {
		t.Errorf("OperationID = %q, want op-1", first.OperationID)
	}

	second, applied, err := s.ApplyOutcome(ctx, "op-1", effect)
	if err != nil {
		t.Fatalf("second ApplyOutcome failed: %v", err)
	}
	if applied {
		t.Error("expected applied=false on second call")
	}
	if calls != 1 {
		t.Errorf("effect ran %d times, want 1", calls)
	}
	if second.Seq != first.Seq || second.Destination != first.Destination {
		t.Errorf("second = %+v, want existing %+v", second, first)
	}
	if amount, _ := second.Data.Int("amount"); amount != 1500 {
		t.Errorf("Data[amount] = %d, want 1500", amount)
	}

	bal, err := s.ReadBalance(ctx, "user-1")
	if err != nil {
		t.Fatalf("ReadBalance failed: %v", err)
	}
	if bal.AmountMinor != 1500 {
		t.Errorf("balance = %d, want 1500 (credited once)", bal.AmountMinor)
	}
}

func TestApplyOutcome_EffectErrorRollsBack(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	_, applied, err := s.ApplyOutcome(ctx, "op-1", func(ctx context.Context, tx *Tx) (ir.AppliedOutcome, error) {
		if err := tx.SetBalance(ctx, "user-1", "USD", 9999); err != nil {
			return ir.AppliedOutcome{}, err
		}
		return ir.AppliedOutcome{}, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if applied {
		t.Error("expected applied=false on error")
	}

	if _, found, err := s.ReadOutcome(ctx, "op-1"); err != nil || found {
		t.Errorf("ReadOutcome found=%v err=%v, want not found", found, err)
	}
	bal, err := s.ReadBalance(ctx, "user-1")
	if err != nil {
		t.Fatalf("ReadBalance failed: %v", err)
	}
	if bal.AmountMinor != 0 {
		t.Errorf("balance = %d, want 0 after rollback", bal.AmountMinor)
	}

	// A later attempt may still apply.
	_, applied, err = s.ApplyOutcome(ctx, "op-1", func(ctx context.Context, tx *Tx) (ir.AppliedOutcome, error) {
		return ir.AppliedOutcome{Kind: ir.KindPayment, Mode: ir.ModeApply}, nil
	})
	if err != nil || !applied {
		t.Errorf("retry applied=%v err=%v, want applied", applied, err)
	}
}

func TestCountOutcomes(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"op-1", "op-2"} {
		_, _, err := s.ApplyOutcome(ctx, id, func(ctx context.Context, tx *Tx) (ir.AppliedOutcome, error) {
			return ir.AppliedOutcome{Kind: ir.KindAuth, Mode: ir.ModeApply, Destination: ir.DestinationHome}, nil
		})
		if err != nil {
			t.Fatalf("ApplyOutcome(%s) failed: %v", id, err)
		}
	}

	n, err := s.CountOutcomes(ctx, ir.KindAuth)
	if err != nil {
		t.Fatalf("CountOutcomes failed: %v", err)
	}
	if n != 2 {
		t.Errorf("auth outcomes = %d, want 2", n)
	}
	n, err = s.CountOutcomes(ctx, ir.KindPayment)
	if err != nil {
		t.Fatalf("CountOutcomes failed: %v", err)
	}
	if n != 0 {
		t.Errorf("payment outcomes = %d, want 0", n)
	}
}
