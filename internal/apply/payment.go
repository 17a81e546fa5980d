package apply

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/roach88/handoff/internal/ir"
	"github.com/roach88/handoff/internal/reconcile"
	"github.com/roach88/handoff/internal/store"
)

// Operation metadata keys used when the backend omits payment details.
const (
	MetaAccountID   = "account_id"
	MetaAmountMinor = "amount_minor"
	MetaCurrency    = "currency"
)

// Payment applies settled payments to the local ledger: it records the
// transaction and updates the cached balance.
//
// An authoritative balance from the backend overwrites the cached one.
// Otherwise the cached balance is credited exactly when the transaction is
// first recorded locally, in either mode: a payment adopted after its
// first response was lost still reaches the balance, and a known
// transaction id is never credited twice.
type Payment struct {
	store *store.Store
}

// NewPayment creates the payment applier.
func NewPayment(st *store.Store) *Payment {
	return &Payment{store: st}
}

type paymentDetails struct {
	accountID     string
	amountMinor   int64
	currency      string
	transactionID string
	balance       int64
	hasBalance    bool
}

// Apply implements reconcile.Applier.
func (p *Payment) Apply(ctx context.Context, op ir.Operation, result ir.VerificationResult) (ir.AppliedOutcome, error) {
	details, err := paymentFrom(op, result.OutcomeData)
	if err != nil {
		return ir.AppliedOutcome{}, err
	}
	mode := ir.ModeFor(result)

	outcome, applied, err := p.store.ApplyOutcome(ctx, op.ID, func(ctx context.Context, tx *store.Tx) (ir.AppliedOutcome, error) {
		recorded, err := tx.InsertTransaction(ctx, store.Transaction{
			ID:          details.transactionID,
			AccountID:   details.accountID,
			AmountMinor: details.amountMinor,
			Currency:    details.currency,
			Reference:   op.ExternalReference,
		})
		if err != nil {
			return ir.AppliedOutcome{}, err
		}

		balance := details.balance
		switch {
		case details.hasBalance:
			if err := tx.SetBalance(ctx, details.accountID, details.currency, details.balance); err != nil {
				return ir.AppliedOutcome{}, err
			}
		case recorded:
			balance, err = tx.CreditBalance(ctx, details.accountID, details.currency, details.amountMinor)
			if err != nil {
				return ir.AppliedOutcome{}, err
			}
		}

		data := ir.IRObject{
			"accountId":     ir.IRString(details.accountID),
			"amountMinor":   ir.IRInt(details.amountMinor),
			"currency":      ir.IRString(details.currency),
			"transactionId": ir.IRString(details.transactionID),
		}
		if details.hasBalance || recorded {
			data["balanceMinor"] = ir.IRInt(balance)
		}
		return ir.AppliedOutcome{
			Kind:        ir.KindPayment,
			Mode:        mode,
			Destination: ir.DestinationPaymentSuccess,
			Data:        data,
		}, nil
	})
	if err != nil {
		return ir.AppliedOutcome{}, reconcile.NewTransientError(fmt.Errorf("apply payment: %w", err))
	}

	slog.Info("payment applied",
		"operation_id", op.ID,
		"account_id", details.accountID,
		"amount_minor", details.amountMinor,
		"mode", outcome.Mode,
		"applied", applied,
	)
	return outcome, nil
}

// paymentFrom reads payment details from the outcome data, falling back to
// the metadata the operation was started with.
func paymentFrom(op ir.Operation, data ir.IRObject) (paymentDetails, error) {
	var d paymentDetails
	var ok bool

	if d.accountID, ok = data.Str("accountId"); !ok || d.accountID == "" {
		d.accountID = op.Metadata[MetaAccountID]
	}
	if d.currency, ok = data.Str("currency"); !ok || d.currency == "" {
		d.currency = op.Metadata[MetaCurrency]
	}
	if d.amountMinor, ok = data.Int("amountMinor"); !ok {
		if raw := op.Metadata[MetaAmountMinor]; raw != "" {
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return d, reconcile.NewRejectedError(fmt.Sprintf("invalid %s metadata %q", MetaAmountMinor, raw))
			}
			d.amountMinor = n
		}
	}
	if d.transactionID, ok = data.Str("transactionId"); !ok || d.transactionID == "" {
		d.transactionID = op.ID
	}
	d.balance, d.hasBalance = data.Int("balanceMinor")

	switch {
	case d.accountID == "":
		return d, reconcile.NewRejectedError("payment confirmed without an account id")
	case d.currency == "":
		return d, reconcile.NewRejectedError("payment confirmed without a currency")
	case d.amountMinor <= 0:
		return d, reconcile.NewRejectedError("payment confirmed without a positive amount")
	}
	return d, nil
}
