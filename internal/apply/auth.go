package apply

import (
	"context"
	"fmt"
	"log/slog"
	"maps"

	"github.com/roach88/handoff/internal/backend"
	"github.com/roach88/handoff/internal/ir"
	"github.com/roach88/handoff/internal/reconcile"
	"github.com/roach88/handoff/internal/store"
)

// SessionCreator exchanges a verified sign-in for a session token.
// Implemented by *backend.Client. Must be idempotent per reference.
type SessionCreator interface {
	CreateSession(ctx context.Context, req backend.SessionRequest) (backend.Session, error)
}

// Auth applies confirmed sign-ins: it stores the session credential and
// provisions the local account on first sign-in.
type Auth struct {
	store    *store.Store
	sessions SessionCreator
}

// NewAuth creates the sign-in applier.
func NewAuth(st *store.Store, sessions SessionCreator) *Auth {
	return &Auth{store: st, sessions: sessions}
}

var _ reconcile.Preparer = (*Auth)(nil)

// Prepare implements reconcile.Preparer. When the verification result
// carries no session token it exchanges the sign-in for one, so Apply only
// writes locally. The backend answers a repeated request with the existing
// token, so a retry never mints a second session.
func (a *Auth) Prepare(ctx context.Context, op ir.Operation, result ir.VerificationResult) (ir.VerificationResult, error) {
	if _, found, err := a.store.ReadOutcome(ctx, op.ID); err != nil {
		return result, reconcile.NewTransientError(err)
	} else if found {
		return result, nil
	}
	if token, _ := result.OutcomeData.Str("token"); token != "" || a.sessions == nil {
		return result, nil
	}

	sess, err := a.sessions.CreateSession(ctx, backend.SessionRequest{
		Reference:     op.ExternalReference,
		CorrelationID: op.ID,
	})
	if err != nil {
		return result, err
	}

	data := maps.Clone(result.OutcomeData)
	if data == nil {
		data = ir.IRObject{}
	}
	data["token"] = ir.IRString(sess.Token)
	if userFrom(data).ID == "" && sess.User.ID != "" {
		data["user"] = ir.IRObject{
			"id":          ir.IRString(sess.User.ID),
			"displayName": ir.IRString(sess.User.DisplayName),
			"email":       ir.IRString(sess.User.Email),
		}
	}
	result.OutcomeData = data
	return result, nil
}

// Apply implements reconcile.Applier. It expects the session token in the
// outcome data, put there by the backend or by Prepare.
func (a *Auth) Apply(ctx context.Context, op ir.Operation, result ir.VerificationResult) (ir.AppliedOutcome, error) {
	if existing, found, err := a.store.ReadOutcome(ctx, op.ID); err != nil {
		return ir.AppliedOutcome{}, reconcile.NewTransientError(err)
	} else if found {
		return existing, nil
	}

	mode := ir.ModeFor(result)
	data := result.OutcomeData
	if data == nil {
		data = ir.IRObject{}
	}

	user := userFrom(data)
	token, _ := data.Str("token")
	provider, _ := data.Str("provider")

	if token == "" {
		return ir.AppliedOutcome{}, reconcile.NewRejectedError("sign-in confirmed without a session token")
	}
	if user.ID == "" {
		return ir.AppliedOutcome{}, reconcile.NewRejectedError("sign-in confirmed without a user id")
	}

	outcome, applied, err := a.store.ApplyOutcome(ctx, op.ID, func(ctx context.Context, tx *store.Tx) (ir.AppliedOutcome, error) {
		if err := tx.SaveSession(ctx, store.Session{
			UserID:   user.ID,
			Token:    token,
			Provider: provider,
		}); err != nil {
			return ir.AppliedOutcome{}, err
		}
		created, err := tx.ProvisionAccount(ctx, store.Account{
			UserID:      user.ID,
			DisplayName: user.DisplayName,
			Email:       user.Email,
		})
		if err != nil {
			return ir.AppliedOutcome{}, err
		}

		dest := ir.DestinationHome
		if created {
			dest = ir.DestinationOnboarding
		}
		return ir.AppliedOutcome{
			Kind:        ir.KindAuth,
			Mode:        mode,
			Destination: dest,
			Data: ir.IRObject{
				"userId":     ir.IRString(user.ID),
				"newAccount": ir.IRBool(created),
			},
		}, nil
	})
	if err != nil {
		return ir.AppliedOutcome{}, reconcile.NewTransientError(fmt.Errorf("apply sign-in: %w", err))
	}

	slog.Info("sign-in applied",
		"operation_id", op.ID,
		"user_id", user.ID,
		"mode", outcome.Mode,
		"destination", outcome.Destination,
		"applied", applied,
	)
	return outcome, nil
}

func userFrom(data ir.IRObject) backend.User {
	obj, ok := data.Object("user")
	if !ok {
		return backend.User{}
	}
	var u backend.User
	u.ID, _ = obj.Str("id")
	u.DisplayName, _ = obj.Str("displayName")
	u.Email, _ = obj.Str("email")
	return u
}
