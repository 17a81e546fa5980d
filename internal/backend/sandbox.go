package backend

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/roach88/handoff/internal/ir"
)

// Entry states in the sandbox.
const (
	entryOpen     = "open"
	entrySettled  = "settled"
	entryRejected = "rejected"
)

// entry is one external operation known to the sandbox: an authorization
// code for auth, a checkout session for payment.
type entry struct {
	kind          ir.Kind
	reference     string
	correlationID string
	state         string
	processed     bool

	// payment
	accountID     string
	amountMinor   int64
	currency      string
	transactionID string

	// auth
	user    User
	token   string
	session bool
}

// Sandbox is an in-memory, idempotent implementation of the backend
// endpoints for local runs and tests. Safe for concurrent use.
type Sandbox struct {
	mu       sync.Mutex
	entries  map[ir.Kind]map[string]*entry
	balances map[string]int64
	checkout string
	verifies map[ir.Kind]int
}

// NewSandbox creates an empty sandbox. checkoutBase prefixes the
// checkout URLs handed out for payment intents.
func NewSandbox(checkoutBase string) *Sandbox {
	return &Sandbox{
		entries: map[ir.Kind]map[string]*entry{
			ir.KindAuth:    {},
			ir.KindPayment: {},
		},
		balances: make(map[string]int64),
		checkout: checkoutBase,
		verifies: make(map[ir.Kind]int),
	}
}

// Handler returns the sandbox's HTTP routes.
func (s *Sandbox) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/{kind:auth|payment}/verify", s.handleVerify).Methods(http.MethodPost)
	r.HandleFunc("/auth/session", s.handleSession).Methods(http.MethodPost)
	r.HandleFunc("/payment/intents", s.handleCreateIntent).Methods(http.MethodPost)
	r.HandleFunc("/sandbox/{kind:auth|payment}/{reference}/settle", s.handleSettle).Methods(http.MethodPost)
	r.HandleFunc("/sandbox/{kind:auth|payment}/{reference}/reject", s.handleReject).Methods(http.MethodPost)
	return r
}

// SettleRequest completes an external operation in the sandbox.
type SettleRequest struct {
	CorrelationID string `json:"correlationId,omitempty"`

	// auth
	UserID      string `json:"userId,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	Email       string `json:"email,omitempty"`

	// payment
	AccountID   string `json:"accountId,omitempty"`
	AmountMinor int64  `json:"amountMinor,omitempty"`
	Currency    string `json:"currency,omitempty"`
}

// CreateIntent registers an open payment intent.
func (s *Sandbox) CreateIntent(req IntentRequest) Intent {
	s.mu.Lock()
	defer s.mu.Unlock()

	ref := "cs_" + uuid.NewString()
	s.entries[ir.KindPayment][ref] = &entry{
		kind:          ir.KindPayment,
		reference:     ref,
		correlationID: req.CorrelationID,
		state:         entryOpen,
		accountID:     req.AccountID,
		amountMinor:   req.AmountMinor,
		currency:      req.Currency,
	}
	return Intent{Reference: ref, CheckoutURL: s.checkout + "/pay/" + ref}
}

// Settle marks an external operation as completed, creating it if needed.
func (s *Sandbox) Settle(kind ir.Kind, reference string, req SettleRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entryLocked(kind, reference)
	if req.CorrelationID != "" {
		e.correlationID = req.CorrelationID
	}
	switch kind {
	case ir.KindAuth:
		if req.UserID != "" {
			e.user = User{ID: req.UserID, DisplayName: req.DisplayName, Email: req.Email}
		}
		if e.user.ID == "" {
			e.user = User{ID: "user-" + reference}
		}
	case ir.KindPayment:
		if req.AccountID != "" {
			e.accountID = req.AccountID
		}
		if req.AmountMinor != 0 {
			e.amountMinor = req.AmountMinor
		}
		if req.Currency != "" {
			e.currency = req.Currency
		}
	}
	if e.state != entryRejected {
		e.state = entrySettled
	}
}

// Reject marks an external operation as declined.
func (s *Sandbox) Reject(kind ir.Kind, reference string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entryLocked(kind, reference).state = entryRejected
}

// Balance returns the backend-side balance of an account.
func (s *Sandbox) Balance(accountID string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[accountID]
}

// VerifyCalls returns how many verify requests a kind received.
func (s *Sandbox) VerifyCalls(kind ir.Kind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.verifies[kind]
}

func (s *Sandbox) entryLocked(kind ir.Kind, reference string) *entry {
	e, ok := s.entries[kind][reference]
	if !ok {
		e = &entry{kind: kind, reference: reference, state: entryOpen}
		s.entries[kind][reference] = e
	}
	return e
}

// lookupLocked finds an entry by reference, falling back to the
// correlation id when no reference was sent.
func (s *Sandbox) lookupLocked(kind ir.Kind, reference, correlationID string) *entry {
	if reference != "" {
		return s.entries[kind][reference]
	}
	if correlationID == "" {
		return nil
	}
	for _, e := range s.entries[kind] {
		if e.correlationID == correlationID {
			return e
		}
	}
	return nil
}

func (s *Sandbox) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Sandbox) handleVerify(w http.ResponseWriter, r *http.Request) {
	kind := ir.Kind(mux.Vars(r)["kind"])

	var req ir.VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: "bad_request", Message: err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.verifies[kind]++

	e := s.lookupLocked(kind, req.Reference, req.CorrelationID)
	switch {
	case e == nil && req.Reference == "":
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "pending"})
		return
	case e == nil:
		writeJSON(w, http.StatusNotFound, errorBody{Code: "unknown_reference", Message: fmt.Sprintf("no %s with reference %q", kind, req.Reference)})
		return
	case req.CorrelationID != "" && e.correlationID != "" && e.correlationID != req.CorrelationID:
		writeJSON(w, http.StatusConflict, errorBody{Code: "correlation_mismatch", Message: "reference belongs to another operation"})
		return
	}

	switch e.state {
	case entryOpen:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "pending"})
		return
	case entryRejected:
		writeJSON(w, http.StatusOK, ir.VerificationResult{Verified: false})
		return
	}

	first := !e.processed
	if first {
		e.processed = true
		if kind == ir.KindPayment {
			e.transactionID = "txn_" + uuid.NewString()
			s.balances[e.accountID] += e.amountMinor
		}
	}
	data := s.outcomeDataLocked(e)
	slog.Debug("sandbox verify",
		"kind", kind,
		"reference", e.reference,
		"first", first,
	)

	switch {
	case first:
		writeJSON(w, http.StatusOK, ir.VerificationResult{Verified: true, OutcomeData: data})
	case kind == ir.KindPayment:
		writeJSON(w, http.StatusConflict, errorBody{Code: "already_processed", AlreadyProcessed: true, OutcomeData: data})
	default:
		writeJSON(w, http.StatusOK, ir.VerificationResult{AlreadyProcessed: true, OutcomeData: data})
	}
}

func (s *Sandbox) outcomeDataLocked(e *entry) ir.IRObject {
	switch e.kind {
	case ir.KindAuth:
		return ir.IRObject{
			"provider": ir.IRString("sandbox"),
			"user": ir.IRObject{
				"id":          ir.IRString(e.user.ID),
				"displayName": ir.IRString(e.user.DisplayName),
				"email":       ir.IRString(e.user.Email),
			},
		}
	case ir.KindPayment:
		return ir.IRObject{
			"accountId":     ir.IRString(e.accountID),
			"amountMinor":   ir.IRInt(e.amountMinor),
			"currency":      ir.IRString(e.currency),
			"transactionId": ir.IRString(e.transactionID),
			"balanceMinor":  ir.IRInt(s.balances[e.accountID]),
		}
	}
	return ir.IRObject{}
}

func (s *Sandbox) handleSession(w http.ResponseWriter, r *http.Request) {
	var req SessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: "bad_request", Message: err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookupLocked(ir.KindAuth, req.Reference, req.CorrelationID)
	if e == nil || e.state != entrySettled {
		writeJSON(w, http.StatusUnauthorized, errorBody{Code: "not_authorized", Message: "sign-in not completed"})
		return
	}

	if e.session {
		writeJSON(w, http.StatusConflict, Session{Token: e.token, User: e.user, AlreadyExists: true})
		return
	}
	e.session = true
	e.token = "tok_" + uuid.NewString()
	writeJSON(w, http.StatusCreated, Session{Token: e.token, User: e.user})
}

func (s *Sandbox) handleCreateIntent(w http.ResponseWriter, r *http.Request) {
	var req IntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: "bad_request", Message: err.Error()})
		return
	}
	if req.AmountMinor <= 0 || req.Currency == "" || req.AccountID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: "bad_request", Message: "amountMinor, currency and accountId are required"})
		return
	}
	writeJSON(w, http.StatusCreated, s.CreateIntent(req))
}

func (s *Sandbox) handleSettle(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var req SettleRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Code: "bad_request", Message: err.Error()})
			return
		}
	}
	s.Settle(ir.Kind(vars["kind"]), vars["reference"], req)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Sandbox) handleReject(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	s.Reject(ir.Kind(vars["kind"]), vars["reference"])
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write response", "status", status, "error", err)
	}
}
