package testutil

import (
	"context"
	"sync"

	"github.com/roach88/handoff/internal/ir"
)

// ScriptedVerifier is a verifier whose calls block until the test answers.
//
// Each Verify call is handed to the test through Next as a PendingVerify.
// This lets a test hold a verification in flight while it fires more
// signals, then release it with Respond or Fail.
//
// Thread-safety: safe for concurrent use.
type ScriptedVerifier struct {
	mu       sync.Mutex
	calls    []ir.VerifyRequest
	requests chan *PendingVerify
}

// PendingVerify is one in-flight verification call.
type PendingVerify struct {
	Request ir.VerifyRequest
	reply   chan verifyReply
}

type verifyReply struct {
	result ir.VerificationResult
	err    error
}

// NewScriptedVerifier creates a verifier with no calls.
func NewScriptedVerifier() *ScriptedVerifier {
	return &ScriptedVerifier{requests: make(chan *PendingVerify)}
}

// Verify records the call and blocks until the test responds or ctx ends.
func (v *ScriptedVerifier) Verify(ctx context.Context, req ir.VerifyRequest) (ir.VerificationResult, error) {
	v.mu.Lock()
	v.calls = append(v.calls, req)
	v.mu.Unlock()

	p := &PendingVerify{Request: req, reply: make(chan verifyReply, 1)}
	select {
	case v.requests <- p:
	case <-ctx.Done():
		return ir.VerificationResult{}, ctx.Err()
	}

	select {
	case r := <-p.reply:
		return r.result, r.err
	case <-ctx.Done():
		return ir.VerificationResult{}, ctx.Err()
	}
}

// Next returns the next in-flight call, blocking until one arrives or ctx
// ends.
func (v *ScriptedVerifier) Next(ctx context.Context) (*PendingVerify, error) {
	select {
	case p := <-v.requests:
		return p, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Calls returns the number of Verify calls made so far.
func (v *ScriptedVerifier) Calls() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.calls)
}

// Requests returns a copy of every request received, in order.
func (v *ScriptedVerifier) Requests() []ir.VerifyRequest {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]ir.VerifyRequest(nil), v.calls...)
}

// Respond completes the call with a result.
func (p *PendingVerify) Respond(result ir.VerificationResult) {
	p.reply <- verifyReply{result: result}
}

// Fail completes the call with an error.
func (p *PendingVerify) Fail(err error) {
	p.reply <- verifyReply{err: err}
}
