package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// The version suffix leaves room for algorithm migration.
const (
	DomainSignal  = "handoff/signal/v1"
	DomainOutcome = "handoff/outcome/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// SignalID computes the content-addressed id of a received signal.
// The seq disambiguates identical signals delivered more than once.
func SignalID(sig Signal, seq int64) (string, error) {
	obj := IRObject{
		"operation_id": IRString(sig.OperationID),
		"source":       IRString(string(sig.Source)),
		"outcome":      IRString(string(sig.Outcome)),
		"reference":    IRString(sig.ExternalReference),
		"seq":          IRInt(seq),
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("SignalID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainSignal, canonical), nil
}

// OutcomeDigest fingerprints the data of an applied outcome so a stored
// outcome can be compared against a later adoption of the same result.
func OutcomeDigest(operationID string, kind Kind, data IRObject) (string, error) {
	if data == nil {
		data = IRObject{}
	}
	obj := IRObject{
		"operation_id": IRString(operationID),
		"kind":         IRString(string(kind)),
		"data":         stripNulls(data),
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("OutcomeDigest: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainOutcome, canonical), nil
}

// stripNulls drops IRNull entries, which canonical JSON cannot encode.
func stripNulls(obj IRObject) IRObject {
	out := make(IRObject, len(obj))
	for k, v := range obj {
		switch val := v.(type) {
		case IRNull:
			continue
		case IRObject:
			out[k] = stripNulls(val)
		default:
			out[k] = v
		}
	}
	return out
}
