package channel

import (
	"net/url"
	"strings"

	"github.com/roach88/handoff/internal/ir"
)

// Convention describes the success and cancel URLs of one external flow.
//
// An empty Scheme or Host matches any value. Paths match with or without a
// trailing slash.
type Convention struct {
	Scheme           string `json:"scheme"`
	Host             string `json:"host"`
	SuccessPath      string `json:"success_path"`
	CancelPath       string `json:"cancel_path"`
	ReferenceParam   string `json:"reference_param"`
	CorrelationParam string `json:"correlation_param"`
}

// Match is a URL recognized by a Convention.
type Match struct {
	Outcome       ir.SignalOutcome
	Reference     string
	CorrelationID string
	// CorrelationRequired is set when the convention declares a
	// correlation parameter.
	CorrelationRequired bool
}

// Match classifies rawURL. Returns false for URLs outside the convention.
func (c Convention) Match(rawURL string) (Match, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Match{}, false
	}
	if c.Scheme != "" && !strings.EqualFold(u.Scheme, c.Scheme) {
		return Match{}, false
	}
	if c.Host != "" && !strings.EqualFold(u.Host, c.Host) {
		return Match{}, false
	}

	var outcome ir.SignalOutcome
	switch path := normalizePath(u.Path); {
	case c.SuccessPath != "" && path == normalizePath(c.SuccessPath):
		outcome = ir.OutcomeSuccess
	case c.CancelPath != "" && path == normalizePath(c.CancelPath):
		outcome = ir.OutcomeCancel
	default:
		return Match{}, false
	}

	q := u.Query()
	m := Match{Outcome: outcome, CorrelationRequired: c.CorrelationParam != ""}
	if c.ReferenceParam != "" {
		m.Reference = q.Get(c.ReferenceParam)
	}
	if c.CorrelationParam != "" {
		m.CorrelationID = q.Get(c.CorrelationParam)
	}
	return m, true
}

// Signal builds the claim for a match. The URL's correlation id wins over
// operationID so links from a superseded attempt are discarded as stale.
//
// Returns false for a success link missing a required correlation id: it
// cannot be told apart from a superseded attempt's link, so it is never
// attributed to operationID. Cancel links always are.
func (m Match) Signal(operationID string, source ir.Source, rawURL string) (ir.Signal, bool) {
	switch {
	case m.CorrelationID != "":
		operationID = m.CorrelationID
	case m.CorrelationRequired && m.Outcome == ir.OutcomeSuccess:
		return ir.Signal{}, false
	}
	return ir.Signal{
		OperationID:       operationID,
		Source:            source,
		Outcome:           m.Outcome,
		ExternalReference: m.Reference,
		RawPayload:        rawURL,
	}, true
}

func normalizePath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 {
		p = strings.TrimSuffix(p, "/")
	}
	return p
}

// DefaultDeepLink returns the registered app-scheme convention for kind.
func DefaultDeepLink(kind ir.Kind) Convention {
	switch kind {
	case ir.KindAuth:
		return Convention{
			Scheme:           "dateapp",
			Host:             "auth",
			SuccessPath:      "/callback",
			CancelPath:       "/cancel",
			ReferenceParam:   "code",
			CorrelationParam: "state",
		}
	case ir.KindPayment:
		return Convention{
			Scheme:           "dateapp",
			Host:             "payment",
			SuccessPath:      "/success",
			CancelPath:       "/cancel",
			ReferenceParam:   "session_id",
			CorrelationParam: "cid",
		}
	}
	return Convention{}
}

// DefaultBrowser returns the return-URL convention the embedded browser
// watches for kind.
func DefaultBrowser(kind ir.Kind) Convention {
	c := DefaultDeepLink(kind)
	if c == (Convention{}) {
		return c
	}
	c.Scheme = "https"
	c.Host = "return.dateapp.example"
	c.SuccessPath = "/" + string(kind) + c.SuccessPath
	c.CancelPath = "/" + string(kind) + c.CancelPath
	return c
}
