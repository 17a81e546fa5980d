// Package backend talks to the idempotent confirmation endpoints and
// provides an in-memory sandbox implementation of them.
//
// # Endpoints
//
//	POST {base}/{kind}/verify   {reference, correlationId} → {verified, alreadyProcessed, outcomeData}
//	POST {base}/auth/session    {reference, correlationId} → {token, user, alreadyExists}
//	POST {base}/payment/intents {amountMinor, currency, accountId, correlationId} → {reference, checkoutUrl}
//
// # Status Mapping
//
//   - 200: decoded result
//   - 202: not settled yet; transient, the operation stays pending
//   - 409 on verify: already processed only when the body is empty or says
//     so (alreadyProcessed: true or code "already_processed"); any other 409
//     is a CONFLICT failure
//   - 409 on session: already exists; the body still carries a usable token
//   - 408, 429, 5xx and network errors: transient
//   - other 4xx: rejected
package backend
