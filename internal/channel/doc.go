// Package channel implements the outcome channels that report completion
// claims to a reconcile.Coordinator.
//
// Three independent, unreliable channels exist per kind:
//   - DeepLinkAdapter: OS URL activations routed through a DeepLinkRouter
//   - NavigationInterceptor: embedded-browser navigation hooks
//   - Poller: a fixed-interval proactive check while the operation is pending
//
// No channel is trusted. Success claims are verified by the coordinator; a
// cancel claim ends the operation without verification. Channels never
// return errors to the coordinator.
package channel
