// Package ir provides the shared domain types for handoff.
//
// This package contains type definitions and value encoding only. All other
// internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - NO float types in outcome data - money is int64 minor units
//   - Operation.ID is the correlation token minted before the external step starts
//   - All JSON tags use snake_case
//   - Trace ordering uses logical seq numbers, never wall-clock timestamps
package ir
