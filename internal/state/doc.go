// Package state provides filesystem-backed storage implementations.
package state

import "github.com/user/ticketdigest/internal/types"

// Compile-time interface compliance checks.
var _ types.RunStore = (*Ledger)(nil)
