// internal/types/interfaces.go
package types

import (
	"context"
)

// RunStore persists run transitions and answers queries about run outcomes.
type RunStore interface {
	Append(ctx context.Context, t *Transition) error
	Get(ctx context.Context, id RunID) (*RunRecord, error)
	List(ctx context.Context, limit int) ([]*RunRecord, error)
	History(ctx context.Context, id RunID) ([]*Transition, error)
}
