// internal/state/ledger.go
package state

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/user/ticketdigest/internal/types"
)

// Ledger is a JSONL-backed append-only run ledger.
// Transitions are stored per run in runs/<runID>/transitions.jsonl.
type Ledger struct {
	root  string
	mu    sync.Mutex
	locks map[types.RunID]*sync.Mutex
}

// NewLedger creates a new file-backed Ledger rooted at the given directory.
func NewLedger(root string) *Ledger {
	return &Ledger{
		root:  root,
		locks: make(map[types.RunID]*sync.Mutex),
	}
}

// getLock returns the per-run mutex, creating one if it doesn't exist.
func (l *Ledger) getLock(id types.RunID) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	if lock, ok := l.locks[id]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	l.locks[id] = lock
	return lock
}

func (l *Ledger) runsDir() string {
	return filepath.Join(l.root, "runs")
}

func (l *Ledger) transitionsPath(id types.RunID) string {
	return filepath.Join(l.runsDir(), string(id), "transitions.jsonl")
}

// read loads every transition of a run. Caller must hold the run lock.
func (l *Ledger) read(id types.RunID) ([]*types.Transition, error) {
	f, err := os.Open(l.transitionsPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open transitions file: %w", err)
	}
	defer f.Close()

	var out []*types.Transition
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var t types.Transition
		if err := json.Unmarshal(scanner.Bytes(), &t); err != nil {
			return nil, fmt.Errorf("unmarshal transition: %w", err)
		}
		out = append(out, &t)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan transitions file: %w", err)
	}
	return out, nil
}

// Append records a transition with an auto-incremented sequence number.
// Nothing may follow a terminal transition.
func (l *Ledger) Append(_ context.Context, t *types.Transition) error {
	if t.RunID == "" {
		return fmt.Errorf("append transition: empty run id")
	}
	lock := l.getLock(t.RunID)
	lock.Lock()
	defer lock.Unlock()

	dir := filepath.Dir(l.transitionsPath(t.RunID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create run dir: %w", err)
	}

	existing, err := l.read(t.RunID)
	if err != nil {
		return err
	}
	if n := len(existing); n > 0 && existing[n-1].State.Terminal() {
		return fmt.Errorf("append transition: run %s already %s", t.RunID, existing[n-1].State)
	}
	t.Seq = int64(len(existing)) + 1

	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal transition: %w", err)
	}

	f, err := os.OpenFile(l.transitionsPath(t.RunID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open transitions file: %w", err)
	}
	defer f.Close()

	data = append(data, '\n')
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write transition: %w", err)
	}
	return nil
}

// History returns every transition of a run in order.
func (l *Ledger) History(_ context.Context, id types.RunID) ([]*types.Transition, error) {
	lock := l.getLock(id)
	lock.Lock()
	defer lock.Unlock()

	ts, err := l.read(id)
	if err != nil {
		return nil, err
	}
	if len(ts) == 0 {
		return nil, types.Wrap(types.ErrNotFound, "run "+string(id), nil)
	}
	return ts, nil
}

// Get folds a run's transitions into its current record.
func (l *Ledger) Get(ctx context.Context, id types.RunID) (*types.RunRecord, error) {
	ts, err := l.History(ctx, id)
	if err != nil {
		return nil, err
	}
	return Fold(ts), nil
}

// List returns up to limit runs, most recently created first. A limit of
// zero or less returns every run.
func (l *Ledger) List(ctx context.Context, limit int) ([]*types.RunRecord, error) {
	entries, err := os.ReadDir(l.runsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return []*types.RunRecord{}, nil
		}
		return nil, fmt.Errorf("read runs dir: %w", err)
	}

	records := make([]*types.RunRecord, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		rec, err := l.Get(ctx, types.RunID(e.Name()))
		if err != nil {
			continue
		}
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].ID > records[j].ID
		}
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// Fold builds a RunRecord from transitions in sequence order.
func Fold(ts []*types.Transition) *types.RunRecord {
	rec := &types.RunRecord{}
	for i, t := range ts {
		if i == 0 {
			rec.ID = t.RunID
			rec.CreatedAt = t.At
		}
		if t.TicketID != 0 {
			rec.TicketID = t.TicketID
		}
		if t.Source != "" {
			rec.Source = t.Source
		}
		if t.Key != "" {
			rec.StorageKey = t.Key
		}
		if t.Renewals > rec.Renewals {
			rec.Renewals = t.Renewals
		}
		rec.State = t.State
		rec.UpdatedAt = t.At
		if t.State == types.StateFailed {
			rec.FailedStage = t.Stage
			rec.Reason = t.Reason
			rec.Error = t.Error
		}
	}
	return rec
}
