package memory

import "context"

type txContextKey struct{}

// journal collects the undo steps of the writes made under one WithinTx call.
type journal struct {
	undo []func()
}

// WithinTx runs fn and, when it fails, reverts the interaction log entries and
// message transitions fn made through the context it receives. Inside an
// existing call fn joins the outer journal.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txContextKey{}).(*journal); ok {
		return fn(ctx)
	}

	j := &journal{}
	if err := fn(context.WithValue(ctx, txContextKey{}, j)); err != nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i := len(j.undo) - 1; i >= 0; i-- {
			j.undo[i]()
		}
		return err
	}
	return nil
}

// record registers an undo step for the journal bound to ctx. The caller
// holds s.mu.
func record(ctx context.Context, undo func()) {
	if j, ok := ctx.Value(txContextKey{}).(*journal); ok {
		j.undo = append(j.undo, undo)
	}
}
