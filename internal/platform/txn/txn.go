// Package txn carries a transaction scope through a context so that several
// repository writes commit or roll back together, and so that side effects
// (audit, notifications) run only once the outermost transaction commits.
package txn

import (
	"context"
	"sync"
)

// Runner executes fn as one atomic unit. Calls made with a context that
// already carries a scope join the outer transaction.
type Runner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type scopeKey struct{}

// Scope collects rollback and after-commit actions for one transaction.
type Scope struct {
	mu          sync.Mutex
	undo        []func()
	afterCommit []func()
}

// Begin returns a child context carrying a fresh scope.
func Begin(ctx context.Context) (context.Context, *Scope) {
	s := &Scope{}
	return context.WithValue(ctx, scopeKey{}, s), s
}

// FromContext returns the active scope, or nil outside a transaction.
func FromContext(ctx context.Context) *Scope {
	s, _ := ctx.Value(scopeKey{}).(*Scope)
	return s
}

// InTx reports whether ctx carries a transaction scope.
func InTx(ctx context.Context) bool {
	return FromContext(ctx) != nil
}

// OnRollback registers an undo action. Undo actions run in reverse order of
// registration. Outside a transaction the action is dropped.
func OnRollback(ctx context.Context, fn func()) {
	if s := FromContext(ctx); s != nil {
		s.mu.Lock()
		s.undo = append(s.undo, fn)
		s.mu.Unlock()
	}
}

// AfterCommit registers fn to run after the outermost transaction commits.
// Outside a transaction fn runs immediately.
func AfterCommit(ctx context.Context, fn func()) {
	s := FromContext(ctx)
	if s == nil {
		fn()
		return
	}
	s.mu.Lock()
	s.afterCommit = append(s.afterCommit, fn)
	s.mu.Unlock()
}

// Rollback runs the undo journal newest-first and discards pending hooks.
func (s *Scope) Rollback() {
	s.mu.Lock()
	undo := s.undo
	s.undo = nil
	s.afterCommit = nil
	s.mu.Unlock()
	for i := len(undo) - 1; i >= 0; i-- {
		undo[i]()
	}
}

// Committed discards the undo journal and runs the after-commit hooks.
func (s *Scope) Committed() {
	s.mu.Lock()
	hooks := s.afterCommit
	s.undo = nil
	s.afterCommit = nil
	s.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

// MemoryRunner serializes transactions over in-memory repositories. Writes
// are applied eagerly and undone from the scope's journal on failure.
type MemoryRunner struct {
	mu sync.Mutex
}

// NewMemoryRunner creates a MemoryRunner.
func NewMemoryRunner() *MemoryRunner {
	return &MemoryRunner{}
}

// WithinTx implements Runner.
func (r *MemoryRunner) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if InTx(ctx) {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	txCtx, scope := Begin(ctx)
	err := fn(txCtx)
	if err == nil {
		// A caller-imposed deadline that expired mid-operation must leave
		// state unchanged.
		err = ctx.Err()
	}
	if err != nil {
		scope.Rollback()
		r.mu.Unlock()
		return err
	}
	r.mu.Unlock()

	scope.Committed()
	return nil
}
