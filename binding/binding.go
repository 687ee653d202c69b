// Package binding runs GraphQL operations built by package query and keeps
// the state of the latest request for one consumer.
//
// A binding is created with Bind (operations with variables) or BindAction
// (operations without), used through Submit and Abort, observed through
// State, Subscribe and Wait, and torn down with Dispose. After Dispose no
// callback runs and the state never changes again, even if a request that
// was already sent resolves later.
//
// Submitting while a request is in flight cancels it; its response is
// discarded. Callbacks of the provider's Config run before those of the
// binding's Local config, and both run before the new state is committed.
package binding

import (
	"context"
	"reflect"

	"github.com/hanpama/gqlbind/query"
)

// Enabled is the AutoSubmit value for operations without variables.
var Enabled = &query.NoVariables{}

// Binding binds an operation with variables of type V.
type Binding[R, V, E any] struct {
	m *machine[R, E]
}

// Bind creates a binding for d. A nil p uses Default(). If cfg.AutoSubmit
// is set the first request is already in flight when Bind returns.
func Bind[R, V, E any](p *Provider, d query.Descriptor[R, V, E], cfg Local[R, E, V]) *Binding[R, V, E] {
	return BindContext(context.Background(), p, d, cfg)
}

// BindContext is like Bind; requests are sent with contexts derived from
// ctx.
func BindContext[R, V, E any](ctx context.Context, p *Provider, d query.Descriptor[R, V, E], cfg Local[R, E, V]) *Binding[R, V, E] {
	b := &Binding[R, V, E]{m: newMachine(ctx, p, string(d.Operation()), d.Name(), d.Document(), toLocal(cfg), cfg.AutoSubmit != nil)}
	if cfg.AutoSubmit != nil {
		b.Submit(*cfg.AutoSubmit)
	}
	return b
}

// Submit sends the operation with vars, canceling any request in flight.
// It does not block. Submit after Dispose does nothing.
func (b *Binding[R, V, E]) Submit(vars V) {
	b.m.submit(variables(vars))
}

// variables returns the value sent as "variables". NoVariables and nil
// pointers or maps are sent as no variables at all.
func variables(vars any) any {
	if _, ok := vars.(query.NoVariables); ok {
		return nil
	}
	switch rv := reflect.ValueOf(vars); rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
	}
	return vars
}

// Abort cancels the request in flight, if any, and clears Loading. The
// last resolved state is kept.
func (b *Binding[R, V, E]) Abort() { b.m.abort() }

// State returns the current snapshot.
func (b *Binding[R, V, E]) State() State[R, E] { return b.m.snapshot() }

// Subscribe registers fn to be called with every new snapshot. Snapshots
// are delivered in the order they were committed, one at a time.
func (b *Binding[R, V, E]) Subscribe(fn func(State[R, E])) (unsubscribe func()) {
	return b.m.subscribe(fn)
}

// Wait blocks until no request is in flight and returns the state.
func (b *Binding[R, V, E]) Wait(ctx context.Context) (State[R, E], error) { return b.m.wait(ctx) }

// Configure replaces the local configuration for later submits.
// AutoSubmit is ignored.
func (b *Binding[R, V, E]) Configure(cfg Local[R, E, V]) { b.m.configure(toLocal(cfg)) }

// Dispose aborts the request in flight and disables the binding for good.
func (b *Binding[R, V, E]) Dispose() { b.m.dispose() }

// Action binds an operation without variables.
type Action[R, E any] struct {
	m *machine[R, E]
}

// BindAction creates a binding for d. A nil p uses Default(). Setting
// cfg.AutoSubmit (to Enabled) submits once before BindAction returns.
func BindAction[R, E any](p *Provider, d query.Descriptor[R, query.NoVariables, E], cfg Local[R, E, query.NoVariables]) *Action[R, E] {
	return BindActionContext(context.Background(), p, d, cfg)
}

// BindActionContext is like BindAction with a base context for requests.
func BindActionContext[R, E any](ctx context.Context, p *Provider, d query.Descriptor[R, query.NoVariables, E], cfg Local[R, E, query.NoVariables]) *Action[R, E] {
	a := &Action[R, E]{m: newMachine(ctx, p, string(d.Operation()), d.Name(), d.Document(), toLocal(cfg), cfg.AutoSubmit != nil)}
	if cfg.AutoSubmit != nil {
		a.Submit()
	}
	return a
}

// Submit sends the operation, canceling any request in flight.
func (a *Action[R, E]) Submit() { a.m.submit(nil) }

func (a *Action[R, E]) Abort() { a.m.abort() }

func (a *Action[R, E]) State() State[R, E] { return a.m.snapshot() }

func (a *Action[R, E]) Subscribe(fn func(State[R, E])) (unsubscribe func()) {
	return a.m.subscribe(fn)
}

func (a *Action[R, E]) Wait(ctx context.Context) (State[R, E], error) { return a.m.wait(ctx) }

func (a *Action[R, E]) Configure(cfg Local[R, E, query.NoVariables]) {
	a.m.configure(toLocal(cfg))
}

func (a *Action[R, E]) Dispose() { a.m.dispose() }

// Use binds d for the duration of fn and disposes the binding on every
// exit path, including panics.
func Use[R, V, E any](ctx context.Context, p *Provider, d query.Descriptor[R, V, E], cfg Local[R, E, V], fn func(*Binding[R, V, E]) error) error {
	b := BindContext(ctx, p, d, cfg)
	defer b.Dispose()
	return fn(b)
}

// UseAction is Use for operations without variables.
func UseAction[R, E any](ctx context.Context, p *Provider, d query.Descriptor[R, query.NoVariables, E], cfg Local[R, E, query.NoVariables], fn func(*Action[R, E]) error) error {
	a := BindActionContext(ctx, p, d, cfg)
	defer a.Dispose()
	return fn(a)
}
