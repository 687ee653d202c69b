package binding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/jensneuse/abstractlogger"
	"github.com/tidwall/gjson"

	eventbus "github.com/hanpama/gqlbind/internal/eventbus"
	events "github.com/hanpama/gqlbind/internal/events"
	reqid "github.com/hanpama/gqlbind/internal/reqid"
)

// machine is the request state machine behind one binding.
//
// Every mutation happens under mu. gen identifies the current request: it
// changes on every submit, abort and dispose, and a request only commits
// if its gen is still current and the machine is mounted.
type machine[R, E any] struct {
	provider *Provider
	log      abstractlogger.Logger
	base     context.Context

	op       string
	name     string
	document string

	mu        sync.Mutex
	local     local[R, E]
	state     State[R, E]
	gen       uint64
	cancel    context.CancelCauseFunc
	reqCtx    context.Context
	idle      chan struct{} // nil when nothing is in flight
	mounted   bool
	listeners map[uint64]func(State[R, E])
	nextID    uint64

	// pending holds committed snapshots not yet delivered. One goroutine
	// at a time drains it, so listeners see snapshots in commit order.
	pending  []State[R, E]
	draining bool
}

func newMachine[R, E any](ctx context.Context, p *Provider, op, name, document string, l local[R, E], loading bool) *machine[R, E] {
	if p == nil {
		p = Default()
	}
	return &machine[R, E]{
		provider:  p,
		log:       p.logger(),
		base:      ctx,
		op:        op,
		name:      name,
		document:  document,
		local:     l,
		state:     State[R, E]{Tag: Empty, Loading: loading},
		mounted:   true,
		listeners: map[uint64]func(State[R, E]){},
	}
}

type requestBody struct {
	Query     string `json:"query"`
	Variables any    `json:"variables,omitempty"`
}

// outcome is the resolution of one request before it is committed.
type outcome[R, E any] struct {
	tag    Tag
	data   R
	errs   []E
	err    error
	status int
	header http.Header
}

func (m *machine[R, E]) submit(vars any) {
	m.mu.Lock()
	if !m.mounted {
		m.mu.Unlock()
		return
	}
	if m.cancel != nil {
		m.cancel(ErrSuperseded)
		m.log.Debug("request superseded", abstractlogger.String("operation", m.name))
	}
	ctx, cancel := context.WithCancelCause(m.base)
	ctx, _ = reqid.NewContext(ctx)
	m.gen++
	gen := m.gen
	m.cancel = cancel
	m.reqCtx = ctx
	if m.idle == nil {
		m.idle = make(chan struct{})
	}
	m.state.Loading = true
	global := m.provider.Config()
	l := m.local
	m.pending = append(m.pending, m.state)
	m.mu.Unlock()

	go m.run(ctx, gen, vars, global, l)
	m.drain()
}

func (m *machine[R, E]) run(ctx context.Context, gen uint64, vars any, global Config, l local[R, E]) {
	url := l.endpoint(global)
	start := time.Now()
	eventbus.Publish(ctx, events.ClientRequestStart{URL: url, OperationName: m.name, OperationType: m.op})

	out := m.do(ctx, url, vars, global, l)

	finish := events.ClientRequestFinish{
		URL:           url,
		OperationName: m.name,
		OperationType: m.op,
		Status:        out.status,
		Outcome:       out.tag.String(),
		Err:           out.err,
		Duration:      time.Since(start),
	}
	if canceled(ctx) {
		finish.Outcome = "canceled"
		finish.Err = context.Cause(ctx)
		eventbus.Publish(ctx, finish)
		if m.base.Err() != nil {
			m.release(gen)
		}
		return
	}
	eventbus.Publish(ctx, finish)
	if out.tag == Exception {
		m.log.Error("graphql request failed",
			abstractlogger.String("operation", m.name),
			abstractlogger.String("url", url),
			abstractlogger.Error(out.err))
	}
	m.resolve(gen, out, global, l)
}

func (m *machine[R, E]) do(ctx context.Context, url string, vars any, global Config, l local[R, E]) (out outcome[R, E]) {
	out.tag = Exception
	body, err := json.Marshal(requestBody{Query: m.document, Variables: vars})
	if err != nil {
		out.err = fmt.Errorf("encode variables: %w", err)
		return out
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		out.err = err
		return out
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if global.OnInit != nil {
		global.OnInit(req)
	}
	if l.onInit != nil {
		l.onInit(req)
	}

	resp, err := l.client(global).Do(req)
	if err != nil {
		out.err = err
		return out
	}
	defer resp.Body.Close()
	out.status = resp.StatusCode
	out.header = resp.Header

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		out.err = err
		return out
	}
	if !gjson.ValidBytes(raw) {
		out.err = fmt.Errorf("decode response: invalid JSON body (status %d)", resp.StatusCode)
		return out
	}

	errs := gjson.GetBytes(raw, "errors")
	hasErrors := errs.Exists() && errs.Type != gjson.Null
	if resp.StatusCode < 200 || resp.StatusCode > 299 || hasErrors {
		if errs.IsArray() {
			if err := json.Unmarshal([]byte(errs.Raw), &out.errs); err != nil {
				out.err = fmt.Errorf("decode errors: %w", err)
				return out
			}
		}
		out.tag = Error
		return out
	}

	data := gjson.GetBytes(raw, "data")
	if !data.IsObject() {
		out.err = ErrNoData
		return out
	}
	if field := data.Get(m.name); field.Exists() && field.Type != gjson.Null {
		if err := json.Unmarshal([]byte(field.Raw), &out.data); err != nil {
			out.err = fmt.Errorf("decode data.%s: %w", m.name, err)
			return out
		}
	}
	out.tag = Success
	return out
}

// resolve runs the callbacks for out, global first, and then commits it.
// Every callback and the commit are skipped once the request is no longer
// current, so a callback that disposes or resubmits stops the rest.
func (m *machine[R, E]) resolve(gen uint64, out outcome[R, E], global Config, l local[R, E]) {
	call := func(fn func()) {
		if m.current(gen) {
			fn()
		}
	}

	var next State[R, E]
	switch out.tag {
	case Success:
		if global.OnSuccess != nil {
			call(func() { global.OnSuccess(out.data, out.status, out.header) })
		}
		if l.onSuccess != nil {
			call(func() { l.onSuccess(out.data, out.status, out.header) })
		}
		next = successState[R, E](out.data, out.status, out.header)
	case Error:
		if global.OnError != nil {
			call(func() { global.OnError(out.errs, out.status, out.header) })
		}
		if l.onError != nil {
			call(func() { l.onError(out.errs, out.status, out.header) })
		}
		next = errorState[R](out.errs, out.status, out.header)
	default:
		if global.OnException != nil {
			call(func() { global.OnException(out.err) })
		}
		if l.onException != nil {
			call(func() { l.onException(out.err) })
		}
		next = exceptionState[R, E](out.err)
	}

	m.mu.Lock()
	if gen != m.gen || !m.mounted {
		m.mu.Unlock()
		return
	}
	m.state = next
	idle := m.finishLocked(nil)
	m.pending = append(m.pending, m.state)
	m.mu.Unlock()

	defer closeIdle(idle)
	m.drain()
}

// release ends request gen without a transition. It is used when the base
// context is canceled by the owner rather than through abort or dispose.
func (m *machine[R, E]) release(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || !m.mounted {
		m.mu.Unlock()
		return
	}
	idle := m.finishLocked(nil)
	m.pending = append(m.pending, m.state)
	m.mu.Unlock()

	defer closeIdle(idle)
	m.drain()
}

func (m *machine[R, E]) current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.gen && m.mounted
}

// finishLocked releases the in-flight request, if any. The returned
// channel must be closed with closeIdle once the new state is delivered.
func (m *machine[R, E]) finishLocked(cause error) (idle chan struct{}) {
	if m.cancel != nil {
		m.cancel(cause)
		m.cancel = nil
	}
	m.reqCtx = nil
	m.state.Loading = false
	idle, m.idle = m.idle, nil
	return idle
}

func closeIdle(idle chan struct{}) {
	if idle != nil {
		close(idle)
	}
}

func (m *machine[R, E]) abort() {
	m.mu.Lock()
	if m.cancel == nil {
		m.mu.Unlock()
		return
	}
	ctx := m.reqCtx
	m.gen++
	idle := m.finishLocked(ErrAborted)
	m.pending = append(m.pending, m.state)
	m.mu.Unlock()

	m.log.Debug("request aborted", abstractlogger.String("operation", m.name))
	eventbus.Publish(ctx, events.BindingAbort{OperationName: m.name})
	defer closeIdle(idle)
	m.drain()
}

func (m *machine[R, E]) dispose() {
	m.mu.Lock()
	if !m.mounted {
		m.mu.Unlock()
		return
	}
	m.mounted = false
	ctx := m.reqCtx
	inFlight := m.cancel != nil
	var idle chan struct{}
	if inFlight {
		m.gen++
		idle = m.finishLocked(ErrDisposed)
	}
	m.listeners = nil
	m.pending = nil
	m.mu.Unlock()
	closeIdle(idle)

	if ctx == nil {
		ctx = m.base
	}
	eventbus.Publish(ctx, events.BindingDispose{OperationName: m.name, InFlight: inFlight})
}

func (m *machine[R, E]) configure(l local[R, E]) {
	m.mu.Lock()
	m.local = l
	m.mu.Unlock()
}

func (m *machine[R, E]) snapshot() State[R, E] {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// drain delivers pending snapshots in order. If another goroutine is
// already draining, it delivers them instead; a listener that submits
// therefore sees its own Loading snapshot after the one it was called with.
func (m *machine[R, E]) drain() {
	m.mu.Lock()
	if m.draining {
		m.mu.Unlock()
		return
	}
	m.draining = true
	defer func() {
		if r := recover(); r != nil {
			m.mu.Lock()
			m.draining = false
			m.mu.Unlock()
			panic(r)
		}
	}()
	for len(m.pending) > 0 {
		s := m.pending[0]
		m.pending = m.pending[1:]
		ls := make([]func(State[R, E]), 0, len(m.listeners))
		for _, fn := range m.listeners {
			ls = append(ls, fn)
		}
		m.mu.Unlock()
		for _, fn := range ls {
			fn(s)
		}
		m.mu.Lock()
	}
	m.draining = false
	m.mu.Unlock()
}

func (m *machine[R, E]) subscribe(fn func(State[R, E])) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.mounted {
		return func() {}
	}
	m.nextID++
	id := m.nextID
	m.listeners[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}

// wait blocks until no request is in flight or ctx is done.
func (m *machine[R, E]) wait(ctx context.Context) (State[R, E], error) {
	m.mu.Lock()
	idle := m.idle
	m.mu.Unlock()
	if idle != nil {
		select {
		case <-idle:
		case <-ctx.Done():
			return m.snapshot(), ctx.Err()
		}
	}
	return m.snapshot(), nil
}
