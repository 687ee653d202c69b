package binding

import (
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/go-playground/validator/v10"
	"github.com/jensneuse/abstractlogger"
)

// DefaultURL is used when neither the provider nor the binding sets a URL.
const DefaultURL = "/graphql"

// Config is the provider-wide configuration shared by every binding. Data
// and errors reach the global callbacks untyped.
type Config struct {
	// URL of the GraphQL endpoint.
	URL string `validate:"omitempty,uri"`

	// HTTPClient sends requests. Set a cookie jar on it to send cookies
	// with every request. Defaults to http.DefaultClient.
	HTTPClient *http.Client

	// OnInit is called right before a request is sent, before the local
	// OnInit. Use it to add headers such as authorization.
	OnInit func(req *http.Request)

	OnSuccess   func(data any, status int, header http.Header)
	OnError     func(errors any, status int, header http.Header)
	OnException func(err error)
}

// Local is the per-binding configuration. Every field that is set takes
// precedence over the provider's Config.
type Local[R, E, V any] struct {
	URL        string
	HTTPClient *http.Client
	OnInit     func(req *http.Request)

	OnSuccess   func(data R, status int, header http.Header)
	OnError     func(errors []E, status int, header http.Header)
	OnException func(err error)

	// AutoSubmit, when set at bind time, submits once with these
	// variables before Bind returns. Bindings of operations without
	// variables use Enabled.
	AutoSubmit *V
}

type local[R, E any] struct {
	url         string
	httpClient  *http.Client
	onInit      func(*http.Request)
	onSuccess   func(R, int, http.Header)
	onError     func([]E, int, http.Header)
	onException func(error)
}

func toLocal[R, E, V any](cfg Local[R, E, V]) local[R, E] {
	return local[R, E]{
		url:         cfg.URL,
		httpClient:  cfg.HTTPClient,
		onInit:      cfg.OnInit,
		onSuccess:   cfg.OnSuccess,
		onError:     cfg.OnError,
		onException: cfg.OnException,
	}
}

func (l local[R, E]) endpoint(global Config) string {
	switch {
	case l.url != "":
		return l.url
	case global.URL != "":
		return global.URL
	}
	return DefaultURL
}

func (l local[R, E]) client(global Config) *http.Client {
	switch {
	case l.httpClient != nil:
		return l.httpClient
	case global.HTTPClient != nil:
		return global.HTTPClient
	}
	return http.DefaultClient
}

// Provider holds the configuration inherited by bindings. It is safe for
// concurrent use; SetConfig affects submits made after it returns.
type Provider struct {
	mu  sync.RWMutex
	cfg Config
	log abstractlogger.Logger
}

type Option func(*Provider)

// WithLogger sets the logger. Defaults to abstractlogger.NoopLogger.
func WithLogger(l abstractlogger.Logger) Option { return func(p *Provider) { p.log = l } }

// WithHTTPClient overrides Config.HTTPClient.
func WithHTTPClient(c *http.Client) Option { return func(p *Provider) { p.cfg.HTTPClient = c } }

var validate = validator.New()

// NewProvider validates cfg and returns a Provider holding it.
func NewProvider(cfg Config, opts ...Option) (*Provider, error) {
	p := &Provider{cfg: cfg, log: abstractlogger.NoopLogger}
	for _, f := range opts {
		f(p)
	}
	if err := validate.Struct(p.cfg); err != nil {
		return nil, fmt.Errorf("binding: invalid config: %w", err)
	}
	return p, nil
}

// MustProvider is like NewProvider but panics on an invalid config.
func MustProvider(cfg Config, opts ...Option) *Provider {
	p, err := NewProvider(cfg, opts...)
	if err != nil {
		panic(err)
	}
	return p
}

// Config returns a copy of the current configuration.
func (p *Provider) Config() Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

// SetConfig replaces the configuration.
func (p *Provider) SetConfig(cfg Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("binding: invalid config: %w", err)
	}
	p.mu.Lock()
	p.cfg = cfg
	p.mu.Unlock()
	return nil
}

func (p *Provider) logger() abstractlogger.Logger {
	if p.log == nil {
		return abstractlogger.NoopLogger
	}
	return p.log
}

var defaultProvider atomic.Pointer[Provider]

// SetDefault installs p as the provider used by bindings created with a nil
// Provider. Passing nil restores an empty provider.
func SetDefault(p *Provider) { defaultProvider.Store(p) }

// Default returns the process-wide provider.
func Default() *Provider {
	if p := defaultProvider.Load(); p != nil {
		return p
	}
	return emptyProvider
}

var emptyProvider = &Provider{log: abstractlogger.NoopLogger}
