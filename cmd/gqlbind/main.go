package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jensneuse/abstractlogger"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"go.uber.org/zap"

	"github.com/hanpama/gqlbind/binding"
	"github.com/hanpama/gqlbind/internal/eventbus"
	language "github.com/hanpama/gqlbind/internal/language"
	"github.com/hanpama/gqlbind/internal/otel"
	"github.com/hanpama/gqlbind/internal/stubserver"
	"github.com/hanpama/gqlbind/query"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root.Execute()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "gqlbind",
		Short:        "GraphQL client tools: assemble, run and stub single-field operations",
		SilenceUsage: true,
	}
	root.PersistentFlags().String("config", "", "Config file (yaml, json or toml)")
	root.PersistentFlags().Bool("debug", false, "Enable debug logging")
	root.AddCommand(newBuildCmd(), newRunCmd(), newStubCmd())
	return root
}

var validate = validator.New()

// load merges flags, GQLBIND_* environment variables and the optional
// config file into out and validates it.
func load(cmd *cobra.Command, out any) error {
	v := viper.New()
	v.SetEnvPrefix("GQLBIND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	if file, _ := cmd.Flags().GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
	}
	if err := v.Unmarshal(out); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return validate.Struct(out)
}

func newLogger(debug bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return cfg.Build()
}

// operationFlags describe the operation shared by build and run.
type operationFlags struct {
	Kind   string   `mapstructure:"kind" validate:"oneof=query mutation"`
	Field  string   `mapstructure:"field" validate:"required"`
	Select string   `mapstructure:"select"`
	Vars   []string `mapstructure:"var"`
}

func addOperationFlags(fs *pflag.FlagSet) {
	fs.String("kind", "query", "Operation kind: query or mutation")
	fs.String("field", "", "Root field name (required)")
	fs.String("select", "", `Selection in compact syntax, e.g. "name posts { id }"`)
	fs.StringArray("var", nil, "Variable declaration name=Type. Repeatable")
}

func (o operationFlags) operation() query.Operation {
	if o.Kind == "mutation" {
		return query.OpMutation
	}
	return query.OpQuery
}

func (o operationFlags) selection() (query.Selection, error) {
	if strings.TrimSpace(o.Select) == "" {
		return nil, nil
	}
	return query.ParseSelection(o.Select)
}

func (o operationFlags) variables() (query.Variables, error) {
	m := make(map[string]string, len(o.Vars))
	for _, decl := range o.Vars {
		name, typ, ok := strings.Cut(decl, "=")
		name, typ = strings.TrimSpace(name), strings.TrimSpace(typ)
		if !ok || name == "" || typ == "" {
			return nil, fmt.Errorf("invalid variable %q, want name=Type", decl)
		}
		if _, dup := m[name]; dup {
			return nil, fmt.Errorf("variable %q declared twice", name)
		}
		m[name] = typ
	}
	return query.VariablesFromMap(m), nil
}

// ------------------ build ------------------

func newBuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "build",
		Short:   "Print the document for a single-field operation",
		Example: `gqlbind build --field user --select "name posts { id }" --var id=String!`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var o operationFlags
			if err := load(cmd, &o); err != nil {
				return err
			}
			doc, err := o.document()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), doc)
			return nil
		},
	}
	addOperationFlags(cmd.Flags())
	return cmd
}

func (o operationFlags) document() (string, error) {
	sel, err := o.selection()
	if err != nil {
		return "", err
	}
	vars, err := o.variables()
	if err != nil {
		return "", err
	}
	doc := query.Assemble(o.operation(), o.Field, sel, vars)
	if err := language.CheckDocument(doc); err != nil {
		return "", fmt.Errorf("invalid document %q: %w", doc, err)
	}
	return doc, nil
}

// ------------------ run ------------------

type runFlags struct {
	Op operationFlags `mapstructure:",squash"`

	URL       string        `mapstructure:"url" validate:"required,url"`
	Variables string        `mapstructure:"variables"`
	Headers   []string      `mapstructure:"header"`
	Timeout   time.Duration `mapstructure:"timeout" validate:"gte=0"`
	Debug     bool          `mapstructure:"debug"`
	Otel      struct {
		Endpoint string `mapstructure:"endpoint"`
		Service  string `mapstructure:"service"`
	} `mapstructure:"otel"`
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Send one operation and print its terminal state as JSON",
		Example: `gqlbind run --url http://localhost:8080/graphql --field user --select "name" --var id=String! --variables '{"id":"1"}'`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var f runFlags
			if err := load(cmd, &f); err != nil {
				return err
			}
			return runOperation(cmd.Context(), f, cmd.OutOrStdout())
		},
	}
	fs := cmd.Flags()
	addOperationFlags(fs)
	fs.String("url", "", "Absolute GraphQL endpoint URL (required)")
	fs.String("variables", "", "Variables as a JSON object")
	fs.StringArray("header", nil, "Request header Name: value. Repeatable")
	fs.Duration("timeout", 10*time.Second, "Request timeout, e.g. 10s. 0 disables it")
	fs.String("otel.endpoint", "", "OTLP collector endpoint")
	fs.String("otel.service", "gqlbind", "OpenTelemetry service name")
	return cmd
}

type stateJSON struct {
	Tag    string           `json:"tag"`
	Status int              `json:"status,omitempty"`
	Data   any              `json:"data,omitempty"`
	Errors []gqlerror.Error `json:"errors,omitempty"`
	Error  string           `json:"error,omitempty"`
}

func runOperation(ctx context.Context, f runFlags, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	zl, err := newLogger(f.Debug)
	if err != nil {
		return err
	}
	defer zl.Sync() // nolint

	eventbus.Use(eventbus.New())
	defer eventbus.Use(nil)
	shutdown, err := otel.Setup(f.Otel.Endpoint, f.Otel.Service)
	if err != nil {
		return fmt.Errorf("otel setup: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	header, err := parseHeaders(f.Headers)
	if err != nil {
		return err
	}
	p, err := binding.NewProvider(binding.Config{
		URL: f.URL,
		OnInit: func(req *http.Request) {
			for k, vs := range header {
				req.Header[k] = append(req.Header[k], vs...)
			}
		},
	}, binding.WithLogger(abstractlogger.NewZapLogger(zl, abstractlogger.DebugLevel)))
	if err != nil {
		return err
	}

	sel, err := f.Op.selection()
	if err != nil {
		return err
	}
	vars, err := f.Op.variables()
	if err != nil {
		return err
	}
	// The timeout bounds the request only; waiting uses ctx so an expired
	// request is still reported as its exception state.
	reqCtx := ctx
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}

	var state binding.State[any, gqlerror.Error]
	if len(vars) == 0 {
		if f.Variables != "" {
			return errors.New("--variables needs at least one --var declaration")
		}
		d, err := build[query.NoVariables](f.Op, sel, vars)
		if err != nil {
			return err
		}
		state, err = submitAction(reqCtx, ctx, p, d)
		if err != nil {
			return err
		}
	} else {
		values := map[string]any{}
		if f.Variables != "" {
			if err := json.Unmarshal([]byte(f.Variables), &values); err != nil {
				return fmt.Errorf("decode --variables: %w", err)
			}
		}
		d, err := build[map[string]any](f.Op, sel, vars)
		if err != nil {
			return err
		}
		state, err = submitBinding(reqCtx, ctx, p, d, values)
		if err != nil {
			return err
		}
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(toJSON(state)); err != nil {
		return err
	}
	if state.Failed {
		return fmt.Errorf("%s %s ended with %s", f.Op.Kind, f.Op.Field, state.Tag)
	}
	return nil
}

func build[V any](o operationFlags, sel query.Selection, vars query.Variables) (query.Descriptor[any, V, gqlerror.Error], error) {
	f := query.New[any, gqlerror.Error, V]()
	if o.operation() == query.OpMutation {
		return f.Mutation(o.Field, sel, vars...)
	}
	return f.Query(o.Field, sel, vars...)
}

func submitAction(reqCtx, ctx context.Context, p *binding.Provider, d query.Descriptor[any, query.NoVariables, gqlerror.Error]) (binding.State[any, gqlerror.Error], error) {
	a := binding.BindActionContext(reqCtx, p, d, binding.Local[any, gqlerror.Error, query.NoVariables]{AutoSubmit: binding.Enabled})
	defer a.Dispose()
	return a.Wait(ctx)
}

func submitBinding(reqCtx, ctx context.Context, p *binding.Provider, d query.Descriptor[any, map[string]any, gqlerror.Error], values map[string]any) (binding.State[any, gqlerror.Error], error) {
	b := binding.BindContext(reqCtx, p, d, binding.Local[any, gqlerror.Error, map[string]any]{AutoSubmit: &values})
	defer b.Dispose()
	return b.Wait(ctx)
}

func toJSON(s binding.State[any, gqlerror.Error]) stateJSON {
	out := stateJSON{Tag: s.Tag.String(), Status: s.Status}
	switch s.Tag {
	case binding.Success:
		out.Data = s.Data
	case binding.Error:
		out.Errors = s.Errors
	case binding.Exception:
		out.Error = s.Err.Error()
	}
	return out
}

func parseHeaders(hs []string) (http.Header, error) {
	out := http.Header{}
	for _, h := range hs {
		k, v, ok := strings.Cut(h, ":")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid header %q, want Name: value", h)
		}
		out.Add(k, strings.TrimSpace(v))
	}
	return out, nil
}

// ------------------ stub ------------------

type stubFlags struct {
	Addr         string   `mapstructure:"addr" validate:"required"`
	Responses    string   `mapstructure:"responses" validate:"required"`
	Pretty       bool     `mapstructure:"pretty"`
	MaxBodyBytes int64    `mapstructure:"max-body-bytes" validate:"gte=0"`
	CORS         []string `mapstructure:"cors"`
	Debug        bool     `mapstructure:"debug"`
}

func newStubCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stub",
		Short: "Serve canned GraphQL responses keyed by root field",
		Long: `stub serves POST /graphql from a JSON file mapping root field names to
a list of responses. Responses are used in order; the last one repeats.

  {"user": [{"data": {"name": "ada"}}, {"status": 500, "errors": [{"message": "down"}]}]}`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var f stubFlags
			if err := load(cmd, &f); err != nil {
				return err
			}
			return serveStub(f)
		},
	}
	fs := cmd.Flags()
	fs.String("addr", ":8080", "HTTP listen address")
	fs.String("responses", "", "JSON file with canned responses (required)")
	fs.Bool("pretty", false, "Pretty-print JSON responses")
	fs.Int64("max-body-bytes", 0, "Request body limit. 0 means unlimited")
	fs.StringArray("cors", nil, "Allowed CORS origin. Repeatable")
	return cmd
}

type stubEntry struct {
	Status int               `json:"status"`
	Data   any               `json:"data"`
	Errors []*language.Error `json:"errors"`
	Header map[string]string `json:"header"`
	Delay  string            `json:"delay"`
}

func loadStub(path string, opts ...stubserver.Option) (*stubserver.Handler, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file map[string][]stubEntry
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	h := stubserver.New(opts...)
	for field, entries := range file {
		rs := make([]stubserver.Response, 0, len(entries))
		for i, e := range entries {
			r := stubserver.Response{Status: e.Status, Data: e.Data, Errors: e.Errors}
			if e.Delay != "" {
				if r.Delay, err = time.ParseDuration(e.Delay); err != nil {
					return nil, fmt.Errorf("%s[%d]: delay: %w", field, i, err)
				}
			}
			if len(e.Header) > 0 {
				r.Header = http.Header{}
				for k, v := range e.Header {
					r.Header.Set(k, v)
				}
			}
			rs = append(rs, r)
		}
		h.Set(field, rs...)
	}
	return h, nil
}

func serveStub(f stubFlags) error {
	zl, err := newLogger(f.Debug)
	if err != nil {
		return err
	}
	defer zl.Sync() // nolint

	var opts []stubserver.Option
	if f.Pretty {
		opts = append(opts, stubserver.WithPretty())
	}
	if f.MaxBodyBytes > 0 {
		opts = append(opts, stubserver.WithMaxBodyBytes(f.MaxBodyBytes))
	}
	if len(f.CORS) > 0 {
		opts = append(opts, stubserver.WithCORS(f.CORS...))
	}
	h, err := loadStub(f.Responses, opts...)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle(binding.DefaultURL, h)

	zl.Info("stub GraphQL server listening", zap.String("addr", f.Addr), zap.String("responses", f.Responses))
	return http.ListenAndServe(f.Addr, mux)
}
