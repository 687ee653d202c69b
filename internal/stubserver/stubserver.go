// Package stubserver serves canned GraphQL responses over HTTP. Responses
// are keyed by the root field of the incoming operation.
package stubserver

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	language "github.com/hanpama/gqlbind/internal/language"
)

// Response is one canned answer.
type Response struct {
	// Status defaults to 200.
	Status int
	// Data is written at data.<root field> unless Errors is set and
	// Data is nil.
	Data   any
	Errors []*language.Error
	Header http.Header
	// Body, when set, is written verbatim instead of a JSON envelope.
	Body []byte
	// Delay postpones the answer. A canceled request stops waiting.
	Delay time.Duration
}

// Request is a request the handler received.
type Request struct {
	Query     string
	Variables map[string]any
	Header    http.Header
	Field     string
	Operation language.Operation
}

// Handler is an http.Handler answering GraphQL operations from queued
// responses. For every root field the queued responses are used in order
// and the last one repeats.
type Handler struct {
	opt Options

	mu        sync.Mutex
	responses map[string][]Response
	requests  []Request
}

type Options struct {
	// Pretty enables indented JSON responses (useful for dev).
	Pretty bool

	// MaxBodyBytes limits the size of the request body. 0 means unlimited.
	MaxBodyBytes int64

	// CORS configuration. If AllowedOrigins is empty, CORS is disabled.
	CORS CORSOptions
}

type Option func(*Options)

func WithPretty() Option              { return func(o *Options) { o.Pretty = true } }
func WithMaxBodyBytes(n int64) Option { return func(o *Options) { o.MaxBodyBytes = n } }
func WithCORS(origins ...string) Option {
	return func(o *Options) { o.CORS.AllowedOrigins = origins }
}

// CORSOptions holds simple CORS settings.
type CORSOptions struct {
	AllowedOrigins []string
}

func New(opts ...Option) *Handler {
	var op Options
	for _, f := range opts {
		f(&op)
	}
	return &Handler{opt: op, responses: map[string][]Response{}}
}

// Set queues responses for the root field name, replacing earlier ones.
func (h *Handler) Set(field string, rs ...Response) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.responses[field] = append([]Response(nil), rs...)
}

// Requests returns the requests received so far.
func (h *Handler) Requests() []Request {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Request(nil), h.requests...)
}

func (h *Handler) next(field string) (Response, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rs := h.responses[field]
	if len(rs) == 0 {
		return Response{}, false
	}
	r := rs[0]
	if len(rs) > 1 {
		h.responses[field] = rs[1:]
	}
	return r, true
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		if len(h.opt.CORS.AllowedOrigins) > 0 {
			setCORSHeaders(w, r, h.opt.CORS)
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse(&language.Error{Message: "method not allowed"}), h.opt.Pretty)
		return
	}
	if len(h.opt.CORS.AllowedOrigins) > 0 {
		setCORSHeaders(w, r, h.opt.CORS)
	}

	req, berr := parseRequest(r, h.opt.MaxBodyBytes)
	if berr != nil {
		status := http.StatusBadRequest
		if berr.Message == errBodyTooLargeMessage {
			status = http.StatusRequestEntityTooLarge
		}
		writeJSON(w, status, errorResponse(berr), h.opt.Pretty)
		return
	}

	doc, err := language.ParseQuery(req.Query)
	if err != nil {
		if ge, ok := err.(*language.Error); ok {
			writeJSON(w, http.StatusOK, errorResponse(ge), h.opt.Pretty)
			return
		}
		writeJSON(w, http.StatusOK, errorResponse(&language.Error{Message: err.Error()}), h.opt.Pretty)
		return
	}
	op, field, ok := language.RootField(doc)
	if !ok {
		writeJSON(w, http.StatusOK, errorResponse(&language.Error{Message: "no root field"}), h.opt.Pretty)
		return
	}

	h.mu.Lock()
	h.requests = append(h.requests, Request{
		Query:     req.Query,
		Variables: req.Variables,
		Header:    r.Header.Clone(),
		Field:     field.Name,
		Operation: op,
	})
	h.mu.Unlock()

	res, ok := h.next(field.Name)
	if !ok {
		writeJSON(w, http.StatusOK, errorResponse(&language.Error{Message: "no stub for field " + field.Name}), h.opt.Pretty)
		return
	}
	if res.Delay > 0 {
		t := time.NewTimer(res.Delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-r.Context().Done():
			return
		}
	}

	for k, vs := range res.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	status := res.Status
	if status == 0 {
		status = http.StatusOK
	}
	if res.Body != nil {
		w.WriteHeader(status)
		_, _ = w.Write(res.Body)
		return
	}
	out := specResult{Errors: res.Errors}
	if res.Data != nil || len(res.Errors) == 0 {
		out.Data = map[string]any{field.Name: res.Data}
	}
	writeJSON(w, status, out, h.opt.Pretty)
}

// ------------------ Request parsing ------------------

type GraphQLRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
}

func parseRequest(r *http.Request, maxBody int64) (GraphQLRequest, *language.Error) {
	ct := r.Header.Get("Content-Type")
	if ct != "" && ct != "application/json" && !strings.HasPrefix(ct, "application/json;") {
		return GraphQLRequest{}, &language.Error{Message: "unsupported Content-Type"}
	}
	reader := io.Reader(r.Body)
	if maxBody > 0 {
		reader = io.LimitReader(r.Body, maxBody+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return GraphQLRequest{}, &language.Error{Message: "failed to read body"}
	}
	defer r.Body.Close()
	if maxBody > 0 && int64(len(body)) > maxBody {
		return GraphQLRequest{}, &language.Error{Message: errBodyTooLargeMessage}
	}
	var req GraphQLRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return GraphQLRequest{}, &language.Error{Message: "invalid JSON"}
	}
	if req.Query == "" {
		return GraphQLRequest{}, &language.Error{Message: "missing 'query'"}
	}
	return req, nil
}

// ------------------ Response formatting ------------------

type specResult struct {
	Data   any               `json:"data"`
	Errors []*language.Error `json:"errors,omitempty"`
}

func errorResponse(err *language.Error) specResult {
	return specResult{Errors: []*language.Error{err}}
}

func writeJSON(w http.ResponseWriter, status int, v any, pretty bool) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	_ = enc.Encode(v)
}

const errBodyTooLargeMessage = "body too large"

func setCORSHeaders(w http.ResponseWriter, r *http.Request, opts CORSOptions) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	allowed := false
	for _, o := range opts.AllowedOrigins {
		if o == "*" || o == origin {
			allowed = true
			break
		}
	}
	if !allowed {
		return
	}
	if contains(opts.AllowedOrigins, "*") {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	} else {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Add("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Credentials", "true")
	}
	if r.Method == http.MethodOptions {
		if hdr := r.Header.Get("Access-Control-Request-Headers"); hdr != "" {
			w.Header().Set("Access-Control-Allow-Headers", hdr)
		}
		w.Header().Set("Access-Control-Allow-Methods", "POST,OPTIONS")
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
