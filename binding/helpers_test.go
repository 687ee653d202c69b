package binding

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	eventbus "github.com/hanpama/gqlbind/internal/eventbus"
	events "github.com/hanpama/gqlbind/internal/events"
	"github.com/hanpama/gqlbind/query"
	"github.com/vektah/gqlparser/v2/gqlerror"
)

type postDTO struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
	Hits  int    `json:"hits"`
}

type userDTO struct {
	Name  string    `json:"name"`
	Icon  string    `json:"icon"`
	Posts []postDTO `json:"posts"`
}

type userVars struct {
	ID string `json:"id"`
}

type userView struct {
	Name  string `json:"name"`
	Posts []struct {
		ID   int `json:"id"`
		Hits int `json:"hits"`
	} `json:"posts"`
}

var (
	userQuery = query.MustAs[userView](query.New[userDTO, gqlerror.Error, userVars]().MustQuery("user",
		query.Select(query.Leaf("name"), query.Object("posts", query.Leaf("id"), query.Leaf("hits"))),
		query.Var("id", "String!")))

	timeQuery = query.New[string, gqlerror.Error, query.NoVariables]().MustQuery("time", nil)
)

type roundTrip func(*http.Request) (*http.Response, error)

func (f roundTrip) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func clientFunc(f roundTrip) *http.Client { return &http.Client{Transport: f} }

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": {"application/json"}, "X-Server": {"stub"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

// finishEvents installs a fresh global bus for the test and returns a
// channel receiving every ClientRequestFinish.
func finishEvents(t *testing.T) <-chan events.ClientRequestFinish {
	t.Helper()
	bus := eventbus.New()
	eventbus.Use(bus)
	t.Cleanup(func() { eventbus.Use(nil) })
	ch := make(chan events.ClientRequestFinish, 16)
	eventbus.On(bus, func(_ context.Context, e events.ClientRequestFinish) { ch <- e })
	return ch
}

func waitFinish(t *testing.T, ch <-chan events.ClientRequestFinish) events.ClientRequestFinish {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(5 * time.Second):
		t.Fatal("request did not finish")
	}
	return events.ClientRequestFinish{}
}

func waitIdle[R, E any](t *testing.T, wait func(context.Context) (State[R, E], error)) State[R, E] {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := wait(ctx)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	return s
}
