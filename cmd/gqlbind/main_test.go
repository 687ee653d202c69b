package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	language "github.com/hanpama/gqlbind/internal/language"
	"github.com/hanpama/gqlbind/internal/stubserver"
)

func execute(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	var out, errOut bytes.Buffer
	err = run(args, &out, &errOut)
	return out.String(), errOut.String(), err
}

func TestHelp(t *testing.T) {
	out, _, err := execute(t, "help", "build")
	require.NoError(t, err)
	require.Contains(t, out, "--select")
}

func TestBuild(t *testing.T) {
	out, _, err := execute(t, "build", "--field", "user", "--select", "name posts { id }", "--var", "id=String!")
	require.NoError(t, err)
	require.Equal(t, "query($id: String!) { user(id: $id) { name posts { id } } }\n", out)
}

func TestBuildMutationWithoutSelection(t *testing.T) {
	out, _, err := execute(t, "build", "--kind", "mutation", "--field", "ping")
	require.NoError(t, err)
	require.Equal(t, "mutation { ping  }\n", out)
}

func TestBuildEnvironment(t *testing.T) {
	t.Setenv("GQLBIND_FIELD", "time")
	out, _, err := execute(t, "build")
	require.NoError(t, err)
	require.Equal(t, "query { time  }\n", out)
}

func TestBuildConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gqlbind.yaml")
	require.NoError(t, os.WriteFile(path, []byte("field: user\nselect: name\n"), 0o644))
	out, _, err := execute(t, "build", "--config", path)
	require.NoError(t, err)
	require.Equal(t, "query { user { name } }\n", out)
}

func TestBuildRejects(t *testing.T) {
	cases := map[string][]string{
		"missing field": {"build"},
		"bad kind":      {"build", "--field", "user", "--kind", "subscription"},
		"bad var":       {"build", "--field", "user", "--var", "id"},
		"dup var":       {"build", "--field", "user", "--var", "id=ID", "--var", "id=String"},
		"bad select":    {"build", "--field", "user", "--select", "name {"},
		"bad field":     {"build", "--field", "not a field"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := execute(t, args...)
			require.Error(t, err)
		})
	}
}

func TestRun(t *testing.T) {
	stub := stubserver.New()
	stub.Set("user", stubserver.Response{Data: map[string]any{"name": "ada"}})
	srv := httptest.NewServer(stub)
	defer srv.Close()

	out, _, err := execute(t, "run",
		"--url", srv.URL+"/graphql",
		"--field", "user", "--select", "name",
		"--var", "id=ID!", "--variables", `{"id":"1"}`,
		"--header", "Authorization: Bearer t")
	require.NoError(t, err)

	var got stateJSON
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Equal(t, "success", got.Tag)
	require.Equal(t, http.StatusOK, got.Status)
	require.Equal(t, map[string]any{"name": "ada"}, got.Data)

	reqs := stub.Requests()
	require.Len(t, reqs, 1)
	require.Equal(t, "query($id: ID!) { user(id: $id) { name } }", reqs[0].Query)
	require.Equal(t, map[string]any{"id": "1"}, reqs[0].Variables)
	require.Equal(t, "Bearer t", reqs[0].Header.Get("Authorization"))
}

func TestRunWithoutVariables(t *testing.T) {
	stub := stubserver.New()
	stub.Set("time", stubserver.Response{Data: "noon"})
	srv := httptest.NewServer(stub)
	defer srv.Close()

	out, _, err := execute(t, "run", "--url", srv.URL, "--field", "time")
	require.NoError(t, err)
	var got stateJSON
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Equal(t, "noon", got.Data)
	require.Nil(t, stub.Requests()[0].Variables)
}

func TestRunReportsErrors(t *testing.T) {
	stub := stubserver.New()
	stub.Set("user", stubserver.Response{Errors: []*language.Error{{Message: "denied"}}})
	srv := httptest.NewServer(stub)
	defer srv.Close()

	out, _, err := execute(t, "run", "--url", srv.URL, "--field", "user", "--select", "name")
	require.Error(t, err)
	var got stateJSON
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Equal(t, "error", got.Tag)
	require.Len(t, got.Errors, 1)
	require.Equal(t, "denied", got.Errors[0].Message)
}

func TestRunVariablesNeedDeclarations(t *testing.T) {
	_, _, err := execute(t, "run", "--url", "http://localhost/graphql", "--field", "user", "--variables", `{"id":"1"}`)
	require.Error(t, err)
}

func TestRunRequiresAbsoluteURL(t *testing.T) {
	_, _, err := execute(t, "run", "--field", "time")
	require.Error(t, err)
	_, _, err = execute(t, "run", "--url", "/graphql", "--field", "time")
	require.Error(t, err)
}

func TestRunTimeoutPrintsException(t *testing.T) {
	stub := stubserver.New()
	stub.Set("time", stubserver.Response{Data: "late", Delay: time.Second})
	srv := httptest.NewServer(stub)
	defer srv.Close()

	out, _, err := execute(t, "run", "--url", srv.URL, "--field", "time", "--timeout", "50ms")
	require.Error(t, err)
	require.NotContains(t, err.Error(), "context deadline exceeded")

	var got stateJSON
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Equal(t, "exception", got.Tag)
	require.Contains(t, got.Error, "deadline exceeded")
}

func TestLoadStub(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stub.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"user": [
			{"data": {"name": "ada"}, "header": {"X-Stub": "1"}},
			{"status": 500, "errors": [{"message": "down"}], "delay": "1ms"}
		]
	}`), 0o644))

	h, err := loadStub(path)
	require.NoError(t, err)
	srv := httptest.NewServer(h)
	defer srv.Close()

	post := func() (*http.Response, map[string]any) {
		resp, err := http.Post(srv.URL, "application/json", bytes.NewBufferString(`{"query":"query { user { name } }"}`))
		require.NoError(t, err)
		defer resp.Body.Close()
		var body map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		return resp, body
	}

	resp, body := post()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "1", resp.Header.Get("X-Stub"))
	require.Equal(t, map[string]any{"user": map[string]any{"name": "ada"}}, body["data"])

	resp, body = post()
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.Len(t, body["errors"], 1)

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"user": [{"delay": "soon"}]}`), 0o644))
	_, err = loadStub(bad)
	require.Error(t, err)
}
