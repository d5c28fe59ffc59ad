package cruds

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cruds-go/cruds/retryhttp"
)

// fastRetry keeps test backoff delays negligible.
func fastRetry() Option {
	return WithRetryPolicy(retryhttp.Policy{BackoffFactor: 0.000001})
}

type recordedCall struct {
	method string
	path   string
	query  url.Values
	body   []byte
	header http.Header
}

func newAPIServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *[]recordedCall) {
	t.Helper()
	calls := &[]recordedCall{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		*calls = append(*calls, recordedCall{
			method: r.Method,
			path:   r.URL.Path,
			query:  r.URL.Query(),
			body:   body,
			header: r.Header.Clone(),
		})
		handler(w, r)
	}))
	t.Cleanup(server.Close)
	return server, calls
}

func okJSON(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"id":"co-1","name":"ACME"}`))
}

func TestVerbMapping(t *testing.T) {
	server, calls := newAPIServer(t, okJSON)
	client, err := New(server.URL, fastRetry())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = client.Create(ctx, "companies", map[string]string{"name": "ACME"}, nil)
	require.NoError(t, err)
	_, err = client.Read(ctx, "companies/co-1", nil)
	require.NoError(t, err)
	_, err = client.Update(ctx, "companies/co-1", map[string]string{"name": "ACME Inc"}, nil)
	require.NoError(t, err)
	_, err = client.Replace(ctx, "companies/co-1", map[string]string{"name": "ACME Inc"}, nil)
	require.NoError(t, err)
	_, err = client.Delete(ctx, "companies/co-1", nil)
	require.NoError(t, err)

	require.Len(t, *calls, 5)
	assert.Equal(t, http.MethodPost, (*calls)[0].method)
	assert.Equal(t, http.MethodGet, (*calls)[1].method)
	assert.Equal(t, http.MethodPatch, (*calls)[2].method)
	assert.Equal(t, http.MethodPut, (*calls)[3].method)
	assert.Equal(t, http.MethodDelete, (*calls)[4].method)
}

func TestCreateSerializesJSONBody(t *testing.T) {
	server, calls := newAPIServer(t, okJSON)
	client, err := New(server.URL, fastRetry())
	require.NoError(t, err)

	_, err = client.Create(context.Background(), "companies",
		map[string]string{"name": "ACME"}, url.Values{"source": []string{"import"}})
	require.NoError(t, err)

	require.Len(t, *calls, 1)
	call := (*calls)[0]
	assert.Equal(t, "/companies", call.path)
	assert.Equal(t, "import", call.query.Get("source"))
	assert.Equal(t, "application/json", call.header.Get("Content-Type"))
	assert.JSONEq(t, `{"name":"ACME"}`, string(call.body))
}

func TestRawBodiesPassThroughUntouched(t *testing.T) {
	server, calls := newAPIServer(t, okJSON)
	client, err := New(server.URL, fastRetry())
	require.NoError(t, err)

	_, err = client.Create(context.Background(), "blobs", []byte{0x01, 0x02}, nil)
	require.NoError(t, err)
	_, err = client.Create(context.Background(), "notes", "plain text", nil)
	require.NoError(t, err)

	require.Len(t, *calls, 2)
	assert.Equal(t, []byte{0x01, 0x02}, (*calls)[0].body)
	assert.Equal(t, "plain text", string((*calls)[1].body))
	assert.Empty(t, (*calls)[0].header.Get("Content-Type"))
}

func TestHostAndURINormalization(t *testing.T) {
	server, calls := newAPIServer(t, okJSON)
	client, err := New(server.URL, fastRetry()) // no trailing slash on host
	require.NoError(t, err)

	_, err = client.Read(context.Background(), "/companies/co-1", nil)
	require.NoError(t, err)

	require.Len(t, *calls, 1)
	assert.Equal(t, "/companies/co-1", (*calls)[0].path)
}

func TestNewRejectsInvalidHost(t *testing.T) {
	_, err := New("not a host")
	assert.Error(t, err)
	_, err = New("")
	assert.Error(t, err)
}

func TestAuthorizationHeaderAttached(t *testing.T) {
	server, calls := newAPIServer(t, okJSON)
	client, err := New(server.URL, fastRetry(), WithAuth(StaticToken("tok-123")))
	require.NoError(t, err)

	_, err = client.Read(context.Background(), "companies", nil)
	require.NoError(t, err)

	require.Len(t, *calls, 1)
	assert.Equal(t, "Bearer tok-123", (*calls)[0].header.Get("Authorization"))
}

func TestBasicAuthHeader(t *testing.T) {
	server, calls := newAPIServer(t, okJSON)
	client, err := New(server.URL, fastRetry(), WithAuth(BasicAuth("user", "pass")))
	require.NoError(t, err)

	_, err = client.Read(context.Background(), "companies", nil)
	require.NoError(t, err)

	require.Len(t, *calls, 1)
	assert.Equal(t, "Basic dXNlcjpwYXNz", (*calls)[0].header.Get("Authorization"))
}

// renewableSource fakes a credential manager whose header changes after
// invalidation.
type renewableSource struct {
	current       atomic.Value
	invalidations atomic.Int64
}

func (s *renewableSource) HeaderValue(context.Context) (string, error) {
	return s.current.Load().(string), nil
}

func (s *renewableSource) Invalidate() {
	s.invalidations.Add(1)
	s.current.Store("Bearer renewed")
}

func TestUnauthorizedTriggersOneForcedRenewal(t *testing.T) {
	server, calls := newAPIServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer renewed" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		okJSON(w, r)
	})

	source := &renewableSource{}
	source.current.Store("Bearer stale")
	client, err := New(server.URL, fastRetry(), WithAuth(source))
	require.NoError(t, err)

	result, err := client.Read(context.Background(), "companies", nil)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.Equal(t, int64(1), source.invalidations.Load())
	require.Len(t, *calls, 2)
	assert.Equal(t, "Bearer stale", (*calls)[0].header.Get("Authorization"))
	assert.Equal(t, "Bearer renewed", (*calls)[1].header.Get("Authorization"))
}

func TestReaderBodyReplayedAfterUnauthorized(t *testing.T) {
	const payload = `{"name":"ACME"}`
	var calls *[]recordedCall
	server, calls := newAPIServer(t, func(w http.ResponseWriter, r *http.Request) {
		if len(*calls) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		okJSON(w, r)
	})
	client, err := New(server.URL, fastRetry(), WithAuth(StaticToken("tok")))
	require.NoError(t, err)

	// A one-shot reader: the forced renewal retry must still send the
	// same payload.
	_, err = client.Create(context.Background(), "companies", strings.NewReader(payload), nil)
	require.NoError(t, err)

	require.Len(t, *calls, 2)
	assert.Equal(t, payload, string((*calls)[0].body))
	assert.Equal(t, payload, string((*calls)[1].body))
}

func TestSecondConsecutiveUnauthorizedSurfaces(t *testing.T) {
	server, calls := newAPIServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	source := &renewableSource{}
	source.current.Store("Bearer stale")
	client, err := New(server.URL, fastRetry(), WithAuth(source))
	require.NoError(t, err)

	_, err = client.Read(context.Background(), "companies", nil)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
	// One renewal, then surface: never an invalidation loop.
	assert.Equal(t, int64(1), source.invalidations.Load())
	assert.Len(t, *calls, 2)
}

func TestClientErrorSurfacesImmediately(t *testing.T) {
	server, calls := newAPIServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("no such company"))
	})
	client, err := New(server.URL, fastRetry())
	require.NoError(t, err)

	_, err = client.Read(context.Background(), "companies/missing", nil)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.True(t, statusErr.ClientError())
	assert.False(t, statusErr.ServerError())
	assert.Contains(t, statusErr.Error(), "no such company")
	assert.Len(t, *calls, 1)
}

func TestServerErrorSurfacesAfterRetries(t *testing.T) {
	server, calls := newAPIServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	client, err := New(server.URL, fastRetry())
	require.NoError(t, err)

	_, err = client.Read(context.Background(), "companies", nil)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.True(t, statusErr.ServerError())
	assert.Len(t, *calls, retryhttp.DefaultMaxAttempts)
}

func TestIgnoredStatusesReturnResults(t *testing.T) {
	server, _ := newAPIServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	client, err := New(server.URL, fastRetry(), WithIgnoredStatuses(http.StatusNotFound))
	require.NoError(t, err)

	result, err := client.Read(context.Background(), "companies/missing", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, result.StatusCode)
}

func TestWithoutStatusErrors(t *testing.T) {
	server, _ := newAPIServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})
	client, err := New(server.URL, fastRetry(), WithoutStatusErrors())
	require.NoError(t, err)

	result, err := client.Read(context.Background(), "companies", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, result.StatusCode)
}

func TestResultDecodeJSON(t *testing.T) {
	server, _ := newAPIServer(t, okJSON)
	client, err := New(server.URL, fastRetry())
	require.NoError(t, err)

	result, err := client.Read(context.Background(), "companies/co-1", nil)
	require.NoError(t, err)
	require.True(t, result.IsJSON())

	var company struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	require.NoError(t, result.Decode(&company))
	assert.Equal(t, "co-1", company.ID)
	assert.Equal(t, "ACME", company.Name)
}

func TestResultNonJSONBranch(t *testing.T) {
	server, _ := newAPIServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		_, _ = w.Write([]byte("id,name\nco-1,ACME\n"))
	})
	client, err := New(server.URL, fastRetry())
	require.NoError(t, err)

	result, err := client.Read(context.Background(), "companies/export", nil)
	require.NoError(t, err)

	assert.False(t, result.IsJSON())
	assert.Equal(t, "id,name\nco-1,ACME\n", string(result.Bytes()))
}

func TestWithoutSerializationRejectsStructBodies(t *testing.T) {
	server, _ := newAPIServer(t, okJSON)
	client, err := New(server.URL, fastRetry(), WithoutSerialization())
	require.NoError(t, err)

	_, err = client.Create(context.Background(), "companies", map[string]string{"name": "ACME"}, nil)
	assert.Error(t, err)

	_, err = client.Create(context.Background(), "companies", []byte(`{"name":"ACME"}`), nil)
	assert.NoError(t, err)
}

func TestDecodeErrors(t *testing.T) {
	result := &Result{StatusCode: 200, Header: http.Header{}, body: nil}
	assert.Error(t, result.Decode(&struct{}{}))

	result = &Result{StatusCode: 200, Header: http.Header{}, body: []byte("not json")}
	var v json.RawMessage
	assert.Error(t, result.Decode(&v))
}
