package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/briangreenhill/bperks/internal/queue"
)

func TestNew_RejectsRelativeURL(t *testing.T) {
	_, err := New("/api")
	assert.Error(t, err)
}

func TestDo_SendsTokenAndPayload(t *testing.T) {
	var gotAuth, gotType, gotMethod, gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		gotMethod, gotPath = r.Method, r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"r1"}`))
	}))
	defer srv.Close()

	c, err := New(srv.URL+"/", WithToken("secret"))
	require.NoError(t, err)

	resp, err := c.Do(context.Background(), http.MethodPost, "/api/reports", map[string]string{"title": "Pothole"}, nil)
	require.NoError(t, err)

	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "application/json", gotType)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/api/reports", gotPath)
	assert.Equal(t, "Pothole", gotBody["title"])
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	var out struct{ ID string }
	require.NoError(t, resp.Decode(&out))
	assert.Equal(t, "r1", out.ID)
}

func TestDo_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"insufficient points"}`, http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)

	_, err = c.Do(context.Background(), http.MethodPost, "/api/rewards/1/claim", nil, nil)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnprocessableEntity, se.Code)
	assert.Contains(t, se.Error(), "insufficient points")
	assert.False(t, IsTransient(err))
}

func TestReplay_UsesRecordedRequest(t *testing.T) {
	var got struct {
		method, path, header string
		body                 []byte
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.method, got.path, got.header = r.Method, r.URL.Path, r.Header.Get("X-Request-Source")
		got.body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)

	_, err = c.Replay(context.Background(), queue.Action{
		Method:   http.MethodPut,
		Endpoint: "/api/events/7",
		Payload:  json.RawMessage(`{"title":"Cleanup"}`),
		Headers:  map[string]string{"X-Request-Source": "queue"},
	})
	require.NoError(t, err)
	assert.Equal(t, http.MethodPut, got.method)
	assert.Equal(t, "/api/events/7", got.path)
	assert.Equal(t, "queue", got.header)
	assert.JSONEq(t, `{"title":"Cleanup"}`, string(got.body))
}

func TestGetJSONAndPing(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc("/api/news", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":"n1"},{"id":"n2"}]`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)
	require.NoError(t, c.Ping(context.Background()))

	var items []struct{ ID string }
	require.NoError(t, c.GetJSON(context.Background(), "/api/news", &items))
	assert.Len(t, items, 2)
}

func TestPing_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := New(url, WithTimeout(time.Second))
	require.NoError(t, err)
	err = c.Ping(context.Background())
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"timeout", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"408", &StatusError{Code: http.StatusRequestTimeout}, true},
		{"429", &StatusError{Code: http.StatusTooManyRequests}, true},
		{"500", &StatusError{Code: http.StatusInternalServerError}, true},
		{"503 wrapped", fmt.Errorf("replay: %w", &StatusError{Code: http.StatusServiceUnavailable}), true},
		{"400", &StatusError{Code: http.StatusBadRequest}, false},
		{"409", &StatusError{Code: http.StatusConflict}, false},
		{"plain", errors.New("decode failure"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}
