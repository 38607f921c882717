package sitelinesdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitionSendsBodyAndParsesProject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v0/projects/P%201/transition", r.URL.EscapedPath())
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "on-hold", body["status"])
		assert.Equal(t, "permit", body["reason"])
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"p1","code":"P 1","status":"on-hold","status_source":"manual","confidence":100}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.BearerToken = "tok"
	p, err := c.Transition(context.Background(), "P 1", "on-hold", "permit")
	require.NoError(t, err)
	assert.Equal(t, "on-hold", p.Status)
	assert.Equal(t, "manual", p.StatusSource)
}

func TestErrorEnvelopeIsDecoded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":{"code":"invalid_transition","message":"no such transition cancelled -> on-going"}}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL).Transition(context.Background(), "P1", "on-going", "")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "invalid_transition", apiErr.Code)
}

func TestStatusPreviewFlattensResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v0/projects/P1/status", r.URL.Path)
		_, _ = w.Write([]byte(`{"project_code":"P1","stored_status":"upcoming","status":"on-going","confidence":100,
			"post_commencement":{"activities":10,"started":1,"completed":0,"progress":40}}`))
	}))
	defer srv.Close()

	got, err := New(srv.URL).Status(context.Background(), "P1")
	require.NoError(t, err)
	assert.Equal(t, "on-going", got.Status)
	assert.Equal(t, "upcoming", got.StoredStatus)
	assert.Equal(t, 1, got.PostCommencement.Started)
}
