package tracklinesdk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateIssueSendsKeyAndDecodes(t *testing.T) {
	var gotPath, gotKey string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("X-Api-Key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(Issue{ID: 7, Subject: "broken build", Reference: "bug-7"})
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.APIKey = "tlk_secret"
	issue, err := c.CreateIssue(context.Background(), 3, "broken build", map[string]string{"Details": "crash"})
	require.NoError(t, err)

	assert.Equal(t, "/v0/issues", gotPath)
	assert.Equal(t, "tlk_secret", gotKey)
	assert.Equal(t, float64(3), gotBody["template_id"])
	assert.Equal(t, map[string]any{"Details": "crash"}, gotBody["values"])
	assert.Equal(t, int64(7), issue.ID)
	assert.Equal(t, "bug-7", issue.Reference)
}

func TestBearerTokenWinsOverAPIKey(t *testing.T) {
	var auth, key string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		key = r.Header.Get("X-Api-Key")
		json.NewEncoder(w).Encode(Issue{ID: 1})
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.APIKey = "tlk_secret"
	c.BearerToken = "jwt-token"
	_, err := c.GetIssue(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, "Bearer jwt-token", auth)
	assert.Empty(t, key)
}

func TestAPIErrorCarriesStatusAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"code":403,"message":"issue.edit denied"}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.UpdateIssue(context.Background(), 5, nil, map[string]string{"Details": "x"})
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "issue.edit denied")
	assert.Contains(t, apiErr.Error(), "status=403")
}

func TestEvaluateReturnsDecision(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v0/evaluate", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]string{"decision": "granted"})
	}))
	defer srv.Close()

	c := New(srv.URL)
	decision, err := c.Evaluate(context.Background(), "issue.view", 9)
	require.NoError(t, err)
	assert.Equal(t, "granted", decision)
}

func TestEventsDecodesChanges(t *testing.T) {
	fieldID := int64(4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]Event{{
			ID: 1, Type: "issue.edited", IssueID: 9,
			Changes: []Change{{ID: 2, EventID: 1, FieldID: &fieldID}},
		}})
	}))
	defer srv.Close()

	c := New(srv.URL)
	events, err := c.Events(context.Background(), 9)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Len(t, events[0].Changes, 1)
	assert.Equal(t, fieldID, *events[0].Changes[0].FieldID)
}
