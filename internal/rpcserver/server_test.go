package rpcserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"glasswally/internal/fusion"
)

type fakeLookup struct {
	results map[string]fusion.Result
}

func (f fakeLookup) LastResult(accountID string) (fusion.Result, bool) {
	res, ok := f.results[accountID]
	return res, ok
}

func newTestServer(lookup ResultLookup) *httptest.Server {
	mux := http.NewServeMux()
	NewHandler(lookup, nil).RegisterRoutes(mux)
	return httptest.NewServer(mux)
}

func TestAccountQueryUnknownAccountReturnsOK(t *testing.T) {
	srv := newTestServer(fakeLookup{results: map[string]fusion.Result{}})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/accounts/unknown-acct")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body accountResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "unknown-acct", body.AccountID)
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 0.0, body.CompositeScore)
}

func TestAccountQueryReturnsLastFusionResult(t *testing.T) {
	lookup := fakeLookup{results: map[string]fusion.Result{
		"acct-1": {
			AccountID:      "acct-1",
			CompositeScore: 0.6,
			Tier:           fusion.TierMedium,
			Evidence:       []string{"velocity:0.4000"},
		},
	}}
	srv := newTestServer(lookup)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/accounts/acct-1")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body accountResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))

	assert.Equal(t, "rate_limited", body.Status)
	assert.Equal(t, 0.6, body.CompositeScore)
	assert.Equal(t, []string{"velocity:0.4000"}, body.Evidence)
}

func TestAccountQueryHighAndCriticalBothReportSuspended(t *testing.T) {
	lookup := fakeLookup{results: map[string]fusion.Result{
		"acct-high":     {AccountID: "acct-high", Tier: fusion.TierHigh},
		"acct-critical": {AccountID: "acct-critical", Tier: fusion.TierCritical},
	}}
	srv := newTestServer(lookup)
	defer srv.Close()

	for _, id := range []string{"acct-high", "acct-critical"} {
		resp, err := http.Get(srv.URL + "/v1/accounts/" + id)
		require.NoError(t, err)
		var body accountResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		resp.Body.Close()
		assert.Equal(t, "suspended", body.Status)
	}
}
