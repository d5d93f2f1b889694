package rewardsd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"poolrewards/core/events"
	"poolrewards/native/stakingrewards"
)

type adminHarness struct {
	*harness
	server *httptest.Server
}

func newAdminHarness(t *testing.T) *adminHarness {
	t.Helper()
	h := newHarness(t)
	require.NoError(t, h.provisioner().Apply(testBootstrap()))

	require.NoError(t, h.pools.RegisterPool(tokenB, shareB))
	require.NoError(t, h.pools.SetWhitelisted(tokenB, true))
	_, err := h.pools.Deposit(vault, tokenB, uint256.NewInt(1000))
	require.NoError(t, err)
	require.NoError(t, h.manager.Commit())

	admin := NewAdminServer(h.registry, h.journal, NewAuthenticator(testAuthConfig(), nil), NewRateLimiter(RateLimitConfig{RequestsPerMinute: 6000, Burst: 1000}), nil)
	srv := httptest.NewServer(admin)
	t.Cleanup(srv.Close)
	return &adminHarness{harness: h, server: srv}
}

func (a *adminHarness) do(t *testing.T, method, path string, caller *common.Address, body any) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, a.server.URL+path, reader)
	require.NoError(t, err)
	if caller != nil {
		req.Header.Set("Authorization", "Bearer "+tokenFor(t, *caller))
	}
	resp, err := a.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func TestAdminReadRoutes(t *testing.T) {
	a := newAdminHarness(t)

	resp, _ := a.do(t, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := a.do(t, http.MethodGet, "/programs", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []ProgramView
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list, 1)
	require.Equal(t, tokenA.Hex(), list[0].Pool)
	require.Equal(t, "flat", list[0].DistributionType)
	require.True(t, list[0].IsActive)

	resp, _ = a.do(t, http.MethodGet, "/programs/"+tokenB.Hex(), nil, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = a.do(t, http.MethodGet, "/programs/not-an-address", nil, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = a.do(t, http.MethodGet, "/programs/"+tokenA.Hex()+"/active", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"active":true}`, string(body))

	resp, body = a.do(t, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), "poolrewards_")
}

func TestAdminMutationsRequireToken(t *testing.T) {
	a := newAdminHarness(t)
	resp, _ := a.do(t, http.MethodPost, "/programs/"+tokenA.Hex()+"/process", nil, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = a.do(t, http.MethodPost, "/programs/"+tokenA.Hex()+"/process", &stranger, nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestAdminCreateStatusMapping(t *testing.T) {
	a := newAdminHarness(t)
	start := uint64(genesis + 60)
	valid := CreateProgramRequest{
		Pool:         tokenB.Hex(),
		Vault:        vault.Hex(),
		TotalRewards: "500",
		Type:         "exp",
		StartTime:    start,
	}
	cases := []struct {
		name   string
		mutate func(r *CreateProgramRequest)
		status int
	}{
		{"active program", func(r *CreateProgramRequest) { r.Pool = tokenA.Hex() }, http.StatusConflict},
		{"insufficient funds", func(r *CreateProgramRequest) { r.TotalRewards = "5000" }, http.StatusUnprocessableEntity},
		{"past start", func(r *CreateProgramRequest) { r.StartTime = genesis - 1 }, http.StatusBadRequest},
		{"bad type", func(r *CreateProgramRequest) { r.Type = "cliff" }, http.StatusBadRequest},
		{"bad vault", func(r *CreateProgramRequest) { r.Vault = "0x12" }, http.StatusBadRequest},
		{"zero total", func(r *CreateProgramRequest) { r.TotalRewards = "0" }, http.StatusBadRequest},
	}
	for _, tc := range cases {
		req := valid
		tc.mutate(&req)
		resp, body := a.do(t, http.MethodPost, "/programs", &operator, req)
		require.Equal(t, tc.status, resp.StatusCode, "%s: %s", tc.name, body)
	}

	resp, body := a.do(t, http.MethodPost, "/programs", &operator, valid)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var view ProgramView
	require.NoError(t, json.Unmarshal(body, &view))
	require.Equal(t, "exponential_decay", view.DistributionType)
	require.Equal(t, "500", view.RemainingRewards)
	require.False(t, view.IsActive, "program has not started yet")
}

func TestAdminLifecycle(t *testing.T) {
	a := newAdminHarness(t)
	pool := "/programs/" + tokenA.Hex()

	a.clock.advance(24 * time.Hour)
	resp, body := a.do(t, http.MethodPost, pool+"/process", &operator, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var dist DistributionView
	require.NoError(t, json.Unmarshal(body, &dist))
	require.True(t, dist.Released)
	require.Equal(t, "1000", dist.RewardsAmount)
	require.Equal(t, "9000", dist.RemainingRewards)

	resp, body = a.do(t, http.MethodPost, pool+"/process", &operator, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	dist = DistributionView{}
	require.NoError(t, json.Unmarshal(body, &dist))
	require.False(t, dist.Released)

	resp, _ = a.do(t, http.MethodPost, pool+"/disable", &operator, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	a.clock.advance(24 * time.Hour)
	resp, body = a.do(t, http.MethodPost, pool+"/process", &operator, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), `"released":false`)

	resp, _ = a.do(t, http.MethodPost, pool+"/terminate", &operator, nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode, "disabled programs are not active")

	resp, _ = a.do(t, http.MethodPost, pool+"/enable", &operator, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, body = a.do(t, http.MethodPost, pool+"/terminate", &operator, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var view ProgramView
	require.NoError(t, json.Unmarshal(body, &view))
	require.Equal(t, "0", view.RemainingRewards)
	require.False(t, view.IsActive)

	resp, _ = a.do(t, http.MethodPost, "/programs/"+tokenB.Hex()+"/enable", &operator, nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = a.do(t, http.MethodGet, "/events?pool="+tokenA.Hex(), nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got []struct {
		Type       string            `json:"type"`
		Attributes map[string]string `json:"attributes"`
	}
	require.NoError(t, json.Unmarshal(body, &got))
	types := make([]string, 0, len(got))
	for _, e := range got {
		types = append(types, e.Type)
	}
	require.Equal(t, []string{
		events.TypeProgramCreated,
		events.TypeRewardsDistributed,
		events.TypeProgramEnabled,
		events.TypeProgramEnabled,
		events.TypeProgramTerminated,
	}, types)
	require.Equal(t, "9000", got[4].Attributes["remaining_rewards"])

	resp, body = a.do(t, http.MethodGet, "/events?type="+events.TypeProgramEnabled+"&limit=1", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 1, strings.Count(string(body), events.TypeProgramEnabled))

	resp, _ = a.do(t, http.MethodGet, "/events?limit=-1", nil, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	require.Equal(t, http.StatusForbidden, statusFor(stakingrewards.ErrAccessDenied))
	require.Equal(t, http.StatusUnprocessableEntity, statusFor(stakingrewards.ErrNotWhitelisted))
	require.Equal(t, http.StatusConflict, statusFor(stakingrewards.ErrProgramAlreadyActive))
	require.Equal(t, http.StatusInternalServerError, statusFor(http.ErrHandlerTimeout))
}
