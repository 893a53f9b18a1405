package nellebot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

type fakeAPIBackend struct {
	mu        sync.Mutex
	connected bool
	triggered []string
	canceled  []string
	stopped   bool
	running   map[string]bool
}

func (f *fakeAPIBackend) Connected() bool { return f.connected }

func (f *fakeAPIBackend) QueueStats() []queueStats {
	return NewQueues(8).Stats()
}

func (f *fakeAPIBackend) Jobs() []JobStatus {
	return []JobStatus{{Key: HeartbeatJobKey}}
}

func (f *fakeAPIBackend) TriggerJob(name string, dryRun bool) (JobKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case name != HeartbeatJobKey.Name:
		return JobKey{}, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	case f.running[name]:
		return HeartbeatJobKey, fmt.Errorf("%w: %s", ErrJobAlreadyRunning, name)
	}
	f.triggered = append(f.triggered, fmt.Sprintf("%s:%t", name, dryRun))
	return HeartbeatJobKey, nil
}

func (f *fakeAPIBackend) CancelJob(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running[name] {
		return fmt.Errorf("%w: %s", ErrJobNotRunning, name)
	}
	f.canceled = append(f.canceled, name)
	return nil
}

func (f *fakeAPIBackend) RegisterCommands(_ context.Context) ([]*discordgo.ApplicationCommand, error) {
	return []*discordgo.ApplicationCommand{{Name: "oi"}, {Name: "slap"}}, nil
}

func (f *fakeAPIBackend) Stop(_ context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	return true
}

func (f *fakeAPIBackend) VerifyAdminCredentials(_ context.Context, username string, password string) (bool, error) {
	return username == "admin" && password == "hunter2", nil
}

func newTestAPI(t *testing.T) (*API, *fakeAPIBackend) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	backend := &fakeAPIBackend{running: map[string]bool{}}
	cfg := DefaultConfig().API
	cfg.Secret = "test-secret"
	api, err := newAPI(backend, cfg, NewMetrics(), nil)
	require.NoError(t, err)
	api.loginLimiter = rate.NewLimiter(rate.Inf, 1)
	return api, backend
}

func doRequest(api *API, method string, path string, body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	var payload []byte
	if body != nil {
		payload, _ = json.Marshal(body)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	api.engine.ServeHTTP(w, req)
	return w
}

func login(t *testing.T, api *API) []*http.Cookie {
	t.Helper()
	w := doRequest(api, http.MethodPost, apiPathLogin, userLogin{Username: "admin", Password: "hunter2"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	cookies := w.Result().Cookies()
	require.NotEmpty(t, cookies)
	return cookies
}

func TestAPI_HealthCheck(t *testing.T) {
	api, backend := newTestAPI(t)
	backend.connected = true

	w := doRequest(api, http.MethodGet, apiHealthCheck, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(xRequestIDHeader))

	var resp healthCheckResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.DiscordGatewayConnected)
	assert.Len(t, resp.Queues, 5)
}

func TestAPI_Metrics(t *testing.T) {
	api, _ := newTestAPI(t)
	doRequest(api, http.MethodGet, apiHealthCheck, nil)

	w := doRequest(api, http.MethodGet, apiPathMetrics, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `nellebot_api_requests_total{method="GET",route="/healthz",status="200"} 1`)
}

func TestAPI_Login(t *testing.T) {
	testCases := []struct {
		name   string
		body   any
		status int
	}{
		{name: "valid", body: userLogin{Username: "admin", Password: "hunter2"}, status: http.StatusOK},
		{name: "wrong password", body: userLogin{Username: "admin", Password: "nope"}, status: http.StatusUnauthorized},
		{name: "wrong username", body: userLogin{Username: "root", Password: "hunter2"}, status: http.StatusUnauthorized},
		{name: "missing password", body: map[string]string{"username": "admin"}, status: http.StatusBadRequest},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			api, _ := newTestAPI(t)
			w := doRequest(api, http.MethodPost, apiPathLogin, tc.body)
			assert.Equal(t, tc.status, w.Code)
		})
	}
}

func TestAPI_LoginRateLimit(t *testing.T) {
	api, _ := newTestAPI(t)
	api.loginLimiter = rate.NewLimiter(rate.Limit(1), 1)

	body := userLogin{Username: "admin", Password: "hunter2"}
	assert.Equal(t, http.StatusOK, doRequest(api, http.MethodPost, apiPathLogin, body).Code)
	assert.Equal(t, http.StatusTooManyRequests, doRequest(api, http.MethodPost, apiPathLogin, body).Code)
}

func TestAPI_RequiresSession(t *testing.T) {
	api, _ := newTestAPI(t)
	for _, path := range []string{apiPathLoggedIn, apiPathQueues, apiPathJobs} {
		w := doRequest(api, http.MethodGet, apiPrefix+path, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
	}
	w := doRequest(api, http.MethodPost, apiPrefix+apiPathQuit, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAPI_Session(t *testing.T) {
	api, _ := newTestAPI(t)
	cookies := login(t, api)

	w := doRequest(api, http.MethodGet, apiPrefix+apiPathLoggedIn, nil, cookies...)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"username":"admin"}`, w.Body.String())

	w = doRequest(api, http.MethodPost, apiPathLogout, nil, cookies...)
	require.Equal(t, http.StatusOK, w.Code)
	var cleared []*http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == sessionVarName {
			cleared = append(cleared, c)
		}
	}
	require.Len(t, cleared, 1)
	assert.Less(t, cleared[0].MaxAge, 0)

	w = doRequest(api, http.MethodGet, apiPrefix+apiPathLoggedIn, nil, cleared...)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAPI_Jobs(t *testing.T) {
	api, backend := newTestAPI(t)
	cookies := login(t, api)

	w := doRequest(api, http.MethodGet, apiPrefix+apiPathJobs, nil, cookies...)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"heartbeat"`)

	runPath := func(name string) string {
		return apiPrefix + strings.Replace(apiPathRunJob, ":name", name, 1)
	}
	cancelPath := func(name string) string {
		return apiPrefix + strings.Replace(apiPathCancelJob, ":name", name, 1)
	}

	w = doRequest(api, http.MethodPost, runPath("heartbeat")+"?dry_run=true", nil, cookies...)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var triggered jobTriggeredResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &triggered))
	assert.Equal(t, HeartbeatJobKey, triggered.Key)
	assert.True(t, triggered.DryRun)
	assert.Equal(t, []string{"heartbeat:true"}, backend.triggered)

	w = doRequest(api, http.MethodPost, runPath("nope"), nil, cookies...)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(api, http.MethodPost, runPath("heartbeat")+"?dry_run=maybe", nil, cookies...)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	backend.running["heartbeat"] = true
	w = doRequest(api, http.MethodPost, runPath("heartbeat"), nil, cookies...)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doRequest(api, http.MethodPost, cancelPath("heartbeat"), nil, cookies...)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"message":"Canceled job: heartbeat"}`, w.Body.String())

	w = doRequest(api, http.MethodPost, cancelPath("role-maintenance"), nil, cookies...)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAPI_QueuesAndCommands(t *testing.T) {
	api, _ := newTestAPI(t)
	cookies := login(t, api)

	w := doRequest(api, http.MethodGet, apiPrefix+apiPathQueues, nil, cookies...)
	require.Equal(t, http.StatusOK, w.Code)
	var stats []queueStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	require.Len(t, stats, 5)
	assert.Equal(t, 8, stats[0].Capacity)

	w = doRequest(api, http.MethodPost, apiPrefix+apiPathRegisterCommands, nil, cookies...)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"registered":2}`, w.Body.String())
}

func TestAPI_Quit(t *testing.T) {
	api, backend := newTestAPI(t)
	cookies := login(t, api)
	w := doRequest(api, http.MethodPost, apiPrefix+apiPathQuit, nil, cookies...)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, backend.stopped)
}
