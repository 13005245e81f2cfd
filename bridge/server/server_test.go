package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vautr-io/vautr/bridge/handlers"
	"github.com/vautr-io/vautr/bridge/tasks"
	"github.com/vautr-io/vautr/crypto/shamir"
)

var testSecret = []byte("test-secret")

func newTestServer(t *testing.T) *Server {
	t.Helper()

	suite, err := shamir.NewSuite(shamir.DefaultPrimeB64u())
	require.NoError(t, err)
	kp, err := suite.GenerateKeyPair()
	require.NoError(t, err)
	lock, err := shamir.NewServer(suite, kp)
	require.NoError(t, err)

	logger := zerolog.Nop()
	conns := handlers.NewConnectionManager(logger)
	sse := handlers.NewSSEManager(logger)
	results := handlers.NewResultStore()
	runner, err := tasks.NewRunner(tasks.Config{
		Logger:    logger,
		Publisher: handlers.NewStatusBroadcaster(conns, sse, results),
		Channel:   handlers.NewRelayChannel(logger, conns),
	})
	require.NoError(t, err)

	s := NewServer(&Config{
		JWTSecret:   testSecret,
		Lock:        lock,
		Runner:      runner,
		Connections: conns,
		SSE:         sse,
		Results:     results,
		ApplyRoute:  "/shamir/apply-lock",
		RemoveRoute: "/shamir/remove-lock",
		Logger:      logger,
	})
	t.Cleanup(func() { s.health.Stop() })
	return s
}

func do(t *testing.T, e *echo.Echo, method, path, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rr := httptest.NewRecorder()
	e.ServeHTTP(rr, req)
	return rr
}

func login(t *testing.T, e *echo.Echo, accountID string) string {
	t.Helper()
	rr := do(t, e, http.MethodPost, "/auth/login", `{"account_id":"`+accountID+`"}`, nil)
	require.Equal(t, http.StatusOK, rr.Code, "body: %s", rr.Body.String())

	var resp handlers.LoginResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp.Token
}

func TestHealthRoute(t *testing.T) {
	s := newTestServer(t)

	rr := do(t, s.Echo(), http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var status handlers.HealthStatus
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &status))
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, "not_configured", status.Dependencies["rpc"])
}

func TestReadyRoute(t *testing.T) {
	s := newTestServer(t)

	rr := do(t, s.Echo(), http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestShamirInfoRoute(t *testing.T) {
	s := newTestServer(t)

	rr := do(t, s.Echo(), http.MethodGet, "/shamir/info", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var info handlers.ShamirInfoResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &info))
	assert.NotEmpty(t, info.PB64u)
	assert.NotEmpty(t, info.Fingerprint)
	assert.Equal(t, "/shamir/apply-lock", info.ApplyLockRoute)
}

func TestRelayRoutesRequireToken(t *testing.T) {
	s := newTestServer(t)

	rr := do(t, s.Echo(), http.MethodPost, "/relay/execute",
		`{"type":"SignTransactionsWithActions","payload":{}}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = do(t, s.Echo(), http.MethodGet, "/events/task-1", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRelaySubmitWithToken(t *testing.T) {
	s := newTestServer(t)
	token := login(t, s.Echo(), "alice.testnet")

	header := http.Header{"Authorization": {"Bearer " + token}}
	rr := do(t, s.Echo(), http.MethodPost, "/relay/register",
		`{"type":"CheckCanRegisterUser","payload":{"nearAccountId":"alice.testnet"}}`, header)
	require.Equal(t, http.StatusOK, rr.Code, "body: %s", rr.Body.String())

	var resp handlers.SubmitResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.TaskID)
	assert.Equal(t, "accepted", resp.Status)
}

func TestRelayRejectsForbiddenType(t *testing.T) {
	s := newTestServer(t)
	token := login(t, s.Echo(), "alice.testnet")

	header := http.Header{"Authorization": {"Bearer " + token}}
	rr := do(t, s.Echo(), http.MethodPost, "/relay/execute",
		`{"type":"DecryptPrivateKeyWithPrf","payload":{}}`, header)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestWebSocketTokenViaQueryParam(t *testing.T) {
	s := newTestServer(t)
	token := login(t, s.Echo(), "alice.testnet")

	httpServer := httptest.NewServer(s.Echo())
	defer httpServer.Close()

	wsURL := "ws" + strings.TrimPrefix(httpServer.URL, "http")

	// No token: the middleware rejects the dial.
	_, resp, err := websocket.DefaultDialer.Dial(wsURL+"/ws/task-1", nil)
	require.Error(t, err)
	if resp != nil {
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}

	// Browser WebSocket clients cannot set headers; the query token
	// must authenticate the dial.
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL+"/ws/task-1?token="+token, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg handlers.TaskStatusMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, handlers.StatusConnected, msg.Status)
}

func TestLockOnlyDeployment(t *testing.T) {
	suite, err := shamir.NewSuite(shamir.DefaultPrimeB64u())
	require.NoError(t, err)
	kp, err := suite.GenerateKeyPair()
	require.NoError(t, err)
	lock, err := shamir.NewServer(suite, kp)
	require.NoError(t, err)

	s := NewServer(&Config{
		JWTSecret:   testSecret,
		Lock:        lock,
		ApplyRoute:  "/shamir/apply-lock",
		RemoveRoute: "/shamir/remove-lock",
		Logger:      zerolog.Nop(),
	})
	t.Cleanup(func() { s.health.Stop() })

	rr := do(t, s.Echo(), http.MethodGet, "/shamir/info", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	// Relay routes are absent without a runner.
	rr = do(t, s.Echo(), http.MethodPost, "/relay/execute", `{}`, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
