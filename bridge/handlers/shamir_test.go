package handlers

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vautr-io/vautr/crypto/shamir"
)

func newLockServer(t *testing.T) (*shamir.Server, *shamir.Suite) {
	t.Helper()
	suite, err := shamir.NewSuite(shamir.DefaultPrimeB64u())
	require.NoError(t, err)
	kp, err := suite.GenerateKeyPair()
	require.NoError(t, err)
	server, err := shamir.NewServer(suite, kp)
	require.NoError(t, err)
	return server, suite
}

func lockEcho(t *testing.T, lock *shamir.Server) *echo.Echo {
	t.Helper()
	e := echo.New()
	logger := zerolog.Nop()
	e.GET("/shamir/info", ShamirInfoHandler(lock, "/shamir/apply-lock", "/shamir/remove-lock"))
	e.POST("/shamir/apply-lock", ApplyLockHandler(logger, lock))
	e.POST("/shamir/remove-lock", RemoveLockHandler(logger, lock))
	return e
}

func TestShamirInfo(t *testing.T) {
	lock, suite := newLockServer(t)
	e := lockEcho(t, lock)

	req := httptest.NewRequest(http.MethodGet, "/shamir/info", nil)
	rr := httptest.NewRecorder()
	e.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var info ShamirInfoResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &info))
	assert.Equal(t, suite.PrimeB64u(), info.PB64u)
	assert.Equal(t, suite.Fingerprint(), info.Fingerprint)
	assert.Equal(t, "/shamir/apply-lock", info.ApplyLockRoute)
	assert.Equal(t, "/shamir/remove-lock", info.RemoveLockRoute)
}

// TestShamirLockRoundTrip walks the enrollment wire exchange: the
// client locks a KEK, the service adds its lock, the client removes its
// own, and unlock via the service restores the original element.
func TestShamirLockRoundTrip(t *testing.T) {
	lock, suite := newLockServer(t)
	e := lockEcho(t, lock)

	clientKp, err := suite.GenerateKeyPair()
	require.NoError(t, err)

	kek := new(big.Int)
	for kek.Sign() == 0 {
		buf := make([]byte, 32)
		_, err := rand.Read(buf)
		require.NoError(t, err)
		kek.SetBytes(buf)
	}

	// Client applies its own lock before anything leaves the device.
	kekC, err := suite.Lock(kek, clientKp.E)
	require.NoError(t, err)

	rr := postJSON(t, e, "/shamir/apply-lock",
		fmt.Sprintf(`{"kek_c_b64u":%q}`, suite.EncodeElement(kekC)))
	require.Equal(t, http.StatusOK, rr.Code, "body: %s", rr.Body.String())

	var applied ApplyLockResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &applied))
	require.NotEmpty(t, applied.KekCSB64u)

	// Client removes its lock, leaving only the service lock at rest.
	kekCS, err := suite.DecodeElement(applied.KekCSB64u)
	require.NoError(t, err)
	kekS, err := suite.Unlock(kekCS, clientKp.D)
	require.NoError(t, err)

	// Recovery: client re-locks, the service removes its lock, and the
	// client's unlock exposes the original KEK.
	kekSC, err := suite.Lock(kekS, clientKp.E)
	require.NoError(t, err)

	rr = postJSON(t, e, "/shamir/remove-lock",
		fmt.Sprintf(`{"kek_cs_b64u":%q}`, suite.EncodeElement(kekSC)))
	require.Equal(t, http.StatusOK, rr.Code, "body: %s", rr.Body.String())

	var removed RemoveLockResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &removed))

	kekCOnly, err := suite.DecodeElement(removed.KekCB64u)
	require.NoError(t, err)
	recovered, err := suite.Unlock(kekCOnly, clientKp.D)
	require.NoError(t, err)

	assert.Zero(t, kek.Cmp(recovered), "recovered KEK differs from original")
}

func TestApplyLockRejectsBadElement(t *testing.T) {
	lock, _ := newLockServer(t)
	e := lockEcho(t, lock)

	tests := []struct {
		name string
		body string
	}{
		{"empty", `{"kek_c_b64u":""}`},
		{"not base64url", `{"kek_c_b64u":"!!!"}`},
		{"malformed json", `{"kek_c_b64u":`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := postJSON(t, e, "/shamir/apply-lock", tc.body)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
		})
	}
}

func TestRemoveLockRejectsElementOutsideGroup(t *testing.T) {
	lock, suite := newLockServer(t)
	e := lockEcho(t, lock)

	// P itself is congruent to zero and must be rejected.
	rr := postJSON(t, e, "/shamir/remove-lock",
		fmt.Sprintf(`{"kek_cs_b64u":%q}`, suite.EncodeElement(suite.P())))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
