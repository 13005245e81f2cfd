package bridge

import (
	"math/big"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vautr-io/vautr/crypto/shamir"
)

func TestNewConfigDefaults(t *testing.T) {
	t.Setenv("VAUTR_HTTP_PORT", "")
	t.Setenv("VAUTR_JWT_SECRET", "")
	t.Setenv("VAUTR_ALLOWED_ORIGINS", "")
	t.Setenv("VAUTR_NETWORK", "")
	t.Setenv("VAUTR_RPC_URL", "")

	cfg := NewConfig(zerolog.Nop())

	assert.Equal(t, DefaultHTTPPort, cfg.HTTPPort)
	assert.Equal(t, DefaultNetworkID, cfg.NetworkID)
	assert.Equal(t, DefaultApplyRoute, cfg.ApplyRoute)
	assert.Equal(t, DefaultRemoveRoute, cfg.RemoveRoute)
	assert.Len(t, cfg.JWTSecret, 32, "generated secret expected without VAUTR_JWT_SECRET")
	assert.Nil(t, cfg.AllowedOrigins)
}

func TestNewConfigFromEnvironment(t *testing.T) {
	t.Setenv("VAUTR_HTTP_PORT", "9000")
	t.Setenv("VAUTR_JWT_SECRET", "configured-secret")
	t.Setenv("VAUTR_ALLOWED_ORIGINS", "https://app.example.com, https://alt.example.com")
	t.Setenv("VAUTR_NETWORK", "mainnet")
	t.Setenv("VAUTR_RPC_URL", "https://rpc.internal.example.com")

	cfg := NewConfig(zerolog.Nop())

	assert.Equal(t, 9000, cfg.HTTPPort)
	assert.Equal(t, []byte("configured-secret"), cfg.JWTSecret)
	assert.Equal(t, []string{"https://app.example.com", "https://alt.example.com"}, cfg.AllowedOrigins)
	assert.Equal(t, "mainnet", cfg.NetworkID)
	assert.Equal(t, "https://rpc.internal.example.com", cfg.RPCEndpoint)
}

func TestNewConfigRejectsBadPort(t *testing.T) {
	for _, raw := range []string{"not-a-number", "0", "-1", "70000"} {
		t.Setenv("VAUTR_HTTP_PORT", raw)
		cfg := NewConfig(zerolog.Nop())
		assert.Equal(t, DefaultHTTPPort, cfg.HTTPPort, "port %q should fall back", raw)
	}
}

func TestShamirServerGeneratesEphemeralExponents(t *testing.T) {
	cfg := &Config{}

	lock, err := cfg.ShamirServer(zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, shamir.DefaultPrimeB64u(), lock.Suite().PrimeB64u())
}

func TestShamirServerUsesConfiguredExponents(t *testing.T) {
	suite, err := shamir.NewSuite(shamir.DefaultPrimeB64u())
	require.NoError(t, err)
	kp, err := suite.GenerateKeyPair()
	require.NoError(t, err)

	cfg := &Config{
		ServerLockEB64u: suite.EncodeExponent(kp.E),
		ServerLockDB64u: suite.EncodeExponent(kp.D),
	}

	lock, err := cfg.ShamirServer(zerolog.Nop())
	require.NoError(t, err)

	// The configured pair must round-trip an element.
	element := suite.EncodeElement(new(big.Int).Sub(suite.P(), big.NewInt(1)))
	locked, err := lock.ApplyLock(element)
	require.NoError(t, err)
	unlocked, err := lock.RemoveLock(locked)
	require.NoError(t, err)
	assert.Equal(t, element, unlocked)
}

func TestShamirServerRejectsMismatchedExponents(t *testing.T) {
	suite, err := shamir.NewSuite(shamir.DefaultPrimeB64u())
	require.NoError(t, err)
	first, err := suite.GenerateKeyPair()
	require.NoError(t, err)
	second, err := suite.GenerateKeyPair()
	require.NoError(t, err)

	cfg := &Config{
		ServerLockEB64u: suite.EncodeExponent(first.E),
		ServerLockDB64u: suite.EncodeExponent(second.D),
	}

	_, err = cfg.ShamirServer(zerolog.Nop())
	require.ErrorContains(t, err, "invert")
}

func TestShamirServerRejectsBadPrime(t *testing.T) {
	cfg := &Config{ShamirPrimeB64u: "AAAA"}
	_, err := cfg.ShamirServer(zerolog.Nop())
	require.Error(t, err)
}
