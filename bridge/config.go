// Package bridge provides the Vautr relay service: the Shamir lock
// server and the signing relay with its streaming surfaces.
package bridge

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/vautr-io/vautr/crypto/secure"
	"github.com/vautr-io/vautr/crypto/shamir"
)

const (
	DefaultHTTPPort  = 8090
	DefaultNetworkID = "testnet"
	ShutdownTimeout  = 30 * time.Second

	DefaultApplyRoute  = "/shamir/apply-lock"
	DefaultRemoveRoute = "/shamir/remove-lock"
)

// Config is the env-driven bridge configuration.
type Config struct {
	HTTPPort       int
	JWTSecret      []byte
	AllowedOrigins []string

	NetworkID   string
	RPCEndpoint string

	ShamirPrimeB64u string
	ServerLockEB64u string
	ServerLockDB64u string
	ApplyRoute      string
	RemoveRoute     string

	ShutdownTimeout time.Duration
}

// NewConfig reads the VAUTR_* environment. Missing values fall back to
// development defaults; secrets that had to be generated are warned
// about because they do not survive a restart.
func NewConfig(logger zerolog.Logger) *Config {
	return &Config{
		HTTPPort:        httpPort(logger),
		JWTSecret:       jwtSecret(logger),
		AllowedOrigins:  allowedOrigins(),
		NetworkID:       envOr("VAUTR_NETWORK", DefaultNetworkID),
		RPCEndpoint:     os.Getenv("VAUTR_RPC_URL"),
		ShamirPrimeB64u: os.Getenv("VAUTR_SHAMIR_P_B64U"),
		ServerLockEB64u: os.Getenv("VAUTR_SHAMIR_E_B64U"),
		ServerLockDB64u: os.Getenv("VAUTR_SHAMIR_D_B64U"),
		ApplyRoute:      envOr("VAUTR_SHAMIR_APPLY_ROUTE", DefaultApplyRoute),
		RemoveRoute:     envOr("VAUTR_SHAMIR_REMOVE_ROUTE", DefaultRemoveRoute),
		ShutdownTimeout: ShutdownTimeout,
	}
}

// ShamirServer builds the lock server from configured material,
// generating whatever is missing. Generated exponents are ephemeral:
// locks applied under them cannot be removed after a restart.
func (c *Config) ShamirServer(logger zerolog.Logger) (*shamir.Server, error) {
	primeB64u := c.ShamirPrimeB64u
	if primeB64u == "" {
		primeB64u = shamir.DefaultPrimeB64u()
	}
	suite, err := shamir.NewSuite(primeB64u)
	if err != nil {
		return nil, fmt.Errorf("shamir suite: %w", err)
	}

	if c.ServerLockEB64u == "" || c.ServerLockDB64u == "" {
		kp, err := suite.GenerateKeyPair()
		if err != nil {
			return nil, fmt.Errorf("generating lock exponents: %w", err)
		}
		logger.Warn().
			Str("fingerprint", suite.Fingerprint()).
			Msg("VAUTR_SHAMIR_E_B64U/VAUTR_SHAMIR_D_B64U not set, generated ephemeral lock exponents")
		return shamir.NewServer(suite, kp)
	}

	e, err := suite.DecodeExponent(c.ServerLockEB64u)
	if err != nil {
		return nil, fmt.Errorf("VAUTR_SHAMIR_E_B64U: %w", err)
	}
	d, err := suite.DecodeExponent(c.ServerLockDB64u)
	if err != nil {
		return nil, fmt.Errorf("VAUTR_SHAMIR_D_B64U: %w", err)
	}
	return shamir.NewServer(suite, &shamir.KeyPair{E: e, D: d})
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func httpPort(logger zerolog.Logger) int {
	raw := os.Getenv("VAUTR_HTTP_PORT")
	if raw == "" {
		return DefaultHTTPPort
	}
	port, err := strconv.Atoi(raw)
	if err != nil || port <= 0 || port > 65535 {
		logger.Warn().Str("value", raw).Msg("invalid VAUTR_HTTP_PORT, using default")
		return DefaultHTTPPort
	}
	return port
}

func jwtSecret(logger zerolog.Logger) []byte {
	if secret := os.Getenv("VAUTR_JWT_SECRET"); secret != "" {
		return []byte(secret)
	}
	generated := make([]byte, 32)
	if err := secure.SecureRandom(generated); err != nil {
		// Without entropy the process cannot mint usable tokens anyway.
		panic(fmt.Sprintf("generating jwt secret: %v", err))
	}
	logger.Warn().Msg("VAUTR_JWT_SECRET not set, generated an ephemeral secret; tokens will not survive a restart")
	return generated
}

func allowedOrigins() []string {
	raw := os.Getenv("VAUTR_ALLOWED_ORIGINS")
	if raw == "" {
		return nil
	}
	var origins []string
	for _, part := range strings.Split(raw, ",") {
		if origin := strings.TrimSpace(part); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}
