package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vautr-io/vautr/client/config"
	"github.com/vautr-io/vautr/crypto/challenge"
	"github.com/vautr-io/vautr/crypto/shamir"
)

// shamirInfoPath is where a lock server advertises its suite and routes.
const shamirInfoPath = "/shamir/info"

// ShamirClient carries the commutative lock protocol over HTTP to a
// relay's lock endpoints. The routes and the prime fingerprint come from
// the server's info endpoint, fetched once and cached; the client never
// sends anything but blinded field elements.
type ShamirClient struct {
	baseURL string
	http    *http.Client
	logger  zerolog.Logger

	mu   sync.Mutex
	info *shamirInfo
}

// ShamirClientConfig wires a ShamirClient. BaseURL is required.
type ShamirClientConfig struct {
	BaseURL string
	Timeout time.Duration
	// HTTPClient overrides the built-in client; Timeout is ignored
	// when set.
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// NewShamirClient builds a lock client for the given server.
func NewShamirClient(cfg ShamirClientConfig) (*ShamirClient, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("lock server url is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &ShamirClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    httpClient,
		logger:  cfg.Logger,
	}, nil
}

// NewShamirClientFromNetwork builds a lock client from a network preset.
func NewShamirClientFromNetwork(nc config.NetworkConfig, logger zerolog.Logger) (*ShamirClient, error) {
	if err := nc.Validate(); err != nil {
		return nil, fmt.Errorf("network config: %w", err)
	}
	return NewShamirClient(ShamirClientConfig{
		BaseURL: nc.ShamirServerURL,
		Timeout: nc.RequestTimeout,
		Logger:  logger,
	})
}

// shamirInfo mirrors the lock server's info response.
type shamirInfo struct {
	PB64u           string `json:"p_b64u"`
	Fingerprint     string `json:"p_fingerprint"`
	ApplyLockRoute  string `json:"apply_lock_route"`
	RemoveLockRoute string `json:"remove_lock_route"`
}

// The client plugs straight into the challenge engine's lock protocol.
var _ challenge.LockClient = (*ShamirClient)(nil)

// PrimeFingerprint returns the fingerprint of the prime the server
// operates in. The challenge engine compares it against the local suite
// before any lock call.
func (s *ShamirClient) PrimeFingerprint(ctx context.Context) (string, error) {
	info, err := s.fetchInfo(ctx)
	if err != nil {
		return "", err
	}
	return info.Fingerprint, nil
}

// Suite builds a local suite from the prime the server advertises, for
// clients that take the deployment modulus from the server rather than
// their own configuration.
func (s *ShamirClient) Suite(ctx context.Context) (*shamir.Suite, error) {
	info, err := s.fetchInfo(ctx)
	if err != nil {
		return nil, err
	}
	suite, err := shamir.NewSuite(info.PB64u)
	if err != nil {
		return nil, fmt.Errorf("server advertised prime: %w", err)
	}
	if suite.Fingerprint() != info.Fingerprint {
		return nil, challenge.ErrPrimeMismatch
	}
	return suite, nil
}

// ApplyLock asks the server to add its lock layer to a blinded element.
func (s *ShamirClient) ApplyLock(ctx context.Context, kekCB64u string) (string, error) {
	info, err := s.fetchInfo(ctx)
	if err != nil {
		return "", err
	}
	var resp struct {
		KekCSB64u string `json:"kek_cs_b64u"`
	}
	if err := s.post(ctx, info.ApplyLockRoute, map[string]string{"kek_c_b64u": kekCB64u}, &resp); err != nil {
		return "", err
	}
	return resp.KekCSB64u, nil
}

// RemoveLock asks the server to strip its lock layer from a blinded
// element.
func (s *ShamirClient) RemoveLock(ctx context.Context, kekCSB64u string) (string, error) {
	info, err := s.fetchInfo(ctx)
	if err != nil {
		return "", err
	}
	var resp struct {
		KekCB64u string `json:"kek_c_b64u"`
	}
	if err := s.post(ctx, info.RemoveLockRoute, map[string]string{"kek_cs_b64u": kekCSB64u}, &resp); err != nil {
		return "", err
	}
	return resp.KekCB64u, nil
}

// fetchInfo returns the cached server info, fetching it on first use.
// The suite is configured once per server process, so the answer never
// changes for the lifetime of this client.
func (s *ShamirClient) fetchInfo(ctx context.Context) (*shamirInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.info != nil {
		return s.info, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+shamirInfoPath, nil)
	if err != nil {
		return nil, fmt.Errorf("building info request: %w", err)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching lock server info: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading info response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("info endpoint returned HTTP %d", resp.StatusCode)
	}

	var info shamirInfo
	if err := json.Unmarshal(payload, &info); err != nil {
		return nil, fmt.Errorf("decoding info response: %w", err)
	}
	if info.Fingerprint == "" || info.ApplyLockRoute == "" || info.RemoveLockRoute == "" {
		return nil, errors.New("lock server info is incomplete")
	}

	s.logger.Debug().
		Str("fingerprint", info.Fingerprint).
		Msg("lock server info cached")

	s.info = &info
	return s.info, nil
}

// post sends one lock request and decodes the element out of the reply.
// A non-200 answer surfaces the server's error string; elements are
// never logged.
func (s *ShamirClient) post(ctx context.Context, route string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding lock request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+route, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("building lock request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", route, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("reading %s response: %w", route, err)
	}
	if resp.StatusCode != http.StatusOK {
		var failure struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(payload, &failure) == nil && failure.Error != "" {
			return fmt.Errorf("%s rejected: %s", route, failure.Error)
		}
		return fmt.Errorf("%s returned HTTP %d", route, resp.StatusCode)
	}
	return json.Unmarshal(payload, out)
}
