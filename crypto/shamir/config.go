package shamir

import "sync"

// The process-wide suite is set exactly once at startup and read through
// an immutable handle afterwards. Every protocol entry point goes through
// Active, so nothing can run before configuration.
var (
	configMu sync.RWMutex
	active   *Suite
)

// Configure installs the process-wide prime. A second call fails with
// ErrAlreadyConfigured regardless of whether the value matches.
func Configure(pB64u string) error {
	configMu.Lock()
	defer configMu.Unlock()

	if active != nil {
		return ErrAlreadyConfigured
	}

	suite, err := NewSuite(pB64u)
	if err != nil {
		return err
	}
	active = suite
	return nil
}

// Active returns the configured suite or ErrNotConfigured.
func Active() (*Suite, error) {
	configMu.RLock()
	defer configMu.RUnlock()

	if active == nil {
		return nil, ErrNotConfigured
	}
	return active, nil
}

// IsConfigured reports whether Configure has run.
func IsConfigured() bool {
	configMu.RLock()
	defer configMu.RUnlock()
	return active != nil
}
