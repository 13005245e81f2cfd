// Package config provides network presets and connection settings for
// the Vautr client.
package config

import (
	"errors"
	"time"
)

// NetworkConfig locates the services one Vautr deployment talks to: a
// NEAR JSON-RPC node, the Shamir lock server, and the signing relay.
type NetworkConfig struct {
	NetworkID string `json:"network_id"`
	Name      string `json:"name"`

	RPC             string `json:"rpc_endpoint"`
	ShamirServerURL string `json:"shamir_server_url,omitempty"`
	RelayURL        string `json:"relay_url,omitempty"`

	RequestTimeout time.Duration `json:"request_timeout"`
}

// MainnetNetwork returns the configuration for NEAR mainnet.
func MainnetNetwork() NetworkConfig {
	return NetworkConfig{
		NetworkID: "mainnet",
		Name:      "NEAR Mainnet",

		RPC:             "https://rpc.mainnet.near.org",
		ShamirServerURL: "https://relay.vautr.io",
		RelayURL:        "https://relay.vautr.io",

		RequestTimeout: 30 * time.Second,
	}
}

// TestnetNetwork returns the configuration for NEAR testnet.
func TestnetNetwork() NetworkConfig {
	return NetworkConfig{
		NetworkID: "testnet",
		Name:      "NEAR Testnet",

		RPC:             "https://rpc.testnet.near.org",
		ShamirServerURL: "https://relay.testnet.vautr.io",
		RelayURL:        "https://relay.testnet.vautr.io",

		RequestTimeout: 30 * time.Second,
	}
}

// LocalNetwork returns the configuration for local development against
// a localnet node and a locally run relay.
func LocalNetwork() NetworkConfig {
	return NetworkConfig{
		NetworkID: "local",
		Name:      "NEAR Localnet",

		RPC:             "http://localhost:3030",
		ShamirServerURL: "http://localhost:8090",
		RelayURL:        "http://localhost:8090",

		RequestTimeout: 10 * time.Second,
	}
}

// Validate checks the configuration and fills defaults. The relay URLs
// may stay empty for chain-only use.
func (nc *NetworkConfig) Validate() error {
	if nc.NetworkID == "" {
		return errors.New("network ID is required")
	}
	if nc.RPC == "" {
		return errors.New("RPC endpoint is required")
	}
	if nc.RequestTimeout <= 0 {
		nc.RequestTimeout = 30 * time.Second
	}
	return nil
}

// IsTestnet returns true if the network is a test network.
func (nc *NetworkConfig) IsTestnet() bool {
	return nc.NetworkID == "testnet" || nc.NetworkID == "local"
}

// IsMainnet returns true if the network is the main network.
func (nc *NetworkConfig) IsMainnet() bool {
	return nc.NetworkID == "mainnet"
}

// GetNetworkByID returns a pre-configured network by its id.
func GetNetworkByID(networkID string) (NetworkConfig, bool) {
	networks := map[string]NetworkConfig{
		"mainnet": MainnetNetwork(),
		"testnet": TestnetNetwork(),
		"local":   LocalNetwork(),
	}

	network, exists := networks[networkID]
	return network, exists
}
