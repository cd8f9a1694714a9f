package qchain

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Keys of the built-in networks.
const (
	NetworkLocalhost       = "31337"
	NetworkSepolia         = "11155111"
	NetworkEthereumMainnet = "1"
	NetworkAlgorandTestnet = "algorand-testnet"
)

// DefaultNetworks returns the built-in network table.
func DefaultNetworks() []NetworkConfig {
	return []NetworkConfig{
		{
			ChainKey:             NetworkLocalhost,
			Family:               FamilyEVM,
			DisplayName:          "Localhost",
			EndpointURL:          "http://127.0.0.1:8545",
			NativeCurrencySymbol: "ETH",
			NativeDecimals:       18,
			IsTestnet:            true,
			ChainID:              31337,
			NFTContract:          "0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512",
			TokenContract:        "0x5FbDB2315678afecb367f032d93F642f64180aa3",
		},
		{
			ChainKey:             NetworkSepolia,
			Family:               FamilyEVM,
			DisplayName:          "Sepolia Testnet",
			EndpointURL:          "https://ethereum-sepolia-rpc.publicnode.com",
			ExplorerURL:          "https://sepolia.etherscan.io",
			NativeCurrencySymbol: "ETH",
			NativeDecimals:       18,
			IsTestnet:            true,
			ChainID:              11155111,
		},
		{
			ChainKey:             NetworkEthereumMainnet,
			Family:               FamilyEVM,
			DisplayName:          "Ethereum Mainnet",
			EndpointURL:          "https://ethereum-rpc.publicnode.com",
			ExplorerURL:          "https://etherscan.io",
			NativeCurrencySymbol: "ETH",
			NativeDecimals:       18,
			ChainID:              1,
		},
		{
			ChainKey:             NetworkAlgorandTestnet,
			Family:               FamilyLedgerAsset,
			DisplayName:          "Algorand Testnet",
			EndpointURL:          "https://testnet-api.algonode.cloud",
			ExplorerURL:          "https://testnet.algoexplorer.io",
			NativeCurrencySymbol: "ALGO",
			NativeDecimals:       6,
			IsTestnet:            true,
		},
	}
}

// NetworkRegistry maps network keys to their configuration. It is read-only
// after construction and safe for concurrent use.
type NetworkRegistry struct {
	networks   map[string]NetworkConfig
	byChainID  map[uint64]string
	defaultKey string
}

// NewNetworkRegistry validates networks and builds a registry. defaultKey may
// be empty, in which case the first network is the default.
func NewNetworkRegistry(networks []NetworkConfig, defaultKey string) (*NetworkRegistry, error) {
	if len(networks) == 0 {
		return nil, fmt.Errorf("%w: empty network table", ErrValidation)
	}

	r := &NetworkRegistry{
		networks:  make(map[string]NetworkConfig, len(networks)),
		byChainID: make(map[uint64]string),
	}
	for _, n := range networks {
		if n.ChainKey == "" {
			return nil, fmt.Errorf("%w: network without chain key", ErrValidation)
		}
		if !n.Family.Valid() {
			return nil, fmt.Errorf("%w: network %s has unknown family %q", ErrValidation, n.ChainKey, n.Family)
		}
		if n.EndpointURL == "" {
			return nil, fmt.Errorf("%w: network %s has no endpoint", ErrValidation, n.ChainKey)
		}
		if _, dup := r.networks[n.ChainKey]; dup {
			return nil, fmt.Errorf("%w: duplicate network %s", ErrValidation, n.ChainKey)
		}
		if n.Family == FamilyEVM {
			if n.ChainID == 0 {
				return nil, fmt.Errorf("%w: evm network %s has no chain id", ErrValidation, n.ChainKey)
			}
			r.byChainID[n.ChainID] = n.ChainKey
		}
		r.networks[n.ChainKey] = n
	}

	if defaultKey == "" {
		defaultKey = networks[0].ChainKey
	}
	if _, ok := r.networks[defaultKey]; !ok {
		return nil, fmt.Errorf("%w: default network %s", ErrNetworkNotFound, defaultKey)
	}
	r.defaultKey = defaultKey

	return r, nil
}

// DefaultRegistry returns a registry over DefaultNetworks with Sepolia as the
// default network.
func DefaultRegistry() *NetworkRegistry {
	r, err := NewNetworkRegistry(DefaultNetworks(), NetworkSepolia)
	if err != nil {
		panic(err)
	}
	return r
}

// Resolve returns the configuration for chainKey.
func (r *NetworkRegistry) Resolve(chainKey string) (NetworkConfig, error) {
	n, ok := r.networks[chainKey]
	if !ok {
		return NetworkConfig{}, fmt.Errorf("%w: %s", ErrNetworkNotFound, chainKey)
	}
	return n, nil
}

// ByChainID returns the EVM network with the given chain id.
func (r *NetworkRegistry) ByChainID(chainID uint64) (NetworkConfig, error) {
	key, ok := r.byChainID[chainID]
	if !ok {
		return NetworkConfig{}, fmt.Errorf("%w: chain id %d", ErrNetworkNotFound, chainID)
	}
	return r.networks[key], nil
}

// Default returns the default network.
func (r *NetworkRegistry) Default() NetworkConfig {
	return r.networks[r.defaultKey]
}

// Keys returns all network keys, sorted.
func (r *NetworkRegistry) Keys() []string {
	keys := make([]string, 0, len(r.networks))
	for k := range r.networks {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// networkFile is the on-disk layout of a network table.
type networkFile struct {
	Default  string          `toml:"default" yaml:"default"`
	Networks []NetworkConfig `toml:"networks" yaml:"networks"`
}

// LoadNetworkFile reads a network table from a .toml, .yaml or .yml file and
// returns it along with the default key declared in the file.
func LoadNetworkFile(path string) ([]NetworkConfig, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("read network file: %w", err)
	}

	var f networkFile
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		err = toml.Unmarshal(data, &f)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &f)
	default:
		return nil, "", fmt.Errorf("%w: unsupported network file extension %q", ErrValidation, ext)
	}
	if err != nil {
		return nil, "", fmt.Errorf("parse network file %s: %w", path, err)
	}
	return f.Networks, f.Default, nil
}
