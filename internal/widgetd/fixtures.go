package widgetd

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Fixtures are the canned answers the development widget serves. Integrators
// point the daemon at a YAML file to exercise their own data.
type Fixtures struct {
	Accounts  []string `yaml:"accounts"`
	ChainID   string   `yaml:"chain_id"`
	Signature string   `yaml:"signature"`
	TxHash    string   `yaml:"tx_hash"`
}

// DefaultFixtures returns the built-in development dataset.
func DefaultFixtures() Fixtures {
	return Fixtures{
		Accounts:  []string{"0x00000000000000000000000000000000000000a1"},
		ChainID:   "0x1",
		Signature: "0xfeedc0de",
		TxHash:    "0xabad1dea",
	}
}

// LoadFixtures reads path, filling unset fields from the defaults. An empty
// path returns the defaults.
func LoadFixtures(path string) (Fixtures, error) {
	fx := DefaultFixtures()
	if path == "" {
		return fx, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Fixtures{}, fmt.Errorf("read fixtures: %w", err)
	}
	var loaded Fixtures
	if err := yaml.Unmarshal(raw, &loaded); err != nil {
		return Fixtures{}, fmt.Errorf("parse fixtures: %w", err)
	}
	if len(loaded.Accounts) > 0 {
		fx.Accounts = loaded.Accounts
	}
	if loaded.ChainID != "" {
		fx.ChainID = loaded.ChainID
	}
	if loaded.Signature != "" {
		fx.Signature = loaded.Signature
	}
	if loaded.TxHash != "" {
		fx.TxHash = loaded.TxHash
	}
	return fx, nil
}
