package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"go.uber.org/zap"
)

// Manifest declares the contract addresses the relay should track.
type Manifest struct {
	Networks          AddressList `json:"networks"`
	NetworkShields    AddressList `json:"network_shields"`
	Gateways          AddressList `json:"network_gateways"`
	Escrows           AddressList `json:"gateway_escrows"`
	Tokens            AddressList `json:"tokens"`
	Exchanges         AddressList `json:"exchange"`
	UnwEth            AddressList `json:"unwEth"`
	IdentityFactories AddressList `json:"identityProxyFactory"`
}

// AddressList decodes either a single address string or a list of them.
type AddressList []string

func (l *AddressList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*l = nil
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var single string
		if err := json.Unmarshal(data, &single); err != nil {
			return err
		}
		*l = AddressList{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("expected address or list of addresses: %w", err)
	}
	*l = many
	return nil
}

// ManifestSource reads the current manifest.
type ManifestSource interface {
	Load() (Manifest, error)
}

// FileManifest reads the manifest from a JSON file on every Load.
type FileManifest struct {
	Path   string
	Logger *zap.Logger
}

// Load returns an empty manifest with a warning for an empty file and an error
// for unreadable or malformed files.
func (f FileManifest) Load() (Manifest, error) {
	logger := f.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	content, err := os.ReadFile(f.Path)
	if err != nil {
		return Manifest{}, fmt.Errorf("read address manifest: %w", err)
	}
	return ParseManifest(content, logger)
}

func ParseManifest(content []byte, logger *zap.Logger) (Manifest, error) {
	if len(bytes.TrimSpace(content)) == 0 {
		logger.Warn("address manifest is empty")
		return Manifest{}, nil
	}
	var m Manifest
	if err := json.Unmarshal(content, &m); err != nil {
		return Manifest{}, fmt.Errorf("decode address manifest: %w", err)
	}
	return m, nil
}
