package store

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Manifest is a YAML permission manifest:
//
//	plugins:
//	  notes:
//	    permissions: ["file.*", "card.read"]
type Manifest struct {
	Plugins map[string]ManifestPlugin `yaml:"plugins"`
}

// ManifestPlugin lists the grants of one plugin.
type ManifestPlugin struct {
	Permissions []string `yaml:"permissions"`
}

// LoadManifest reads a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseManifest(data)
}

// ParseManifest parses manifest YAML.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse permission manifest: %w", err)
	}
	if m.Plugins == nil {
		m.Plugins = map[string]ManifestPlugin{}
	}
	return &m, nil
}

// Permissions returns the normalized grants for pluginID.
func (m *Manifest) Permissions(_ context.Context, pluginID string) ([]string, error) {
	return normalizePermissions(m.Plugins[pluginID].Permissions), nil
}

// Seed replaces the grants in db with the manifest's, plugin by plugin.
func (m *Manifest) Seed(ctx context.Context, db *SQLite) error {
	for pluginID, plugin := range m.Plugins {
		if err := db.ReplacePermissions(ctx, pluginID, plugin.Permissions); err != nil {
			return fmt.Errorf("seed permissions for %s: %w", pluginID, err)
		}
	}
	return nil
}
