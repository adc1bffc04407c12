package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/machinefabric/cardbridge-go/host"
)

// ConfigFileName is the per-card config file written by CardFiles.
const ConfigFileName = "config.yaml"

// CardFiles keeps each card's config as YAML inside the card directory. Cards
// without a Path live under Root/<card id>.
type CardFiles struct {
	Root string
}

// ConfigPath returns where the config for card is stored.
func (c CardFiles) ConfigPath(card host.Card) (string, error) {
	if card.Path != "" {
		return filepath.Join(card.Path, ConfigFileName), nil
	}
	if card.ID == "" || strings.ContainsAny(card.ID, `/\`) || card.ID == "." || card.ID == ".." {
		return "", fmt.Errorf("invalid card id %q", card.ID)
	}
	if c.Root == "" {
		return "", errors.New("card has no path and no root is configured")
	}
	return filepath.Join(c.Root, card.ID, ConfigFileName), nil
}

// LoadConfig reads the card's config file. A missing file is an empty config.
func (c CardFiles) LoadConfig(_ context.Context, card host.Card) (map[string]any, error) {
	path, err := c.ConfigPath(card)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var config map[string]any
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return config, nil
}

// SaveConfig writes the config file through a temp file and rename.
func (c CardFiles) SaveConfig(_ context.Context, card host.Card, config map[string]any) (string, error) {
	path, err := c.ConfigPath(card)
	if err != nil {
		return path, err
	}
	data, err := yaml.Marshal(config)
	if err != nil {
		return path, fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return path, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*.yaml")
	if err != nil {
		return path, err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return path, err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return path, err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return path, err
	}
	return path, nil
}
