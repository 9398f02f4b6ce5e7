// Package kirepo models a cloned collection repository: a git working tree
// plus the `.decksync/` metadata directory holding the checkpoint ledger,
// collection backups, and the config file naming the live collection.
package kirepo

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/conorfennell/decksync/internal/gitx"
)

const (
	// MetaDir is the metadata directory at the repository root.
	MetaDir = ".decksync"
	// HashesFile is the append-only checkpoint ledger inside MetaDir.
	HashesFile = "hashes"
	// BackupsDir holds content-hash-keyed collection backups inside MetaDir.
	BackupsDir = "backups"
	// ConfigFile names the live collection file inside MetaDir.
	ConfigFile = "config.yaml"
	// MediaDir is the repository's attachment directory.
	MediaDir = "_media"
	// ModelsFile is the per-deck cumulative notetype manifest.
	ModelsFile = "models.json"
	// CheckpointTag marks the last successful reconciliation commit.
	CheckpointTag = "last-successful-push"
	// LCAName is the last-common-ancestor collection backup filename.
	LCAName = "lca.anki2"
)

// Config is the parsed contents of `.decksync/config.yaml`.
type Config struct {
	Collection string `koanf:"collection" validate:"required,filepath"`
}

// Repo is an open collection repository.
type Repo struct {
	Root    string
	Git     *gitx.Repo
	ColPath string
}

// Load opens the repository rooted at dir, reading and validating its
// config. It does not consult the process working directory.
func Load(dir string) (*Repo, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve repository root: %w", err)
	}
	if _, err := os.Stat(filepath.Join(root, MetaDir)); err != nil {
		return nil, fmt.Errorf("%q is not a cloned collection repository: %w", root, err)
	}

	cfg, err := LoadConfig(root)
	if err != nil {
		return nil, err
	}
	repo, err := gitx.Open(root)
	if err != nil {
		return nil, err
	}
	return &Repo{Root: root, Git: repo, ColPath: cfg.Collection}, nil
}

// LoadConfig reads and validates the repository config.
func LoadConfig(root string) (Config, error) {
	k := koanf.New(".")
	path := filepath.Join(root, MetaDir, ConfigFile)
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return Config{}, fmt.Errorf("failed to load config %q: %w", path, err)
	}
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config %q: %w", path, err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config %q: %w", path, err)
	}
	return cfg, nil
}

// InitMeta creates the metadata directory at root: config file, empty
// ledger, and backups directory.
func InitMeta(root, colPath string) error {
	meta := filepath.Join(root, MetaDir)
	if err := os.MkdirAll(filepath.Join(meta, BackupsDir), 0o755); err != nil {
		return fmt.Errorf("failed to create metadata directory: %w", err)
	}
	abs, err := filepath.Abs(colPath)
	if err != nil {
		return fmt.Errorf("failed to resolve collection path: %w", err)
	}
	cfg := fmt.Sprintf("collection: %s\n", abs)
	if err := os.WriteFile(filepath.Join(meta, ConfigFile), []byte(cfg), 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.WriteFile(filepath.Join(meta, HashesFile), nil, 0o644); err != nil {
		return fmt.Errorf("failed to create ledger: %w", err)
	}
	return nil
}

// MetaPath returns a path inside the metadata directory.
func (r *Repo) MetaPath(parts ...string) string {
	return filepath.Join(append([]string{r.Root, MetaDir}, parts...)...)
}

// HashesRelPath is the ledger's path relative to the repository root, in
// git's slash form.
func HashesRelPath() string { return MetaDir + "/" + HashesFile }
