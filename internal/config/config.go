// Package config loads storage.Options from a YAML file, shared by
// cmd/zvdb and cmd/zvdbd (both need the same -config shape), following
// the pack's general preference for YAML config over ad hoc flag
// parsing (SPEC_FULL.md §3).
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/zvdb/zvdb/internal/storage"
)

// File is the on-disk shape for -config.
type File struct {
	DataDir        string `yaml:"data_dir"`
	WalDir         string `yaml:"wal_dir"`
	SegmentSize    int64  `yaml:"segment_size"`
	CheckpointCron string `yaml:"checkpoint_cron"`
	HNSW           struct {
		M              int `yaml:"m"`
		EfConstruction int `yaml:"ef_construction"`
		EfSearch       int `yaml:"ef_search"`
	} `yaml:"hnsw"`
}

func Load(path string) (File, error) {
	var f File
	data, err := os.ReadFile(path)
	if err != nil {
		return f, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("parse config %s: %w", path, err)
	}
	return f, nil
}

// Options translates the loaded YAML into storage.Option values,
// leaving zero-valued fields for OpenDB's own defaults to fill in.
func (f File) Options() []storage.Option {
	var opts []storage.Option
	if f.WalDir != "" {
		opts = append(opts, storage.WithWalDir(f.WalDir))
	}
	if f.SegmentSize > 0 {
		opts = append(opts, storage.WithSegmentSize(f.SegmentSize))
	}
	if f.CheckpointCron != "" {
		opts = append(opts, storage.WithCheckpointCron(f.CheckpointCron))
	}
	if f.HNSW.M > 0 || f.HNSW.EfConstruction > 0 || f.HNSW.EfSearch > 0 {
		p := storage.DefaultHNSWParams()
		if f.HNSW.M > 0 {
			p.M = f.HNSW.M
		}
		if f.HNSW.EfConstruction > 0 {
			p.EfConstruction = f.HNSW.EfConstruction
		}
		if f.HNSW.EfSearch > 0 {
			p.EfSearch = f.HNSW.EfSearch
		}
		opts = append(opts, storage.WithHNSWParams(p))
	}
	return opts
}
