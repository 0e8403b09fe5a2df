package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	sheetsync "github.com/ideamans/go-sheetsync"
	"github.com/ideamans/go-sheetsync/adapters/excel"
	"github.com/ideamans/go-sheetsync/adapters/googlesheets"
	"github.com/ideamans/go-sheetsync/kvstore/sqlite"
	"github.com/ideamans/go-sheetsync/remote/rest"
)

const (
	storeExcel        = "excel"
	storeGoogleSheets = "googlesheets"
)

// fileConfig is the layout of the --config file
type fileConfig struct {
	DatasetID   string           `yaml:"dataset_id"`
	DefaultKind string           `yaml:"default_kind"`
	Engine      sheetsync.Config `yaml:"engine"`
	Store       storeConfig      `yaml:"store"`
	Remote      rest.Config      `yaml:"remote"`
	State       stateConfig      `yaml:"state"`
}

type storeConfig struct {
	Type         string                   `yaml:"type"` // excel or googlesheets
	Excel        excel.Config             `yaml:"excel"`
	GoogleSheets googlesheets.Config      `yaml:"googlesheets"`
	Credentials  googlesheets.Credentials `yaml:"credentials"`
}

type stateConfig struct {
	Path string `yaml:"path"` // sqlite file holding sessions
}

// loadFileConfig reads path on top of the engine defaults
func loadFileConfig(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg := &fileConfig{
		DefaultKind: string(sheetsync.KindProduct),
		State:       stateConfig{Path: "sheetsync.db"},
	}
	switch engineDefaults(data) {
	case storeGoogleSheets:
		cfg.Engine = *googlesheets.DefaultClientConfig()
	default:
		cfg.Engine = *excel.DefaultClientConfig()
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// engineDefaults peeks at store.type so backend defaults apply before the
// file's own engine settings.
func engineDefaults(data []byte) string {
	var peek struct {
		Store struct {
			Type string `yaml:"type"`
		} `yaml:"store"`
	}
	_ = yaml.Unmarshal(data, &peek)
	return peek.Store.Type
}

func (c *fileConfig) validate() error {
	if c.DatasetID == "" {
		return errors.New("dataset_id is required")
	}
	if !sheetsync.KnownKind(sheetsync.ResourceKind(c.DefaultKind)) {
		return fmt.Errorf("unknown default_kind %q", c.DefaultKind)
	}
	switch c.Store.Type {
	case storeExcel:
		if err := c.Store.Excel.Validate(); err != nil {
			return fmt.Errorf("store.excel: %w", err)
		}
	case storeGoogleSheets:
		if err := c.Store.GoogleSheets.Validate(); err != nil {
			return fmt.Errorf("store.googlesheets: %w", err)
		}
	default:
		return fmt.Errorf("unknown store.type %q (want %s or %s)", c.Store.Type, storeExcel, storeGoogleSheets)
	}
	if err := c.Remote.Validate(); err != nil {
		return fmt.Errorf("remote: %w", err)
	}
	if c.Engine.MaxRetries < 0 {
		return errors.New("engine.max_retries must be non-negative")
	}
	return nil
}

// env is everything a command needs, opened from the config file
type env struct {
	cfg          *fileConfig
	orchestrator *sheetsync.Orchestrator
	state        *sqlite.Store
}

func (e *env) Close() error {
	return e.state.Close()
}

func openEnv(ctx context.Context, path string) (*env, error) {
	cfg, err := loadFileConfig(path)
	if err != nil {
		return nil, err
	}

	var store sheetsync.Adapter
	switch cfg.Store.Type {
	case storeExcel:
		store, err = excel.New(&cfg.Store.Excel)
	case storeGoogleSheets:
		store, err = googlesheets.Open(ctx, cfg.Store.GoogleSheets, cfg.Store.Credentials)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Store.Type, err)
	}

	dispatcher, err := rest.New(ctx, cfg.Remote)
	if err != nil {
		return nil, fmt.Errorf("failed to create remote dispatcher: %w", err)
	}

	state, err := sqlite.Open(ctx, cfg.State.Path)
	if err != nil {
		return nil, err
	}

	engine := cfg.Engine
	engine.Logger = logger
	o := sheetsync.New(cfg.DatasetID, store, dispatcher, state, &engine)
	o.SetEventSink(sheetsync.LogSink{Logger: logger})

	return &env{cfg: cfg, orchestrator: o, state: state}, nil
}
