// Copyright 2025 Shan
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package commands

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	applog "github.com/szqshan/apiconnect/internal/log"

	"github.com/szqshan/apiconnect/internal/config"
	"github.com/szqshan/apiconnect/internal/connector"
	"github.com/szqshan/apiconnect/internal/engine"
	"github.com/szqshan/apiconnect/internal/metrics"
	"github.com/szqshan/apiconnect/internal/storage"
	"github.com/szqshan/apiconnect/pkg/secrets"
)

// app bundles the wired components a command needs.
type app struct {
	logger   *slog.Logger
	registry *config.Registry
	engine   *engine.Engine
	store    *storage.Store
	metrics  *metrics.Collector
}

// close releases the app's resources.
func (a *app) close() {
	if a.store != nil {
		a.store.Close()
	}
}

// buildApp wires a registry, executor, store and engine from the
// persistent flags and environment.
func buildApp(withStore bool) (*app, error) {
	logger := buildLogger()

	configPath, err := resolveConfigPath()
	if err != nil {
		return nil, err
	}

	registry, err := config.NewRegistry(configPath, secrets.DefaultSource(), logger)
	if err != nil {
		return nil, err
	}

	a := &app{logger: logger, registry: registry}

	if withStore {
		dbPath, err := resolveDBPath()
		if err != nil {
			return nil, err
		}
		a.store, err = storage.Open(dbPath, logger)
		if err != nil {
			return nil, fmt.Errorf("opening session database: %w", err)
		}
		a.metrics = metrics.NewCollector(nil)
	}

	a.engine, err = engine.New(engine.Config{
		Registry: registry,
		Executor: connector.NewExecutor(logger, connector.WithMetrics(a.metrics)),
		Store:    a.store,
		Logger:   logger,
		Metrics:  a.metrics,
	})
	if err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

// buildLogger creates the process logger from environment defaults
// overridden by the persistent flags.
func buildLogger() *slog.Logger {
	cfg := applog.FromEnv()
	if flagLogLevel != "" {
		cfg.Level = flagLogLevel
	}
	if flagLogFormat != "" {
		cfg.Format = applog.Format(flagLogFormat)
	}
	return applog.New(cfg)
}

// resolveConfigPath picks the configuration location: flag, then
// environment, then the per-user default.
func resolveConfigPath() (string, error) {
	if flagConfig != "" {
		return flagConfig, nil
	}
	if env := os.Getenv("APICONNECT_CONFIG"); env != "" {
		return env, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine config directory: %w", err)
	}
	return filepath.Join(dir, "apiconnect", "apis.yaml"), nil
}

// resolveDBPath picks the session database location.
func resolveDBPath() (string, error) {
	if flagDB != "" {
		return flagDB, nil
	}
	if env := os.Getenv("APICONNECT_DB"); env != "" {
		return env, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine config directory: %w", err)
	}
	base := filepath.Join(dir, "apiconnect")
	if err := os.MkdirAll(base, 0o755); err != nil {
		return "", err
	}
	return filepath.Join(base, "sessions.db"), nil
}
