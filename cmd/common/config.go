// Package common holds the setup shared by CLI commands.
package common

import (
	"context"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/viper"

	"github.com/rrandiak/altoEditorAPI-sub000/internal/config"
	"github.com/rrandiak/altoEditorAPI-sub000/internal/database"
	"github.com/rrandiak/altoEditorAPI-sub000/internal/logger"
)

// Viper keys of the persistent flags.
const (
	KeyConfig = "config"
	KeyDebug  = "debug"

	DefaultConfigPath = "config.yml"
)

// Version is set at build time with -ldflags "-X .../cmd/common.Version=...".
var Version = "dev"

// LoadConfig reads the config file selected by --config or CONFIG_PATH.
// A missing default file is not an error; defaults and environment apply.
func LoadConfig() (*config.Config, error) {
	path := viper.GetString(KeyConfig)
	if path == DefaultConfigPath {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			path = ""
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if viper.GetBool(KeyDebug) {
		cfg.Logging.Level = "debug"
		cfg.Server.Debug = true
	}
	return cfg, nil
}

// NewLogger builds the logger from cfg.
func NewLogger(cfg *config.Config) (logger.Logger, error) {
	log, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	return log.With(logger.String("service", "alto-editor")), nil
}

// Setup loads config and logger together.
func Setup() (*config.Config, logger.Logger, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	log, err := NewLogger(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

// OpenDatabase connects to PostgreSQL.
func OpenDatabase(ctx context.Context, cfg *config.Config) (*sqlx.DB, error) {
	db, err := database.NewPostgresConnection(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	return db, nil
}

// NewTable returns a table writer mirrored to stdout in the CLI style.
func NewTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	return t
}
