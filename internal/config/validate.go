package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the whole configuration and joins every problem found.
func (c *Config) Validate() error {
	var errs []error

	if c.App.MaxProcesses < 1 {
		errs = append(errs, &ValidationError{Field: "app.max_processes", Message: "must be at least 1"})
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, &ValidationError{Field: "server.port", Message: "must be between 1 and 65535"})
	}
	switch c.Store.Backend {
	case StoreBackendFS, StoreBackendMinio:
	default:
		errs = append(errs, &ValidationError{Field: "store.backend", Message: "must be one of: fs, minio"})
	}
	if err := validatePattern(c.Store.Pattern); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error", "fatal":
	default:
		errs = append(errs, &ValidationError{Field: "logging.level", Message: "must be one of: debug, info, warn, error, fatal"})
	}
	for name, instance := range c.Kramerius.Instances {
		if instance.URL == "" {
			errs = append(errs, &ValidationError{Field: "kramerius.instances." + name + ".url", Message: "is required"})
		}
	}
	for name, engine := range c.Engines {
		if err := engine.Validate(name); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Reindex.Schedule != "" {
		if _, err := cron.ParseStandard(c.Reindex.Schedule); err != nil {
			errs = append(errs, &ValidationError{Field: "reindex.schedule", Message: err.Error()})
		}
	}

	return errors.Join(errs...)
}

// Validate checks that the template can produce a command line.
func (c *EngineConfig) Validate(name string) error {
	field := "engines." + name
	if c.Exec == "" {
		return &ValidationError{Field: field + ".exec", Message: "is required"}
	}
	if c.Entry == "" {
		return &ValidationError{Field: field + ".entry", Message: "is required"}
	}
	if c.BatchMode {
		if c.DataTripletsArg == "" {
			return &ValidationError{Field: field + ".data_triplets_arg", Message: "is required in batch mode"}
		}
	} else if c.InImageArg == "" || c.OutAltoArg == "" || c.OutOcrArg == "" {
		return &ValidationError{Field: field, Message: "in_image_arg, out_alto_arg and out_ocr_arg are required"}
	}
	if c.BatchSize < 1 {
		return &ValidationError{Field: field + ".batch_size", Message: "must be at least 1"}
	}
	return nil
}

func validatePattern(pattern string) error {
	if pattern == "" {
		return &ValidationError{Field: "store.pattern", Message: "is required"}
	}
	for _, segment := range strings.Split(pattern, "/") {
		if segment == "" || strings.Trim(segment, "x#") != "" {
			return &ValidationError{Field: "store.pattern", Message: "segments may only contain 'x' or '#'"}
		}
	}
	return nil
}
