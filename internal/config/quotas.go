package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vyrodovalexey/avaguard/internal/util"
)

// Duration is a time.Duration written as "30s" or "5m" in YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Quota overrides the limits of one rate-limit scope.
type Quota struct {
	IPLimit   int64    `yaml:"ipLimit"`
	UserLimit int64    `yaml:"userLimit"`
	Window    Duration `yaml:"window"`
}

// QuotaFile is the document stored at QUOTAS_FILE.
//
//	quotas:
//	  me:
//	    ipLimit: 120
//	    userLimit: 60
//	    window: 1m
type QuotaFile struct {
	Quotas map[string]Quota `yaml:"quotas"`
}

// Validate rejects quotas that would deny every request.
func (f *QuotaFile) Validate() error {
	scopes := make([]string, 0, len(f.Quotas))
	for scope := range f.Quotas {
		scopes = append(scopes, scope)
	}
	sort.Strings(scopes)

	var errs []error
	for _, scope := range scopes {
		q := f.Quotas[scope]
		field := "quotas." + scope
		switch {
		case scope == "":
			errs = append(errs, util.NewConfigError("quotas", "scope name must not be empty"))
		case q.IPLimit < 0 || q.UserLimit < 0:
			errs = append(errs, util.NewConfigError(field, "limits must not be negative"))
		case q.IPLimit == 0 && q.UserLimit == 0:
			errs = append(errs, util.NewConfigError(field, "at least one limit is required"))
		case q.Window <= 0:
			errs = append(errs, util.NewConfigError(field, "window must be positive"))
		}
	}
	return errors.Join(errs...)
}

// LoadQuotaFile reads and validates a quota file.
func LoadQuotaFile(path string) (*QuotaFile, error) {
	if path == "" {
		return nil, util.NewConfigError(EnvQuotasFile, "path is empty")
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat quota file: %w", err)
	}
	if info.IsDir() {
		return nil, util.NewConfigError(EnvQuotasFile, "path is a directory: "+path)
	}

	// G304: path comes from operator configuration.
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read quota file: %w", err)
	}

	var f QuotaFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, util.NewConfigErrorWithCause(EnvQuotasFile, "invalid YAML", err)
	}
	if f.Quotas == nil {
		f.Quotas = map[string]Quota{}
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}
