package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Tuning holds the empirical harvest constants. Every field has a default;
// a YAML file may override any subset.
type Tuning struct {
	Coverage  CoverageTuning  `yaml:"coverage"`
	Fetch     FetchTuning     `yaml:"fetch"`
	Catalog   CatalogTuning   `yaml:"catalog"`
	OpenData  OpenDataTuning  `yaml:"opendata"`
	Directory DirectoryTuning `yaml:"directory"`
}

type CoverageTuning struct {
	MinRecords        int     `yaml:"min_records"`
	PerCell           int     `yaml:"per_cell"`
	MinUserCountRatio float64 `yaml:"min_user_count_ratio"`
}

type FetchTuning struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	Backoff        time.Duration `yaml:"backoff"`
	RateLimitDelay time.Duration `yaml:"rate_limit_delay"`
	FollowDepth    int           `yaml:"follow_depth"`
}

type CatalogTuning struct {
	IndexURL    string `yaml:"index_url"`
	ContentBase string `yaml:"content_base"`
}

type OpenDataTuning struct {
	SearchURL           string `yaml:"search_url"`
	PackagesPerQuery    int    `yaml:"packages_per_query"`
	ResourcesPerService int    `yaml:"resources_per_service"`
	DownloadsPerService int    `yaml:"downloads_per_service"`
}

type DirectoryTuning struct {
	BaseURL  string `yaml:"base_url"`
	PageSize int    `yaml:"page_size"`
	MaxPages int    `yaml:"max_pages"`
}

// DefaultTuning returns the built-in constants. URL fields left empty fall
// back to each adapter's own default.
func DefaultTuning() Tuning {
	return Tuning{
		Coverage: CoverageTuning{MinRecords: 250, PerCell: 12, MinUserCountRatio: 0.20},
		Fetch: FetchTuning{
			MaxAttempts:    3,
			Backoff:        1200 * time.Millisecond,
			RateLimitDelay: 2 * time.Second,
			FollowDepth:    2,
		},
		OpenData:  OpenDataTuning{PackagesPerQuery: 60, ResourcesPerService: 8, DownloadsPerService: 6},
		Directory: DirectoryTuning{PageSize: 50, MaxPages: 200},
	}
}

// LoadTuning returns DefaultTuning overlaid with the YAML file at path.
// An empty path returns the defaults.
func LoadTuning(path string) (Tuning, error) {
	t := DefaultTuning()
	if path == "" {
		return t, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return t, fmt.Errorf("read tuning file: %w", err)
	}
	if err := t.Overlay(data); err != nil {
		return t, fmt.Errorf("tuning file %s: %w", path, err)
	}
	return t, nil
}

// Overlay binds the YAML document data onto t. Scalars are weakly typed, so
// "0.25" and 0.25 both bind to a float, and durations accept "1.5s".
func (t *Tuning) Overlay(data []byte) error {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	if len(raw) == 0 {
		return nil
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           t,
		TagName:          "yaml",
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return fmt.Errorf("failed to create mapstructure decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return fmt.Errorf("bind tuning: %w", err)
	}
	return nil
}
