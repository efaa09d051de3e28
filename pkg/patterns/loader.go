package patterns

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads pattern tables from a YAML file and merges them over the
// built-ins. An empty path returns the built-ins directly. On any read
// or parse failure the built-ins are returned together with the error,
// so callers can log the problem and keep serving.
//
// Merge granularity: map sections (dimensions, entities, upi_providers)
// merge per key, so a file can retune one dimension without restating
// the rest; list sections (categories, bank_names) and the scalar
// regexes replace wholesale when present, since their order carries
// meaning.
func Load(path string) (*Tables, error) {
	builtin := builtinTables()
	if path == "" {
		return builtin, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return builtin, fmt.Errorf("read pattern tables %s: %w", path, err)
	}

	var file Tables
	if err := yaml.Unmarshal(data, &file); err != nil {
		return builtin, fmt.Errorf("parse pattern tables %s: %w", path, err)
	}

	return mergeTables(builtin, &file), nil
}

func mergeTables(base, over *Tables) *Tables {
	merged := *base

	if len(over.Dimensions) > 0 {
		dims := make(map[Dimension]DimensionSpec, len(base.Dimensions))
		for d, spec := range base.Dimensions {
			dims[d] = spec
		}
		for d, spec := range over.Dimensions {
			dims[d] = spec
		}
		merged.Dimensions = dims
	}

	if len(over.Entities) > 0 {
		entities := make(map[EntityType]string, len(base.Entities))
		for et, src := range base.Entities {
			entities[et] = src
		}
		for et, src := range over.Entities {
			entities[et] = src
		}
		merged.Entities = entities
	}

	if len(over.UPIProviders) > 0 {
		providers := make(map[string]string, len(base.UPIProviders))
		for p, display := range base.UPIProviders {
			providers[p] = display
		}
		for p, display := range over.UPIProviders {
			providers[p] = display
		}
		merged.UPIProviders = providers
	}

	if len(over.Categories) > 0 {
		merged.Categories = over.Categories
	}
	if len(over.BankNames) > 0 {
		merged.BankNames = over.BankNames
	}
	if over.Amount != "" {
		merged.Amount = over.Amount
	}
	if over.SenderName != "" {
		merged.SenderName = over.SenderName
	}

	return &merged
}
