package mapping

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"syncgate/internal/model"
)

// File is the on-disk mapping definition, e.g.
//
//	integrationId: 4b7c...
//	mappings:
//	  - {sourceField: item.code, targetField: products.sku, required: true}
//	syncTypes:
//	  pricing:
//	    - {sourceField: price_cents, targetField: price, transformation: cents_to_decimal}
type File struct {
	IntegrationID string                                 `yaml:"integrationId"`
	Mappings      []model.DataMapping                    `yaml:"mappings"`
	SyncTypes     map[model.SyncType][]model.DataMapping `yaml:"syncTypes"`
}

// LoadFile reads a mapping file, expanding ${VAR} references from the environment.
func LoadFile(path string) (File, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator supplied path
	if err != nil {
		return File{}, fmt.Errorf("read mapping file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (File, error) {
	var f File
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &f); err != nil {
		return File{}, fmt.Errorf("parse mapping file: %w", err)
	}
	return f, nil
}

// Flatten returns every mapping with SyncType and IntegrationID filled in.
func (f File) Flatten(integrationID string) []model.DataMapping {
	if integrationID == "" {
		integrationID = f.IntegrationID
	}
	out := make([]model.DataMapping, 0, len(f.Mappings))
	for _, m := range f.Mappings {
		m.IntegrationID = integrationID
		out = append(out, m)
	}
	types := make([]string, 0, len(f.SyncTypes))
	for t := range f.SyncTypes {
		types = append(types, string(t))
	}
	sort.Strings(types)
	for _, t := range types {
		for _, m := range f.SyncTypes[model.SyncType(t)] {
			m.IntegrationID = integrationID
			m.SyncType = model.SyncType(t)
			out = append(out, m)
		}
	}
	return out
}
