// Package mapping transforms external records into canonical records through
// declarative field mappings and a fixed set of named transformations.
package mapping

import (
	"fmt"
	"strings"
	"sync"

	"syncgate/internal/errs"
	"syncgate/internal/model"
)

// Warning describes a non-required mapping that could not be applied.
type Warning struct {
	Field   string
	Message string
}

// Engine applies DataMappings. Compiled transformations are cached; safe for concurrent use.
type Engine struct {
	mu    sync.RWMutex
	cache map[string]Transform
}

func NewEngine() *Engine {
	return &Engine{cache: map[string]Transform{}}
}

func (e *Engine) compile(id string) (Transform, error) {
	e.mu.RLock()
	fn, ok := e.cache[id]
	e.mu.RUnlock()
	if ok {
		return fn, nil
	}
	fn, err := Compile(id)
	if err != nil {
		return nil, errs.Configuration("%v", err)
	}
	e.mu.Lock()
	e.cache[id] = fn
	e.mu.Unlock()
	return fn, nil
}

// Validate checks that every mapping has paths and a known transformation.
func (e *Engine) Validate(mappings []model.DataMapping) error {
	for i, m := range mappings {
		if strings.TrimSpace(m.SourceField) == "" || strings.TrimSpace(m.TargetField) == "" {
			return errs.Configuration("mapping %d: sourceField and targetField are required", i)
		}
		if _, err := e.compile(m.Transformation); err != nil {
			return fmt.Errorf("mapping %s -> %s: %w", m.SourceField, m.TargetField, err)
		}
	}
	return nil
}

// Apply maps one record. With no mappings the record is passed through as a shallow copy.
// A required field that is absent after defaulting, or whose transformation fails, returns a
// ValidationError naming the field. Failures on optional fields leave the target unset.
func (e *Engine) Apply(record map[string]any, mappings []model.DataMapping) (map[string]any, []Warning, error) {
	if len(mappings) == 0 {
		out := make(map[string]any, len(record))
		for k, v := range record {
			out[k] = v
		}
		return out, nil, nil
	}
	out := map[string]any{}
	var warnings []Warning
	for _, m := range mappings {
		v, found := Get(record, m.SourceField)
		if absent(v, found) && m.DefaultValue != nil {
			v, found = m.DefaultValue, true
		}
		if !absent(v, found) && strings.TrimSpace(m.Transformation) != "" {
			fn, err := e.compile(m.Transformation)
			if err != nil {
				return nil, warnings, err
			}
			tv, terr := fn(v)
			if terr != nil {
				if m.Required {
					return nil, warnings, errs.Validation("field %s: %v", m.SourceField, terr).
						WithDetail("field", m.SourceField)
				}
				warnings = append(warnings, Warning{Field: m.SourceField, Message: terr.Error()})
				continue
			}
			v = tv
		}
		if absent(v, found) {
			if m.Required {
				return nil, warnings, errs.Validation("required field %s is missing", m.SourceField).
					WithDetail("field", m.SourceField)
			}
			continue
		}
		Set(out, m.TargetField, v)
	}
	return out, warnings, nil
}

// ForSyncType selects the mappings that apply to one entity sync type. Mappings scoped to
// the type are kept as-is; unscoped mappings whose target starts with "<type>." are kept
// with that prefix stripped; unscoped mappings naming another type's prefix are dropped.
func ForSyncType(all []model.DataMapping, t model.SyncType) []model.DataMapping {
	out := make([]model.DataMapping, 0, len(all))
	prefix := string(t) + "."
	for _, m := range all {
		switch {
		case m.SyncType == t:
			out = append(out, m)
		case m.SyncType != "" && m.SyncType != model.SyncFull:
			continue
		case strings.HasPrefix(m.TargetField, prefix):
			m.TargetField = strings.TrimPrefix(m.TargetField, prefix)
			out = append(out, m)
		case hasOtherTypePrefix(m.TargetField, t):
			continue
		default:
			out = append(out, m)
		}
	}
	return out
}

func hasOtherTypePrefix(target string, t model.SyncType) bool {
	for _, other := range model.EntitySyncTypes {
		if other != t && strings.HasPrefix(target, string(other)+".") {
			return true
		}
	}
	return false
}
