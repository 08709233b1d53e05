// Package all registers the built-in connector types with a factory.
package all

import (
	"syncgate/internal/connector"
	"syncgate/internal/connector/csvdrop"
	"syncgate/internal/connector/erp"
	"syncgate/internal/connector/shopify"
)

// Builtins maps each shipped connector type to its constructor.
var Builtins = map[string]connector.Constructor{
	erp.Type:     erp.New,
	csvdrop.Type: csvdrop.New,
	shopify.Type: shopify.New,
}

// Register adds every built-in type to f.
func Register(f *connector.Factory) error {
	for typ, ctor := range Builtins {
		if err := f.Register(typ, ctor); err != nil {
			return err
		}
	}
	return nil
}

// NewFactory returns a factory with every built-in type registered.
func NewFactory(deps connector.Deps) *connector.Factory {
	f := connector.NewFactory(deps)
	if err := Register(f); err != nil {
		panic(err)
	}
	return f
}
