package modules

import (
	"errors"
	"fmt"

	"github.com/justindthomas/imp/pkg/config"
)

// Instance is an enabled module instance bound to its definition with a
// checked configuration.
type Instance struct {
	Name       string
	Definition *Definition
	Config     Config
}

// Resolve binds the enabled module instances of a configuration to their
// definitions, in configuration order. Every unknown module and config
// problem is reported.
func (r *Registry) Resolve(instances []config.ModuleInstance) ([]Instance, error) {
	out := make([]Instance, 0, len(instances))
	var errs []error
	for _, inst := range instances {
		if !inst.Enabled {
			continue
		}
		def, ok := r.Get(inst.Name)
		if !ok {
			errs = append(errs, fmt.Errorf("module %s: no definition loaded", inst.Name))
			continue
		}
		cfg, err := ParseConfig(def, inst.Config)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, Instance{Name: inst.Name, Definition: def, Config: cfg})
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}
