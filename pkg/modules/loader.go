package modules

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// DefaultIdealCores is the core request of a definition that omits cpu.ideal_cores.
const DefaultIdealCores = 2

var validate = validator.New()

// LoadFile loads and validates a module definition from a YAML file.
func LoadFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read module definition: %w", err)
	}

	def, err := LoadBytes(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	def.Path = path
	return def, nil
}

// LoadBytes parses and validates a module definition.
func LoadBytes(data []byte) (*Definition, error) {
	def := &Definition{CPU: CPURequest{IdealCores: DefaultIdealCores}}
	if err := yaml.Unmarshal(data, def); err != nil {
		return nil, fmt.Errorf("failed to parse module YAML: %w", err)
	}

	if err := validateDefinition(def); err != nil {
		return nil, fmt.Errorf("invalid module definition: %w", err)
	}
	return def, nil
}

// validateDefinition checks structure, naming, schema declarations and
// cross references inside one definition.
func validateDefinition(def *Definition) error {
	if err := validate.Struct(def); err != nil {
		return err
	}

	var problems []string
	if !nameRe.MatchString(def.Name) {
		problems = append(problems, fmt.Sprintf("invalid module name %q: must match %s", def.Name, nameRe.String()))
	}

	conns := make(map[string]bool, len(def.Topology.Connections))
	for _, c := range def.Topology.Connections {
		if conns[c.Name] {
			problems = append(problems, fmt.Sprintf("duplicate connection name %s", c.Name))
		}
		conns[c.Name] = true
	}

	if def.CPU.MinCores > def.CPU.IdealCores {
		problems = append(problems, fmt.Sprintf("cpu.min_cores %d exceeds cpu.ideal_cores %d", def.CPU.MinCores, def.CPU.IdealCores))
	}

	for _, name := range sortedFields(def.ConfigSchema) {
		problems = append(problems, validateFieldSchema("config_schema."+name, def.ConfigSchema[name])...)
	}

	if def.Routing != nil {
		for i, adv := range def.Routing.Advertise {
			if !conns[adv.ViaConnection] {
				problems = append(problems, fmt.Sprintf("routing.advertise[%d]: via_connection %q not found in connections", i, adv.ViaConnection))
			}
			if _, ok := def.ConfigSchema[adv.ConfigField]; !ok {
				problems = append(problems, fmt.Sprintf("routing.advertise[%d]: config_field %q not in config_schema", i, adv.ConfigField))
			}
		}
	}

	for _, field := range sortedLive(def.Live) {
		lt := def.Live[field]
		schema, ok := def.ConfigSchema[field]
		if !ok || schema.Type != FieldArray {
			problems = append(problems, fmt.Sprintf("live.%s: must name an array field of config_schema", field))
			continue
		}
		for _, k := range lt.Key {
			if _, ok := schema.ItemSchema[k]; !ok {
				problems = append(problems, fmt.Sprintf("live.%s: key field %q not in item_schema", field, k))
			}
		}
		for which, text := range map[string]string{"add": lt.Add, "remove": lt.Remove} {
			if _, err := template.New(which).Option("missingkey=error").Parse(text); err != nil {
				problems = append(problems, fmt.Sprintf("live.%s.%s: %v", field, which, err))
			}
		}
	}

	if len(problems) > 0 {
		sort.Strings(problems)
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

func validateFieldSchema(path string, fs FieldSchema) []string {
	var problems []string
	if err := fs.Type.Validate(); err != nil {
		problems = append(problems, fmt.Sprintf("%s: %v", path, err))
	}
	if err := fs.Format.Validate(); err != nil {
		problems = append(problems, fmt.Sprintf("%s: %v", path, err))
	}
	if len(fs.ItemSchema) > 0 && fs.Type != FieldArray {
		problems = append(problems, fmt.Sprintf("%s: item_schema is only valid on arrays", path))
	}
	for _, name := range sortedFields(fs.ItemSchema) {
		item := fs.ItemSchema[name]
		if item.Type == "" {
			item.Type = FieldString
		}
		problems = append(problems, validateFieldSchema(path+".item_schema."+name, item)...)
	}
	return problems
}

// Registry holds the module definitions available on the appliance.
type Registry struct {
	defs map[string]*Definition
}

// NewRegistry creates a registry from definitions.
func NewRegistry(defs ...*Definition) (*Registry, error) {
	r := &Registry{defs: make(map[string]*Definition, len(defs))}
	for _, d := range defs {
		if _, dup := r.defs[d.Name]; dup {
			return nil, fmt.Errorf("duplicate module definition %s", d.Name)
		}
		r.defs[d.Name] = d
	}
	return r, nil
}

// LoadDir loads every *.yaml and *.yml definition in dir.
// A missing directory yields an empty registry.
func LoadDir(dir string) (*Registry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewRegistry()
		}
		return nil, fmt.Errorf("failed to read modules directory: %w", err)
	}

	defs := make([]*Definition, 0, len(entries))
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		def, err := LoadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return NewRegistry(defs...)
}

// Get returns the definition with the given name.
func (r *Registry) Get(name string) (*Definition, bool) {
	d, ok := r.defs[name]
	return d, ok
}

// List returns all definitions sorted by name.
func (r *Registry) List() []*Definition {
	out := make([]*Definition, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// EntryKey identifies an array entry for live add/remove commands.
func (d *Definition) EntryKey(field string, item Value) string {
	lt := d.Live[field]
	obj, ok := item.(Object)
	if !ok {
		return fmt.Sprint(item.Native())
	}

	keys := []string(lt.Key)
	if len(keys) == 0 {
		keys = make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
	}
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		if v, ok := obj[k]; ok {
			parts = append(parts, fmt.Sprint(v.Native()))
		}
	}
	return strings.Join(parts, ",")
}

// RenderLive renders the add or remove command for one entry of field.
// The template sees the entry's fields at the top level; scalar entries are
// available as {{.value}}.
func (d *Definition) RenderLive(field string, item Value, add bool) (string, error) {
	lt, ok := d.Live[field]
	if !ok {
		return "", fmt.Errorf("module %s has no live commands for %s", d.Name, field)
	}
	text := lt.Remove
	if add {
		text = lt.Add
	}

	tmpl, err := template.New(field).Option("missingkey=error").Parse(text)
	if err != nil {
		return "", fmt.Errorf("module %s: live.%s: %w", d.Name, field, err)
	}

	data := map[string]interface{}{}
	if obj, ok := item.(Object); ok {
		data = obj.Native().(map[string]interface{})
	} else {
		data["value"] = item.Native()
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("module %s: live.%s: %w", d.Name, field, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

func sortedLive(live map[string]LiveTemplate) []string {
	names := make([]string, 0, len(live))
	for name := range live {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
