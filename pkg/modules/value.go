package modules

import (
	"fmt"
	"math"
	"net/netip"
	"sort"
	"strings"
)

// Value is a typed module config value. The concrete types are String,
// Integer, Boolean, Array and Object.
type Value interface {
	// Native returns the value as plain Go data for templating and JSON.
	Native() interface{}

	isValue()
}

// String is a string config value.
type String string

// Integer is an integer config value.
type Integer int64

// Boolean is a boolean config value.
type Boolean bool

// Array is an array config value.
type Array []Value

// Object is an object item inside an array.
type Object map[string]Value

func (String) isValue()  {}
func (Integer) isValue() {}
func (Boolean) isValue() {}
func (Array) isValue()   {}
func (Object) isValue()  {}

// Native implements Value.
func (s String) Native() interface{} { return string(s) }

// Native implements Value.
func (i Integer) Native() interface{} { return int64(i) }

// Native implements Value.
func (b Boolean) Native() interface{} { return bool(b) }

// Native implements Value.
func (a Array) Native() interface{} {
	out := make([]interface{}, len(a))
	for i, v := range a {
		out[i] = v.Native()
	}
	return out
}

// Native implements Value.
func (o Object) Native() interface{} {
	out := make(map[string]interface{}, len(o))
	for k, v := range o {
		out[k] = v.Native()
	}
	return out
}

// Config is a module instance configuration checked against its definition.
type Config map[string]Value

// Native returns the configuration as plain Go data.
func (c Config) Native() map[string]interface{} {
	out := make(map[string]interface{}, len(c))
	for k, v := range c {
		out[k] = v.Native()
	}
	return out
}

// Items returns the entries of an array field, or nil if the field is absent
// or not an array.
func (c Config) Items(field string) Array {
	v, ok := c[field]
	if !ok {
		return nil
	}
	arr, ok := v.(Array)
	if !ok {
		return nil
	}
	return arr
}

// ConfigError lists every problem found in one module instance's configuration.
type ConfigError struct {
	Module   string
	Problems []string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("module %s: invalid config: %s", e.Module, strings.Join(e.Problems, "; "))
}

// ParseConfig converts raw instance configuration into typed values,
// applying defaults and enforcing types, formats and required fields.
func ParseConfig(def *Definition, raw map[string]interface{}) (Config, error) {
	cerr := &ConfigError{Module: def.Name}
	out := make(Config, len(def.ConfigSchema))

	for _, name := range sortedFields(def.ConfigSchema) {
		schema := def.ConfigSchema[name]
		rv, present := raw[name]
		if !present || rv == nil {
			rv = schema.Default
		}
		if rv == nil {
			if schema.Required {
				cerr.Problems = append(cerr.Problems, fmt.Sprintf("missing required field %s", name))
			}
			continue
		}

		v, err := convert(schema, rv)
		if err != nil {
			cerr.Problems = append(cerr.Problems, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		out[name] = v
	}

	unknown := make([]string, 0)
	for name := range raw {
		if _, ok := def.ConfigSchema[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	sort.Strings(unknown)
	for _, name := range unknown {
		cerr.Problems = append(cerr.Problems, fmt.Sprintf("unknown field %s", name))
	}

	if len(cerr.Problems) > 0 {
		return nil, cerr
	}
	return out, nil
}

func convert(schema FieldSchema, raw interface{}) (Value, error) {
	switch schema.Type {
	case FieldString:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", raw)
		}
		if err := checkFormat(schema.Format, s); err != nil {
			return nil, err
		}
		return String(s), nil

	case FieldInteger:
		n, err := toInteger(raw)
		if err != nil {
			return nil, err
		}
		return Integer(n), nil

	case FieldBoolean:
		b, ok := raw.(bool)
		if !ok {
			return nil, fmt.Errorf("expected boolean, got %T", raw)
		}
		return Boolean(b), nil

	case FieldArray:
		items, ok := raw.([]interface{})
		if !ok {
			return nil, fmt.Errorf("expected array, got %T", raw)
		}
		arr := make(Array, 0, len(items))
		for i, item := range items {
			v, err := convertItem(schema, item)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			arr = append(arr, v)
		}
		return arr, nil

	default:
		return nil, fmt.Errorf("invalid type %q", string(schema.Type))
	}
}

func convertItem(schema FieldSchema, item interface{}) (Value, error) {
	if len(schema.ItemSchema) == 0 {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("expected string item, got %T", item)
		}
		if err := checkFormat(schema.Format, s); err != nil {
			return nil, err
		}
		return String(s), nil
	}

	fields, ok := item.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("expected object item, got %T", item)
	}
	obj := make(Object, len(fields))
	for _, name := range sortedFields(schema.ItemSchema) {
		fs := schema.ItemSchema[name]
		if fs.Type == "" {
			fs.Type = FieldString
		}
		rv, present := fields[name]
		if !present || rv == nil {
			rv = fs.Default
		}
		if rv == nil {
			if fs.Required {
				return nil, fmt.Errorf("missing required field %s", name)
			}
			continue
		}
		v, err := convert(fs, rv)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		obj[name] = v
	}
	for name := range fields {
		if _, ok := schema.ItemSchema[name]; !ok {
			return nil, fmt.Errorf("unknown field %s", name)
		}
	}
	return obj, nil
}

func toInteger(raw interface{}) (int64, error) {
	switch n := raw.(type) {
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("expected integer, got %v", n)
		}
		return int64(n), nil
	default:
		return 0, fmt.Errorf("expected integer, got %T", raw)
	}
}

func checkFormat(f Format, s string) error {
	switch f {
	case FormatNone:
		return nil
	case FormatIPv4, FormatIPv6:
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return fmt.Errorf("%q is not a valid %s address", s, f)
		}
		if addr.Is4() != (f == FormatIPv4) {
			return fmt.Errorf("%q is not a valid %s address", s, f)
		}
		return nil
	case FormatIPv4CIDR, FormatIPv6CIDR:
		prefix, err := netip.ParsePrefix(s)
		if err != nil {
			return fmt.Errorf("%q is not a valid %s", s, f)
		}
		if prefix.Addr().Is4() != (f == FormatIPv4CIDR) {
			return fmt.Errorf("%q is not a valid %s", s, f)
		}
		return nil
	default:
		return fmt.Errorf("invalid format %q", string(f))
	}
}

func sortedFields(schema map[string]FieldSchema) []string {
	names := make([]string, 0, len(schema))
	for name := range schema {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
