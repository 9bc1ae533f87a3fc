package modules

import (
	"fmt"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Definition is a module definition loaded from YAML.
type Definition struct {
	// Name is the module identifier referenced by config module instances.
	Name string `yaml:"name" validate:"required"`

	// DisplayName is the human-readable name.
	DisplayName string `yaml:"display_name"`

	// Description describes what the module does.
	Description string `yaml:"description"`

	// Topology describes the memif connections to the core dataplane.
	Topology Topology `yaml:"topology" validate:"required"`

	// VPPCommands is the startup command template for the module instance.
	VPPCommands string `yaml:"vpp_commands" validate:"required"`

	// Plugins lists dataplane plugins the module instance loads.
	Plugins []string `yaml:"plugins"`

	// DisablePlugins lists dataplane plugins the module instance disables.
	DisablePlugins []string `yaml:"disable_plugins"`

	// CPU is the module's core request.
	CPU CPURequest `yaml:"cpu"`

	// ConfigSchema declares the module's configuration fields.
	ConfigSchema map[string]FieldSchema `yaml:"config_schema"`

	// ShowCommands are read-only operator commands.
	ShowCommands []ShowCommand `yaml:"show_commands" validate:"dive"`

	// Routing lists prefixes the control plane advertises on the module's behalf.
	Routing *Routing `yaml:"routing,omitempty"`

	// Commands are the operator commands that edit the module configuration.
	Commands []Command `yaml:"commands" validate:"dive"`

	// Live maps array config fields to the commands that add or remove
	// one entry on a running module instance.
	Live map[string]LiveTemplate `yaml:"live" validate:"dive"`

	// Path is the file the definition was loaded from.
	Path string `yaml:"-"`
}

// Topology lists a module's connections.
type Topology struct {
	Connections []Connection `yaml:"connections" validate:"required,min=1,dive"`
}

// Connection is one memif link between the core dataplane and the module.
type Connection struct {
	Name      string `yaml:"name" validate:"required"`
	Purpose   string `yaml:"purpose"`
	CreateLCP bool   `yaml:"create_lcp"`
}

// CPURequest is the number of dedicated cores a module would like.
type CPURequest struct {
	MinCores   int `yaml:"min_cores" validate:"min=0"`
	IdealCores int `yaml:"ideal_cores" validate:"min=0"`
}

// ShowCommand is a read-only command run against the module instance.
type ShowCommand struct {
	Name        string `yaml:"name" validate:"required"`
	VPPCommand  string `yaml:"vpp_command" validate:"required"`
	Description string `yaml:"description"`
}

// Routing describes prefixes advertised on behalf of the module.
type Routing struct {
	Advertise []Advertise `yaml:"advertise" validate:"dive"`
}

// Advertise advertises the prefix held in a config field via a connection.
type Advertise struct {
	ConfigField   string `yaml:"config_field" validate:"required"`
	ViaConnection string `yaml:"via_connection" validate:"required"`
	AddressFamily string `yaml:"address_family" validate:"omitempty,oneof=ipv4 ipv6"`
}

// Command is an operator command that edits one config field.
type Command struct {
	Path        string         `yaml:"path" validate:"required"`
	Description string         `yaml:"description"`
	Action      string         `yaml:"action" validate:"required,oneof=array_append array_remove array_list set_value show"`
	Target      string         `yaml:"target" validate:"required"`
	Params      []CommandParam `yaml:"params" validate:"dive"`
	Key         KeyFields      `yaml:"key"`
}

// CommandParam is one parameter of an operator command.
type CommandParam struct {
	Name     string   `yaml:"name" validate:"required"`
	Type     string   `yaml:"type" validate:"required,oneof=ipv4_cidr ipv6_cidr ipv4 ipv6 string integer boolean choice"`
	Prompt   string   `yaml:"prompt"`
	Required bool     `yaml:"required"`
	Choices  []string `yaml:"choices"`
}

// LiveTemplate renders commands for one array entry. Templates are
// text/template strings evaluated with the entry's fields.
type LiveTemplate struct {
	// Key lists the entry fields that identify an entry. Empty means all fields.
	Key KeyFields `yaml:"key"`

	// Add is the command that installs an entry.
	Add string `yaml:"add" validate:"required"`

	// Remove is the command that withdraws an entry.
	Remove string `yaml:"remove" validate:"required"`
}

// FieldType is the declared type of a module config field.
type FieldType string

const (
	FieldString  FieldType = "string"
	FieldArray   FieldType = "array"
	FieldInteger FieldType = "integer"
	FieldBoolean FieldType = "boolean"
)

// Validate checks that t is a known type.
func (t FieldType) Validate() error {
	switch t {
	case FieldString, FieldArray, FieldInteger, FieldBoolean:
		return nil
	default:
		return fmt.Errorf("invalid type %q", string(t))
	}
}

// Format constrains the contents of a string field.
type Format string

const (
	FormatNone     Format = ""
	FormatIPv4     Format = "ipv4"
	FormatIPv6     Format = "ipv6"
	FormatIPv4CIDR Format = "ipv4_cidr"
	FormatIPv6CIDR Format = "ipv6_cidr"
)

// Validate checks that f is a known format.
func (f Format) Validate() error {
	switch f {
	case FormatNone, FormatIPv4, FormatIPv6, FormatIPv4CIDR, FormatIPv6CIDR:
		return nil
	default:
		return fmt.Errorf("invalid format %q", string(f))
	}
}

// FieldSchema declares one config field.
type FieldSchema struct {
	Type        FieldType   `yaml:"type"`
	Format      Format      `yaml:"format"`
	Description string      `yaml:"description"`
	Default     interface{} `yaml:"default"`
	Required    bool        `yaml:"required"`

	// ItemSchema describes the fields of object items in an array.
	ItemSchema map[string]FieldSchema `yaml:"item_schema"`
}

var nameRe = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// ConnectionNames returns the names of the module's connections in order.
func (d *Definition) ConnectionNames() []string {
	names := make([]string, 0, len(d.Topology.Connections))
	for _, c := range d.Topology.Connections {
		names = append(names, c.Name)
	}
	return names
}

// CLISocket returns the CLI socket of the module's dataplane instance.
func (d *Definition) CLISocket() string {
	return fmt.Sprintf("/run/vpp/%s-cli.sock", d.Name)
}

// KeyFields is a uniqueness key written either as a single field name or a list.
type KeyFields []string

// UnmarshalYAML accepts a scalar or a sequence.
func (k *KeyFields) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*k = KeyFields{node.Value}
		return nil
	case yaml.SequenceNode:
		var fields []string
		if err := node.Decode(&fields); err != nil {
			return err
		}
		*k = fields
		return nil
	default:
		return fmt.Errorf("line %d: key must be a field name or a list of field names", node.Line)
	}
}
