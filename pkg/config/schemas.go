package config

import (
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

// DocumentSchema validates raw router.json documents against the CUE
// definition of the configuration file. cue.Context is not safe for
// concurrent use, so evaluation is serialized.
type DocumentSchema struct {
	mu     sync.Mutex
	ctx    *cue.Context
	schema cue.Value
}

// NewDocumentSchema compiles the built-in router configuration schema.
func NewDocumentSchema() (*DocumentSchema, error) {
	ctx := cuecontext.New()
	val := ctx.CompileString(routerSchema, cue.Filename("router.cue"))
	if err := val.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile router schema: %w", err)
	}
	def := val.LookupPath(cue.ParsePath("#RouterConfig"))
	if !def.Exists() {
		return nil, fmt.Errorf("router schema has no #RouterConfig definition")
	}
	return &DocumentSchema{ctx: ctx, schema: def}, nil
}

// Validate checks data against the schema. Failures are returned as a
// *ValidationError with one violation per CUE error.
func (s *DocumentSchema) Validate(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.ctx.CompileBytes(data, cue.Filename("router.json"))
	if err := doc.Err(); err != nil {
		return &ValidationError{Violations: convertCUEErrors(err)}
	}

	unified := s.schema.Unify(doc)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return &ValidationError{Violations: convertCUEErrors(err)}
	}
	return nil
}

var (
	defaultSchemaOnce sync.Once
	defaultSchema     *DocumentSchema
	defaultSchemaErr  error
)

// ValidateDocument checks data against the built-in router schema.
func ValidateDocument(data []byte) error {
	defaultSchemaOnce.Do(func() {
		defaultSchema, defaultSchemaErr = NewDocumentSchema()
	})
	if defaultSchemaErr != nil {
		return defaultSchemaErr
	}
	return defaultSchema.Validate(data)
}

func convertCUEErrors(err error) []Violation {
	errs := cueerrors.Errors(err)
	out := make([]Violation, 0, len(errs))
	for _, e := range errs {
		field := strings.Join(e.Path(), ".")
		if field == "" {
			field = "(document)"
		}
		format, args := e.Msg()
		out = append(out, Violation{Field: field, Message: fmt.Sprintf(format, args...)})
	}
	if len(out) == 0 {
		out = append(out, Violation{Field: "(document)", Message: err.Error()})
	}
	return out
}

// routerSchema is the shape of router.json. Semantic invariants
// (uniqueness, references) are checked by Validate after decoding.
const routerSchema = `
#VLAN: int & >=1 & <=4094

#Address: {
	address: string
	prefix:  int & >=0 & <=128
}

#Areas: {
	ospf_area?:     int & >=0 | null
	ospf_passive?:  bool
	ospf6_area?:    int & >=0 | null
	ospf6_passive?: bool
}

#RA: {
	ipv6_ra_enabled?:      bool
	ipv6_ra_interval_max?: int & >=0 & <=1800
	ipv6_ra_interval_min?: int & >=0 & <=1350
	ipv6_ra_suppress?:     bool
	ipv6_ra_prefixes?:     [...string] | null
}

#L3: {
	ipv4?:        string | null
	ipv4_prefix?: int & >=0 & <=32 | null
	ipv6?:        string | null
	ipv6_prefix?: int & >=0 & <=128 | null
	create_lcp?:  bool
}

#SubInterface: {
	vlan_id: #VLAN
	#L3
	#Areas
	#RA
}

#Interface: {
	name:           string & != ""
	iface?:         string
	pci?:           string
	ipv4?:          [...#Address] | null
	ipv6?:          [...#Address] | null
	mtu?:           int & >=0 & <=9216
	subinterfaces?: [...#SubInterface] | null
	#Areas
	#RA
}

#Loopback: {
	instance: int & >=0
	name?:    string
	#L3
	#Areas
	#RA
}

#BVI: {
	bridge_id: int & >=1
	name?:     string
	members?: [...{
		interface: string
		vlan_id?:  #VLAN | null
	}] | null
	#L3
	#Areas
	#RA
}

#Route: {
	destination: string
	via:         string
	interface?:  string | null
}

#Peer: {
	name?:          string
	peer_ip:        string
	peer_asn:       int & >=1 & <=4294967295
	description?:   string | null
	update_source?: string | null
}

#OSPF: {
	enabled?:           bool
	router_id?:         string | null
	default_originate?: bool
}

#RouterConfig: {
	hostname?: string
	management?: {
		iface?:        string
		mode?:         "dhcp" | "static"
		ipv4?:         string | null
		ipv4_prefix?:  int & >=0 & <=32 | null
		ipv4_gateway?: string | null
	}
	interfaces?: [...#Interface] | null
	routes?:     [...#Route] | null
	bgp?: {
		enabled?:   bool
		asn?:       int & >=0 & <=4294967295
		router_id?: string | null
		peers?:     [...#Peer] | null
	}
	ospf?:  #OSPF
	ospf6?: #OSPF
	vlan_passthrough?: [...{
		vlan_id:        #VLAN
		from_interface: string
		to_interface:   string
		vlan_type?:     "dot1q" | "dot1ad"
		inner_vlan?:    #VLAN | null
	}] | null
	loopbacks?:   [...#Loopback] | null
	bvi_domains?: [...#BVI] | null
	modules?: [...{
		name:     string
		enabled?: bool
		config?:  {...} | null
	}] | null
}
`
