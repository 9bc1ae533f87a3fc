package engine

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/justindthomas/imp/pkg/alloc"
	"github.com/justindthomas/imp/pkg/config"
	"github.com/justindthomas/imp/pkg/modules"
)

// DiffOptions supplies what Diff needs beyond the two snapshots.
type DiffOptions struct {
	// Registry holds the module definitions. Without it module entries and
	// resource allocations are not compared.
	Registry *modules.Registry

	// Topology is the host both allocations are computed against. A zero
	// topology skips the CPU and memif comparison.
	Topology alloc.Topology
}

// Diff computes the entity-level operations that turn prev into next. A nil
// prev snapshot means nothing has been applied yet. Diff(a, a) is always empty.
// The result is sorted by entity rank then key.
func Diff(prev, next *config.RouterConfig, opts DiffOptions) (ChangeSet, error) {
	before := extractEntities(prev)
	after := extractEntities(next)

	if opts.Registry != nil {
		if err := addModuleEntries(before, after, prev, next, opts.Registry); err != nil {
			return nil, err
		}
		if opts.Topology.TotalCores > 0 {
			if err := addAllocations(before, after, prev, next, opts); err != nil {
				return nil, err
			}
		}
	}

	liveByModule := liveFields(prev, next, opts.Registry)

	var ops ChangeSet
	for _, entity := range entityOrder {
		for _, key := range unionKeys(before[entity], after[entity]) {
			ov, inOld := before[entity][key]
			nv, inNew := after[entity][key]
			switch {
			case inOld && !inNew:
				ops = append(ops, Operation{Entity: entity, Key: key, Action: Remove{Old: ov}})
			case !inOld && inNew:
				ops = append(ops, Operation{Entity: entity, Key: key, Action: Add{New: nv}})
			default:
				var fields []FieldChange
				if entity == EntityModule {
					fields = moduleFieldChanges(ov.(config.ModuleInstance), nv.(config.ModuleInstance), liveByModule[key])
				} else {
					fields = fieldChanges(string(entity), ov, nv)
				}
				if len(fields) > 0 {
					ops = append(ops, Operation{Entity: entity, Key: key, Action: Modify{Old: ov, New: nv, Fields: fields}})
				}
			}
		}
	}

	sortChangeSet(ops)
	return ops, nil
}

func sortChangeSet(ops ChangeSet) {
	sort.SliceStable(ops, func(i, j int) bool {
		return lessOperation(ops[i], ops[j])
	})
}

// lessOperation is the total order used for change sets and planner ties.
func lessOperation(a, b Operation) bool {
	if ra, rb := a.Entity.Rank(), b.Entity.Rank(); ra != rb {
		return ra < rb
	}
	if a.Key != b.Key {
		return a.Key < b.Key
	}
	return a.Action.Kind().rank() < b.Action.Kind().rank()
}

func unionKeys(a, b map[string]interface{}) []string {
	seen := make(map[string]bool, len(a)+len(b))
	keys := make([]string, 0, len(a)+len(b))
	for _, m := range []map[string]interface{}{a, b} {
		for k := range m {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)
	return keys
}

// fieldChanges compares two entity values by their JSON fields. Values that
// do not encode as objects are compared whole under fallback.
func fieldChanges(fallback string, before, after interface{}) []FieldChange {
	bm, bok := jsonFields(before)
	am, aok := jsonFields(after)
	if !bok || !aok {
		if reflect.DeepEqual(normalize(before), normalize(after)) {
			return nil
		}
		return []FieldChange{{Path: fallback, Before: normalize(before), After: normalize(after)}}
	}

	var out []FieldChange
	for _, k := range unionKeys(bm, am) {
		if !reflect.DeepEqual(bm[k], am[k]) {
			out = append(out, FieldChange{Path: k, Before: bm[k], After: am[k]})
		}
	}
	return out
}

func jsonFields(v interface{}) (map[string]interface{}, bool) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, false
	}
	return m, true
}

func normalize(v interface{}) interface{} {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

// moduleFieldChanges compares module instances field by field, expanding
// config into config.<field>. Fields handled as module entries are skipped.
func moduleFieldChanges(before, after config.ModuleInstance, live map[string]bool) []FieldChange {
	var out []FieldChange
	if before.Enabled != after.Enabled {
		out = append(out, FieldChange{Path: "enabled", Before: before.Enabled, After: after.Enabled})
	}

	keys := make(map[string]bool)
	for k := range before.Config {
		keys[k] = true
	}
	for k := range after.Config {
		keys[k] = true
	}
	names := make([]string, 0, len(keys))
	for k := range keys {
		names = append(names, k)
	}
	sort.Strings(names)

	for _, k := range names {
		if live[k] {
			continue
		}
		b, a := normalize(before.Config[k]), normalize(after.Config[k])
		if !reflect.DeepEqual(b, a) {
			out = append(out, FieldChange{Path: "config." + k, Before: b, After: a})
		}
	}
	return out
}

// liveFields returns, per module, the config fields applied as module
// entries: array fields with live templates on modules enabled in both
// snapshots.
func liveFields(prev, next *config.RouterConfig, reg *modules.Registry) map[string]map[string]bool {
	out := make(map[string]map[string]bool)
	if reg == nil || prev == nil || next == nil {
		return out
	}
	for _, name := range enabledInBoth(prev, next) {
		def, ok := reg.Get(name)
		if !ok {
			continue
		}
		fields := make(map[string]bool, len(def.Live))
		for f := range def.Live {
			fields[f] = true
		}
		out[name] = fields
	}
	return out
}

func enabledInBoth(prev, next *config.RouterConfig) []string {
	if prev == nil || next == nil {
		return nil
	}
	was := make(map[string]bool)
	for _, m := range prev.EnabledModules() {
		was[m.Name] = true
	}
	var out []string
	for _, m := range next.EnabledModules() {
		if was[m.Name] {
			out = append(out, m.Name)
		}
	}
	return out
}

func moduleConfig(cfg *config.RouterConfig, name string) map[string]interface{} {
	for _, m := range cfg.Modules {
		if m.Name == name {
			return m.Config
		}
	}
	return nil
}

// addModuleEntries records the elements of live-applicable module arrays.
func addModuleEntries(before, after entitySet, prev, next *config.RouterConfig, reg *modules.Registry) error {
	for _, name := range enabledInBoth(prev, next) {
		def, ok := reg.Get(name)
		if !ok || len(def.Live) == 0 {
			continue
		}
		oldCfg, err := modules.ParseConfig(def, moduleConfig(prev, name))
		if err != nil {
			return fmt.Errorf("applied config of module %s: %w", name, err)
		}
		newCfg, err := modules.ParseConfig(def, moduleConfig(next, name))
		if err != nil {
			return fmt.Errorf("config of module %s: %w", name, err)
		}

		fields := make([]string, 0, len(def.Live))
		for f := range def.Live {
			fields = append(fields, f)
		}
		sort.Strings(fields)

		for _, field := range fields {
			for _, pair := range []struct {
				set entitySet
				cfg modules.Config
			}{{before, oldCfg}, {after, newCfg}} {
				for _, item := range pair.cfg.Items(field) {
					entryKey := def.EntryKey(field, item)
					pair.set.put(EntityModuleEntry, strings.Join([]string{name, field, entryKey}, "/"), ModuleEntryEntity{
						Module:     name,
						Field:      field,
						Key:        entryKey,
						Item:       item,
						Definition: def,
					})
				}
			}
		}
	}
	return nil
}

// addAllocations records the CPU and memif layouts of both snapshots
// computed against the same topology.
func addAllocations(before, after entitySet, prev, next *config.RouterConfig, opts DiffOptions) error {
	oldAlloc, err := allocationFor(prev, opts)
	if err != nil {
		return fmt.Errorf("applied allocation: %w", err)
	}
	newAlloc, err := allocationFor(next, opts)
	if err != nil {
		return err
	}
	before.put(EntityCPU, "allocation", oldAlloc.CPU)
	after.put(EntityCPU, "allocation", newAlloc.CPU)
	before.put(EntityMemif, "allocation", oldAlloc.Memif)
	after.put(EntityMemif, "allocation", newAlloc.Memif)
	return nil
}

func allocationFor(cfg *config.RouterConfig, opts DiffOptions) (*alloc.Allocation, error) {
	var instances []modules.Instance
	if cfg != nil {
		var err error
		instances, err = opts.Registry.Resolve(cfg.Modules)
		if err != nil {
			return nil, err
		}
	}
	return alloc.Allocate(opts.Topology, instances)
}
