package executor

import (
	"fmt"
	"strings"

	"github.com/justindthomas/imp/pkg/config"
	"github.com/justindthomas/imp/pkg/engine"
)

// Command is one command for one target.
type Command struct {
	Target string `json:"target"`
	Text   string `json:"text"`
}

// Summary returns a one-line description of the command for logs.
func (c Command) Summary() string {
	lines := strings.Split(strings.TrimSpace(c.Text), "\n")
	if len(lines) > 1 && lines[0] == "configure terminal" {
		lines = lines[1:]
	}
	if len(lines) > 1 {
		return strings.TrimSpace(lines[0]) + " ..."
	}
	return strings.TrimSpace(lines[0])
}

// Render translates a live operation into the commands that apply it.
// Operations with nothing to do on a running system render to no commands.
func Render(op engine.Operation) ([]Command, error) {
	switch op.Entity {
	case engine.EntityInterface,
		engine.EntitySubInterface,
		engine.EntityLoopback,
		engine.EntityBVI,
		engine.EntityBridgeMember,
		engine.EntityVLANPassthrough,
		engine.EntityRoute,
		engine.EntityRouterAdvert:
		lines, err := renderVPP(op)
		if err != nil {
			return nil, err
		}
		return onTarget(TargetCore, lines), nil

	case engine.EntityBGP,
		engine.EntityBGPPeer,
		engine.EntityOSPF,
		engine.EntityOSPF6,
		engine.EntityOSPFArea,
		engine.EntityOSPF6Area:
		lines, err := renderFRR(op)
		if err != nil {
			return nil, err
		}
		if len(lines) == 0 {
			return nil, nil
		}
		return []Command{{Target: TargetFRR, Text: VtyshScript(lines)}}, nil

	case engine.EntityModuleEntry:
		return renderModuleEntry(op)

	case engine.EntityModule:
		// Only changes to modules without a running instance are live, and
		// those take effect when the module is next started.
		if _, ok := op.Value().(config.ModuleInstance); !ok {
			return nil, unexpected(op)
		}
		return nil, nil
	}
	return nil, fmt.Errorf("%s changes cannot be applied live", op.Entity)
}

// VtyshScript wraps configuration lines in a vtysh configure session.
func VtyshScript(lines []string) string {
	var sb strings.Builder
	sb.WriteString("configure terminal\n")
	for _, l := range lines {
		sb.WriteString(l)
		sb.WriteByte('\n')
	}
	sb.WriteString("end\n")
	return sb.String()
}

func onTarget(target string, lines []string) []Command {
	out := make([]Command, 0, len(lines))
	for _, l := range lines {
		out = append(out, Command{Target: target, Text: l})
	}
	return out
}

func renderModuleEntry(op engine.Operation) ([]Command, error) {
	entry := func(v interface{}) (engine.ModuleEntryEntity, error) {
		e, ok := v.(engine.ModuleEntryEntity)
		if !ok || e.Definition == nil {
			return engine.ModuleEntryEntity{}, unexpected(op)
		}
		return e, nil
	}
	render := func(v interface{}, add bool) (Command, error) {
		e, err := entry(v)
		if err != nil {
			return Command{}, err
		}
		text, err := e.Definition.RenderLive(e.Field, e.Item, add)
		if err != nil {
			return Command{}, err
		}
		return Command{Target: e.Module, Text: text}, nil
	}

	var out []Command
	switch a := op.Action.(type) {
	case engine.Add:
		c, err := render(a.New, true)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	case engine.Remove:
		c, err := render(a.Old, false)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	case engine.Modify:
		del, err := render(a.Old, false)
		if err != nil {
			return nil, err
		}
		add, err := render(a.New, true)
		if err != nil {
			return nil, err
		}
		out = append(out, del, add)
	}
	return out, nil
}

func unexpected(op engine.Operation) error {
	return fmt.Errorf("unexpected value %T for %s", op.Value(), op)
}

// addressDelta returns the addresses only in before and only in after,
// each in their original order.
func addressDelta(before, after []string) (removed, added []string) {
	in := func(list []string, s string) bool {
		for _, v := range list {
			if v == s {
				return true
			}
		}
		return false
	}
	for _, a := range before {
		if !in(after, a) {
			removed = append(removed, a)
		}
	}
	for _, a := range after {
		if !in(before, a) {
			added = append(added, a)
		}
	}
	return removed, added
}

func cidr(addr string, prefix int) []string {
	if addr == "" {
		return nil
	}
	return []string{fmt.Sprintf("%s/%d", addr, prefix)}
}
