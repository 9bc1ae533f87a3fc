package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/rs/zerolog"

	"github.com/justindthomas/imp/pkg/engine"
)

// Engine evaluates Rego guardrails over classified plans. It implements
// engine.PolicyChecker.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	logger   zerolog.Logger
}

var _ engine.PolicyChecker = (*Engine)(nil)

// compiledPolicy is a policy with its prepared query.
type compiledPolicy struct {
	policy   *Policy
	pkg      string
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// NewEngine creates a policy engine with the built-in policies loaded.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		logger:   logger.With().Str("component", "policy-engine").Logger(),
	}

	builtins := BuiltinPolicies()
	for i := range builtins {
		cp, err := compile(context.Background(), &builtins[i])
		if err != nil {
			return nil, fmt.Errorf("failed to compile built-in policy %s: %w", builtins[i].Name, err)
		}
		e.policies[builtins[i].Name] = cp
	}

	e.logger.Debug().
		Int("count", len(builtins)).
		Msg("Built-in policies loaded")

	return e, nil
}

// Check evaluates every enabled policy over the plan.
func (e *Engine) Check(ctx context.Context, steps []engine.PlannedStep) ([]engine.PolicyFinding, error) {
	return e.Evaluate(ctx, NewInput(steps))
}

// Evaluate evaluates every enabled policy over input. Findings are ordered
// by policy name, then as the policy produced them.
func (e *Engine) Evaluate(ctx context.Context, input *Input) ([]engine.PolicyFinding, error) {
	start := time.Now()

	doc, err := toDocument(input)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	var findings []engine.PolicyFinding
	for _, cp := range e.sortedLocked() {
		if !cp.policy.Enabled {
			continue
		}

		results, err := cp.query.Eval(ctx, rego.EvalInput(doc))
		if err != nil {
			return nil, fmt.Errorf("policy %s evaluation error: %w", cp.policy.Name, err)
		}
		findings = append(findings, collectFindings(cp.policy, results)...)
	}

	e.logger.Debug().
		Int("steps", len(input.Steps)).
		Int("findings", len(findings)).
		Dur("duration", time.Since(start)).
		Msg("Plan policy evaluation completed")

	return findings, nil
}

// toDocument converts input to the JSON value Rego sees.
func toDocument(input *Input) (interface{}, error) {
	data, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("failed to encode policy input: %w", err)
	}
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode policy input: %w", err)
	}
	return doc, nil
}

// collectFindings reads the deny and warn sets of a policy package.
func collectFindings(p *Policy, results rego.ResultSet) []engine.PolicyFinding {
	var findings []engine.PolicyFinding
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		doc, ok := result.Expressions[0].Value.(map[string]interface{})
		if !ok {
			continue
		}
		for _, rule := range []struct {
			name     string
			severity Severity
		}{
			{"deny", SeverityError},
			{"warn", SeverityWarning},
		} {
			set, ok := doc[rule.name].([]interface{})
			if !ok {
				continue
			}
			for _, v := range set {
				findings = append(findings, newFinding(p, rule.severity, v))
			}
		}
	}
	return findings
}

// newFinding creates a finding from one rule value.
func newFinding(p *Policy, severity Severity, value interface{}) engine.PolicyFinding {
	f := engine.PolicyFinding{
		Policy:   p.Name,
		Severity: engine.PolicySeverity(severity),
	}

	switch v := value.(type) {
	case string:
		f.Message = v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			f.Message = msg
		}
		if op, ok := v["operation"].(string); ok {
			f.Operation = op
		}
		if sev, ok := v["severity"].(string); ok {
			switch Severity(sev) {
			case SeverityError, SeverityWarning:
				f.Severity = engine.PolicySeverity(sev)
			}
		}
	default:
		f.Message = fmt.Sprintf("%v", value)
	}

	return f
}

// compile parses a policy and prepares a query for its package document.
func compile(ctx context.Context, p *Policy) (*compiledPolicy, error) {
	module, err := ast.ParseModule(p.Name, p.Rego)
	if err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}
	pkg := module.Package.Path.String()

	query, err := rego.New(
		rego.ParsedModule(module),
		rego.Query(pkg),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare query: %w", err)
	}

	return &compiledPolicy{
		policy:   p,
		pkg:      pkg,
		query:    query,
		compiled: time.Now(),
	}, nil
}

// LoadPolicies loads policy files and directories, replacing every
// previously loaded non-builtin policy. Nothing changes when any policy
// fails to compile.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	loader := NewLoader(e.logger)
	policies, err := loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}
	return e.ReplacePolicies(ctx, policies)
}

// ReplacePolicies compiles policies and swaps them in for the current
// non-builtin set.
func (e *Engine) ReplacePolicies(ctx context.Context, policies []Policy) error {
	compiled := make(map[string]*compiledPolicy, len(policies))
	for i := range policies {
		p := policies[i]
		if p.Builtin {
			return fmt.Errorf("policy %s: loaded policies cannot be builtin", p.Name)
		}
		if _, dup := compiled[p.Name]; dup {
			return fmt.Errorf("duplicate policy name: %s", p.Name)
		}
		cp, err := compile(ctx, &p)
		if err != nil {
			return fmt.Errorf("failed to compile policy %s: %w", p.Name, err)
		}
		compiled[p.Name] = cp
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for name := range compiled {
		if cp, exists := e.policies[name]; exists && cp.policy.Builtin {
			return fmt.Errorf("policy %s shadows a built-in policy", name)
		}
	}
	for name, cp := range e.policies {
		if !cp.policy.Builtin {
			delete(e.policies, name)
		}
	}
	for name, cp := range compiled {
		e.policies[name] = cp
	}

	e.logger.Info().
		Int("count", len(compiled)).
		Msg("Policies loaded")

	return nil
}

// Watch reloads the policies at paths whenever a policy file changes. A
// reload that fails to compile keeps the previous set.
func (e *Engine) Watch(ctx context.Context, paths []string) error {
	loader := NewLoader(e.logger)
	return loader.Watch(ctx, paths, func(policies []Policy) error {
		return e.ReplacePolicies(ctx, policies)
	})
}

// sortedLocked returns the policies ordered by name.
func (e *Engine) sortedLocked() []*compiledPolicy {
	out := make([]*compiledPolicy, 0, len(e.policies))
	for _, cp := range e.policies {
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].policy.Name < out[j].policy.Name })
	return out
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}
	p := *cp.policy
	return &p, nil
}

// ListPolicies returns all loaded policies ordered by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	sorted := e.sortedLocked()
	policies := make([]Policy, 0, len(sorted))
	for _, cp := range sorted {
		policies = append(policies, *cp.policy)
	}
	return policies
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	return e.setEnabled(name, true)
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	return e.setEnabled(name, false)
}

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}

	cp.policy.Enabled = enabled
	e.logger.Info().Str("policy", name).Bool("enabled", enabled).Msg("Policy state changed")

	return nil
}
