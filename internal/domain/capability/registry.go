package capability

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Strob0t/JellyRoute/internal/domain"
)

var (
	// ErrDuplicateTool is returned when a tool name is registered twice.
	ErrDuplicateTool = errors.New("duplicate tool")
	// ErrUnknownTool is returned by Lookup for names that are not registered.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrSealed is returned when Register is called after Seal.
	ErrSealed = errors.New("registry is sealed")
	// ErrConfiguration marks startup-fatal registry problems (orphaned or
	// multiply-owned tools, malformed seeds). A process that sees it must
	// not serve traffic.
	ErrConfiguration = errors.New("configuration error")
)

// ValidationError lists why a proposed argument document does not satisfy
// a tool's schema. It unwraps to domain.ErrValidation.
type ValidationError struct {
	Tool     string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Unwrap() error { return domain.ErrValidation }

// entry is a registered spec plus its compiled validators.
type entry struct {
	spec   ToolSpec
	schema *jsonschema.Schema
	rules  []rule
}

type rule struct {
	expr string
	prg  cel.Program
}

// Registry is the Capability Registry. Build it with Register and
// DescribeDomain, then call Seal; a sealed registry is read-only and safe
// for concurrent use without locking. Register is not safe for concurrent use.
type Registry struct {
	entries   map[string]*entry
	domains   map[Domain]DomainInfo
	celEnv    *cel.Env
	sealed    bool
	partition map[Domain][]ToolSpec
}

// NewRegistry creates an empty, unsealed registry.
func NewRegistry() (*Registry, error) {
	env, err := cel.NewEnv(
		cel.Variable("args", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("create rule environment: %w", err)
	}
	return &Registry{
		entries: make(map[string]*entry),
		domains: make(map[Domain]DomainInfo),
		celEnv:  env,
	}, nil
}

// DescribeDomain attaches a description to one of the fixed domains.
func (r *Registry) DescribeDomain(info DomainInfo) error {
	if r.sealed {
		return ErrSealed
	}
	if !info.Name.IsValid() {
		return fmt.Errorf("%w: unknown domain %q", ErrConfiguration, info.Name)
	}
	r.domains[info.Name] = info
	return nil
}

// Register adds a spec. It fails with ErrDuplicateTool when the name is
// taken and with a validation error when the spec is malformed.
func (r *Registry) Register(spec ToolSpec) error {
	if r.sealed {
		return ErrSealed
	}
	if err := spec.check(); err != nil {
		return err
	}
	if _, ok := r.entries[spec.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, spec.Name)
	}

	schema, err := compileSchema(spec)
	if err != nil {
		return err
	}
	rules := make([]rule, 0, len(spec.Rules))
	for _, expr := range spec.Rules {
		prg, err := r.compileRule(expr)
		if err != nil {
			return fmt.Errorf("%w: tool %s: rule %q: %v", domain.ErrValidation, spec.Name, expr, err)
		}
		rules = append(rules, rule{expr: expr, prg: prg})
	}

	r.entries[spec.Name] = &entry{spec: spec, schema: schema, rules: rules}
	return nil
}

func (r *Registry) compileRule(expr string) (cel.Program, error) {
	ast, iss := r.celEnv.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, iss.Err()
	}
	return r.celEnv.Program(ast)
}

func compileSchema(spec ToolSpec) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(spec.JSONSchema())
	if err != nil {
		return nil, fmt.Errorf("marshal schema for %s: %w", spec.Name, err)
	}
	url := "mem://tools/" + spec.Name + ".json"
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	c.AssertFormat = true
	if err := c.AddResource(url, strings.NewReader(string(raw))); err != nil {
		return nil, fmt.Errorf("%w: tool %s: %v", domain.ErrValidation, spec.Name, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("%w: tool %s: %v", domain.ErrValidation, spec.Name, err)
	}
	return compiled, nil
}

// Lookup returns the spec for name or ErrUnknownTool.
func (r *Registry) Lookup(name string) (ToolSpec, error) {
	e, ok := r.entries[name]
	if !ok {
		return ToolSpec{}, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return e.spec, nil
}

// Len returns the number of registered tools.
func (r *Registry) Len() int { return len(r.entries) }

// Names returns all registered tool names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entries))
	for n := range r.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// PartitionByDomain groups every spec into the fixed domain set. A spec
// whose domain is outside the set is orphaned and yields ErrConfiguration.
// Every fixed domain is present in the result, possibly with no tools.
func (r *Registry) PartitionByDomain() (map[Domain][]ToolSpec, error) {
	if r.partition != nil {
		out := make(map[Domain][]ToolSpec, len(r.partition))
		for d, specs := range r.partition {
			out[d] = slices.Clone(specs)
		}
		return out, nil
	}
	out := make(map[Domain][]ToolSpec, len(Domains()))
	for _, d := range Domains() {
		out[d] = nil
	}
	var orphans []string
	for _, name := range r.Names() {
		spec := r.entries[name].spec
		if !spec.Domain.IsValid() {
			orphans = append(orphans, name)
			continue
		}
		out[spec.Domain] = append(out[spec.Domain], spec)
	}
	if len(orphans) > 0 {
		return nil, fmt.Errorf("%w: tools not claimed by any domain: %s", ErrConfiguration, strings.Join(orphans, ", "))
	}
	return out, nil
}

// Seal verifies the partition and freezes the registry.
func (r *Registry) Seal() error {
	if r.sealed {
		return nil
	}
	part, err := r.PartitionByDomain()
	if err != nil {
		return err
	}
	for _, d := range Domains() {
		if _, ok := r.domains[d]; !ok {
			r.domains[d] = DomainInfo{Name: d}
		}
	}
	r.partition = part
	r.sealed = true
	return nil
}

// Sealed reports whether Seal has completed.
func (r *Registry) Sealed() bool { return r.sealed }

// Slice returns a copy of the tools owned by d. It is only meaningful after Seal.
func (r *Registry) Slice(d Domain) []ToolSpec {
	return slices.Clone(r.partition[d])
}

// Domain returns the description of d.
func (r *Registry) Domain(d Domain) DomainInfo {
	if info, ok := r.domains[d]; ok {
		return info
	}
	return DomainInfo{Name: d}
}

// DomainInfos returns descriptions for the given domains, or for the full
// fixed set when none are given.
func (r *Registry) DomainInfos(only ...Domain) []DomainInfo {
	if len(only) == 0 {
		only = Domains()
	}
	out := make([]DomainInfo, 0, len(only))
	for _, d := range only {
		out = append(out, r.Domain(d))
	}
	return out
}

// Validate checks a raw JSON argument document against the tool's closed
// schema and its rules. The returned error is a *ValidationError for bad
// arguments or wraps ErrUnknownTool.
func (r *Registry) Validate(name string, args json.RawMessage) error {
	e, ok := r.entries[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	if len(strings.TrimSpace(string(args))) == 0 {
		args = json.RawMessage("{}")
	}
	var doc any
	if err := json.Unmarshal(args, &doc); err != nil {
		return &ValidationError{Tool: name, Problems: []string{"arguments are not valid JSON"}}
	}
	obj, isObject := doc.(map[string]any)
	if !isObject {
		return &ValidationError{Tool: name, Problems: []string{"arguments must be a JSON object"}}
	}

	if err := e.schema.Validate(doc); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return &ValidationError{Tool: name, Problems: flattenSchemaError(verr)}
		}
		return &ValidationError{Tool: name, Problems: []string{err.Error()}}
	}

	var problems []string
	for _, rl := range e.rules {
		out, _, err := rl.prg.Eval(map[string]any{"args": obj})
		if err != nil {
			problems = append(problems, fmt.Sprintf("rule %q could not be evaluated", rl.expr))
			continue
		}
		if ok, isBool := out.Value().(bool); !isBool || !ok {
			problems = append(problems, fmt.Sprintf("rule %q not satisfied", rl.expr))
		}
	}
	if len(problems) > 0 {
		return &ValidationError{Tool: name, Problems: problems}
	}
	return nil
}

// flattenSchemaError collects leaf messages of a schema validation error.
func flattenSchemaError(err *jsonschema.ValidationError) []string {
	if len(err.Causes) == 0 {
		loc := err.InstanceLocation
		if loc == "" {
			return []string{err.Message}
		}
		return []string{fmt.Sprintf("%s: %s", strings.TrimPrefix(loc, "/"), err.Message)}
	}
	var out []string
	for _, c := range err.Causes {
		out = append(out, flattenSchemaError(c)...)
	}
	return out
}
