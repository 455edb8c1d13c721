// Package capability defines the Capability Registry: the immutable catalog
// of remote operations (tools), their owning domain, closed parameter
// schema and side-effect class.
package capability

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Strob0t/JellyRoute/internal/domain"
)

// Domain is one of the fixed task categories a request is routed to.
type Domain string

const (
	DomainMedia  Domain = "media"
	DomainSystem Domain = "system"
	DomainUser   Domain = "user"
	DomainLiveTV Domain = "livetv"
	DomainDevice Domain = "device"
)

// Domains returns the fixed domain set in a stable order.
func Domains() []Domain {
	return []Domain{DomainMedia, DomainSystem, DomainUser, DomainLiveTV, DomainDevice}
}

// IsValid reports whether d belongs to the fixed domain set.
func (d Domain) IsValid() bool {
	switch d {
	case DomainMedia, DomainSystem, DomainUser, DomainLiveTV, DomainDevice:
		return true
	}
	return false
}

// ParseDomain converts a (case-insensitive) name into a Domain.
func ParseDomain(s string) (Domain, error) {
	d := Domain(strings.ToLower(strings.TrimSpace(s)))
	if !d.IsValid() {
		return "", fmt.Errorf("%w: unknown domain %q", domain.ErrValidation, s)
	}
	return d, nil
}

// DomainInfo describes a domain for classification prompts and agent cards.
type DomainInfo struct {
	Name        Domain   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags,omitempty"`
}

// SideEffect classifies what a tool does to the remote system.
type SideEffect string

const (
	SideEffectRead        SideEffect = "read"
	SideEffectMutate      SideEffect = "mutate"
	SideEffectDestructive SideEffect = "destructive"
)

// IsValid reports whether s is a known side-effect class.
func (s SideEffect) IsValid() bool {
	switch s {
	case SideEffectRead, SideEffectMutate, SideEffectDestructive:
		return true
	}
	return false
}

// ParamType is the closed set of parameter types a ToolSpec may declare.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeInteger ParamType = "integer"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
	TypeArray   ParamType = "array"
)

// IsValid reports whether t is a supported parameter type.
func (t ParamType) IsValid() bool {
	switch t {
	case TypeString, TypeInteger, TypeNumber, TypeBoolean, TypeArray:
		return true
	}
	return false
}

// Param describes one field of a tool's parameter schema.
type Param struct {
	Type        ParamType `json:"type" yaml:"type"`
	Required    bool      `json:"required,omitempty" yaml:"required,omitempty"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Enum        []string  `json:"enum,omitempty" yaml:"enum,omitempty"`
	Minimum     *float64  `json:"minimum,omitempty" yaml:"minimum,omitempty"`
	Maximum     *float64  `json:"maximum,omitempty" yaml:"maximum,omitempty"`
	Pattern     string    `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Format      string    `json:"format,omitempty" yaml:"format,omitempty"` // "uuid", "date-time"
	Items       ParamType `json:"items,omitempty" yaml:"items,omitempty"`   // element type for arrays
	In          string    `json:"in,omitempty" yaml:"in,omitempty"`         // "body" nests the field in the request body
}

// InBody reports whether the parameter travels in the request body.
func (p Param) InBody() bool { return p.In == "body" }

// ToolSpec is the registry entry for a single remote operation.
type ToolSpec struct {
	Name        string           `json:"name"`
	Domain      Domain           `json:"domain"`
	Tag         string           `json:"tag,omitempty"`
	Description string           `json:"description,omitempty"`
	SideEffect  SideEffect       `json:"side_effect"`
	Params      map[string]Param `json:"params,omitempty"`
	Rules       []string         `json:"rules,omitempty"` // CEL expressions over `args`
}

// destructiveVerbs are name prefixes that always denote a destructive tool.
var destructiveVerbs = map[string]bool{
	"delete":    true,
	"uninstall": true,
	"restart":   true,
	"shutdown":  true,
	"cancel":    true,
	"revoke":    true,
	"reset":     true,
	"remove":    true,
}

// Action returns the verb of the tool name, e.g. "delete" for "delete_user".
func (s ToolSpec) Action() string {
	name := strings.ToLower(s.Name)
	if i := strings.IndexByte(name, '_'); i > 0 {
		return name[:i]
	}
	return name
}

// Summary returns a short human description of the tool for user-facing text.
func (s ToolSpec) Summary() string {
	if s.Description != "" {
		return strings.TrimSuffix(s.Description, ".")
	}
	return strings.ReplaceAll(s.Name, "_", " ")
}

// RequiredParams returns the names of required parameters in sorted order.
func (s ToolSpec) RequiredParams() []string {
	var out []string
	for name, p := range s.Params {
		if p.Required {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// JSONSchema renders the closed parameter schema as a JSON Schema object.
// The same document is compiled for validation and sent to the completion
// provider as the tool's parameter definition.
func (s ToolSpec) JSONSchema() map[string]any {
	props := make(map[string]any, len(s.Params))
	for name, p := range s.Params {
		props[name] = paramSchema(p)
	}
	schema := map[string]any{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	}
	if req := s.RequiredParams(); len(req) > 0 {
		schema["required"] = req
	}
	return schema
}

func paramSchema(p Param) map[string]any {
	out := map[string]any{"type": string(p.Type)}
	if p.Description != "" {
		out["description"] = p.Description
	}
	if len(p.Enum) > 0 {
		out["enum"] = p.Enum
	}
	if p.Minimum != nil {
		out["minimum"] = *p.Minimum
	}
	if p.Maximum != nil {
		out["maximum"] = *p.Maximum
	}
	if p.Pattern != "" {
		out["pattern"] = p.Pattern
	}
	if p.Format != "" {
		out["format"] = p.Format
	}
	if p.Type == TypeArray {
		items := p.Items
		if items == "" {
			items = TypeString
		}
		out["items"] = map[string]any{"type": string(items)}
	}
	return out
}

// check validates the static shape of a spec before it is registered.
func (s ToolSpec) check() error {
	if s.Name == "" {
		return fmt.Errorf("%w: tool name is required", domain.ErrValidation)
	}
	if !s.SideEffect.IsValid() {
		return fmt.Errorf("%w: tool %s: unknown side effect %q", domain.ErrValidation, s.Name, s.SideEffect)
	}
	if destructiveVerbs[s.Action()] && s.SideEffect != SideEffectDestructive {
		return fmt.Errorf("%w: tool %s: %q operations must be classed destructive", domain.ErrValidation, s.Name, s.Action())
	}
	for name, p := range s.Params {
		if name == "" {
			return fmt.Errorf("%w: tool %s: empty parameter name", domain.ErrValidation, s.Name)
		}
		if !p.Type.IsValid() {
			return fmt.Errorf("%w: tool %s: parameter %s: unknown type %q", domain.ErrValidation, s.Name, name, p.Type)
		}
		if p.In != "" && p.In != "body" {
			return fmt.Errorf("%w: tool %s: parameter %s: unknown location %q", domain.ErrValidation, s.Name, name, p.In)
		}
		if p.Type == TypeArray && p.Items != "" && (!p.Items.IsValid() || p.Items == TypeArray) {
			return fmt.Errorf("%w: tool %s: parameter %s: unsupported item type %q", domain.ErrValidation, s.Name, name, p.Items)
		}
	}
	return nil
}
