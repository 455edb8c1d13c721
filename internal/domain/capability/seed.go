package capability

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed seed/*.yaml
var seedFS embed.FS

// DefaultSeedFile is the embedded Jellyfin seed used when no path is configured.
const DefaultSeedFile = "seed/jellyfin.yaml"

// Seed is the static registry description loaded once at startup.
type Seed struct {
	Domains map[string]SeedDomain `yaml:"domains"`
	Tools   []SeedTool            `yaml:"tools"`
}

// SeedDomain describes one domain and the operation tags it claims.
type SeedDomain struct {
	Description string   `yaml:"description"`
	Tags        []string `yaml:"tags"`
}

// SeedTool is one tool entry. Its domain is either explicit or derived from
// the single domain claiming its tag.
type SeedTool struct {
	Name        string           `yaml:"name"`
	Tag         string           `yaml:"tag"`
	Domain      string           `yaml:"domain"`
	Description string           `yaml:"description"`
	SideEffect  string           `yaml:"side_effect"`
	Params      map[string]Param `yaml:"params"`
	Rules       []string         `yaml:"rules"`
}

// ParseSeed decodes a YAML seed. Unknown keys are rejected.
func ParseSeed(data []byte) (*Seed, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var s Seed
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("%w: parse seed: %v", ErrConfiguration, err)
	}
	return &s, nil
}

// LoadSeed reads a seed from path, or the embedded default when path is empty.
func LoadSeed(path string) (*Seed, error) {
	var (
		data []byte
		err  error
	)
	if path == "" {
		data, err = seedFS.ReadFile(DefaultSeedFile)
	} else {
		data, err = os.ReadFile(path) //nolint:gosec // G304: operator-supplied config path
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read seed: %v", ErrConfiguration, err)
	}
	return ParseSeed(data)
}

// Build resolves tool ownership, registers every tool and seals the
// registry. Any problem is reported as ErrConfiguration.
func (s *Seed) Build() (*Registry, error) {
	reg, err := NewRegistry()
	if err != nil {
		return nil, err
	}

	owners := make(map[string][]Domain) // tag -> claiming domains
	names := make([]string, 0, len(s.Domains))
	for name := range s.Domains {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		d, err := ParseDomain(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
		}
		sd := s.Domains[name]
		if err := reg.DescribeDomain(DomainInfo{Name: d, Description: sd.Description, Tags: sd.Tags}); err != nil {
			return nil, err
		}
		for _, tag := range sd.Tags {
			owners[tag] = append(owners[tag], d)
		}
	}

	var errs []error
	for _, t := range s.Tools {
		d, err := resolveDomain(t, owners)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		spec := ToolSpec{
			Name:        t.Name,
			Domain:      d,
			Tag:         t.Tag,
			Description: strings.TrimSpace(t.Description),
			SideEffect:  SideEffect(t.SideEffect),
			Params:      t.Params,
			Rules:       t.Rules,
		}
		if err := reg.Register(spec); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, errors.Join(errs...))
	}

	if err := reg.Seal(); err != nil {
		return nil, err
	}
	return reg, nil
}

// resolveDomain picks the owning domain of a seed tool. An unclaimed tool
// keeps an empty domain so PartitionByDomain reports it as orphaned; a tag
// claimed by several domains is rejected outright.
func resolveDomain(t SeedTool, owners map[string][]Domain) (Domain, error) {
	if t.Domain != "" {
		d, err := ParseDomain(t.Domain)
		if err != nil {
			return "", fmt.Errorf("tool %s: %w", t.Name, err)
		}
		return d, nil
	}
	claims := owners[t.Tag]
	switch len(claims) {
	case 0:
		return "", nil
	case 1:
		return claims[0], nil
	default:
		return "", fmt.Errorf("tool %s: tag %q claimed by multiple domains %v", t.Name, t.Tag, claims)
	}
}

// BuildRegistry loads the seed at path (embedded default when empty) and
// returns the sealed registry.
func BuildRegistry(path string) (*Registry, error) {
	s, err := LoadSeed(path)
	if err != nil {
		return nil, err
	}
	return s.Build()
}
