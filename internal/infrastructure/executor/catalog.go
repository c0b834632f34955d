package executor

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/doeshing/hostq/assets"
	"github.com/doeshing/hostq/internal/domain"
	"github.com/doeshing/hostq/internal/pkg/filesystem"
)

var argPlaceholder = regexp.MustCompile(`\{([a-z][a-z0-9_]*)\}`)

// catalogFile is the YAML schema root.
type catalogFile struct {
	Probes []domain.ProbeSpec `yaml:"probes"`
}

// Catalog is the validated allow-list of probes.
type Catalog struct {
	specs  []domain.ProbeSpec
	byID   map[string]domain.ProbeSpec
	params map[string]map[string]*regexp.Regexp
}

// LoadCatalog reads the catalog at path, or the embedded one when path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	data := assets.DefaultProbesYAML
	if path != "" {
		raw, err := os.ReadFile(filesystem.ExpandPath(path))
		if err != nil {
			return nil, fmt.Errorf("read probe catalog: %w", err)
		}
		data = raw
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates catalog YAML.
func ParseCatalog(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse probe catalog: %w", err)
	}
	if len(file.Probes) == 0 {
		return nil, fmt.Errorf("probe catalog is empty")
	}

	c := &Catalog{
		byID:   make(map[string]domain.ProbeSpec, len(file.Probes)),
		params: make(map[string]map[string]*regexp.Regexp, len(file.Probes)),
	}
	for _, spec := range file.Probes {
		if err := c.add(spec); err != nil {
			return nil, err
		}
	}
	sort.Slice(c.specs, func(i, j int) bool { return c.specs[i].ID < c.specs[j].ID })
	return c, nil
}

func (c *Catalog) add(spec domain.ProbeSpec) error {
	switch {
	case spec.ID == "":
		return fmt.Errorf("probe without id")
	case len(spec.Argv) == 0:
		return fmt.Errorf("probe %s has no argv", spec.ID)
	case !spec.Class.Valid():
		return fmt.Errorf("probe %s has unknown class %q", spec.ID, spec.Class)
	}
	if _, dup := c.byID[spec.ID]; dup {
		return fmt.Errorf("probe %s is declared twice", spec.ID)
	}
	if _, ok := parsers[parserName(spec)]; !ok {
		return fmt.Errorf("probe %s uses unknown parser %q", spec.ID, spec.Parser)
	}
	if strings.Contains(spec.Argv[0], "{") {
		return fmt.Errorf("probe %s: the binary cannot be a parameter", spec.ID)
	}

	patterns := make(map[string]*regexp.Regexp, len(spec.Params))
	for name, pattern := range spec.Params {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("probe %s param %s: %w", spec.ID, name, err)
		}
		patterns[name] = re
	}
	for _, arg := range spec.Argv {
		for _, m := range argPlaceholder.FindAllStringSubmatch(arg, -1) {
			if _, ok := patterns[m[1]]; !ok {
				return fmt.Errorf("probe %s references undeclared param %s", spec.ID, m[1])
			}
		}
	}

	c.specs = append(c.specs, spec)
	c.byID[spec.ID] = spec
	c.params[spec.ID] = patterns
	return nil
}

// Specs returns the catalog sorted by id.
func (c *Catalog) Specs() []domain.ProbeSpec {
	return append([]domain.ProbeSpec(nil), c.specs...)
}

// Lookup returns one probe.
func (c *Catalog) Lookup(id string) (domain.ProbeSpec, bool) {
	spec, ok := c.byID[id]
	return spec, ok
}

// checkParams verifies that params are exactly the declared ones and match their patterns.
func (c *Catalog) checkParams(id string, params map[string]string) error {
	patterns := c.params[id]
	for name := range params {
		if _, ok := patterns[name]; !ok {
			return fmt.Errorf("%w: %s does not accept parameter %s", domain.ErrInvalidParameter, id, name)
		}
	}
	for name, re := range patterns {
		value, ok := params[name]
		if !ok || value == "" {
			return fmt.Errorf("%w: %s requires parameter %s", domain.ErrInvalidParameter, id, name)
		}
		if !re.MatchString(value) {
			return fmt.Errorf("%w: %s=%q does not match %s", domain.ErrInvalidParameter, name, value, re)
		}
	}
	return nil
}

// render substitutes parameters into the argv template.
func render(spec domain.ProbeSpec, params map[string]string) []string {
	argv := make([]string, len(spec.Argv))
	for i, arg := range spec.Argv {
		argv[i] = argPlaceholder.ReplaceAllStringFunc(arg, func(m string) string {
			return params[m[1:len(m)-1]]
		})
	}
	return argv
}

func parserName(spec domain.ProbeSpec) string {
	if spec.Parser == "" {
		return "lines"
	}
	return spec.Parser
}
