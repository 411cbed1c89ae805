package mapping

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/erp/commerce-sync/internal/domain/integration"
	"github.com/erp/commerce-sync/internal/domain/transform"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

//go:embed defaults/*.yaml
var defaultSpecs embed.FS

var validate = validator.New(validator.WithRequiredStructEnabled())

// LoadSpec decodes and structurally validates one YAML mapping document.
func LoadSpec(r io.Reader) (*MappingSpec, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var spec MappingSpec
	if err := dec.Decode(&spec); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, configError("empty mapping document")
		}
		return nil, configError("decode: %v", err)
	}
	if err := validate.Struct(&spec); err != nil {
		return nil, configError("%s: %v", spec.Entity, err)
	}
	if !spec.Entity.IsValid() {
		return nil, configError("unknown entity %q", spec.Entity)
	}
	return &spec, nil
}

// LoadSpecFile reads a mapping document from disk.
func LoadSpecFile(path string) (*MappingSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, configError("read %s: %v", path, err)
	}
	spec, err := LoadSpec(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return spec, nil
}

// LoadSpecDir reads every *.yaml / *.yml document of dir.
// Two documents for the same entity are a configuration error.
func LoadSpecDir(dir string) (map[integration.EntityType]*MappingSpec, error) {
	return loadSpecFS(os.DirFS(dir), ".")
}

// DefaultSpecs returns the built-in mapping documents for every entity.
func DefaultSpecs() (map[integration.EntityType]*MappingSpec, error) {
	return loadSpecFS(defaultSpecs, "defaults")
}

// DefaultSpecDocument returns the built-in mapping document of entity as
// written, comments included, to serve as a starting point for a custom
// mapping directory.
func DefaultSpecDocument(entity integration.EntityType) ([]byte, error) {
	if !entity.IsValid() {
		return nil, fmt.Errorf("%w: %q", integration.ErrUnknownEntity, entity)
	}
	data, err := defaultSpecs.ReadFile("defaults/" + entity.String() + ".yaml")
	if err != nil {
		return nil, configError("no default mapping for %s: %v", entity, err)
	}
	return data, nil
}

func loadSpecFS(fsys fs.FS, dir string) (map[integration.EntityType]*MappingSpec, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, configError("read mapping directory: %v", err)
	}

	specs := make(map[integration.EntityType]*MappingSpec)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !(strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")) {
			continue
		}
		data, err := fs.ReadFile(fsys, filepath.ToSlash(filepath.Join(dir, name)))
		if err != nil {
			return nil, configError("read %s: %v", name, err)
		}
		spec, err := LoadSpec(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if _, dup := specs[spec.Entity]; dup {
			return nil, configError("%s: second mapping document for entity %q", name, spec.Entity)
		}
		specs[spec.Entity] = spec
	}
	return specs, nil
}

// ---------------------------------------------------------------------------
// Catalog
// ---------------------------------------------------------------------------

// Catalog holds one compiled Resolver per entity.
type Catalog struct {
	resolvers map[integration.EntityType]*Resolver
}

// NewCatalog compiles every spec against registry. Any invalid spec fails the
// whole catalog.
func NewCatalog(specs map[integration.EntityType]*MappingSpec, registry *transform.Registry) (*Catalog, error) {
	c := &Catalog{resolvers: make(map[integration.EntityType]*Resolver, len(specs))}
	var errs []error
	for entity, spec := range specs {
		if spec.Entity != entity {
			errs = append(errs, configError("spec registered as %q declares entity %q", entity, spec.Entity))
			continue
		}
		r, err := NewResolver(spec, registry)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		c.resolvers[entity] = r
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return c, nil
}

// Resolver returns the compiled resolver for entity.
func (c *Catalog) Resolver(entity integration.EntityType) (*Resolver, error) {
	r, ok := c.resolvers[entity]
	if !ok {
		return nil, configError("no mapping spec for entity %q", entity)
	}
	return r, nil
}

// Entities returns the entities the catalog can map, in dependency order.
func (c *Catalog) Entities() []integration.EntityType {
	var out []integration.EntityType
	for _, e := range integration.DependencyOrder() {
		if _, ok := c.resolvers[e]; ok {
			out = append(out, e)
		}
	}
	return out
}

// Summaries describes each compiled spec, sorted by entity name.
func (c *Catalog) Summaries() []string {
	out := make([]string, 0, len(c.resolvers))
	for _, r := range c.resolvers {
		s := r.Spec()
		out = append(out, fmt.Sprintf("%s v%s (%s -> %s): %d fields, %d global transformers",
			s.Entity, s.Version, s.SourceSystem, s.TargetSystem, len(s.Fields), len(s.GlobalTransformers)))
	}
	sort.Strings(out)
	return out
}
