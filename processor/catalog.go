package processor

import (
	"go/types"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// CatalogVersion is written at the top of every catalog.
const CatalogVersion = "1"

// Catalog lists the steps found in a session.
type Catalog struct {
	Version string         `yaml:"version"`
	Steps   []CatalogEntry `yaml:"steps"`
}

// CatalogEntry describes one step in a Catalog.
type CatalogEntry struct {
	Name          string         `yaml:"name"`
	Description   string         `yaml:"description,omitempty"`
	Category      string         `yaml:"category"`
	SecurityLevel string         `yaml:"security_level"`
	Package       string         `yaml:"package"`
	Function      string         `yaml:"function"`
	Params        []CatalogParam `yaml:"params,omitempty"`
	Returns       string         `yaml:"returns,omitempty"`
	Async         bool           `yaml:"async,omitempty"`
	Method        bool           `yaml:"method,omitempty"`
}

// CatalogParam describes one parameter of a step, excluding the context.
type CatalogParam struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Optional bool   `yaml:"optional,omitempty"`
	Nullable bool   `yaml:"nullable,omitempty"`
}

// NewCatalog builds a catalog from the registry's entries, in registry
// order.
func NewCatalog(reg *Registry) *Catalog {
	c := &Catalog{Version: CatalogVersion, Steps: []CatalogEntry{}}
	for m := range reg.Entries() {
		var qf types.Qualifier
		if m.Func != nil {
			qf = shortQualifier(m.Func.Pkg())
		}
		e := CatalogEntry{
			Name:          m.Name,
			Description:   m.Description,
			Category:      m.Category.String(),
			SecurityLevel: m.SecurityLevel.String(),
			Package:       m.Package,
			Function:      m.FunctionName(),
			Returns:       m.ReturnType(qf),
			Async:         m.Async,
			Method:        !m.IsTopLevel,
		}
		for i, p := range m.ForwardedParams() {
			e.Params = append(e.Params, CatalogParam{
				Name:     paramName(p, i),
				Type:     types.TypeString(p.Type, qf),
				Optional: p.HasDefault,
				Nullable: p.Nullable,
			})
		}
		c.Steps = append(c.Steps, e)
	}
	return c
}

// Write encodes the catalog as YAML.
func (c *Catalog) Write(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return errors.Wrap(err, "could not encode step catalog")
	}
	return enc.Close()
}

// ReadCatalog decodes a catalog written by Write.
func ReadCatalog(r io.Reader) (*Catalog, error) {
	var c Catalog
	if err := yaml.NewDecoder(r).Decode(&c); err != nil {
		return nil, errors.Wrap(err, "could not decode step catalog")
	}
	return &c, nil
}

// writeCatalogFile writes the catalog to the given path, creating parent
// directories as needed.
func writeCatalogFile(path string, c *Catalog) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return errors.Wrapf(err, "could not create directory for %s", path)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0666)
	if err != nil {
		return errors.Wrapf(err, "could not write step catalog")
	}
	defer func() {
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
	}()
	return c.Write(f)
}
