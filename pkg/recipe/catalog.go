package recipe

import (
	_ "embed"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

//go:embed builtin.yaml
var builtinYAML []byte

type recipeFile struct {
	Recipes []Recipe `yaml:"recipes"`
}

// Builtin returns the standard recipes shipped with the daemon.
func Builtin() ([]Recipe, error) {
	return parse(builtinYAML, "builtin.yaml")
}

func parse(b []byte, source string) ([]Recipe, error) {
	var f recipeFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to parse recipes from %s", source)
	}
	for _, r := range f.Recipes {
		if err := r.Validate(); err != nil {
			return nil, pkgerrors.Wrapf(err, "invalid recipe in %s", source)
		}
	}
	return f.Recipes, nil
}

// LoadDir reads every *.yaml and *.yml file in dir. Each file holds a
// top-level "recipes" list.
func LoadDir(dir string) ([]Recipe, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to read recipe dir %s", dir)
	}

	var out []Recipe
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		p := filepath.Join(dir, e.Name())
		b, err := os.ReadFile(p)
		if err != nil {
			return nil, pkgerrors.Wrapf(err, "failed to read recipe file %s", p)
		}
		rs, err := parse(b, p)
		if err != nil {
			return nil, err
		}
		out = append(out, rs...)
	}
	return out, nil
}

// Catalog is the set of standard recipes available for selection.
type Catalog struct {
	mu      sync.RWMutex
	recipes map[string]Recipe
}

// NewCatalog returns the builtin recipes overlaid with those in dir. An empty
// dir means builtin only.
func NewCatalog(dir string) (*Catalog, error) {
	c := &Catalog{}
	if err := c.Reload(dir); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload rebuilds the catalog from scratch.
func (c *Catalog) Reload(dir string) error {
	builtin, err := Builtin()
	if err != nil {
		return err
	}
	recipes := make(map[string]Recipe, len(builtin))
	for _, r := range builtin {
		recipes[r.Name] = r
	}

	if dir != "" {
		extra, err := LoadDir(dir)
		if err != nil {
			return err
		}
		for _, r := range extra {
			if _, ok := recipes[r.Name]; ok {
				logrus.WithField("recipe", r.Name).Info("recipe from disk replaces builtin")
			}
			recipes[r.Name] = r
		}
	}

	c.mu.Lock()
	c.recipes = recipes
	c.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"count": len(recipes),
		"dir":   dir,
	}).Debug("loaded standard recipes")
	return nil
}

// List returns all recipes sorted by name.
func (c *Catalog) List() []Recipe {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Recipe, 0, len(c.recipes))
	for _, r := range c.recipes {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (c *Catalog) Get(name string) (Recipe, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	r, ok := c.recipes[name]
	if !ok {
		return Recipe{}, pkgerrors.Wrapf(ErrNotFound, "no recipe named %q", name)
	}
	return r, nil
}
