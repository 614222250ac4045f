// -----------------------------------------------------------------------
// Classes - Job class descriptors loaded from disk
// -----------------------------------------------------------------------

package classes

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pelletier/go-toml/v2"
	"github.com/samber/lo"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/onero/internal/common"
	"github.com/ternarybob/onero/internal/interfaces"
	"github.com/ternarybob/onero/internal/models"
	"gopkg.in/yaml.v3"
)

// descriptor is the on-disk form of a job class. TOML and YAML files share
// the same shape.
type descriptor struct {
	Name        string                `toml:"name" yaml:"name"`
	DisplayName string                `toml:"display_name" yaml:"display_name"`
	Description string                `toml:"description" yaml:"description"`
	Category    string                `toml:"category" yaml:"category"`
	Deprecated  bool                  `toml:"deprecated" yaml:"deprecated"`
	Parameters  []descriptorParameter `toml:"parameters" yaml:"parameters"`
}

type descriptorParameter struct {
	Name        string   `toml:"name" yaml:"name"`
	DisplayName string   `toml:"display_name" yaml:"display_name"`
	Description string   `toml:"description" yaml:"description"`
	Type        string   `toml:"type" yaml:"type"`
	Required    bool     `toml:"required" yaml:"required"`
	Default     string   `toml:"default" yaml:"default"`
	Choices     []string `toml:"choices" yaml:"choices"`
}

// Registry holds the known job classes, loaded from descriptor files at
// startup and reloadable at runtime.
type Registry struct {
	mu      sync.RWMutex
	config  *common.ClassesConfig
	logger  arbor.ILogger
	classes map[string]*interfaces.JobClass
}

// NewRegistry creates the registry and performs the initial load. A missing
// descriptor directory is not an error; the registry starts empty.
func NewRegistry(config *common.ClassesConfig, logger arbor.ILogger) (*Registry, error) {
	r := &Registry{
		config:  config,
		logger:  logger,
		classes: make(map[string]*interfaces.JobClass),
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Get returns the class by name, or nil if unknown.
func (r *Registry) Get(name string) *interfaces.JobClass {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.classes[name]
}

// List returns all known classes sorted by name.
func (r *Registry) List() []*interfaces.JobClass {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := lo.Values(r.classes)
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}

// Register adds or replaces a class.
func (r *Registry) Register(class *interfaces.JobClass) error {
	if class == nil || class.Name == "" {
		return fmt.Errorf("job class requires a name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.classes[class.Name] = class
	return nil
}

// Reload re-reads the descriptor directory, replacing the registry contents.
// Malformed files are skipped with a log line rather than failing the load.
func (r *Registry) Reload() error {
	dir := r.config.Dir
	if dir == "" {
		return nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			r.logger.Debug().Str("dir", dir).Msg("Job class directory does not exist")
			return nil
		}
		return fmt.Errorf("failed to read class directory %s: %w", dir, err)
	}

	loaded := make(map[string]*interfaces.JobClass)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if !r.extensionEnabled(ext) {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		class, err := loadDescriptor(path, ext)
		if err != nil {
			r.logger.Warn().Err(err).Str("file", path).Msg("Skipping malformed job class descriptor")
			continue
		}
		if _, dup := loaded[class.Name]; dup {
			r.logger.Warn().Str("class", class.Name).Str("file", path).Msg("Duplicate job class name, keeping first")
			continue
		}
		loaded[class.Name] = class
	}

	r.mu.Lock()
	r.classes = loaded
	r.mu.Unlock()

	r.logger.Info().Int("classes", len(loaded)).Str("dir", dir).Msg("Job classes loaded")
	return nil
}

func (r *Registry) extensionEnabled(ext string) bool {
	if len(r.config.Extensions) == 0 {
		return ext == ".toml" || ext == ".yaml" || ext == ".yml"
	}
	return lo.Contains(r.config.Extensions, ext)
}

func loadDescriptor(path, ext string) (*interfaces.JobClass, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var desc descriptor
	switch ext {
	case ".toml":
		if err := toml.Unmarshal(data, &desc); err != nil {
			return nil, fmt.Errorf("invalid TOML: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &desc); err != nil {
			return nil, fmt.Errorf("invalid YAML: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported descriptor extension %s", ext)
	}

	if desc.Name == "" {
		return nil, fmt.Errorf("descriptor %s has no name", path)
	}
	return desc.toClass(), nil
}

func (d *descriptor) toClass() *interfaces.JobClass {
	class := &interfaces.JobClass{
		Name:        d.Name,
		DisplayName: d.DisplayName,
		Description: d.Description,
		Category:    d.Category,
		Deprecated:  d.Deprecated,
	}
	for _, p := range d.Parameters {
		class.Parameters = append(class.Parameters, p.toParameter())
	}
	return class
}

func (p *descriptorParameter) toParameter() models.Parameter {
	return models.Parameter{
		Name:        p.Name,
		DisplayName: p.DisplayName,
		Description: p.Description,
		Type:        models.ParameterType(p.Type),
		Required:    p.Required,
		Default:     p.Default,
		Choices:     append([]string(nil), p.Choices...),
	}
}
