package interfaces

import "github.com/ternarybob/onero/internal/models"

// JobClass describes a load-generation workload type that clients know how to
// execute. Classes are discovered from descriptor files at startup.
type JobClass struct {
	Name        string             `json:"name"`
	DisplayName string             `json:"display_name,omitempty"`
	Description string             `json:"description,omitempty"`
	Category    string             `json:"category,omitempty"`
	Parameters  []models.Parameter `json:"parameters,omitempty"`
	Deprecated  bool               `json:"deprecated,omitempty"`
}

// JobClassRegistry - lookup of known job classes
type JobClassRegistry interface {
	// Get returns the class by name, or nil if unknown
	Get(name string) *JobClass

	// List returns all known classes sorted by name
	List() []*JobClass

	// Register adds or replaces a class
	Register(class *JobClass) error

	// Reload re-reads the descriptor directory
	Reload() error
}
