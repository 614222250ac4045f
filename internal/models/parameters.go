// -----------------------------------------------------------------------
// Parameters - Job-class parameter stubs and value validation
// -----------------------------------------------------------------------

package models

import (
	"fmt"
	"strconv"
	"time"
)

// ParameterType enumerates the value kinds a job-class parameter may take.
type ParameterType string

const (
	ParameterTypeString   ParameterType = "string"
	ParameterTypeInt      ParameterType = "int"
	ParameterTypeFloat    ParameterType = "float"
	ParameterTypeBool     ParameterType = "bool"
	ParameterTypeDuration ParameterType = "duration"
	ParameterTypeChoice   ParameterType = "choice"
)

// Parameter describes one configurable input of a job class. Values are
// transported as strings and validated against the declared type before a job
// is scheduled.
type Parameter struct {
	Name        string        `json:"name" toml:"name" yaml:"name"`
	DisplayName string        `json:"display_name,omitempty" toml:"display_name" yaml:"display_name"`
	Description string        `json:"description,omitempty" toml:"description" yaml:"description"`
	Type        ParameterType `json:"type" toml:"type" yaml:"type"`
	Required    bool          `json:"required" toml:"required" yaml:"required"`
	Default     string        `json:"default,omitempty" toml:"default" yaml:"default"`
	Choices     []string      `json:"choices,omitempty" toml:"choices" yaml:"choices"`
}

// ValidateValue checks a string value against the parameter's declared type.
// An empty value is accepted only for optional parameters.
func (p *Parameter) ValidateValue(value string) error {
	if value == "" {
		if p.Required && p.Default == "" {
			return fmt.Errorf("parameter %s is required", p.Name)
		}
		return nil
	}

	switch p.Type {
	case ParameterTypeString, "":
		return nil
	case ParameterTypeInt:
		if _, err := strconv.ParseInt(value, 10, 64); err != nil {
			return fmt.Errorf("parameter %s expects an integer, got %q", p.Name, value)
		}
	case ParameterTypeFloat:
		if _, err := strconv.ParseFloat(value, 64); err != nil {
			return fmt.Errorf("parameter %s expects a number, got %q", p.Name, value)
		}
	case ParameterTypeBool:
		if _, err := strconv.ParseBool(value); err != nil {
			return fmt.Errorf("parameter %s expects a boolean, got %q", p.Name, value)
		}
	case ParameterTypeDuration:
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("parameter %s expects a duration, got %q", p.Name, value)
		}
	case ParameterTypeChoice:
		for _, c := range p.Choices {
			if c == value {
				return nil
			}
		}
		return fmt.Errorf("parameter %s expects one of %v, got %q", p.Name, p.Choices, value)
	default:
		return fmt.Errorf("parameter %s has unknown type %q", p.Name, p.Type)
	}
	return nil
}

// ValidateParameterValues checks a set of supplied values against the
// declared parameter stubs, rejecting unknown names and missing required
// values.
func ValidateParameterValues(stubs []Parameter, values map[string]string) error {
	byName := make(map[string]*Parameter, len(stubs))
	for i := range stubs {
		byName[stubs[i].Name] = &stubs[i]
	}

	for name := range values {
		if _, ok := byName[name]; !ok {
			return fmt.Errorf("unknown parameter %s", name)
		}
	}

	for i := range stubs {
		p := &stubs[i]
		if err := p.ValidateValue(values[p.Name]); err != nil {
			return err
		}
	}
	return nil
}
