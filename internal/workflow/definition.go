package workflow

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

var ErrInvalidDefinition = errors.New("invalid workflow definition")

// Definition is the parsed workflow document. It describes the function
// graph only; the monitor never executes anything in it.
type Definition struct {
	// Name namespaces all of the run's store keys
	Name string `yaml:"name"`

	// Entry is the function the trigger invokes first
	Entry string `yaml:"entry"`

	// Functions maps base function name to its declaration
	Functions map[string]FunctionDef `yaml:"functions"`
}

// FunctionDef declares one function in the workflow document.
type FunctionDef struct {
	// InvokeNext lists the downstream functions this one fires
	InvokeNext []string `yaml:"invoke_next"`

	// Rank is the instance cardinality; 0 or 1 means a single unranked
	// instance
	Rank int `yaml:"rank"`

	// When is an optional CEL expression over the workflow arguments.
	// Statically false means the function will never run this invocation.
	When string `yaml:"when"`
}

// ParseDefinition decodes a workflow document.
func ParseDefinition(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parsing workflow document: %w", err)
	}

	if err := def.validate(); err != nil {
		return nil, err
	}

	return &def, nil
}

// LoadDefinition reads and parses a workflow document from disk.
func LoadDefinition(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading workflow document: %w", err)
	}
	return ParseDefinition(data)
}

func (d *Definition) validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidDefinition)
	}
	if d.Entry == "" {
		return fmt.Errorf("%w: entry is required", ErrInvalidDefinition)
	}
	if len(d.Functions) == 0 {
		return fmt.Errorf("%w: at least one function is required", ErrInvalidDefinition)
	}
	if _, ok := d.Functions[d.Entry]; !ok {
		return fmt.Errorf("%w: entry %q is not a declared function", ErrInvalidDefinition, d.Entry)
	}

	for name, fn := range d.Functions {
		if fn.Rank < 0 {
			return fmt.Errorf("%w: function %q has negative rank", ErrInvalidDefinition, name)
		}
		for _, next := range fn.InvokeNext {
			if _, ok := d.Functions[next]; !ok {
				return fmt.Errorf("%w: function %q invokes undeclared function %q", ErrInvalidDefinition, name, next)
			}
		}
	}

	return nil
}
