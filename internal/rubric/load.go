package rubric

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// File is the on-disk form used to seed a rubric and its violation catalog.
type File struct {
	Parameters     []Parameter     `json:"parameters" yaml:"parameters" validate:"dive"`
	ViolationTypes []ViolationType `json:"violation_types" yaml:"violation_types" validate:"dive"`
}

// Rubric returns the parameter tree with parent references filled in.
func (f File) Rubric() Rubric {
	r := Rubric{Parameters: make([]Parameter, len(f.Parameters))}
	for i, p := range f.Parameters {
		subs := make([]SubParameter, len(p.SubParameters))
		for j, sp := range p.SubParameters {
			sp.ParameterID = p.ID
			subs[j] = sp
		}
		p.SubParameters = subs
		r.Parameters[i] = p
	}
	return r
}

var validate = validator.New()

// Validate checks field-level structure only. Sibling weightage sums are
// the authoring layer's concern and are not checked here.
func Validate(f File) error {
	if err := validate.Struct(f); err != nil {
		return fmt.Errorf("rubric: %w", err)
	}
	seen := map[string]struct{}{}
	for _, p := range f.Parameters {
		for _, sp := range p.SubParameters {
			if _, dup := seen[sp.ID]; dup {
				return fmt.Errorf("rubric: duplicate sub-parameter id %q", sp.ID)
			}
			seen[sp.ID] = struct{}{}
		}
	}
	return nil
}

// Decode reads a rubric file in the given format ("yaml" or "json").
func Decode(r io.Reader, format string) (File, error) {
	var f File
	switch strings.ToLower(format) {
	case "yaml", "yml":
		if err := yaml.NewDecoder(r).Decode(&f); err != nil {
			return File{}, fmt.Errorf("decode yaml: %w", err)
		}
	case "json":
		if err := json.NewDecoder(r).Decode(&f); err != nil {
			return File{}, fmt.Errorf("decode json: %w", err)
		}
	default:
		return File{}, fmt.Errorf("unsupported rubric format: %s", format)
	}
	if err := Validate(f); err != nil {
		return File{}, err
	}
	return f, nil
}

// LoadFile picks the format from the file extension.
func LoadFile(path string) (File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return File{}, err
	}
	defer fh.Close()
	return Decode(fh, strings.TrimPrefix(filepath.Ext(path), "."))
}
