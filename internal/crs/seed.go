package crs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/mind-engage/mindengage-crs/internal/rubric"
)

// SeedFile is a rubric file with an optional student roster.
type SeedFile struct {
	rubric.File `yaml:",inline"`
	Students    []Student `json:"students" yaml:"students"`
}

func DecodeSeed(r io.Reader, format string) (SeedFile, error) {
	var sf SeedFile
	switch strings.ToLower(format) {
	case "yaml", "yml":
		if err := yaml.NewDecoder(r).Decode(&sf); err != nil {
			return SeedFile{}, fmt.Errorf("decode yaml: %w", err)
		}
	case "json":
		if err := json.NewDecoder(r).Decode(&sf); err != nil {
			return SeedFile{}, fmt.Errorf("decode json: %w", err)
		}
	default:
		return SeedFile{}, fmt.Errorf("unsupported seed format: %s", format)
	}
	if err := rubric.Validate(sf.File); err != nil {
		return SeedFile{}, err
	}
	for i, st := range sf.Students {
		if strings.TrimSpace(st.RegisterNumber) == "" {
			return SeedFile{}, fmt.Errorf("students[%d]: register_number is required", i)
		}
	}
	return sf, nil
}

func LoadSeedFile(path string) (SeedFile, error) {
	fh, err := os.Open(path)
	if err != nil {
		return SeedFile{}, err
	}
	defer fh.Close()
	return DecodeSeed(fh, strings.TrimPrefix(filepath.Ext(path), "."))
}

// Seed upserts the rubric, the violation catalog and the roster. Existing
// students keep their cached CRS.
func Seed(ctx context.Context, store Store, sf SeedFile) error {
	for _, p := range sf.Rubric().Parameters {
		if err := store.PutParameter(ctx, p); err != nil {
			return fmt.Errorf("parameter %s: %w", p.ID, err)
		}
	}
	for _, vt := range sf.ViolationTypes {
		if err := store.PutViolationType(ctx, vt); err != nil {
			return fmt.Errorf("violation type %s: %w", vt.ID, err)
		}
	}
	for _, st := range sf.Students {
		if st.ID == "" {
			if existing, err := store.FindStudentByRegisterNumber(ctx, st.RegisterNumber); err == nil {
				st.ID = existing.ID
			} else {
				st.ID = uuid.NewString()
			}
		}
		if st.CreatedAt.IsZero() {
			st.CreatedAt = time.Now()
		}
		if err := store.PutStudent(ctx, st); err != nil {
			return fmt.Errorf("student %s: %w", st.RegisterNumber, err)
		}
	}
	return nil
}
