// Package project reads the project identity written at scaffold time.
package project

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	ferrors "git.home.luguber.info/inful/mlt/internal/foundation/errors"
)

// FileName is the project descriptor created by `mlt init`.
const FileName = "mlt.json"

// Project identifies one scaffolded project. It is never modified by mlt
// after scaffolding.
type Project struct {
	Name       string `json:"name"`
	Namespace  string `json:"namespace"`
	Registry   string `json:"registry,omitempty"`
	GCEProject string `json:"gceProject,omitempty"`

	// Dir is the absolute project directory. Not persisted.
	Dir string `json:"-"`
}

// Load reads mlt.json from dir.
func Load(dir string) (Project, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return Project{}, ferrors.ValidationError("invalid project directory").WithCause(err).Build()
	}
	path := filepath.Join(abs, FileName)

	data, err := os.ReadFile(path) // #nosec G304 -- fixed file name inside the project directory
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Project{}, ferrors.ConfigError(fmt.Sprintf("%s not found in %s; is this an mlt project?", FileName, abs)).
				WithContext(ferrors.KeyPath, path).
				Build()
		}
		return Project{}, ferrors.ConfigError("failed to read project file").
			WithCause(err).
			WithContext(ferrors.KeyPath, path).
			Build()
	}

	var p Project
	if err := json.Unmarshal(data, &p); err != nil {
		return Project{}, ferrors.ConfigError("project file is not valid JSON").
			WithCause(err).
			WithContext(ferrors.KeyPath, path).
			Build()
	}
	p.Dir = abs
	if err := p.Validate(); err != nil {
		return Project{}, err
	}
	return p, nil
}

// Validate checks the mandatory fields.
func (p Project) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return ferrors.ConfigError("project name is empty").WithContext("field", "name").Build()
	}
	if strings.TrimSpace(p.Namespace) == "" {
		return ferrors.ConfigError("project namespace is empty").WithContext("field", "namespace").Build()
	}
	return nil
}

// RegistryTarget returns the registry images are pushed to. Projects created
// for Google Cloud carry only a GCE project id and push to gcr.io.
func (p Project) RegistryTarget() string {
	if p.Registry != "" {
		return strings.TrimSuffix(p.Registry, "/")
	}
	if p.GCEProject != "" {
		return "gcr.io/" + p.GCEProject
	}
	return ""
}
