package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	ferrors "git.home.luguber.info/inful/mlt/internal/foundation/errors"
)

// ErrNotFound is returned by Load when the record has never been written.
var ErrNotFound = errors.New("state: record not found")

// BuildRecords is the narrow view of the store used by the build executor.
type BuildRecords interface {
	LoadBuild() (BuildRecord, error)
	SaveBuild(BuildRecord) error
}

// DeployRecords is the narrow view of the store used by the push step.
type DeployRecords interface {
	LoadDeploy() (DeployRecord, error)
	SaveDeploy(DeployRecord) error
}

// Store reads and writes state files in a single project directory.
type Store struct {
	dir string
}

// NewStore returns a Store rooted at dir. The directory must exist.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Path returns the file backing kind.
func (s *Store) Path(kind Kind) string {
	return filepath.Join(s.dir, kind.FileName())
}

// LoadBuild returns the persisted BuildRecord or ErrNotFound.
func (s *Store) LoadBuild() (BuildRecord, error) {
	var rec BuildRecord
	if err := s.load(KindBuild, &rec); err != nil {
		return BuildRecord{}, err
	}
	if err := rec.validate(); err != nil {
		return BuildRecord{}, ferrors.StateCorrupt(s.Path(KindBuild), err).Build()
	}
	return rec, nil
}

// SaveBuild replaces the persisted BuildRecord.
func (s *Store) SaveBuild(rec BuildRecord) error {
	if err := rec.validate(); err != nil {
		return ferrors.ValidationError("refusing to save invalid build record").WithCause(err).Build()
	}
	return s.save(KindBuild, rec)
}

// LoadDeploy returns the persisted DeployRecord or ErrNotFound.
func (s *Store) LoadDeploy() (DeployRecord, error) {
	var rec DeployRecord
	if err := s.load(KindDeploy, &rec); err != nil {
		return DeployRecord{}, err
	}
	if err := rec.validate(); err != nil {
		return DeployRecord{}, ferrors.StateCorrupt(s.Path(KindDeploy), err).Build()
	}
	return rec, nil
}

// SaveDeploy replaces the persisted DeployRecord.
func (s *Store) SaveDeploy(rec DeployRecord) error {
	if err := rec.validate(); err != nil {
		return ferrors.ValidationError("refusing to save invalid deploy record").WithCause(err).Build()
	}
	return s.save(KindDeploy, rec)
}

func (s *Store) load(kind Kind, v any) error {
	path := s.Path(kind)
	data, err := os.ReadFile(path) // #nosec G304 -- path is derived from the project directory
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return ferrors.WrapError(err, ferrors.CategoryPersistence, "failed to read state").
			WithContext(ferrors.KeyPath, path).
			Fatal().
			Build()
	}
	if err := json.Unmarshal(data, v); err != nil {
		return ferrors.StateCorrupt(path, err).Build()
	}
	return nil
}

// save writes v next to the target and renames it into place.
func (s *Store) save(kind Kind, v any) error {
	path := s.Path(kind)
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return ferrors.InternalError("failed to encode state").WithCause(err).Build()
	}
	data = append(data, '\n')

	if err := writeFileAtomic(path, data); err != nil {
		return ferrors.PersistenceError(path, err).Build()
	}
	return nil
}

func writeFileAtomic(path string, data []byte) (err error) {
	dir, base := filepath.Split(path)
	tmp, err := os.CreateTemp(dir, "."+base+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err = tmp.Chmod(0o644); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}
