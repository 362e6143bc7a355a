// Package file stores documents and images on the local filesystem under a
// single data directory.
package file

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/google/uuid"

	"github.com/Rrens/imagegen-studio/internal/domain"
)

var projectNameRe = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// ValidateProject rejects names that could escape the data directory
func ValidateProject(project string) error {
	if !projectNameRe.MatchString(project) {
		return domain.Errorf(domain.KindInvalidArgument, "invalid project name: %q", project)
	}
	return nil
}

// validateID only accepts canonical UUIDs as file stems
func validateID(id string) error {
	if _, err := uuid.Parse(id); err != nil || len(id) != 36 {
		return domain.NewError(domain.KindNotFound, "Not found")
	}
	return nil
}

func projectDir(root, project string) (string, error) {
	if err := ValidateProject(project); err != nil {
		return "", err
	}
	return filepath.Join(root, "projects", project), nil
}

// WriteFileAtomic writes data to a temp file in the target directory and
// renames it into place, so readers never see a partial file.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err = os.Chmod(tmp.Name(), perm); err != nil {
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}
	return WriteFileAtomic(path, data, 0o644)
}

// readJSON decodes path into v. A missing file surfaces as an error
// matching fs.ErrNotExist.
func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	return nil
}
