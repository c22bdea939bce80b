package common

import (
	"os"
	"path/filepath"
)

// ParentProcessDirEnv names the environment variable a daemonized parent
// process uses to tell its child what directory relative paths should be
// resolved against, matching the teacher's own daemonization convention.
const ParentProcessDirEnv = "COREKERNEL_PARENT_PROCESS_DIR"

// GetResolvedPath returns an absolute, cleaned form of path. A relative
// path is resolved against ParentProcessDirEnv when set (so a path given
// before daemonizing still resolves correctly after the working
// directory changes), falling back to the process's actual working
// directory otherwise.
func GetResolvedPath(path string) (string, error) {
	if path == "" || filepath.IsAbs(path) {
		return filepath.Clean(path), nil
	}

	base := os.Getenv(ParentProcessDirEnv)
	if base == "" {
		var err error
		base, err = os.Getwd()
		if err != nil {
			return "", err
		}
	}
	return filepath.Join(base, path), nil
}
