package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/guseggert/sidecar/internal/files"
)

// Paths are the locations needed to launch the backend.
type Paths struct {
	Python      string
	BackendDir  string
	UserDataDir string
	// PathPrepend holds the bundled interpreter's directories in packaged mode.
	PathPrepend []string
	Packaged    bool
}

// ErrBackendNotFound is returned in development mode when no directory up from the working directory
// contains the entry script.
var ErrBackendNotFound = errors.New("backend directory not found")

// Resolve works out where the interpreter, backend and user data live. cwd is where the backend is searched
// from in development mode.
func (c Config) Resolve(cwd string) (Paths, error) {
	var p Paths
	if c.ResourcesDir != "" {
		p = packagedPaths(c.ResourcesDir)
	} else {
		p.Python = "python"
		if c.BackendDir == "" {
			script, err := files.FindUp(c.EntryScript, cwd)
			if err != nil {
				return Paths{}, fmt.Errorf("looking for %s: %w", c.EntryScript, err)
			}
			if script == "" {
				return Paths{}, fmt.Errorf("%w: no %s in %s or its parents", ErrBackendNotFound, c.EntryScript, cwd)
			}
			p.BackendDir = filepath.Dir(script)
		}
	}
	if c.Python != "" {
		p.Python = c.Python
	}
	if c.BackendDir != "" {
		p.BackendDir = c.BackendDir
	}

	p.UserDataDir = c.UserDataDir
	if p.UserDataDir == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return Paths{}, fmt.Errorf("finding user data directory: %w", err)
		}
		p.UserDataDir = filepath.Join(dir, AppName)
	}
	return p, nil
}

func packagedPaths(resources string) Paths {
	pythonDir := filepath.Join(resources, "python")
	p := Paths{
		BackendDir: filepath.Join(resources, "backend"),
		Packaged:   true,
	}
	if runtime.GOOS == "windows" {
		p.Python = filepath.Join(pythonDir, "python.exe")
		p.PathPrepend = []string{pythonDir, filepath.Join(pythonDir, "Scripts")}
	} else {
		p.Python = filepath.Join(pythonDir, "bin", "python3")
		p.PathPrepend = []string{filepath.Join(pythonDir, "bin")}
	}
	return p
}
