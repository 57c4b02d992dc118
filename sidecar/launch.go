package sidecar

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultEntryScript is the backend script started by the interpreter.
const DefaultEntryScript = "launch.py"

// Launch describes the backend installation and produces the Command that starts it.
type Launch struct {
	// Python is the interpreter executable.
	Python string
	// BackendDir is the backend's root and the sidecar's working directory.
	BackendDir string
	// EntryScript is relative to BackendDir. Defaults to DefaultEntryScript.
	EntryScript string
	// UserDataDir is writable per-user state exposed to the backend.
	UserDataDir string
	Port        int
	// PathPrepend is put in front of PATH, e.g. the directories of an embedded interpreter.
	PathPrepend []string
}

// Command builds `<python> <entry-script> --port <N>` with the environment the backend expects.
func (l Launch) Command() Command {
	script := l.EntryScript
	if script == "" {
		script = DefaultEntryScript
	}
	env := []string{
		"RF_USER_DATA=" + l.UserDataDir,
		"RF_REPOSITORIES_DIR=" + filepath.Join(l.UserDataDir, "repositories"),
		// Unbuffered output, so that log lines show up as they are printed.
		"PYTHONUNBUFFERED=1",
	}
	if len(l.PathPrepend) > 0 {
		path := strings.Join(l.PathPrepend, string(os.PathListSeparator))
		if cur := os.Getenv("PATH"); cur != "" {
			path += string(os.PathListSeparator) + cur
		}
		env = append(env, "PATH="+path)
	}
	return Command{
		Executable: l.Python,
		Args:       []string{filepath.Join(l.BackendDir, script), "--port", strconv.Itoa(l.Port)},
		Dir:        l.BackendDir,
		Env:        env,
		Port:       l.Port,
	}
}
