// Package userdata seeds the per-user data directory the backend works in.
package userdata

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// BaseDirs are created in the user data directory if missing.
var BaseDirs = []string{"models", "outputs", "settings", "cache"}

// BundledDirs are copied from the backend directory on first run.
var BundledDirs = []string{
	"wildcards",
	"chatbots",
	"llamas",
	"presets",
	filepath.Join("random_prompt", "userfiles"),
}

// DefaultFile is a bundled file copied to a user data path on first run.
type DefaultFile struct {
	From string
	To   string
}

var DefaultFiles = []DefaultFile{
	{From: "settings/styles.default", To: "settings/styles.csv"},
	{From: "settings/styles.default", To: "settings/styles.default"},
	{From: "settings/powerup.default", To: "settings/powerup.default"},
	{From: "settings/performance.default", To: "settings/performance.default"},
	{From: "settings/resolutions.default", To: "settings/resolutions.default"},
}

// Initialize prepares userDataDir from the bundled defaults in backendDir. Nothing that already exists is
// overwritten, so user edits survive, and sources missing from the bundle are skipped.
// progress may be nil.
func Initialize(fs afero.Fs, backendDir, userDataDir string, progress func(string)) error {
	if progress == nil {
		progress = func(string) {}
	}
	progress("Initializing user data...")

	for _, dir := range BaseDirs {
		err := fs.MkdirAll(filepath.Join(userDataDir, dir), 0o755)
		if err != nil {
			return fmt.Errorf("creating %s directory: %w", dir, err)
		}
	}

	for _, dir := range BundledDirs {
		src := filepath.Join(backendDir, dir)
		dest := filepath.Join(userDataDir, dir)
		missing, err := shouldCopy(fs, src, dest)
		if err != nil {
			return err
		}
		if !missing {
			continue
		}
		progress(fmt.Sprintf("Copying %s...", filepath.ToSlash(dir)))
		err = copyDir(fs, src, dest)
		if err != nil {
			return fmt.Errorf("copying %s: %w", dir, err)
		}
	}

	for _, f := range DefaultFiles {
		src := filepath.Join(backendDir, filepath.FromSlash(f.From))
		dest := filepath.Join(userDataDir, filepath.FromSlash(f.To))
		missing, err := shouldCopy(fs, src, dest)
		if err != nil {
			return err
		}
		if !missing {
			continue
		}
		err = fs.MkdirAll(filepath.Dir(dest), 0o755)
		if err != nil {
			return fmt.Errorf("creating directory for %s: %w", f.To, err)
		}
		err = copyFile(fs, src, dest)
		if err != nil {
			return fmt.Errorf("copying %s to %s: %w", f.From, f.To, err)
		}
	}

	progress("User data ready.")
	return nil
}

// shouldCopy reports whether dest is missing and src exists.
func shouldCopy(fs afero.Fs, src, dest string) (bool, error) {
	destExists, err := afero.Exists(fs, dest)
	if err != nil {
		return false, fmt.Errorf("checking %s: %w", dest, err)
	}
	if destExists {
		return false, nil
	}
	srcExists, err := afero.Exists(fs, src)
	if err != nil {
		return false, fmt.Errorf("checking %s: %w", src, err)
	}
	return srcExists, nil
}

func copyDir(fs afero.Fs, src, dest string) error {
	return afero.Walk(fs, src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)
		if info.IsDir() {
			return fs.MkdirAll(target, 0o755)
		}
		return copyFile(fs, path, target)
	})
}

func copyFile(fs afero.Fs, src, dest string) error {
	in, err := fs.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := fs.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	_, err = io.Copy(out, in)
	if err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
