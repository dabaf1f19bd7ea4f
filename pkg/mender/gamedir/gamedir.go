// Package gamedir locates and validates installation roots.
package gamedir

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/adrg/xdg"

	"github.com/jamesainslie/mender/pkg/mender/types"
)

// ErrNotFound is returned when no candidate root is a valid installation.
var ErrNotFound = errors.New("no installation found")

// Executable is the path, relative to the root, of the game binary.
const Executable = "Game/Bin/TS4_x64.exe"

// DataDir is the top-level data folder.
const DataDir = "Data"

// Validate checks that root looks like an installation: it holds the game
// executable or a Data folder. It returns the absolute root.
func Validate(root string) (string, error) {
	if root == "" {
		return "", fmt.Errorf("%w: empty path", types.ErrInvalidRoot)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("%w: %w", types.ErrInvalidRoot, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("%w: %w", types.ErrInvalidRoot, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s is not a directory", types.ErrInvalidRoot, abs)
	}

	if fi, err := os.Stat(filepath.Join(abs, filepath.FromSlash(Executable))); err == nil && fi.Mode().IsRegular() {
		return abs, nil
	}
	if fi, err := os.Stat(filepath.Join(abs, DataDir)); err == nil && fi.IsDir() {
		return abs, nil
	}
	return "", fmt.Errorf("%w: %s has neither %s nor a %s folder", types.ErrInvalidRoot, abs, Executable, DataDir)
}

// Detect returns the first valid candidate.
func Detect(candidates []string) (string, error) {
	for _, c := range candidates {
		if root, err := Validate(c); err == nil {
			return root, nil
		}
	}
	return "", ErrNotFound
}

// Candidates returns the usual install locations for the current platform.
func Candidates() []string {
	switch runtime.GOOS {
	case "windows":
		return []string{
			`C:\Program Files\EA Games\The Sims 4`,
			`C:\Program Files (x86)\EA Games\The Sims 4`,
			`C:\Program Files\Origin Games\The Sims 4`,
			`C:\Program Files (x86)\Origin Games\The Sims 4`,
			`C:\Program Files (x86)\Steam\steamapps\common\The Sims 4`,
			`D:\Games\The Sims 4`,
			`D:\SteamLibrary\Steam\steamapps\common\The Sims 4`,
			`D:\Origin Games\The Sims 4`,
			`D:\Steam\steamapps\common\The Sims 4`,
			`D:\The Sims 4`,
			`E:\Games\The Sims 4`,
		}
	case "darwin":
		return []string{
			"/Applications/The Sims 4.app/Contents",
			filepath.Join(xdg.Home, "Applications", "The Sims 4.app", "Contents"),
		}
	default:
		return []string{
			filepath.Join(xdg.DataHome, "Steam", "steamapps", "common", "The Sims 4"),
			filepath.Join(xdg.Home, ".steam", "steam", "steamapps", "common", "The Sims 4"),
			filepath.Join(xdg.Home, "Games", "The Sims 4"),
		}
	}
}

// Prompt chooses the installation root: the explicit argument, then the
// configured default, then the first detected candidate. An explicit
// argument or default that fails validation is an error; it never falls
// through to detection.
type Prompt struct {
	Arg        string
	Default    string
	Candidates []string
}

// Root returns the chosen absolute root.
func (p Prompt) Root() (string, error) {
	switch {
	case p.Arg != "":
		return Validate(p.Arg)
	case p.Default != "":
		return Validate(p.Default)
	}
	candidates := p.Candidates
	if candidates == nil {
		candidates = Candidates()
	}
	return Detect(candidates)
}
