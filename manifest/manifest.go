// Package manifest handles servo.toml project configuration.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// FileName is the configuration file looked up by FindAndLoad.
const FileName = "servo.toml"

// Manifest represents a servo.toml configuration.
type Manifest struct {
	VM       VMConfig       `toml:"vm"`
	Compiler CompilerConfig `toml:"compiler"`
	Cache    CacheConfig    `toml:"cache"`
	Log      LogConfig      `toml:"log"`

	// Dir is the directory containing the servo.toml file (set at load time).
	// Empty for Default.
	Dir string `toml:"-"`
}

// VMConfig configures the virtual machine.
type VMConfig struct {
	Trace         bool `toml:"trace"`
	StackCapacity int  `toml:"stack-capacity"`
	MaxStack      int  `toml:"max-stack"`
}

// CompilerConfig configures compilation output.
type CompilerConfig struct {
	PrintCode bool `toml:"print-code"`
}

// CacheConfig configures the compiled-chunk cache.
type CacheConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// LogConfig configures logging.
type LogConfig struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Default returns the configuration used when no servo.toml exists.
func Default() *Manifest {
	return &Manifest{
		VM: VMConfig{
			StackCapacity: 256,
			MaxStack:      1 << 20,
		},
		Cache: CacheConfig{
			Path: filepath.Join(".servo", "cache.db"),
		},
	}
}

// Load parses a servo.toml file from the given directory. Keys missing from
// the file keep their Default values.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	m := Default()
	md, err := toml.Decode(string(data), m)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%s: unknown keys: %s", path, strings.Join(keys, ", "))
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// FindAndLoad walks up from startDir to find a servo.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// Validate checks value ranges.
func (m *Manifest) Validate() error {
	var errs []error
	if m.VM.StackCapacity < 0 {
		errs = append(errs, fmt.Errorf("vm.stack-capacity must not be negative, got %d", m.VM.StackCapacity))
	}
	if m.VM.MaxStack < 0 {
		errs = append(errs, fmt.Errorf("vm.max-stack must not be negative, got %d", m.VM.MaxStack))
	}
	if m.VM.MaxStack > 0 && m.VM.StackCapacity > m.VM.MaxStack {
		errs = append(errs, fmt.Errorf("vm.stack-capacity %d exceeds vm.max-stack %d", m.VM.StackCapacity, m.VM.MaxStack))
	}
	if m.Cache.Enabled && m.Cache.Path == "" {
		errs = append(errs, errors.New("cache.path is required when the cache is enabled"))
	}
	return errors.Join(errs...)
}

// CachePath returns the cache database path, resolved against Dir when
// relative.
func (m *Manifest) CachePath() string {
	if filepath.IsAbs(m.Cache.Path) || m.Dir == "" {
		return m.Cache.Path
	}
	return filepath.Join(m.Dir, m.Cache.Path)
}

// LogPath returns the log file path resolved against Dir, or "" for stderr.
func (m *Manifest) LogPath() string {
	if m.Log.File == "" || filepath.IsAbs(m.Log.File) || m.Dir == "" {
		return m.Log.File
	}
	return filepath.Join(m.Dir, m.Log.File)
}
