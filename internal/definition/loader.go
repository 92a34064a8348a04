package definition

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"
)

// Loader reads definition files and records their SHA-256 checksums.
type Loader struct{}

func NewLoader() *Loader {
	return &Loader{}
}

// LoadAll accepts files and directories. Directories are scanned
// recursively for *.yaml and *.yml files.
func (l *Loader) LoadAll(paths []string) ([]Definition, error) {
	var defs []Definition

	for _, p := range paths {
		expanded, err := homedir.Expand(p)
		if err != nil {
			return nil, fmt.Errorf("expanding %s: %w", p, err)
		}
		info, err := os.Stat(expanded)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", p, err)
		}
		if !info.IsDir() {
			def, err := l.LoadFile(expanded)
			if err != nil {
				return nil, err
			}
			defs = append(defs, def)
			continue
		}

		err = filepath.WalkDir(expanded, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			ext := strings.ToLower(filepath.Ext(path))
			if ext != ".yaml" && ext != ".yml" {
				return nil
			}

			def, err := l.LoadFile(path)
			if err != nil {
				return fmt.Errorf("loading %s: %w", path, err)
			}
			defs = append(defs, def)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scanning directory %s: %w", p, err)
		}
	}

	return defs, nil
}

// LoadFile parses a single YAML definition.
func (l *Loader) LoadFile(path string) (Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, fmt.Errorf("reading %s: %w", path, err)
	}

	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return Definition{}, fmt.Errorf("parsing %s: %w", path, err)
	}

	def.Checksum = fmt.Sprintf("%x", sha256.Sum256(data))
	def.SourceFile = path
	return def, nil
}
