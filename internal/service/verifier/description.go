package verifier

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/release-packager/internal/service/common"
	"github.com/oshokin/release-packager/internal/version"
)

const (
	// DescriptionFilename stores the bundle description emitted next to the working directory.
	DescriptionFilename = "release-bundle.yaml"

	// defaultMapCapacity is the default initial capacity for maps.
	defaultMapCapacity = 16
)

// Description records what a finished bundle contains.
type Description struct {
	// VersionNumber is the semantic version of this release.
	VersionNumber string `yaml:"version"`
	// Files maps bundle file names to their hex-encoded SHA-256 checksums.
	Files map[string]string `yaml:"files"`
}

// NewDescription produces a Description initialized with defaults.
func NewDescription() *Description {
	return &Description{
		VersionNumber: version.Short(),
		Files:         make(map[string]string, defaultMapCapacity),
	}
}

// SaveDescription writes the description to the provided path.
func SaveDescription(path string, desc *Description) error {
	if path == "" {
		path = DescriptionFilename
	}

	contents, err := yaml.Marshal(desc)
	if err != nil {
		return fmt.Errorf("marshal bundle description: %w", err)
	}

	if err = os.WriteFile(filepath.Clean(path), contents, common.DefaultFileMode); err != nil {
		return fmt.Errorf("write bundle description: %w", err)
	}

	return nil
}

// LoadDescription reads a description back from the provided path.
func LoadDescription(path string) (*Description, error) {
	if path == "" {
		path = DescriptionFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read bundle description: %w", err)
	}

	var desc Description
	if err = yaml.Unmarshal(contents, &desc); err != nil {
		return nil, fmt.Errorf("unmarshal bundle description: %w", err)
	}

	return &desc, nil
}
