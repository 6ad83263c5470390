package catalog

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fleetops/patchflow/internal/domain"
)

// Entry describes how to install one piece of software on a remote target.
// Script is a template; the scheduler substitutes the job's parameters into
// it before submission.
type Entry struct {
	SoftwareName   string `yaml:"name"`
	Vendor         string `yaml:"vendor"`
	InstallCommand string `yaml:"install_command"`
	Script         string `yaml:"script"`
}

type catalogFile struct {
	Software []Entry `yaml:"software"`
}

// Catalog resolves software names to install entries. Lookups are
// case-insensitive; the catalog is immutable after Load.
type Catalog struct {
	byName map[string]Entry
}

// Load reads the catalog seed file and indexes its entries.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.NewError(domain.KindConfiguration, "load catalog",
			fmt.Errorf("read catalog file: %w", err))
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, domain.NewError(domain.KindConfiguration, "load catalog",
			fmt.Errorf("parse catalog file: %w", err))
	}

	byName := make(map[string]Entry, len(file.Software))
	for _, entry := range file.Software {
		if entry.SoftwareName == "" {
			return nil, domain.Errorf(domain.KindConfiguration, "load catalog",
				"catalog entry with empty name")
		}
		if entry.Script == "" {
			return nil, domain.Errorf(domain.KindConfiguration, "load catalog",
				"catalog entry %q has no script", entry.SoftwareName)
		}

		key := strings.ToLower(entry.SoftwareName)
		if _, dup := byName[key]; dup {
			return nil, domain.Errorf(domain.KindConfiguration, "load catalog",
				"duplicate catalog entry for %q", entry.SoftwareName)
		}
		byName[key] = entry
	}

	return &Catalog{byName: byName}, nil
}

// Resolve returns the install entry for softwareName.
func (c *Catalog) Resolve(softwareName string) (*Entry, error) {
	entry, ok := c.byName[strings.ToLower(softwareName)]
	if !ok {
		return nil, domain.NewError(domain.KindResolution, "resolve install script",
			fmt.Errorf("%w: %s", domain.ErrSoftwareNotFound, softwareName))
	}
	return &entry, nil
}

// Len reports how many entries the catalog holds.
func (c *Catalog) Len() int {
	return len(c.byName)
}
