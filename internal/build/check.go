package build

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/tvaino/pakkeri/internal/apperr"
	"github.com/tvaino/pakkeri/internal/lockfile"
)

// Check re-hashes every installed artifact of a previous build against
// its lock entry. It returns one error per damaged or missing file; an
// empty slice means the build output matches the lock exactly.
func (b *Builder) Check(buildType string) ([]error, error) {
	bt, err := b.manifest.BuildType(buildType)
	if err != nil {
		return nil, err
	}
	lock, err := lockfile.Read(lockfile.Path(b.lockDir, bt.Name))
	if err != nil {
		return nil, err
	}
	if lock == nil {
		return nil, fmt.Errorf("build: no lock for build type %s, build it first", bt.Name)
	}

	outDir := filepath.Join(b.outputDir, bt.Name)
	var problems []error
	for _, entry := range lock.Mods {
		if entry.Checksum == "" || entry.File == "" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(outDir, entry.File))
		if err != nil {
			problems = append(problems, fmt.Errorf("build: %s: %w", entry.Name, err))
			continue
		}
		if actual := entry.Checksum.Algorithm().FromBytes(data); actual != entry.Checksum {
			problems = append(problems, &apperr.ChecksumMismatchError{
				Name:     entry.Name,
				Version:  entry.Version,
				Expected: entry.Checksum.String(),
				Actual:   actual.String(),
			})
		}
	}
	return problems, nil
}
