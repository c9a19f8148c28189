package migration

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Manifest describes the embedded pricing schema migrations. Version is the
// highest migration number and Checksum covers every up file, so a binary
// built against edited migrations is told apart from one that merely shares
// the version.
type Manifest struct {
	Version  uint
	Checksum string
	Files    []string
}

// VersionString is the form stored in system_bootstrap_state.
func (m Manifest) VersionString() string {
	return strconv.FormatUint(uint64(m.Version), 10)
}

var (
	manifestOnce sync.Once
	manifest     Manifest
	manifestErr  error
)

// CurrentManifest reads the embedded migrations once per process.
func CurrentManifest() (Manifest, error) {
	manifestOnce.Do(func() {
		manifest, manifestErr = buildManifest(embeddedMigrations, migrationsDir)
	})
	return manifest, manifestErr
}

func buildManifest(fsys fs.FS, dir string) (Manifest, error) {
	ups, err := fs.Glob(fsys, path.Join(dir, "*.up.sql"))
	if err != nil {
		return Manifest{}, fmt.Errorf("list migrations: %w", err)
	}
	if len(ups) == 0 {
		return Manifest{}, errors.New("no embedded migrations found")
	}
	sort.Strings(ups)

	m := Manifest{Files: make([]string, 0, len(ups))}
	seen := make(map[uint]string, len(ups))
	hasher := sha256.New()
	for _, file := range ups {
		name := path.Base(file)
		version, ok := parseMigrationVersion(name)
		if !ok {
			return Manifest{}, fmt.Errorf("invalid migration filename: %s", name)
		}
		if prev, dup := seen[version]; dup {
			return Manifest{}, fmt.Errorf("migration version %d used by %s and %s", version, prev, name)
		}
		seen[version] = name

		down := strings.TrimSuffix(file, ".up.sql") + ".down.sql"
		if _, err := fs.Stat(fsys, down); err != nil {
			return Manifest{}, fmt.Errorf("migration %s has no down file", name)
		}

		content, err := fs.ReadFile(fsys, file)
		if err != nil {
			return Manifest{}, fmt.Errorf("read migration %s: %w", name, err)
		}
		_, _ = hasher.Write([]byte(name))
		_, _ = hasher.Write([]byte{0})
		_, _ = hasher.Write(content)
		_, _ = hasher.Write([]byte{0})

		m.Files = append(m.Files, name)
		if version > m.Version {
			m.Version = version
		}
	}
	m.Checksum = hex.EncodeToString(hasher.Sum(nil))
	return m, nil
}

// parseMigrationVersion reads the numeric prefix of names like
// 000001_pricing_schema.up.sql.
func parseMigrationVersion(name string) (uint, bool) {
	prefix, _, found := strings.Cut(name, "_")
	if !found || prefix == "" {
		return 0, false
	}
	parsed, err := strconv.ParseUint(prefix, 10, 64)
	if err != nil || parsed == 0 {
		return 0, false
	}
	return uint(parsed), true
}
