package secrets

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

// fallbackFile serves secrets from a local "ref=value" file for development without Secret Manager
// access. Lines starting with # are comments. A key may carry ?version=N to pin a value to one version.
type fallbackFile struct {
	path string

	once   sync.Once
	values map[string]string
	err    error
}

func newFallbackFile(path string) *fallbackFile {
	return &fallbackFile{path: strings.TrimSpace(path)}
}

func (f *fallbackFile) lookup(ref Reference, version string) (string, error) {
	f.once.Do(f.load)
	if f.err != nil {
		return "", f.err
	}
	if value, ok := f.values[versionKey(ref.Canonical(), version)]; ok {
		return value, nil
	}
	if value, ok := f.values[ref.Canonical()]; ok {
		return value, nil
	}
	return "", fmt.Errorf("secrets: no local value for %s", ref.Canonical())
}

func (f *fallbackFile) load() {
	f.values = map[string]string{}
	if f.path == "" {
		return
	}
	file, err := os.Open(f.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			f.err = fmt.Errorf("secrets: open fallback file: %w", err)
		}
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := splitFallbackLine(line)
		if !ok {
			continue
		}
		ref, err := ParseReference(key)
		if err != nil {
			continue
		}
		value = strings.TrimSpace(value)
		if ref.Version == "" {
			f.values[ref.Canonical()] = value
			continue
		}
		f.values[versionKey(ref.Canonical(), ref.Version)] = value
	}
	if err := scanner.Err(); err != nil {
		f.err = fmt.Errorf("secrets: read fallback file: %w", err)
	}
}

// splitFallbackLine separates "ref=value" where ref may carry query parameters such as ?version=2.
func splitFallbackLine(line string) (string, string, bool) {
	q := strings.IndexByte(line, '?')
	if q < 0 || strings.IndexByte(line, '=') < q {
		return strings.Cut(line, "=")
	}
	pos := q + 1
	for {
		rest := line[pos:]
		eq := strings.IndexByte(rest, '=')
		if eq < 0 {
			return "", "", false
		}
		next := strings.IndexAny(rest[eq+1:], "&=")
		if next < 0 {
			return "", "", false
		}
		at := pos + eq + 1 + next
		if line[at] == '=' {
			return line[:at], line[at+1:], true
		}
		pos = at + 1
	}
}
