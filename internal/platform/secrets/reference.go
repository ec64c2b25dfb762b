package secrets

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const latestVersion = "latest"

// Reference identifies one Secret Manager secret, e.g. "secret://stripe/webhook?version=3&project=shop-prod".
// The legacy "sm://" scheme is accepted as an alias.
type Reference struct {
	Secret  string
	Version string
	Project string
}

// ParseReference parses a secret reference. Query parameters other than version and project are ignored.
func ParseReference(raw string) (Reference, error) {
	raw = normaliseScheme(raw)
	if raw == "" {
		return Reference{}, errors.New("secrets: empty reference")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Reference{}, fmt.Errorf("secrets: invalid reference %q: %w", raw, err)
	}
	if u.Scheme != "secret" {
		return Reference{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	name := strings.Trim(u.Host+u.Path, "/")
	if name == "" {
		return Reference{}, fmt.Errorf("secrets: missing secret name in %q", raw)
	}
	query := u.Query()
	return Reference{
		Secret:  name,
		Version: strings.TrimSpace(query.Get("version")),
		Project: strings.TrimSpace(query.Get("project")),
	}, nil
}

// Canonical returns the reference without version or project, used as the cache and pin key.
func (r Reference) Canonical() string {
	return "secret://" + r.Secret
}

func (r Reference) resourceName(projectID, version string) string {
	return fmt.Sprintf("projects/%s/secrets/%s/versions/%s", projectID, r.Secret, version)
}

func normaliseScheme(raw string) string {
	raw = strings.TrimSpace(raw)
	if rest, ok := strings.CutPrefix(raw, "sm://"); ok {
		return "secret://" + rest
	}
	return raw
}

func versionKey(canonical, version string) string {
	return canonical + "#" + version
}
