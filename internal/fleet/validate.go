package fleet

import (
	"fmt"
	"net"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// validators

var (
	reHostname    = regexp.MustCompile(`^(?i:[a-z0-9_](?:[a-z0-9_-]{0,61}[a-z0-9_])?)(?:\.(?i:[a-z0-9_](?:[a-z0-9_-]{0,61}[a-z0-9_])?))*$`)
	rePackageName = regexp.MustCompile(`^[a-z0-9_-]+(?:\.[a-z0-9_-]+)+$`)
)

// NormHostname trims and checks a device hostname. Case is preserved:
// re-registration matches hostnames exactly.
func NormHostname(v string) (string, error) {
	s := strings.TrimSpace(v)
	if s == "" || len(s) > 253 || !reHostname.MatchString(s) {
		return "", fmt.Errorf("%w: invalid hostname %q", ErrInvalidArgument, v)
	}
	return s, nil
}

// NormPackageName checks a namespaced package name such as "wiretide.firewall".
func NormPackageName(v string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(v))
	if len(s) > 128 || !rePackageName.MatchString(s) {
		return "", fmt.Errorf("%w: package must look like vendor.feature, got %q", ErrInvalidArgument, v)
	}
	return s, nil
}

// NormIP returns the canonical text form of an IPv4/IPv6 literal.
func NormIP(v string) (string, error) {
	ip := net.ParseIP(strings.TrimSpace(v))
	if ip == nil {
		return "", fmt.Errorf("%w: invalid ip address %q", ErrInvalidArgument, v)
	}
	if v4 := ip.To4(); v4 != nil {
		return v4.String(), nil
	}
	return ip.String(), nil
}

// NormMinVersion validates an optional minimum agent version.
func NormMinVersion(v string) (string, error) {
	s := strings.TrimSpace(v)
	if s == "" {
		return "", nil
	}
	if _, err := semver.NewVersion(s); err != nil {
		return "", fmt.Errorf("%w: agent_min_version %q is not a semantic version", ErrInvalidArgument, v)
	}
	return s, nil
}
