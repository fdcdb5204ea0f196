package bytesource

import (
	"fmt"
	"strings"
)

// DefaultMapThreshold is the file size from which PolicyAuto maps.
const DefaultMapThreshold = 64 << 20

// Policy selects when files are memory-mapped.
type Policy int

// Mapping policies.
const (
	PolicyAuto   Policy = iota // map files of at least the threshold size, fall back on failure
	PolicyAlways               // always map; mapping failure is an error
	PolicyNever                // buffered reads only
)

// String returns the policy name.
func (p Policy) String() string {
	switch p {
	case PolicyAuto:
		return "auto"
	case PolicyAlways:
		return "always"
	case PolicyNever:
		return "never"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy parses "auto", "always" or "never".
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "auto", "":
		return PolicyAuto, nil
	case "always":
		return PolicyAlways, nil
	case "never":
		return PolicyNever, nil
	}
	return PolicyAuto, fmt.Errorf("unknown mmap policy %q (want auto, always or never)", s)
}

// Set implements flag.Value.
func (p *Policy) Set(s string) error {
	v, err := ParsePolicy(s)
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// ShouldMap reports whether a file of size bytes should be mapped.
func (p Policy) ShouldMap(size, threshold int64) bool {
	switch p {
	case PolicyAlways:
		return true
	case PolicyAuto:
		return size >= threshold
	default:
		return false
	}
}

// OpenWith opens path and maps it according to p. Under PolicyAuto a
// failed mapping leaves the file in buffered mode; under PolicyAlways it
// is returned as an error.
func OpenWith(path string, p Policy, threshold int64) (*File, error) {
	f, err := Open(path)
	if err != nil {
		return nil, err
	}
	if !p.ShouldMap(f.Len(), threshold) {
		return f, nil
	}
	if _, err := f.Map(); err != nil && p == PolicyAlways {
		_ = f.Close()
		return nil, err
	}
	return f, nil
}
