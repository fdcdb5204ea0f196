package realize

import (
	"errors"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/llmengine/llm-engine/internal/loaderr"
)

// sandbox resolves external-data locations inside one directory.
type sandbox struct {
	dir  string // absolute, cleaned
	real string // dir with symlinks resolved
}

func newSandbox(dir string) (*sandbox, error) {
	if dir == "" {
		return nil, nil
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, loaderr.Wrap(loaderr.ErrIO, err, "resolve model directory").In(dir)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, loaderr.Wrap(loaderr.ErrIO, err, "resolve model directory").In(dir)
	}
	return &sandbox{dir: abs, real: real}, nil
}

// resolve maps location to an absolute path inside the sandbox. The
// result has symlinks resolved so it can key the sidecar cache.
func (s *sandbox) resolve(location string) (string, error) {
	if s == nil {
		return "", loaderr.New(loaderr.ErrPathEscape, "no model directory to resolve %q against", location)
	}
	// ONNX writers use forward slashes on every platform.
	local := filepath.FromSlash(location)
	if !filepath.IsLocal(local) {
		return "", loaderr.New(loaderr.ErrPathEscape, "location %q escapes %s", location, s.dir)
	}

	path := filepath.Join(s.dir, local)
	real, err := filepath.EvalSymlinks(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", loaderr.Wrap(loaderr.ErrIO, err, "external data not found").In(path)
		}
		return "", loaderr.Wrap(loaderr.ErrIO, err, "resolve external data").In(path)
	}
	if !within(s.real, real) {
		return "", loaderr.New(loaderr.ErrPathEscape, "location %q resolves to %s, outside %s", location, real, s.real)
	}
	return real, nil
}

func within(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}
