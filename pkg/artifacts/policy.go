package artifacts

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// SubmitPolicy decides which asset locations a caller may reference
// directly. Remote http(s) locations are always allowed. Local paths and
// file:// URLs must resolve inside one of LocalRoots; with no roots they are
// refused. artifact:// locations are created by uploads only.
type SubmitPolicy struct {
	LocalRoots []string
}

// Check returns an error describing why location may not be submitted.
func (p SubmitPolicy) Check(location string) error {
	switch {
	case strings.HasPrefix(location, Scheme):
		return errors.New("artifact locations are reserved for uploaded assets")
	case strings.HasPrefix(location, "http://"), strings.HasPrefix(location, "https://"):
		return nil
	case strings.HasPrefix(location, "file://"):
		u, err := url.Parse(location)
		if err != nil {
			return fmt.Errorf("invalid file location: %v", err)
		}
		if u.Host != "" && u.Host != "localhost" {
			return fmt.Errorf("file location must not name a host")
		}
		return p.checkLocal(u.Path)
	case strings.Contains(location, "://"):
		return fmt.Errorf("unsupported location scheme")
	default:
		return p.checkLocal(location)
	}
}

func (p SubmitPolicy) checkLocal(path string) error {
	if len(p.LocalRoots) == 0 {
		return errors.New("local asset paths are not enabled")
	}
	if !filepath.IsAbs(path) {
		return errors.New("local asset paths must be absolute")
	}
	resolved := resolvePath(path)
	for _, root := range p.LocalRoots {
		if root == "" {
			continue
		}
		if within(resolvePath(root), resolved) {
			return nil
		}
	}
	return errors.New("local asset path is outside the allowed roots")
}

// resolvePath cleans path and follows symlinks when it exists, so a link
// inside a root cannot point outside it.
func resolvePath(path string) string {
	path = filepath.Clean(path)
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}
	if dir, err := filepath.EvalSymlinks(filepath.Dir(path)); err == nil {
		return filepath.Join(dir, filepath.Base(path))
	}
	return path
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
