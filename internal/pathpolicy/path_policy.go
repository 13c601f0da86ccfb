// Package pathpolicy resolves and validates every filesystem path the agent
// touches against a set of allowed roots before any tool is allowed to read
// or write through it.
package pathpolicy

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/swival/swival/internal/errs"
)

// Intent is the access mode a path is being resolved for.
type Intent int

const (
	Read Intent = iota
	Write
)

// root is one allowed filesystem root, canonicalized once at construction.
type root struct {
	canonical string
	write     bool // true: read-write root; false: read-only root
}

// Policy resolves candidate paths against a base directory plus any
// additional read-write or read-only roots, honoring a YOLO escape hatch
// that disables root containment checks (but never the "/" rejection).
type Policy struct {
	roots []root
	yolo  bool
}

// Resolved is the outcome of a successful resolve: the canonical absolute
// path and the root it was matched against.
type Resolved struct {
	Absolute string
	Root     string
}

// New builds a Policy. baseDir is always a read-write root. addDirs are
// additional read-write roots; addDirsRO are additional read-only roots.
func New(baseDir string, addDirs, addDirsRO []string, yolo bool) (*Policy, error) {
	p := &Policy{yolo: yolo}

	add := func(dir string, write bool) error {
		c, err := canonicalizeRoot(dir)
		if err != nil {
			return err
		}
		p.roots = append(p.roots, root{canonical: c, write: write})
		return nil
	}

	if err := add(baseDir, true); err != nil {
		return nil, errs.Wrap(errs.ConfigError, "invalid base dir", err)
	}
	for _, d := range addDirs {
		if err := add(d, true); err != nil {
			return nil, errs.Wrap(errs.ConfigError, "invalid --add-dir", err)
		}
	}
	for _, d := range addDirsRO {
		if err := add(d, false); err != nil {
			return nil, errs.Wrap(errs.ConfigError, "invalid --add-dir-ro", err)
		}
	}
	return p, nil
}

// canonicalizeRoot fully resolves symlinks on a root directory. Roots are
// expected to exist; if they don't yet, the cleaned absolute path is used.
func canonicalizeRoot(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return normalizeCase(abs), nil
	}
	return normalizeCase(real), nil
}

// resolveExisting canonicalizes path, walking up to the nearest existing
// ancestor when path itself does not exist yet (the common case for a
// write target).
func resolveExisting(path string) (string, error) {
	if real, err := filepath.EvalSymlinks(path); err == nil {
		return real, nil
	}
	parent := filepath.Dir(path)
	if parent == path {
		return path, nil
	}
	realParent, err := resolveExisting(parent)
	if err != nil {
		return path, nil
	}
	return filepath.Join(realParent, filepath.Base(path)), nil
}

// normalizeCase lowercases paths on Windows, where the filesystem is
// case-insensitive and EvalSymlinks' casing is not otherwise guaranteed
// consistent between the root and a resolved candidate.
func normalizeCase(p string) string {
	if runtime.GOOS == "windows" {
		return strings.ToLower(p)
	}
	return p
}

// Resolve validates path for the given intent and returns its canonical
// absolute form plus the root it matched. A relative path is taken relative
// to the base directory, not the process working directory.
func (p *Policy) Resolve(path string, intent Intent) (Resolved, error) {
	if !filepath.IsAbs(path) && len(p.roots) > 0 {
		path = filepath.Join(p.roots[0].canonical, path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return Resolved{}, errs.Wrap(errs.PathEscape, "cannot resolve path", err)
	}
	canonical, err := resolveExisting(abs)
	if err != nil {
		canonical = abs
	}
	canonical = filepath.Clean(canonical)
	normalized := normalizeCase(canonical)

	if isFilesystemRoot(canonical) {
		return Resolved{}, errs.New(errs.PathEscape, "the filesystem root is never a valid target")
	}

	if p.yolo {
		return Resolved{Absolute: canonical, Root: canonical}, nil
	}

	var matched *root
	for i := range p.roots {
		r := &p.roots[i]
		if normalized == r.canonical || strings.HasPrefix(normalized, r.canonical+string(filepath.Separator)) {
			if matched == nil || len(r.canonical) > len(matched.canonical) {
				matched = r
			}
		}
	}
	if matched == nil {
		return Resolved{}, errs.New(errs.RootForbidden, fmt.Sprintf("%s is not under any allowed root", canonical))
	}
	if intent == Write && !matched.write {
		return Resolved{}, errs.New(errs.ReadOnlyViolation, fmt.Sprintf("%s is under a read-only root", canonical))
	}
	return Resolved{Absolute: canonical, Root: matched.canonical}, nil
}

// isFilesystemRoot reports whether p is the filesystem root ("/" on POSIX,
// a drive root like "C:\" on Windows).
func isFilesystemRoot(p string) bool {
	return filepath.Dir(p) == p
}
