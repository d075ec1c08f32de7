package bkp

import (
	"fmt"
	"path"
	"strings"

	"bkp-go/internal/model"
)

// Directive assigns a tracking status to one path inside a project tree.
// Path is project-root relative with forward slashes; "" or "." names the
// root itself.
type Directive struct {
	Path   string
	Status model.Status
}

// Ruleset is a compiled set of tracking directives for one project tree.
// Resolution follows restrictiveness: a path's effective status is the
// maximum of every directive on its ancestor chain, so nothing beneath an
// ignored folder can resolve to tracked.
type Ruleset struct {
	root   model.Status
	byPath map[string]model.Status
}

// NewRuleset compiles directives over the project-level root status. Two
// directives for the same path with different statuses are a configuration
// conflict and fail compilation.
func NewRuleset(root model.Status, directives []Directive) (*Ruleset, error) {
	rs := &Ruleset{
		root:   root,
		byPath: make(map[string]model.Status, len(directives)),
	}
	for _, d := range directives {
		p, err := normalizeRulePath(d.Path)
		if err != nil {
			return nil, err
		}
		if p == "" {
			if rs.root != model.StatusUnspecified && d.Status != rs.root {
				return nil, &ConfigConflictError{Path: ".", A: rs.root, B: d.Status}
			}
			rs.root = d.Status
			continue
		}
		if prev, ok := rs.byPath[p]; ok && prev != d.Status {
			return nil, &ConfigConflictError{Path: p, A: prev, B: d.Status}
		}
		rs.byPath[p] = d.Status
	}
	return rs, nil
}

// Effective resolves the tracking status of a path. Resolution starts from
// the root status and takes the maximum with every directive found on the
// ancestor chain down to the path itself.
func (rs *Ruleset) Effective(p string) model.Status {
	p, err := normalizeRulePath(p)
	if err != nil {
		return rs.root
	}
	eff := rs.root
	if p == "" {
		return eff
	}
	parts := strings.Split(p, "/")
	prefix := ""
	for _, part := range parts {
		if prefix == "" {
			prefix = part
		} else {
			prefix = prefix + "/" + part
		}
		if st, ok := rs.byPath[prefix]; ok && st > eff {
			eff = st
		}
	}
	return eff
}

// Root returns the effective status of the project root.
func (rs *Ruleset) Root() model.Status { return rs.root }

// Len returns the number of path directives in the ruleset, excluding the
// root status.
func (rs *Ruleset) Len() int { return len(rs.byPath) }

func normalizeRulePath(p string) (string, error) {
	p = strings.TrimSpace(p)
	p = strings.ReplaceAll(p, "\\", "/")
	if strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("directive path must be relative: %q", p)
	}
	p = path.Clean(p)
	if p == "." {
		return "", nil
	}
	if p == ".." || strings.HasPrefix(p, "../") {
		return "", fmt.Errorf("directive path escapes the project root: %q", p)
	}
	return p, nil
}
