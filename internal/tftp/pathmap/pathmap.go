// Package pathmap resolves a client-supplied TFTP filename, through an
// optional template, to a canonical host path guaranteed to lie within a
// configured root directory. The template substitutes {filename},
// {remote_ip}, {remote_port}, and {datetime:FMT} before the result is
// joined against root and canonicalized.
package pathmap

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ErrPathEscapesRoot is returned when the resolved path does not lie within
// the configured root, even after canonicalization.
var ErrPathEscapesRoot = errors.New("resolved path escapes root")

// maxTemplateExpansions bounds the {datetime:FMT} substitution loop. This is
// a deliberate DoS guard against templates whose FMT expansion reintroduces
// new template markers; do not remove it.
const maxTemplateExpansions = 10

// Mapper resolves client filenames against a canonicalized root using a
// configurable template.
type Mapper struct {
	root     string
	template string
}

// New constructs a Mapper. root must already be canonicalized (absolute,
// symlinks resolved) by the caller at startup.
func New(root, template string) *Mapper {
	return &Mapper{root: root, template: template}
}

// Resolve maps a client filename to a canonical host path under the root.
func (m *Mapper) Resolve(filename, remoteIP string, remotePort int) (string, error) {
	filename = strings.TrimLeft(filename, "/")

	tmpl := m.template
	if tmpl == "" {
		tmpl = "{filename}"
	}

	expanded, err := expandDatetime(tmpl, time.Now())
	if err != nil {
		return "", err
	}

	expanded = strings.ReplaceAll(expanded, "{filename}", filename)
	expanded = strings.ReplaceAll(expanded, "{remote_ip}", remoteIP)
	expanded = strings.ReplaceAll(expanded, "{remote_port}", strconv.Itoa(remotePort))

	joined := filepath.Join(m.root, strings.TrimLeft(expanded, "/"))

	canonical, err := canonicalize(joined)
	if err != nil {
		return "", fmt.Errorf("canonicalize %q: %w", joined, err)
	}

	if !withinRoot(canonical, m.root) {
		return "", fmt.Errorf("%w: %q not under %q", ErrPathEscapesRoot, canonical, m.root)
	}
	return canonical, nil
}

// canonicalize resolves "." and ".." components and, where possible,
// symlinks. A target that doesn't exist yet (the common case for a WRQ
// destination) is resolved structurally instead of via Lstat/EvalSymlinks,
// since EvalSymlinks requires the path to exist.
func canonicalize(path string) (string, error) {
	cleaned := filepath.Clean(path)
	if resolved, err := filepath.EvalSymlinks(cleaned); err == nil {
		return resolved, nil
	} else if !os.IsNotExist(err) {
		return "", err
	}
	// Path (or a component of it) doesn't exist yet: resolve symlinks on the
	// longest existing ancestor, then re-append the remainder.
	dir, base := filepath.Split(cleaned)
	dir = filepath.Clean(dir)
	resolvedDir, err := canonicalizeExistingAncestor(dir)
	if err != nil {
		return "", err
	}
	return filepath.Join(resolvedDir, base), nil
}

func canonicalizeExistingAncestor(dir string) (string, error) {
	if dir == "" || dir == "." || dir == string(filepath.Separator) {
		return filepath.Clean(dir), nil
	}
	if resolved, err := filepath.EvalSymlinks(dir); err == nil {
		return resolved, nil
	} else if !os.IsNotExist(err) {
		return "", err
	}
	parent, base := filepath.Split(filepath.Clean(dir))
	resolvedParent, err := canonicalizeExistingAncestor(filepath.Clean(parent))
	if err != nil {
		return "", err
	}
	return filepath.Join(resolvedParent, base), nil
}

// withinRoot reports whether canonical lies within root using a
// separator-aware prefix check: "/srv/tftp" must not match
// "/srv/tftpmalicious". A bare strings.HasPrefix without the trailing
// separator would let that sibling directory through.
func withinRoot(canonical, root string) bool {
	root = filepath.Clean(root)
	canonical = filepath.Clean(canonical)
	if canonical == root {
		return true
	}
	withSep := root
	if !strings.HasSuffix(withSep, string(filepath.Separator)) {
		withSep += string(filepath.Separator)
	}
	return strings.HasPrefix(canonical, withSep)
}

// expandDatetime replaces {datetime:FMT} occurrences with FMT applied to t,
// where FMT is a strftime-style pattern. Expansion is bounded at
// maxTemplateExpansions passes.
func expandDatetime(tmpl string, t time.Time) (string, error) {
	out := tmpl
	for i := 0; i < maxTemplateExpansions; i++ {
		start := strings.Index(out, "{datetime:")
		if start < 0 {
			return out, nil
		}
		end := strings.IndexByte(out[start:], '}')
		if end < 0 {
			return "", fmt.Errorf("unterminated {datetime:...} in template %q", tmpl)
		}
		end += start
		fmtSpec := out[start+len("{datetime:") : end]
		rendered := t.Format(strftimeToGoLayout(fmtSpec))
		out = out[:start] + rendered + out[end+1:]
	}
	if strings.Contains(out, "{datetime:") {
		return "", fmt.Errorf("template exceeded %d datetime expansions", maxTemplateExpansions)
	}
	return out, nil
}

// strftimeToGoLayout translates a small, common subset of strftime
// directives into a Go time.Format reference layout. No strftime package
// appears anywhere in the retrieved example corpus, so this one piece is
// hand-rolled rather than imported (see DESIGN.md).
func strftimeToGoLayout(spec string) string {
	replacer := strings.NewReplacer(
		"%Y", "2006",
		"%y", "06",
		"%m", "01",
		"%d", "02",
		"%H", "15",
		"%M", "04",
		"%S", "05",
		"%%", "%",
	)
	return replacer.Replace(spec)
}
