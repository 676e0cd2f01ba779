package pathmap

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustRoot(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	canonical, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	return canonical
}

func TestResolveSimpleFilename(t *testing.T) {
	root := mustRoot(t)
	m := New(root, "{filename}")

	p, err := m.Resolve("hello.txt", "10.0.0.1", 1024)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "hello.txt"), p)
}

func TestResolveStripsLeadingSlash(t *testing.T) {
	root := mustRoot(t)
	m := New(root, "{filename}")

	p, err := m.Resolve("///etc/passwd_lookalike", "10.0.0.1", 1024)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(p, root+string(filepath.Separator)))
}

func TestResolveRejectsTraversal(t *testing.T) {
	root := mustRoot(t)
	m := New(root, "{filename}")

	_, err := m.Resolve("../../../etc/passwd", "10.0.0.1", 1024)
	require.ErrorIs(t, err, ErrPathEscapesRoot)
}

func TestResolveSiblingPrefixNotFooled(t *testing.T) {
	// root "/srv/tftp" must not be fooled by a sibling "/srv/tftpmalicious".
	base := t.TempDir()
	root := filepath.Join(base, "tftp")
	sibling := filepath.Join(base, "tftpmalicious")
	require.NoError(t, os.MkdirAll(root, 0o755))
	require.NoError(t, os.MkdirAll(sibling, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sibling, "secret.txt"), []byte("x"), 0o644))

	canonicalRoot, err := filepath.EvalSymlinks(root)
	require.NoError(t, err)

	assert.False(t, withinRoot(filepath.Join(canonicalRoot+"malicious", "secret.txt"), canonicalRoot))
}

func TestResolveTemplateSubstitutions(t *testing.T) {
	root := mustRoot(t)
	m := New(root, "{remote_ip}/{filename}")

	p, err := m.Resolve("a.bin", "192.168.1.5", 3000)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "192.168.1.5", "a.bin"), p)
}

func TestResolveRemotePortSubstitution(t *testing.T) {
	root := mustRoot(t)
	m := New(root, "{filename}-{remote_port}")

	p, err := m.Resolve("a.bin", "192.168.1.5", 3000)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "a.bin-3000"), p)
}

func TestExpandDatetimeBounded(t *testing.T) {
	// A template whose FMT output reintroduces a new {datetime:...} marker
	// must not expand more than maxTemplateExpansions times. Each nesting
	// level leaves one marker for the next pass: maxTemplateExpansions
	// levels expand fully, one more level is rejected.
	nested := func(levels int) string {
		return strings.Repeat("{datetime:", levels) + "%Y" + strings.Repeat("}", levels)
	}
	tricky := nested(maxTemplateExpansions)
	out, err := expandDatetime(tricky, fixedTime())
	require.NoError(t, err)
	assert.NotContains(t, out, "{datetime:")

	_, err = expandDatetime(nested(maxTemplateExpansions+1), fixedTime())
	require.Error(t, err)
}

func TestExpandDatetimeUnterminated(t *testing.T) {
	_, err := expandDatetime("{datetime:%Y", fixedTime())
	require.Error(t, err)
}

func TestStrftimeToGoLayout(t *testing.T) {
	assert.Equal(t, "2006-01-02", strftimeToGoLayout("%Y-%m-%d"))
	assert.Equal(t, "15:04:05", strftimeToGoLayout("%H:%M:%S"))
}

func fixedTime() time.Time {
	return time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
}
