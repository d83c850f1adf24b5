package commands

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func useDocumentProvider(t *testing.T) {
	t.Helper()
	t.Setenv("CACHE_DEFAULT_PROVIDER", "document")
	t.Setenv("CACHE_DOCUMENT_DSN", filepath.Join(t.TempDir(), "cache.db"))
}

func TestSetGetAcrossInvocations(t *testing.T) {
	useDocumentProvider(t)

	out, err := run(t, "set", "greeting", "hello", "--tag", "greetings")
	require.NoError(t, err)
	assert.Contains(t, out, "stored greeting")

	out, err = run(t, "get", "greeting")
	require.NoError(t, err)
	assert.Equal(t, `"hello"`, strings.TrimSpace(out))
}

func TestInvalidate(t *testing.T) {
	useDocumentProvider(t)

	_, err := run(t, "set", "user:1", "john", "-t", "user", "-t", "user:1")
	require.NoError(t, err)
	_, err = run(t, "set", "user:2", "jane", "-t", "user", "-t", "user:2")
	require.NoError(t, err)

	out, err := run(t, "invalidate", "--tag", "user:1")
	require.NoError(t, err)
	assert.Contains(t, out, "invalidated user:1")

	out, err = run(t, "get", "user:1")
	require.NoError(t, err)
	assert.Equal(t, missOutput, strings.TrimSpace(out))

	out, err = run(t, "get", "user:2")
	require.NoError(t, err)
	assert.Equal(t, `"jane"`, strings.TrimSpace(out))
}

func TestInvalidateRequiresTag(t *testing.T) {
	useDocumentProvider(t)

	_, err := run(t, "invalidate")
	assert.Error(t, err)
}

func TestDelete(t *testing.T) {
	useDocumentProvider(t)

	_, err := run(t, "set", "k", "v")
	require.NoError(t, err)

	out, err := run(t, "delete", "k")
	require.NoError(t, err)
	assert.Contains(t, out, "deleted k")

	out, err = run(t, "get", "k")
	require.NoError(t, err)
	assert.Equal(t, missOutput, strings.TrimSpace(out))
}

func TestCleanup(t *testing.T) {
	useDocumentProvider(t)

	out, err := run(t, "cleanup")
	require.NoError(t, err)
	assert.Contains(t, out, "removed 0 expired entries from document")

	out, err = run(t, "--provider", "memory", "cleanup")
	require.NoError(t, err)
	assert.Contains(t, out, "from memory")

	_, err = run(t, "--provider", "sharded", "cleanup")
	assert.ErrorContains(t, err, "expires entries on its own")
}

func TestProviderFlagOverridesEnvironment(t *testing.T) {
	useDocumentProvider(t)

	out, err := run(t, "--provider", "noop", "set", "k", "v")
	require.NoError(t, err)
	assert.Contains(t, out, "stored k")

	out, err = run(t, "--provider", "noop", "get", "k")
	require.NoError(t, err)
	assert.Equal(t, missOutput, strings.TrimSpace(out))
}

func TestInvalidSettings(t *testing.T) {
	_, err := run(t, "--provider", "floppy", "get", "k")
	assert.ErrorContains(t, err, "failed to load settings")
}

func TestDemo(t *testing.T) {
	out, err := run(t, "demo", "--latency", "1ms")
	require.NoError(t, err)

	assert.Contains(t, out, "provider memory")
	assert.Contains(t, out, "2. find John again")
	assert.Contains(t, out, "cache hit")
	assert.Contains(t, out, "found after delete: false")
}
