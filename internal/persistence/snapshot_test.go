package persistence_test

import (
	"errors"
	"os"
	"strings"
	"testing"

	"TradeLedger/internal/persistence"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"
)

// memSub is a subsystem holding raw lines.
type memSub struct {
	prefix string
	lines  []string
	failOn string
}

func (s *memSub) SnapshotPrefix() string { return s.prefix }

func (s *memSub) SnapshotLines(emit func(string) error) error {
	for _, l := range s.lines {
		if err := emit(l); err != nil {
			return err
		}
	}
	return nil
}

func (s *memSub) RestoreLine(line string) error {
	if s.failOn != "" && line == s.failOn {
		return errors.New("bad line")
	}
	s.lines = append(s.lines, line)
	return nil
}

func (s *memSub) ResetState() { s.lines = nil }

func newFileStore(t *testing.T) *persistence.FileStore {
	t.Helper()
	fs, err := persistence.NewFileStore(t.TempDir())
	require.NoError(t, err)
	return fs
}

// ============================================================================
// Test: file format
// ============================================================================

func TestFileStore_TrailerIsDoubleSHA256OfLines(t *testing.T) {
	fs := newFileStore(t)
	sub := &memSub{prefix: "balances", lines: []string{"alice=3:10", "bob=3:5"}}

	n, err := fs.Write(sub, "h1")
	require.NoError(t, err)

	raw, err := os.ReadFile(fs.Path("balances", "h1"))
	require.NoError(t, err)
	require.Equal(t, int64(len(raw)), n)

	lines := strings.Split(strings.TrimSuffix(string(raw), "\n"), "\n")
	require.Equal(t, []string{"alice=3:10", "bob=3:5"}, lines[:2])
	want := "!" + chainhash.DoubleHashH([]byte("alice=3:10bob=3:5")).String()
	require.Equal(t, want, lines[2])
}

func TestFileStore_RoundTrip(t *testing.T) {
	fs := newFileStore(t)
	a := &memSub{prefix: "balances", lines: []string{"alice=3:10"}}
	b := &memSub{prefix: "offers", lines: nil}
	_, err := fs.Write(a, "h1")
	require.NoError(t, err)
	_, err = fs.Write(b, "h1")
	require.NoError(t, err)

	ra := &memSub{prefix: "balances", lines: []string{"stale"}}
	rb := &memSub{prefix: "offers", lines: []string{"stale"}}
	require.NoError(t, fs.Load([]persistence.Subsystem{ra, rb}, "h1"))
	require.Equal(t, []string{"alice=3:10"}, ra.lines)
	require.Empty(t, rb.lines)
	require.True(t, fs.Complete([]string{"balances", "offers"}, "h1"))
	require.False(t, fs.Complete([]string{"balances", "positions"}, "h1"))
}

func TestFileStore_RejectsUnwritableLines(t *testing.T) {
	fs := newFileStore(t)
	for _, line := range []string{"", "!x", "#comment", "a\nb"} {
		_, err := fs.Write(&memSub{prefix: "balances", lines: []string{line}}, "h1")
		require.Error(t, err, "line %q", line)
	}
}

// ============================================================================
// Test: verification
// ============================================================================

func TestFileStore_Verification(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr error
	}{
		{"tampered line", "alice=3:11\n!%s\n", persistence.ErrChecksumMismatch},
		{"missing trailer", "alice=3:10\n", persistence.ErrMissingChecksum},
		{"extra line", "alice=3:10\nbob=3:1\n!%s\n", persistence.ErrChecksumMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := newFileStore(t)
			sum := chainhash.DoubleHashH([]byte("alice=3:10")).String()
			content := tt.content
			if strings.Contains(content, "%s") {
				content = strings.Replace(content, "%s", sum, 1)
			}
			require.NoError(t, os.WriteFile(fs.Path("balances", "h1"), []byte(content), 0o644))

			_, err := fs.ReadVerified("balances", "h1")
			require.ErrorIs(t, err, tt.wantErr)
		})
	}

	fs := newFileStore(t)
	_, err := fs.ReadVerified("balances", "nope")
	require.ErrorIs(t, err, persistence.ErrSnapshotMissing)
}

func TestFileStore_AcceptsCommentsAndCRLF(t *testing.T) {
	fs := newFileStore(t)
	sum := chainhash.DoubleHashH([]byte("alice=3:10")).String()
	content := "# written by hand\r\nalice=3:10\r\n\r\n!" + strings.ToUpper(sum) + "\r\n"
	require.NoError(t, os.WriteFile(fs.Path("balances", "h1"), []byte(content), 0o644))

	lines, err := fs.ReadVerified("balances", "h1")
	require.NoError(t, err)
	require.Equal(t, []string{"alice=3:10"}, lines)
}

func TestFileStore_LoadVerifiesBeforeReset(t *testing.T) {
	fs := newFileStore(t)
	_, err := fs.Write(&memSub{prefix: "balances", lines: []string{"alice=3:10"}}, "h1")
	require.NoError(t, err)

	a := &memSub{prefix: "balances", lines: []string{"keep"}}
	b := &memSub{prefix: "offers", lines: []string{"keep"}}
	err = fs.Load([]persistence.Subsystem{a, b}, "h1")
	require.ErrorIs(t, err, persistence.ErrSnapshotMissing)
	require.Equal(t, []string{"keep"}, a.lines)
	require.Equal(t, []string{"keep"}, b.lines)
}

// ============================================================================
// Test: listing and removal
// ============================================================================

func TestFileStore_BlocksAndRemove(t *testing.T) {
	fs := newFileStore(t)
	for _, h := range []string{"h2", "h1"} {
		for _, p := range []string{"balances", "offers"} {
			_, err := fs.Write(&memSub{prefix: p, lines: []string{"x"}}, h)
			require.NoError(t, err)
		}
	}
	require.NoError(t, os.WriteFile(fs.Dir()+"/notes.txt", []byte("ignored"), 0o644))

	blocks, err := fs.Blocks()
	require.NoError(t, err)
	require.Equal(t, []string{"h1", "h2"}, blocks)

	require.NoError(t, fs.Remove("h1"))
	blocks, err = fs.Blocks()
	require.NoError(t, err)
	require.Equal(t, []string{"h2"}, blocks)

	require.NoError(t, fs.RemoveAll())
	blocks, err = fs.Blocks()
	require.NoError(t, err)
	require.Empty(t, blocks)
}
