package persistence

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"hash"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/creachadair/atomicfile"
)

var (
	ErrSnapshotMissing  = errors.New("snapshot file missing")
	ErrMissingChecksum  = errors.New("snapshot file has no checksum line")
	ErrChecksumMismatch = errors.New("snapshot checksum mismatch")
)

// Subsystem is a state container that can be written to and restored from
// a line-oriented snapshot file. Lines must not be empty and must not start
// with '!' or '#'.
type Subsystem interface {
	SnapshotPrefix() string
	SnapshotLines(emit func(line string) error) error
	RestoreLine(line string) error
	ResetState()
}

// FileStore keeps one file per subsystem per block hash:
//
//	<dir>/<prefix>-<blockhash>.dat
//
// The last line of every file is '!' followed by the double SHA-256 of the
// content lines, rendered as a reversed-hex block hash.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Dir() string { return s.dir }

// Path returns the file name for prefix at blockHash.
func (s *FileStore) Path(prefix, blockHash string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s-%s.dat", prefix, blockHash))
}

// Write dumps sub for blockHash atomically and returns the bytes written.
func (s *FileStore) Write(sub Subsystem, blockHash string) (int64, error) {
	var buf bytes.Buffer
	sum := sha256.New()
	err := sub.SnapshotLines(func(line string) error {
		if line == "" || line[0] == '!' || line[0] == '#' || strings.ContainsAny(line, "\r\n") {
			return fmt.Errorf("%s: unwritable line %q", sub.SnapshotPrefix(), line)
		}
		sum.Write([]byte(line))
		buf.WriteString(line)
		buf.WriteByte('\n')
		return nil
	})
	if err != nil {
		return 0, err
	}
	buf.WriteByte('!')
	buf.WriteString(trailer(sum))
	buf.WriteByte('\n')
	return atomicfile.WriteAll(s.Path(sub.SnapshotPrefix(), blockHash), &buf, 0o644)
}

// ReadVerified returns the content lines of prefix at blockHash after
// checking the trailer.
func (s *FileStore) ReadVerified(prefix, blockHash string) ([]string, error) {
	path := s.Path(prefix, blockHash)
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotMissing, filepath.Base(path))
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var (
		lines    []string
		checksum string
		found    bool
	)
	sum := sha256.New()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" || line[0] == '#' {
			continue
		}
		if line[0] == '!' {
			checksum, found = line[1:], true
			continue
		}
		sum.Write([]byte(line))
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrMissingChecksum, filepath.Base(path))
	}
	if !strings.EqualFold(checksum, trailer(sum)) {
		return nil, fmt.Errorf("%w: %s", ErrChecksumMismatch, filepath.Base(path))
	}
	return lines, nil
}

// Load verifies every subsystem file of blockHash first and only then
// resets and restores the subsystems. A restore error leaves the
// subsystems partially loaded; the caller resets them before trying again.
func (s *FileStore) Load(subs []Subsystem, blockHash string) error {
	contents := make([][]string, len(subs))
	for i, sub := range subs {
		lines, err := s.ReadVerified(sub.SnapshotPrefix(), blockHash)
		if err != nil {
			return err
		}
		contents[i] = lines
	}
	for i, sub := range subs {
		sub.ResetState()
		for _, line := range contents[i] {
			if err := sub.RestoreLine(line); err != nil {
				return fmt.Errorf("restore %s: %w", sub.SnapshotPrefix(), err)
			}
		}
	}
	return nil
}

// Complete reports whether every prefix has a file at blockHash.
func (s *FileStore) Complete(prefixes []string, blockHash string) bool {
	for _, p := range prefixes {
		if _, err := os.Stat(s.Path(p, blockHash)); err != nil {
			return false
		}
	}
	return true
}

// Blocks lists the block hashes that have at least one snapshot file.
func (s *FileStore) Blocks() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, hash, ok := parseFileName(e.Name()); ok {
			seen[hash] = struct{}{}
		}
	}
	hashes := make([]string, 0, len(seen))
	for h := range seen {
		hashes = append(hashes, h)
	}
	sort.Strings(hashes)
	return hashes, nil
}

// Remove deletes every snapshot file of blockHash.
func (s *FileStore) Remove(blockHash string) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if _, hash, ok := parseFileName(e.Name()); ok && hash == blockHash {
			if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
		}
	}
	return nil
}

// RemoveAll deletes every snapshot file.
func (s *FileStore) RemoveAll() error {
	hashes, err := s.Blocks()
	if err != nil {
		return err
	}
	for _, h := range hashes {
		if err := s.Remove(h); err != nil {
			return err
		}
	}
	return nil
}

// parseFileName splits "<prefix>-<hash>.dat".
func parseFileName(name string) (prefix, hash string, ok bool) {
	base, found := strings.CutSuffix(name, ".dat")
	if !found {
		return "", "", false
	}
	prefix, hash, ok = strings.Cut(base, "-")
	if !ok || prefix == "" || hash == "" || strings.Contains(hash, "-") {
		return "", "", false
	}
	return prefix, hash, true
}

func trailer(sum hash.Hash) string {
	return chainhash.HashH(sum.Sum(nil)).String()
}
