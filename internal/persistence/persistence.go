// Package persistence implements durable serialization of the persistent
// subset of RaftNode (id, current_term, voted_for, log) to a single binary
// statefile per node at <cwd>/<port-or-host>.yari. Volatile fields are
// never written; on load they are left for the caller to default.
//
// Encoding is gob, framed with a CRC32 header so a crash mid-write is
// detected on the next load instead of silently handing back truncated
// state. Writes go through a temp file (named with a uuid suffix so two
// processes racing to bootstrap/join against the same cwd never collide)
// and an atomic rename.
package persistence

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/raftkit/yari/internal/raftlog"
)

const headerSize = 8 // 4 bytes CRC32 + 4 bytes length

// State is the persistent subset of a RaftNode.
type State struct {
	ID          string
	CurrentTerm uint64
	VotedFor    string
	Log         []raftlog.Entry
}

// ErrConflict signals a bootstrap/join attempted against an existing
// statefile, or a resume attempted with none present.
var ErrConflict = errors.New("persistence: statefile conflict")

// Store reads and writes a single node's statefile.
type Store struct {
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string {
	return s.path
}

// Exists reports whether the statefile is already present, for bootstrap/
// join's "must not exist" precondition and resume's "must exist" one.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Save encodes and atomically writes state, truncate-write-rename style.
func (s *Store) Save(state State) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(state); err != nil {
		return fmt.Errorf("persistence: encode: %w", err)
	}
	data := buf.Bytes()

	header := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(header[:4], crc32.ChecksumIEEE(data))
	binary.LittleEndian.PutUint32(header[4:8], uint32(len(data)))

	tmpPath := fmt.Sprintf("%s.%s.tmp", s.path, uuid.NewString())
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("persistence: create temp file: %w", err)
	}
	defer os.Remove(tmpPath) // no-op once renamed away

	if _, err := f.Write(header); err != nil {
		f.Close()
		return fmt.Errorf("persistence: write header: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("persistence: write data: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("persistence: sync: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("persistence: close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("persistence: rename into place: %w", err)
	}
	return nil
}

// Load reads and validates the statefile. It returns (nil, nil) if no
// statefile exists, letting the caller decide whether that's expected
// (bootstrap/join) or a conflict (resume).
func (s *Store) Load() (*State, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("persistence: open: %w", err)
	}
	defer f.Close()

	header := make([]byte, headerSize)
	if _, err := io.ReadFull(f, header); err != nil {
		return nil, fmt.Errorf("persistence: read header: %w", err)
	}
	crc := binary.LittleEndian.Uint32(header[:4])
	length := binary.LittleEndian.Uint32(header[4:8])

	data := make([]byte, length)
	if _, err := io.ReadFull(f, data); err != nil {
		return nil, fmt.Errorf("persistence: read data: %w", err)
	}

	if crc32.ChecksumIEEE(data) != crc {
		return nil, fmt.Errorf("persistence: checksum mismatch, statefile %s is corrupt", s.path)
	}

	var state State
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&state); err != nil {
		return nil, fmt.Errorf("persistence: decode: %w", err)
	}
	return &state, nil
}

// StatefilePath implements the <cwd>/<port-or-host>.yari naming convention:
// the statefile name defaults to the node URL's port, or its host if no
// port is present.
func StatefilePath(nodeURL string) (string, error) {
	u, err := url.Parse(nodeURL)
	if err != nil {
		return "", fmt.Errorf("persistence: invalid node url %q: %w", nodeURL, err)
	}

	name := u.Port()
	if name == "" {
		name = u.Hostname()
	}
	if name == "" {
		name = strings.TrimSuffix(strings.TrimPrefix(nodeURL, "/"), "/")
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("persistence: getwd: %w", err)
	}
	return filepath.Join(cwd, name+".yari"), nil
}
