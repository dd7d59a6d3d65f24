package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
)

const Version = 1

type Header struct {
	Version   int    `json:"version"`
	Owner     string `json:"owner"`
	Puzzles   int    `json:"puzzles"`
	Unsolved  int    `json:"unsolved"`
	CreatedAt string `json:"created_at"`
}

// RegistryV1 is a full copy of registry state: the owner, every puzzle ever
// created and the unsolved index in its iteration order.
type RegistryV1 struct {
	Header Header `json:"header"`

	Owner    string     `json:"owner"`
	Puzzles  []PuzzleV1 `json:"puzzles"`
	Unsolved []string   `json:"unsolved"`
}

type PuzzleV1 struct {
	SolutionHash string     `json:"solution_hash"`
	Solved       bool       `json:"solved"`
	Memo         string     `json:"memo,omitempty"`
	Answers      []AnswerV1 `json:"answers"`
}

type AnswerV1 struct {
	Num       uint8  `json:"num"`
	X         uint8  `json:"x"`
	Y         uint8  `json:"y"`
	Direction string `json:"direction"`
	Length    uint8  `json:"length"`
	Clue      string `json:"clue"`
}

// Seal fills the header from the body.
func (s *RegistryV1) Seal(now time.Time) {
	s.Header = Header{
		Version:   Version,
		Owner:     s.Owner,
		Puzzles:   len(s.Puzzles),
		Unsolved:  len(s.Unsolved),
		CreatedAt: now.UTC().Format(time.RFC3339Nano),
	}
}

// WriteSnapshot writes a JSON header line followed by the gob body, all
// zstd-compressed. The file is written under a temp name and renamed.
func WriteSnapshot(path string, snap RegistryV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := Encode(f, snap); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func Encode(w io.Writer, snap RegistryV1) error {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		_ = enc.Close()
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		_ = enc.Close()
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		_ = enc.Close()
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

func ReadSnapshot(path string) (RegistryV1, error) {
	f, err := os.Open(path)
	if err != nil {
		return RegistryV1{}, err
	}
	defer f.Close()
	return Decode(f)
}

func Decode(r io.Reader) (RegistryV1, error) {
	var snap RegistryV1
	dec, err := zstd.NewReader(r)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// The gob body repeats the header.
	if _, err := br.ReadBytes('\n'); err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}
	return snap, nil
}

// ReadHeader decodes only the leading header line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()

	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("decode header: %w", err)
	}
	return h, nil
}
