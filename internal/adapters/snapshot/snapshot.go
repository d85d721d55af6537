// Package snapshot persists the listing store to a zstd-compressed file so a
// restarted instance can serve maps before the catalog database is read.
package snapshot

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/samirrijal/etxea/internal/core/domain"
)

const (
	magic         = "ETXS"
	formatVersion = uint32(1)
)

// ErrFormat is returned for files that are not snapshots of this format.
var ErrFormat = errors.New("snapshot: unrecognized format")

// Header describes a snapshot file.
type Header struct {
	StoreVersion uint64
	Count        uint32
}

// Save writes listings to path. The file is written next to path and
// renamed into place, so readers never see a partial snapshot.
func Save(path string, listings []domain.Listing, storeVersion uint64) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := Write(tmp, listings, storeVersion); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

// Write encodes a snapshot to w.
func Write(w io.Writer, listings []domain.Listing, storeVersion uint64) error {
	bw := bufio.NewWriterSize(w, 1024*1024)
	enc, err := zstd.NewWriter(bw, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return fmt.Errorf("create zstd writer: %w", err)
	}

	if _, err := enc.Write([]byte(magic)); err != nil {
		enc.Close()
		return err
	}
	hdr := []any{formatVersion, storeVersion, uint32(len(listings))}
	for _, v := range hdr {
		if err := binary.Write(enc, binary.LittleEndian, v); err != nil {
			enc.Close()
			return fmt.Errorf("write header: %w", err)
		}
	}

	je := json.NewEncoder(enc)
	for i := range listings {
		if err := je.Encode(&listings[i]); err != nil {
			enc.Close()
			return fmt.Errorf("encode listing %s: %w", listings[i].ID, err)
		}
	}

	if err := enc.Close(); err != nil {
		return fmt.Errorf("close encoder: %w", err)
	}
	return bw.Flush()
}

// Load reads the snapshot at path. A missing file is reported with an error
// satisfying errors.Is(err, os.ErrNotExist).
func Load(path string) ([]domain.Listing, Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Header{}, err
	}
	defer f.Close()
	return Read(f)
}

// Read decodes a snapshot from r.
func Read(r io.Reader) ([]domain.Listing, Header, error) {
	dec, err := zstd.NewReader(bufio.NewReader(r))
	if err != nil {
		return nil, Header{}, fmt.Errorf("create zstd reader: %w", err)
	}
	defer dec.Close()

	var m [4]byte
	if _, err := io.ReadFull(dec, m[:]); err != nil || string(m[:]) != magic {
		return nil, Header{}, ErrFormat
	}
	var (
		ver uint32
		hdr Header
	)
	if err := binary.Read(dec, binary.LittleEndian, &ver); err != nil {
		return nil, Header{}, fmt.Errorf("read header: %w", err)
	}
	if ver != formatVersion {
		return nil, Header{}, fmt.Errorf("%w: version %d", ErrFormat, ver)
	}
	if err := binary.Read(dec, binary.LittleEndian, &hdr.StoreVersion); err != nil {
		return nil, Header{}, fmt.Errorf("read header: %w", err)
	}
	if err := binary.Read(dec, binary.LittleEndian, &hdr.Count); err != nil {
		return nil, Header{}, fmt.Errorf("read header: %w", err)
	}

	listings := make([]domain.Listing, 0, hdr.Count)
	jd := json.NewDecoder(dec)
	for i := uint32(0); i < hdr.Count; i++ {
		var l domain.Listing
		if err := jd.Decode(&l); err != nil {
			return nil, Header{}, fmt.Errorf("decode listing %d of %d: %w", i+1, hdr.Count, err)
		}
		listings = append(listings, l)
	}
	return listings, hdr, nil
}
