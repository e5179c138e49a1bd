// Package persistence saves and reloads the vector index as a pair of files:
// the index itself and the raw embedding matrix it was built from.
package persistence

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"lawrag/internal/domain"
	"lawrag/internal/vectorindex"
)

// Paths locates the two artifacts.
type Paths struct {
	Index  string
	Matrix string
}

// Save writes the index and its embedding matrix, tagged with the name of the
// embedder that produced them. Both files are staged as temporaries and renamed
// into place only after both were written and synced, so a failed save leaves
// the previous pair untouched.
func Save(idx *vectorindex.Flat, paths Paths, embedder string) (err error) {
	if len(embedder) > maxEmbedderName {
		return domain.NewPersistenceError("encode", paths.Index, fmt.Errorf("embedder name longer than %d bytes", maxEmbedderName))
	}
	m := idx.Matrix()
	payload := encodeFloats(m.Data)
	sum := checksum(payload)

	matrixTmp, err := writeTemp(paths.Matrix, func(w io.Writer) error {
		return writeMatrix(w, m, payload, sum)
	})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(matrixTmp)
		}
	}()

	indexTmp, err := writeTemp(paths.Index, func(w io.Writer) error {
		return writeIndex(w, m, payload, sum, embedder)
	})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(indexTmp)
		}
	}()

	if err := os.Rename(matrixTmp, paths.Matrix); err != nil {
		return domain.NewPersistenceError("rename", paths.Matrix, err)
	}
	// A failure past this point leaves a new matrix next to an old index;
	// the checksum binding makes Load reject that pair.
	if err := os.Rename(indexTmp, paths.Index); err != nil {
		return domain.NewPersistenceError("rename", paths.Index, err)
	}
	return nil
}

func writeTemp(target string, write func(io.Writer) error) (string, error) {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", domain.NewPersistenceError("mkdir", dir, err)
	}
	f, err := os.CreateTemp(dir, filepath.Base(target)+".tmp-*")
	if err != nil {
		return "", domain.NewPersistenceError("create", target, err)
	}
	name := f.Name()
	fail := func(op string, err error) (string, error) {
		_ = f.Close()
		_ = os.Remove(name)
		return "", domain.NewPersistenceError(op, target, err)
	}

	bw := bufio.NewWriter(f)
	if err := write(bw); err != nil {
		return fail("write", err)
	}
	if err := bw.Flush(); err != nil {
		return fail("write", err)
	}
	if err := f.Sync(); err != nil {
		return fail("sync", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(name)
		return "", domain.NewPersistenceError("close", target, err)
	}
	return name, nil
}

func writeMatrix(w io.Writer, m vectorindex.Matrix, payload []byte, sum uint32) error {
	hdr := matrixHeader{
		Magic:    matrixMagic,
		Version:  Version,
		Rows:     uint64(m.Rows),
		Dim:      uint32(m.Dim),
		Checksum: sum,
	}
	if err := binary.Write(w, binary.LittleEndian, &hdr); err != nil {
		return err
	}
	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault), zstd.WithZeroFrames(true))
	if err != nil {
		return err
	}
	if _, err := zw.Write(payload); err != nil {
		_ = zw.Close()
		return err
	}
	return zw.Close()
}

func writeIndex(w io.Writer, m vectorindex.Matrix, payload []byte, matrixSum uint32, embedder string) error {
	hdr := indexHeader{
		Magic:          indexMagic,
		Version:        Version,
		Metric:         MetricSquaredL2,
		Rows:           uint64(m.Rows),
		Dim:            uint32(m.Dim),
		Checksum:       checksum(payload),
		MatrixChecksum: matrixSum,
		NameLen:        uint32(len(embedder)),
	}
	if err := binary.Write(w, binary.LittleEndian, &hdr); err != nil {
		return err
	}
	if _, err := io.WriteString(w, embedder); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// Load reads both artifacts and rebuilds the index from them. Every failure,
// including a matrix whose row count differs from expectedRows or artifacts
// written for another embedder, is reported as domain.ErrRebuildRequired;
// a partially valid index is never returned.
func Load(paths Paths, expectedRows int, embedder string) (*vectorindex.Flat, error) {
	mh, err := readMatrix(paths.Matrix, expectedRows)
	if err != nil {
		return nil, rebuild(paths.Matrix, err)
	}
	m, err := readIndex(paths.Index, mh, embedder)
	if err != nil {
		return nil, rebuild(paths.Index, err)
	}
	idx, err := vectorindex.Build(m)
	if err != nil {
		return nil, rebuild(paths.Index, err)
	}
	return idx, nil
}

func rebuild(path string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrRebuildRequired, path, err)
}

func readMatrix(path string, expectedRows int) (matrixHeader, error) {
	var hdr matrixHeader
	f, err := os.Open(path)
	if err != nil {
		return hdr, err
	}
	defer f.Close()

	br := bufio.NewReader(f)
	if err := binary.Read(br, binary.LittleEndian, &hdr); err != nil {
		return hdr, fmt.Errorf("read header: %w", err)
	}
	if hdr.Magic != matrixMagic {
		return hdr, ErrInvalidMagic
	}
	if hdr.Version != Version {
		return hdr, fmt.Errorf("%w: %d", ErrInvalidVersion, hdr.Version)
	}
	if expectedRows < 0 || hdr.Rows != uint64(expectedRows) {
		return hdr, fmt.Errorf("%w: artifact has %d rows, corpus has %d", ErrRowCount, hdr.Rows, expectedRows)
	}
	size, err := payloadSize(hdr.Rows, hdr.Dim)
	if err != nil {
		return hdr, err
	}

	zr, err := zstd.NewReader(br)
	if err != nil {
		return hdr, err
	}
	defer zr.Close()
	payload := make([]byte, size)
	if _, err := io.ReadFull(zr, payload); err != nil {
		return hdr, fmt.Errorf("read payload: %w", err)
	}
	if n, err := zr.Read(make([]byte, 1)); n != 0 || !errors.Is(err, io.EOF) {
		return hdr, ErrTrailingData
	}
	if checksum(payload) != hdr.Checksum {
		return hdr, ErrChecksum
	}
	return hdr, nil
}

func readIndex(path string, mh matrixHeader, embedder string) (vectorindex.Matrix, error) {
	f, err := os.Open(path)
	if err != nil {
		return vectorindex.Matrix{}, err
	}
	defer f.Close()

	br := bufio.NewReader(f)
	var hdr indexHeader
	if err := binary.Read(br, binary.LittleEndian, &hdr); err != nil {
		return vectorindex.Matrix{}, fmt.Errorf("read header: %w", err)
	}
	switch {
	case hdr.Magic != indexMagic:
		return vectorindex.Matrix{}, ErrInvalidMagic
	case hdr.Version != Version:
		return vectorindex.Matrix{}, fmt.Errorf("%w: %d", ErrInvalidVersion, hdr.Version)
	case hdr.Metric != MetricSquaredL2:
		return vectorindex.Matrix{}, fmt.Errorf("%w: %d", ErrInvalidMetric, hdr.Metric)
	case hdr.Rows != mh.Rows || hdr.Dim != mh.Dim || hdr.MatrixChecksum != mh.Checksum:
		return vectorindex.Matrix{}, ErrPairMismatch
	case hdr.NameLen > maxEmbedderName:
		return vectorindex.Matrix{}, fmt.Errorf("%w: embedder name of %d bytes", ErrInvalidGeometry, hdr.NameLen)
	}
	name := make([]byte, hdr.NameLen)
	if _, err := io.ReadFull(br, name); err != nil {
		return vectorindex.Matrix{}, fmt.Errorf("read embedder name: %w", err)
	}
	if string(name) != embedder {
		return vectorindex.Matrix{}, fmt.Errorf("%w: saved by %q, loading with %q", ErrEmbedderChanged, name, embedder)
	}
	size, err := payloadSize(hdr.Rows, hdr.Dim)
	if err != nil {
		return vectorindex.Matrix{}, err
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(br, payload); err != nil {
		return vectorindex.Matrix{}, fmt.Errorf("read vectors: %w", err)
	}
	if checksum(payload) != hdr.Checksum {
		return vectorindex.Matrix{}, ErrChecksum
	}
	if _, err := br.ReadByte(); !errors.Is(err, io.EOF) {
		return vectorindex.Matrix{}, ErrTrailingData
	}
	return vectorindex.Matrix{
		Rows: int(hdr.Rows),
		Dim:  int(hdr.Dim),
		Data: decodeFloats(payload),
	}, nil
}
