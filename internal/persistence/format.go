package persistence

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
	"math"
)

const (
	// Version is the current artifact format version.
	Version = 1

	// MetricSquaredL2 is the only metric the flat index supports.
	MetricSquaredL2 = 1

	// maxDim guards allocations against corrupt headers.
	maxDim = 1 << 16

	// maxEmbedderName bounds the embedder name stored after the index header.
	maxEmbedderName = 1 << 10
)

var (
	matrixMagic = [4]byte{'L', 'R', 'M', '1'}
	indexMagic  = [4]byte{'L', 'R', 'I', '1'}
)

var (
	ErrInvalidMagic    = errors.New("invalid magic number")
	ErrInvalidVersion  = errors.New("unsupported version")
	ErrInvalidMetric   = errors.New("unsupported metric")
	ErrChecksum        = errors.New("checksum mismatch")
	ErrPairMismatch    = errors.New("index and matrix artifacts do not belong together")
	ErrRowCount        = errors.New("row count does not match corpus size")
	ErrInvalidGeometry = errors.New("invalid matrix geometry")
	ErrEmbedderChanged = errors.New("artifacts were built by a different embedder")
	ErrTrailingData    = errors.New("trailing data after payload")
)

// matrixHeader precedes the zstd-compressed float32 payload of the matrix artifact.
type matrixHeader struct {
	Magic    [4]byte
	Version  uint32
	Rows     uint64
	Dim      uint32
	Checksum uint32 // CRC32 of the uncompressed payload
}

// indexHeader precedes the embedder name (NameLen bytes) and then the raw
// float32 vectors of the index artifact.
type indexHeader struct {
	Magic          [4]byte
	Version        uint32
	Metric         uint8
	Padding        [3]byte
	Rows           uint64
	Dim            uint32
	Checksum       uint32 // CRC32 of the index vectors
	MatrixChecksum uint32 // Checksum of the matrix artifact written alongside
	NameLen        uint32
}

func encodeFloats(data []float32) []byte {
	buf := make([]byte, 4*len(data))
	for i, v := range data {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

func decodeFloats(buf []byte) []float32 {
	out := make([]float32, len(buf)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return out
}

func checksum(buf []byte) uint32 {
	return crc32.ChecksumIEEE(buf)
}

// payloadSize returns the byte length of a rows×dim float32 payload.
func payloadSize(rows uint64, dim uint32) (int, error) {
	if dim > maxDim || (rows > 0 && dim == 0) {
		return 0, ErrInvalidGeometry
	}
	if dim > 0 && rows > uint64(math.MaxInt/4)/uint64(dim) {
		return 0, ErrInvalidGeometry
	}
	return int(rows) * int(dim) * 4, nil
}
