package persistence

import (
	"bytes"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lawrag/internal/domain"
	"lawrag/internal/vectorindex"
)

const testEmbedder = "tfidf"

func randomIndex(t *testing.T, seed int64, n, dim int) *vectorindex.Flat {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	rows := make([][]float32, n)
	for i := range rows {
		rows[i] = make([]float32, dim)
		for j := range rows[i] {
			rows[i][j] = rng.Float32()
		}
	}
	m, err := vectorindex.NewMatrix(rows)
	require.NoError(t, err)
	idx, err := vectorindex.Build(m)
	require.NoError(t, err)
	return idx
}

func testPaths(dir, name string) Paths {
	return Paths{
		Index:  filepath.Join(dir, name+".idx"),
		Matrix: filepath.Join(dir, name+".mat"),
	}
}

func TestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	paths := testPaths(dir, "e5")
	idx := randomIndex(t, 1, 64, 8)

	require.NoError(t, Save(idx, paths, testEmbedder))

	loaded, err := Load(paths, 64, testEmbedder)
	require.NoError(t, err)
	assert.Equal(t, idx.Len(), loaded.Len())
	assert.Equal(t, idx.Dim(), loaded.Dim())
	assert.Equal(t, idx.Matrix().Data, loaded.Matrix().Data)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 10; i++ {
		q := make([]float32, 8)
		for j := range q {
			q[j] = rng.Float32()
		}
		want, err := idx.Search(q, 5)
		require.NoError(t, err)
		got, err := loaded.Search(q, 5)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "temporary files must not be left behind")
}

func TestRoundTripEmpty(t *testing.T) {
	paths := testPaths(t.TempDir(), "empty")
	idx, err := vectorindex.Build(vectorindex.Matrix{})
	require.NoError(t, err)
	require.NoError(t, Save(idx, paths, testEmbedder))

	loaded, err := Load(paths, 0, testEmbedder)
	require.NoError(t, err)
	assert.Equal(t, 0, loaded.Len())
}

func TestLoadRebuildRequired(t *testing.T) {
	t.Run("Missing", func(t *testing.T) {
		_, err := Load(testPaths(t.TempDir(), "none"), 3, testEmbedder)
		assert.ErrorIs(t, err, domain.ErrRebuildRequired)
	})

	t.Run("MissingIndex", func(t *testing.T) {
		paths := testPaths(t.TempDir(), "x")
		require.NoError(t, Save(randomIndex(t, 2, 4, 3), paths, testEmbedder))
		require.NoError(t, os.Remove(paths.Index))
		_, err := Load(paths, 4, testEmbedder)
		assert.ErrorIs(t, err, domain.ErrRebuildRequired)
	})

	t.Run("StaleRowCount", func(t *testing.T) {
		paths := testPaths(t.TempDir(), "x")
		require.NoError(t, Save(randomIndex(t, 3, 10, 4), paths, testEmbedder))
		idx, err := Load(paths, 11, testEmbedder)
		assert.Nil(t, idx)
		assert.ErrorIs(t, err, domain.ErrRebuildRequired)
		assert.ErrorIs(t, err, ErrRowCount)
	})

	t.Run("CorruptIndexPayload", func(t *testing.T) {
		paths := testPaths(t.TempDir(), "x")
		require.NoError(t, Save(randomIndex(t, 4, 10, 4), paths, testEmbedder))
		data, err := os.ReadFile(paths.Index)
		require.NoError(t, err)
		data[len(data)-1] ^= 0xff
		require.NoError(t, os.WriteFile(paths.Index, data, 0o644))

		_, err = Load(paths, 10, testEmbedder)
		assert.ErrorIs(t, err, domain.ErrRebuildRequired)
		assert.ErrorIs(t, err, ErrChecksum)
	})

	t.Run("TruncatedMatrix", func(t *testing.T) {
		paths := testPaths(t.TempDir(), "x")
		require.NoError(t, Save(randomIndex(t, 5, 50, 16), paths, testEmbedder))
		data, err := os.ReadFile(paths.Matrix)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(paths.Matrix, data[:len(data)/2], 0o644))

		_, err = Load(paths, 50, testEmbedder)
		assert.ErrorIs(t, err, domain.ErrRebuildRequired)
	})

	t.Run("GarbageFile", func(t *testing.T) {
		paths := testPaths(t.TempDir(), "x")
		require.NoError(t, os.WriteFile(paths.Matrix, []byte("not a matrix"), 0o644))
		require.NoError(t, os.WriteFile(paths.Index, []byte("not an index"), 0o644))
		_, err := Load(paths, 1, testEmbedder)
		assert.ErrorIs(t, err, domain.ErrRebuildRequired)
	})

	t.Run("TrailingMatrixFrame", func(t *testing.T) {
		paths := testPaths(t.TempDir(), "x")
		require.NoError(t, Save(randomIndex(t, 10, 6, 4), paths, testEmbedder))
		enc, err := zstd.NewWriter(nil)
		require.NoError(t, err)
		extra := enc.EncodeAll(bytes.Repeat([]byte{0x42}, 16), nil)
		require.NoError(t, enc.Close())

		f, err := os.OpenFile(paths.Matrix, os.O_APPEND|os.O_WRONLY, 0o644)
		require.NoError(t, err)
		_, err = f.Write(extra)
		require.NoError(t, err)
		require.NoError(t, f.Close())

		_, err = Load(paths, 6, testEmbedder)
		assert.ErrorIs(t, err, domain.ErrRebuildRequired)
		assert.ErrorIs(t, err, ErrTrailingData)
	})

	t.Run("OtherEmbedder", func(t *testing.T) {
		paths := testPaths(t.TempDir(), "x")
		require.NoError(t, Save(randomIndex(t, 11, 5, 4), paths, "openai:text-embedding-3-small"))

		_, err := Load(paths, 5, "openai:text-embedding-3-large")
		assert.ErrorIs(t, err, domain.ErrRebuildRequired)
		assert.ErrorIs(t, err, ErrEmbedderChanged)

		loaded, err := Load(paths, 5, "openai:text-embedding-3-small")
		require.NoError(t, err)
		assert.Equal(t, 5, loaded.Len())
	})

	t.Run("MismatchedPair", func(t *testing.T) {
		dir := t.TempDir()
		a, b := testPaths(dir, "a"), testPaths(dir, "b")
		require.NoError(t, Save(randomIndex(t, 6, 8, 4), a, testEmbedder))
		require.NoError(t, Save(randomIndex(t, 7, 8, 4), b, testEmbedder))

		_, err := Load(Paths{Index: a.Index, Matrix: b.Matrix}, 8, testEmbedder)
		assert.ErrorIs(t, err, domain.ErrRebuildRequired)
		assert.ErrorIs(t, err, ErrPairMismatch)
	})
}

func TestSaveFailureKeepsPreviousArtifacts(t *testing.T) {
	dir := t.TempDir()
	good := testPaths(dir, "good")
	prev := randomIndex(t, 8, 6, 3)
	require.NoError(t, Save(prev, good, testEmbedder))
	before, err := os.ReadFile(good.Matrix)
	require.NoError(t, err)

	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	broken := Paths{Index: filepath.Join(blocker, "x.idx"), Matrix: good.Matrix}

	err = Save(randomIndex(t, 9, 6, 3), broken, testEmbedder)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPersistence)

	after, err := os.ReadFile(good.Matrix)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	loaded, err := Load(good, 6, testEmbedder)
	require.NoError(t, err)
	assert.Equal(t, prev.Matrix().Data, loaded.Matrix().Data)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp-")
	}
}
