package locations_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reduction.dev/sourcemux/storage/locations"
	"reduction.dev/sourcemux/storage/objstore"
)

func TestNewLocation_S3Path(t *testing.T) {
	store, err := locations.New(t.Context(), "s3://my-bucket/some/path")
	assert.NoError(t, err, "creating store with S3 path should not error")

	_, ok := store.(*locations.S3Location)
	assert.True(t, ok, "store should be an S3Location for s3:// paths")
}

func TestNewLocation_LocalPath(t *testing.T) {
	store, err := locations.New(t.Context(), "/local/path")
	assert.NoError(t, err, "creating store with local path should not error")

	_, ok := store.(*locations.LocalDirectory)
	assert.True(t, ok, "store should be a LocalDirectory for local paths")
}

func TestNewS3Location_RequiresBucket(t *testing.T) {
	_, err := locations.NewS3Location(objstore.NewMemoryS3Service(), "s3://")
	assert.Error(t, err)
}

func TestLocalDirectory(t *testing.T) {
	locationStoreSuite(t, func() locations.StorageLocation {
		return locations.NewLocalDirectory(t.TempDir())
	})
}

func TestLocalDirectory_ListSkipsTemporaryFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".state.tmp-123"), []byte("partial"), 0o644))
	loc := locations.NewLocalDirectory(dir)
	_, err := loc.Write(t.Context(), "state", bytes.NewReader([]byte("done")))
	require.NoError(t, err)

	var uris []string
	for uri, err := range loc.List(t.Context()) {
		require.NoError(t, err)
		uris = append(uris, uri)
	}
	assert.Equal(t, []string{filepath.Join(dir, "state")}, uris)
}

func TestS3Location(t *testing.T) {
	locationStoreSuite(t, func() locations.StorageLocation {
		loc, err := locations.NewS3Location(objstore.NewMemoryS3Service(), "s3://bucket/prefix")
		require.NoError(t, err, "creating S3 location should not return an error")
		return loc
	})
}

func locationStoreSuite(t *testing.T, newLoc func() locations.StorageLocation) {
	t.Run("WriteThenRead", func(t *testing.T) {
		loc := newLoc()

		testData := []byte("test data")
		uri, err := loc.Write(t.Context(), "test.txt", bytes.NewReader(testData))
		require.NoError(t, err, "write operation should not return an error")

		content, err := loc.Read(t.Context(), uri)
		require.NoError(t, err, "should be able to read the file by URI")
		assert.Equal(t, testData, content, "file should contain the written data")

		content, err = loc.Read(t.Context(), "test.txt")
		require.NoError(t, err, "should be able to read the file by relative path")
		assert.Equal(t, testData, content)
	})

	t.Run("Overwrite", func(t *testing.T) {
		loc := newLoc()
		_, err := loc.Write(t.Context(), "test.txt", bytes.NewReader([]byte("first")))
		require.NoError(t, err)
		_, err = loc.Write(t.Context(), "test.txt", bytes.NewReader([]byte("second")))
		require.NoError(t, err)

		content, err := loc.Read(t.Context(), "test.txt")
		require.NoError(t, err)
		assert.Equal(t, []byte("second"), content)
	})

	t.Run("ReadNonExistent", func(t *testing.T) {
		content, err := newLoc().Read(t.Context(), "nonexistent.txt")
		assert.ErrorIs(t, err, locations.ErrNotFound, "reading a non-existent file should return ErrNotFound")
		assert.Nil(t, content, "content should be nil for non-existent file")
	})

	t.Run("Remove", func(t *testing.T) {
		loc := newLoc()

		testData := []byte("test data")
		uri, err := loc.Write(t.Context(), "doomed1.txt", bytes.NewReader(testData))
		require.NoError(t, err)
		_, err = loc.Write(t.Context(), "doomed2.txt", bytes.NewReader(testData))
		require.NoError(t, err)

		// Remove one file by URI and one by relative path
		err = loc.Remove(t.Context(), uri, "doomed2.txt")
		assert.NoError(t, err, "removing existing files should not return an error")

		_, err1 := loc.Read(t.Context(), uri)
		_, err2 := loc.Read(t.Context(), "doomed2.txt")
		assert.ErrorIs(t, err1, locations.ErrNotFound, "first file should no longer exist")
		assert.ErrorIs(t, err2, locations.ErrNotFound, "second file should no longer exist")
	})

	t.Run("RemoveNonExistent", func(t *testing.T) {
		err := newLoc().Remove(t.Context(), "nonexistent.txt")
		assert.NoError(t, err, "removing a non-existent file should not error")
	})

	t.Run("List", func(t *testing.T) {
		loc := newLoc()

		var written []string
		for _, file := range []string{"file1.txt", "file2.txt", "nested/file3.txt"} {
			uri, err := loc.Write(t.Context(), file, bytes.NewReader([]byte("test data")))
			require.NoError(t, err)
			written = append(written, uri)
		}

		var uris []string
		for s, err := range loc.List(t.Context()) {
			assert.NoError(t, err, "list iterator should not return an error")
			uris = append(uris, s)
		}
		assert.Equal(t, written, uris, "list should return all written files in order")
	})

	t.Run("ListEmpty", func(t *testing.T) {
		for _, err := range newLoc().List(t.Context()) {
			assert.NoError(t, err)
		}
	})
}
