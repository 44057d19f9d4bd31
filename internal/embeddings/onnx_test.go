package embeddings

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestONNXPlatform(t *testing.T) {
	tests := []struct {
		goos, goarch string
		want         string
	}{
		{"linux", "amd64", "linux-x64"},
		{"linux", "arm64", "linux-aarch64"},
		{"darwin", "amd64", "osx-x86_64"},
		{"darwin", "arm64", "osx-arm64"},
	}
	for _, tt := range tests {
		t.Run(tt.goos+"/"+tt.goarch, func(t *testing.T) {
			got, err := onnxPlatform(tt.goos, tt.goarch)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := onnxPlatform("windows", "amd64")
	assert.ErrorIs(t, err, ErrUnsupportedPlatform)
}

func TestONNXLibraryName(t *testing.T) {
	assert.Equal(t, "libonnxruntime.so", onnxLibraryName("linux"))
	assert.Equal(t, "libonnxruntime.dylib", onnxLibraryName("darwin"))
}

func TestONNXLibraryPath_EnvOverride(t *testing.T) {
	t.Setenv("ONNX_PATH", "/opt/onnx/libonnxruntime.so")
	assert.Equal(t, "/opt/onnx/libonnxruntime.so", ONNXLibraryPath())
}

type tarEntry struct {
	name, body, link string
}

func tarball(t *testing.T, entries []tarEntry) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, e := range entries {
		hdr := &tar.Header{Name: e.name, Mode: 0o644, Size: int64(len(e.body)), Typeflag: tar.TypeReg}
		if e.link != "" {
			hdr.Typeflag = tar.TypeSymlink
			hdr.Linkname = e.link
			hdr.Size = 0
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if e.link == "" {
			_, err := tw.Write([]byte(e.body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return &buf
}

func TestExtractLibDir(t *testing.T) {
	const prefix = "onnxruntime-linux-x64-1.23.0/lib/"

	t.Run("extracts lib directory only", func(t *testing.T) {
		dir := t.TempDir()
		archive := tarball(t, []tarEntry{
			{name: "onnxruntime-linux-x64-1.23.0/README.md", body: "readme"},
			{name: "./" + prefix + "libonnxruntime.so.1.23.0", body: "ELF"},
			{name: prefix + "libonnxruntime.so", link: "libonnxruntime.so.1.23.0"},
		})

		require.NoError(t, extractLibDir(archive, prefix, dir, "libonnxruntime.so"))

		data, err := os.ReadFile(filepath.Join(dir, "libonnxruntime.so.1.23.0"))
		require.NoError(t, err)
		assert.Equal(t, "ELF", string(data))

		target, err := os.Readlink(filepath.Join(dir, "libonnxruntime.so"))
		require.NoError(t, err)
		assert.Equal(t, "libonnxruntime.so.1.23.0", target)

		_, err = os.Stat(filepath.Join(dir, "README.md"))
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("missing library", func(t *testing.T) {
		archive := tarball(t, []tarEntry{{name: prefix + "libother.so", body: "x"}})
		err := extractLibDir(archive, prefix, t.TempDir(), "libonnxruntime.so")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found in archive")
	})
}
