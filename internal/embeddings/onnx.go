package embeddings

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"

	"go.uber.org/zap"
)

// ONNXRuntimeVersion is the runtime release matching the onnxruntime_go
// version pulled in by fastembed-go.
const ONNXRuntimeVersion = "1.23.0"

// ErrUnsupportedPlatform indicates no ONNX runtime release exists for the
// current OS and architecture.
var ErrUnsupportedPlatform = errors.New("unsupported platform")

const onnxReleaseURL = "https://github.com/microsoft/onnxruntime/releases/download/v%[1]s/onnxruntime-%[2]s-%[1]s.tgz"

// onnxPlatforms maps GOOS/GOARCH to release archive suffixes.
var onnxPlatforms = map[string]string{
	"linux/amd64":  "linux-x64",
	"linux/arm64":  "linux-aarch64",
	"darwin/amd64": "osx-x86_64",
	"darwin/arm64": "osx-arm64",
}

func onnxPlatform(goos, goarch string) (string, error) {
	p, ok := onnxPlatforms[goos+"/"+goarch]
	if !ok {
		return "", fmt.Errorf("%w: %s/%s", ErrUnsupportedPlatform, goos, goarch)
	}
	return p, nil
}

func onnxLibraryName(goos string) string {
	if goos == "darwin" {
		return "libonnxruntime.dylib"
	}
	return "libonnxruntime.so"
}

// ONNXInstallDir is where downloaded runtimes live.
func ONNXInstallDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".config", "recalld", "lib")
}

// defaultModelCacheDir is where FastEmbed stores downloaded models.
func defaultModelCacheDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "models")
	}
	return filepath.Join(home, ".cache", "recalld", "models")
}

// ONNXLibraryPath returns the runtime library to load: ONNX_PATH when set,
// otherwise the managed install. Empty when neither exists.
func ONNXLibraryPath() string {
	if p := os.Getenv("ONNX_PATH"); p != "" {
		return p
	}
	managed := filepath.Join(ONNXInstallDir(), onnxLibraryName(runtime.GOOS))
	if _, err := os.Stat(managed); err == nil {
		return managed
	}
	return ""
}

// EnsureONNXRuntime returns the runtime library path, downloading the
// runtime into ONNXInstallDir when it is missing. The resolved path is
// exported as ONNX_PATH, which fastembed-go reads.
func EnsureONNXRuntime(ctx context.Context, logger *zap.Logger) (string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if p := ONNXLibraryPath(); p != "" {
		return p, os.Setenv("ONNX_PATH", p)
	}

	logger.Info("downloading onnx runtime",
		zap.String("version", ONNXRuntimeVersion),
		zap.String("platform", runtime.GOOS+"/"+runtime.GOARCH))
	if err := DownloadONNXRuntime(ctx, ONNXRuntimeVersion, ONNXInstallDir()); err != nil {
		return "", fmt.Errorf("downloading onnx runtime (or set ONNX_PATH): %w", err)
	}

	p := ONNXLibraryPath()
	if p == "" {
		return "", errors.New("onnx runtime download completed but library not found")
	}
	logger.Info("onnx runtime installed", zap.String("path", p))
	return p, os.Setenv("ONNX_PATH", p)
}

// DownloadONNXRuntime fetches the release archive for the current platform
// and extracts its lib/ directory into destDir.
func DownloadONNXRuntime(ctx context.Context, version, destDir string) error {
	if version == "" {
		version = ONNXRuntimeVersion
	}
	platform, err := onnxPlatform(runtime.GOOS, runtime.GOARCH)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(destDir, 0o700); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf(onnxReleaseURL, version, platform), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("downloading: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed with status %d", resp.StatusCode)
	}

	prefix := fmt.Sprintf("onnxruntime-%s-%s/lib/", platform, version)
	return extractLibDir(resp.Body, prefix, destDir, onnxLibraryName(runtime.GOOS))
}

// extractLibDir copies every regular file and symlink under prefix in a
// gzipped tarball into destDir. It fails when libName is not among them.
func extractLibDir(r io.Reader, prefix, destDir, libName string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer gz.Close()

	found := false
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading archive: %w", err)
		}

		name := strings.TrimPrefix(hdr.Name, "./")
		if !strings.HasPrefix(name, prefix) || hdr.Typeflag == tar.TypeDir {
			continue
		}
		base := path.Base(name)
		dest := filepath.Join(destDir, base)

		switch hdr.Typeflag {
		case tar.TypeSymlink:
			_ = os.Remove(dest)
			if err := os.Symlink(hdr.Linkname, dest); err != nil {
				continue
			}
		case tar.TypeReg:
			if err := writeFile(dest, tr); err != nil {
				return err
			}
		default:
			continue
		}
		if base == libName || strings.HasPrefix(base, libName+".") {
			found = true
		}
	}

	if !found {
		return fmt.Errorf("library %s not found in archive", libName)
	}
	return nil
}

func writeFile(dest string, r io.Reader) error {
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dest, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", dest, err)
	}
	return f.Close()
}
