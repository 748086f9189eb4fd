package providers

import (
	"os"
	"runtime"

	"github.com/pkg/errors"
)

// LibraryEnvVar names the environment variable that overrides the shared library path.
const LibraryEnvVar = "ONNXRUNTIME_LIB"

// GetSharedLibPath returns the path to the onnxruntime shared library.
//
// Arguments:
//   - override: An explicit path from configuration; used as-is when non-empty.
//
// Returns:
//   - string: The configured path, the ONNXRUNTIME_LIB value, or the platform default.
//   - error: An error if no default exists for this platform.
func GetSharedLibPath(override string) (string, error) {
	if override != "" {
		return override, nil
	}
	if env := os.Getenv(LibraryEnvVar); env != "" {
		return env, nil
	}

	switch runtime.GOOS {
	case "windows":
		if runtime.GOARCH == "amd64" {
			return "./third_party/onnxruntime.dll", nil
		}
	case "darwin":
		return "./third_party/libonnxruntime.1.23.0.dylib", nil
	case "linux":
		if runtime.GOARCH == "arm64" {
			return "./third_party/onnxruntime_arm64.so", nil
		}
		return "./third_party/onnxruntime.so", nil
	}
	return "", errors.Errorf("no onnxruntime library known for %s/%s; set %s",
		runtime.GOOS, runtime.GOARCH, LibraryEnvVar)
}
