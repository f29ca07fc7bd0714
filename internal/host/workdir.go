package host

import (
	"fmt"
	"os"
	"path/filepath"
)

var executable = os.Executable

// WithExecutableDir runs fn with the working directory set to the directory
// of the running executable, so relative paths such as the settings file
// resolve next to the binary. The previous working directory is restored
// when fn returns or panics.
func WithExecutableDir(fn func() error) (err error) {
	exe, err := executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}
	prev, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("read working directory: %w", err)
	}
	if err := os.Chdir(filepath.Dir(exe)); err != nil {
		return fmt.Errorf("change working directory: %w", err)
	}
	defer func() {
		if cerr := os.Chdir(prev); cerr != nil && err == nil {
			err = fmt.Errorf("restore working directory: %w", cerr)
		}
	}()

	return fn()
}
