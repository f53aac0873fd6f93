package n5ng

import (
	"fmt"
	"path/filepath"
	"strings"
)

const (
	Kilo = 1 << 10
	Mega = 1 << 20
	Giga = 1 << 30
)

// ConvertToAbsolute converts a relative path to an absolute one using the given base
// directory.  Absolute paths and URLs are returned unchanged.
func ConvertToAbsolute(path, baseDir string) string {
	if path == "" || filepath.IsAbs(path) || strings.Contains(path, "://") {
		return path
	}
	return filepath.Join(baseDir, path)
}

// NumDigits returns the number of decimal digits in a non-negative integer.
func NumDigits(n int) int {
	if n < 10 {
		return 1
	}
	return len(fmt.Sprintf("%d", n))
}
