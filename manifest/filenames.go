package manifest

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

const currentFilename = "CURRENT"

func manifestFilename(fileNumber uint64) string {
	return fmt.Sprintf("MANIFEST-%06d", fileNumber)
}

func parseManifestNumber(name string) (uint64, bool) {
	if !strings.HasPrefix(name, "MANIFEST-") {
		return 0, false
	}
	n, err := strconv.ParseUint(strings.TrimPrefix(name, "MANIFEST-"), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func manifestPath(dir string, fileNumber uint64) string {
	return filepath.Join(dir, manifestFilename(fileNumber))
}

func currentPath(dir string) string {
	return filepath.Join(dir, currentFilename)
}
