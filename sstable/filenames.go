package sstable

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

func formatSST(fileNumber uint64) string {
	return fmt.Sprintf("%06d.sst", fileNumber)
}

// ParseFileNumber extracts the file number from a "<n>.sst" filename.
func ParseFileNumber(name string) (uint64, bool) {
	if !strings.HasSuffix(name, ".sst") {
		return 0, false
	}
	numStr := strings.TrimSuffix(name, ".sst")
	n, err := strconv.ParseUint(numStr, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Path joins dir with the canonical filename for fileNumber.
func Path(dir string, fileNumber uint64) string {
	return filepath.Join(dir, formatSST(fileNumber))
}
