package migrate

import "os"

// readFileLimited reads a candidate source file for pattern scanning.
// Kept as its own function so size limits can be added later without
// touching callers.
func readFileLimited(path string) ([]byte, error) {
	return os.ReadFile(path)
}
