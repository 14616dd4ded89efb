package engine

import "os"

// writeGarbage overwrites a file with bytes that cannot deserialize.
func writeGarbage(path string) error {
	return os.WriteFile(path, []byte("not a gob stream"), 0o644)
}
