package testutil

import (
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
)

// Temporary directory for the files created by a test, e.g. the
// environment files. Each sandbox has its own unique directory and is
// removed with its content on Close.
type Sandbox struct {
	BasePath string
}

// Creates a new sandbox in the system temporary directory.
func NewSandbox() *Sandbox {
	dir, err := os.MkdirTemp("", "dhcpmapper_ut_*")
	if err != nil {
		log.Fatal(err)
	}
	return &Sandbox{
		BasePath: dir,
	}
}

// Removes the sandbox with its content.
func (sb *Sandbox) Close() {
	os.RemoveAll(sb.BasePath)
}

// Returns the absolute path of the file in the sandbox. It creates the
// missing parent directories and an empty file.
func (sb *Sandbox) Join(name string) (string, error) {
	filePath := filepath.Join(sb.BasePath, name)
	if err := os.MkdirAll(filepath.Dir(filePath), 0o700); err != nil {
		return "", err
	}
	file, err := os.Create(filePath)
	if err != nil {
		return "", err
	}
	return filePath, file.Close()
}

// Creates the file with the given content and returns its path. The
// existing file is overwritten.
func (sb *Sandbox) Write(name string, content string) (string, error) {
	filePath, err := sb.Join(name)
	if err != nil {
		return "", err
	}
	if err = os.WriteFile(filePath, []byte(content), 0o600); err != nil {
		return "", err
	}
	return filePath, nil
}
