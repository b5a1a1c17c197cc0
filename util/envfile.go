package mapperutil

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// Defines an interfaces that accepts the environment variables.
type EnvironmentVariableSetter interface {
	Set(key, value string) error
}

// Single entry of the environment file.
type environmentEntry struct {
	key   string
	value string
}

// Loads all entries from the environment file into the setter objects.
// The entries are passed to the setters in the file order.
func LoadEnvironmentFileToSetter(path string, setters ...EnvironmentVariableSetter) error {
	entries, err := loadEnvironmentFile(path)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		for _, setter := range setters {
			err = setter.Set(entry.key, entry.value)
			if err != nil {
				err = errors.WithMessagef(err, "cannot set value for key: '%s'", entry.key)
				return err
			}
		}
	}

	return nil
}

// Loads all entries from the environment file.
func LoadEnvironmentFile(path string) (map[string]string, error) {
	entries, err := loadEnvironmentFile(path)
	if err != nil {
		return nil, err
	}
	data := make(map[string]string, len(entries))
	for _, entry := range entries {
		data[entry.key] = entry.value
	}
	return data, nil
}

func loadEnvironmentFile(path string) ([]environmentEntry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open the '%s' environment file", path)
	}
	defer file.Close()
	return loadEnvironmentEntries(file)
}

// Loads all entries from a given reader. A repeated key keeps the
// position of its first occurrence and the value of the last one.
func loadEnvironmentEntries(reader io.Reader) ([]environmentEntry, error) {
	var entries []environmentEntry
	indexes := make(map[string]int)
	scanner := bufio.NewScanner(reader)

	lineIdx := 0
	for scanner.Scan() {
		lineIdx++
		key, value, err := loadEnvironmentLine(scanner.Text())
		if err != nil {
			return nil, errors.WithMessagef(err, "invalid line %d of environment file", lineIdx)
		}
		if key == "" {
			// Comment or blank line.
			continue
		}
		if index, ok := indexes[key]; ok {
			entries[index].value = value
			continue
		}
		indexes[key] = len(entries)
		entries = append(entries, environmentEntry{key: key, value: value})
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "cannot read the environment file")
	}

	return entries, nil
}

// Parses a line of the environment file. The optional export keyword
// and the quotes surrounding the value are stripped.
func loadEnvironmentLine(line string) (string, string, error) {
	line = strings.TrimSpace(line)

	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", nil
	}

	line = strings.TrimPrefix(line, "export ")

	key, value, ok := strings.Cut(line, "=")
	if !ok {
		return "", "", errors.Errorf("line must contain the key and value separated by the '=' sign")
	}

	key = strings.TrimSpace(key)
	if key == "" {
		return "", "", errors.Errorf("key cannot be empty")
	}

	value = strings.TrimSpace(value)
	if len(value) >= 2 {
		first, last := value[0], value[len(value)-1]
		if first == last && (first == '"' || first == '\'') {
			value = value[1 : len(value)-1]
		}
	}

	return key, value, nil
}

// Sets the environment variables of the current process. The variables
// already present in the environment are not overridden.
type ProcessEnvironmentVariableSetter struct{}

// Constructs the process environment variable setter.
func NewProcessEnvironmentVariableSetter() *ProcessEnvironmentVariableSetter {
	return &ProcessEnvironmentVariableSetter{}
}

// Implements the EnvironmentVariableSetter interface.
func (s *ProcessEnvironmentVariableSetter) Set(key, value string) error {
	if _, ok := os.LookupEnv(key); ok {
		return nil
	}
	return errors.Wrapf(os.Setenv(key, value), "cannot set the '%s' environment variable", key)
}

// Remembers the environment variables of the current process and returns
// a function restoring them. It drops the variables loaded from the
// environment file before it is loaded again.
func CreateEnvironmentRestorePoint() func() {
	originalEnv := os.Environ()

	return func() {
		originalEnvDict := make(map[string]string, len(originalEnv))
		for _, pair := range originalEnv {
			key, value, _ := strings.Cut(pair, "=")
			originalEnvDict[key] = value
		}

		for _, actualPair := range os.Environ() {
			actualKey, actualValue, _ := strings.Cut(actualPair, "=")
			originalValue, exist := originalEnvDict[actualKey]
			if !exist {
				os.Unsetenv(actualKey)
			} else if actualValue != originalValue {
				os.Setenv(actualKey, originalValue)
			}
			delete(originalEnvDict, actualKey)
		}

		for originalKey, originalValue := range originalEnvDict {
			os.Setenv(originalKey, originalValue)
		}
	}
}
