package mapperutil

import (
	"fmt"
	"os"
	"path"
	"runtime"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Name of the environment variable selecting the logging level.
const LogLevelEnvironmentVariable = "LOG_LEVEL"

// Configures the global logger. The level is read from the LOG_LEVEL
// environment variable and defaults to INFO.
func SetupLogging() {
	log.SetLevel(log.InfoLevel)
	if value, ok := os.LookupEnv(LogLevelEnvironmentVariable); ok && value != "" {
		level, err := log.ParseLevel(value)
		if err != nil {
			log.WithError(err).Warnf("Invalid %s value, using %s", LogLevelEnvironmentVariable, log.InfoLevel)
		} else {
			log.SetLevel(level)
		}
	}
	log.SetOutput(os.Stdout)
	log.SetReportCaller(true)
	log.SetFormatter(&log.TextFormatter{
		ForceColors:     true,
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
		CallerPrettyfier: func(f *runtime.Frame) (string, string) {
			// Grab filename and line of current frame and add it to log entry
			_, filename := path.Split(f.File)
			return "", fmt.Sprintf("%20v:%-5d", filename, f.Line)
		},
	})
}

// Checks if the key names a credential.
func isSensitiveKey(key string) bool {
	key = strings.ToLower(key)
	for _, keyword := range []string{"password", "token", "secret"} {
		if strings.Contains(key, keyword) {
			return true
		}
	}
	return false
}

// Replaces the values of the credential keys with nil. It walks the
// nested maps.
func HideSensitiveData(data *map[string]any) {
	for key, value := range *data {
		if isSensitiveKey(key) {
			(*data)[key] = nil
			continue
		}
		if nested, ok := value.(map[string]any); ok {
			HideSensitiveData(&nested)
		}
	}
}
