//go:build !profiler

package profiler

import log "github.com/sirupsen/logrus"

// Used when the mapper is built without the profiler tag.
func Start(address string) func() {
	log.WithField("address", address).Warn("Profiler is not available in this build")
	return func() {}
}
