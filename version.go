package dhcpmapper

import "time"

// Version and build date of the application. They are overridden at
// link time with -ldflags "-X dhcpmapper.Version=... -X dhcpmapper.BuildDate=...".
var (
	Version   = "1.0.0"
	BuildDate = "unset"
)

// Returns the current time in UTC.
func UTCNow() time.Time {
	return time.Now().UTC()
}
