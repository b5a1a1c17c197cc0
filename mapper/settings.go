package mapper

import (
	"net"
	"time"

	"github.com/asaskevich/govalidator"
	"github.com/pkg/errors"

	"dhcpmapper/publisher"
	"dhcpmapper/router"
)

// Synchronizer settings.
type Settings struct {
	Router router.ClientConfig
	// Internal identifier of the DHCP interface whose page provides the
	// NTP and DNS servers, e.g. "lan".
	InterfaceID string
	// Interface label the leases are filtered by. Defaults to the
	// interface identifier.
	InterfaceDescription string
	ExcludeHostname      string
	SyncInterval         time.Duration
	SyncAtStartup        bool

	PublishEnabled bool
	RabbitMQ       publisher.Settings

	// Address of the Prometheus metrics listener. Empty disables it.
	MetricsAddress string
}

// Returns the interface label the leases are filtered by.
func (s *Settings) InterfaceFilter() string {
	if s.InterfaceDescription != "" {
		return s.InterfaceDescription
	}
	return s.InterfaceID
}

// Checks if the required settings are provided and well-formed.
func (s *Settings) Validate() error {
	switch {
	case s.Router.BaseURL == "":
		return errors.New("router base URL is not set")
	case !govalidator.IsURL(s.Router.BaseURL):
		return errors.Errorf("invalid router base URL: '%s'", s.Router.BaseURL)
	case s.Router.Login == "":
		return errors.New("router login is not set")
	case s.Router.Password == "":
		return errors.New("router password is not set")
	case s.Router.ClientID == "":
		return errors.New("router API client ID is not set")
	case s.Router.AccessToken == "":
		return errors.New("router API access token is not set")
	case s.InterfaceID == "":
		return errors.New("DHCP interface identifier is not set")
	case s.SyncInterval <= 0:
		return errors.Errorf("sync interval must be positive, got %s", s.SyncInterval)
	case s.Router.Timeout < 0:
		return errors.Errorf("request timeout must not be negative, got %s", s.Router.Timeout)
	}

	if s.MetricsAddress != "" {
		host, port, err := net.SplitHostPort(s.MetricsAddress)
		if err != nil {
			return errors.Wrapf(err, "invalid metrics address: '%s'", s.MetricsAddress)
		}
		if host != "" && !govalidator.IsHost(host) {
			return errors.Errorf("invalid metrics host: '%s'", host)
		}
		if !govalidator.IsPort(port) {
			return errors.Errorf("invalid metrics port: '%s'", port)
		}
	}

	if s.PublishEnabled {
		if err := s.RabbitMQ.Validate(); err != nil {
			return errors.WithMessage(err, "invalid RabbitMQ settings")
		}
	}
	return nil
}
