package router

import (
	"context"
	"crypto/tls"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"dhcpmapper/lease"
)

// Default HTTP client timeout.
const DefaultTimeout = 10 * time.Second

// Paths of the router web UI pages and API endpoints.
const (
	loginPath        = "/"
	dhcpPagePath     = "/services_dhcp.php"
	dhcpEditPagePath = "/services_dhcp_edit.php"
	leaseSearchPath  = "/api/dhcpv4/leases/searchLease"
)

// Marker present in every page rendered for an unauthenticated session.
const loginPageMarker = "page-login"

// Header carrying the CSRF token.
const csrfHeader = "X-CSRFToken"

// Router client configuration.
type ClientConfig struct {
	// Base URL of the router web UI, e.g. https://192.168.1.1.
	BaseURL string
	// Web UI credentials.
	Login    string
	Password string
	// API key and secret attached as HTTP basic auth to all requests.
	ClientID    string
	AccessToken string
	// SkipTLSVerification indicates if the client should skip the
	// verification of the router certificate.
	SkipTLSVerification bool
	Timeout             time.Duration
}

// Settings and content of the DHCP interface page. The server fields are
// nil if the page lacks the respective inputs.
type InterfacePage struct {
	NTP            *Servers
	DNS            *Servers
	StaticMappings []StaticMapping
}

// Values of the static mapping creation form.
type StaticMappingForm struct {
	Lease lease.Candidate
	NTP   Servers
	DNS   Servers
}

// Client of the router web UI. It keeps the session cookies between the
// calls. It is not safe for concurrent authentication.
type Client struct {
	innerClient *resty.Client
	login       string
	password    string
}

// Creates the router client.
func NewClient(config ClientConfig) *Client {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	innerClient := resty.New().
		SetBaseURL(strings.TrimRight(config.BaseURL, "/")).
		SetTimeout(timeout).
		SetTLSClientConfig(&tls.Config{
			MinVersion: tls.VersionTLS12,
			//nolint:gosec // Routers commonly use self-signed certificates.
			InsecureSkipVerify: config.SkipTLSVerification,
		})

	if config.ClientID != "" || config.AccessToken != "" {
		innerClient.SetBasicAuth(config.ClientID, config.AccessToken)
	}

	return &Client{
		innerClient: innerClient,
		login:       config.Login,
		password:    config.Password,
	}
}

// Returns the underlying HTTP client.
func (c *Client) GetHTTPClient() *http.Client {
	return c.innerClient.GetClient()
}

// Creates new request bound to the context.
func (c *Client) request(ctx context.Context) *resty.Request {
	return c.innerClient.R().SetContext(ctx)
}

// Checks the response status and converts the failure to an error.
func checkResponse(response *resty.Response, err error, method, path string) error {
	if err != nil {
		return errors.Wrapf(err, "problem sending %s to %s", method, path)
	}
	if response.IsError() {
		return errors.WithStack(newHTTPStatusError(method, path, response.StatusCode(), response.String()))
	}
	return nil
}

// Checks if the session has access to the DHCP configuration page.
func (c *Client) CheckAccess(ctx context.Context) (bool, error) {
	log.Debug("Checking access to the router UI")
	response, err := c.request(ctx).Get(dhcpPagePath)
	if err != nil {
		return false, errors.Wrapf(err, "problem sending GET to %s", dhcpPagePath)
	}
	if response.IsError() || strings.Contains(response.String(), loginPageMarker) {
		log.WithField("status", response.StatusCode()).Debug("No access to the router UI")
		return false, nil
	}
	return true, nil
}

// Logs in to the web UI. The session cookie is stored in the client.
func (c *Client) Authenticate(ctx context.Context) error {
	log.Debug("Authenticating in the router UI")
	response, err := c.request(ctx).Get(loginPath)
	if err = checkResponse(response, err, http.MethodGet, loginPath); err != nil {
		return err
	}

	token, err := ExtractCSRFToken(response.String())
	if err != nil {
		return errors.WithMessage(err, "cannot find the CSRF token on the login page")
	}

	response, err = c.request(ctx).
		SetHeader(csrfHeader, token.Value).
		SetFormData(map[string]string{
			token.Name:    token.Value,
			"usernamefld": c.login,
			"passwordfld": c.password,
			"login":       "1",
		}).
		Post(loginPath)
	if err = checkResponse(response, err, http.MethodPost, loginPath); err != nil {
		return errors.WithMessage(err, "failed to authenticate")
	}

	log.Info("Authenticated in the router UI")
	return nil
}

// Makes sure the session has access to the web UI. It authenticates if
// necessary and checks the access again.
func (c *Client) EnsureAccess(ctx context.Context) error {
	ok, err := c.CheckAccess(ctx)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	if err = c.Authenticate(ctx); err != nil {
		return err
	}

	ok, err = c.CheckAccess(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return errors.WithStack(&AccessDeniedError{Login: c.login})
	}
	return nil
}

// Fetches the DHCP page of the interface and extracts the NTP and DNS
// servers and the static mapping table.
func (c *Client) FetchInterfacePage(ctx context.Context, interfaceID string) (*InterfacePage, error) {
	response, err := c.request(ctx).
		SetQueryParam("if", interfaceID).
		Get(dhcpPagePath)
	if err = checkResponse(response, err, http.MethodGet, dhcpPagePath); err != nil {
		return nil, err
	}

	doc, err := parseHTML(response.String())
	if err != nil {
		return nil, err
	}

	page := &InterfacePage{
		StaticMappings: extractStaticMappings(doc),
	}
	if page.NTP, err = extractServers(doc, "ntp"); err != nil {
		log.WithError(err).WithField("interface", interfaceID).Debug("NTP servers not found")
	}
	if page.DNS, err = extractServers(doc, "dns"); err != nil {
		log.WithError(err).WithField("interface", interfaceID).Debug("DNS servers not found")
	}
	return page, nil
}

// Fetches the lease table from the lease-search API.
func (c *Client) FetchLeases(ctx context.Context) ([]lease.Record, error) {
	log.Info("Getting the lease list from the DHCP server")
	response, err := c.request(ctx).
		SetHeader("Accept", "application/json").
		Get(leaseSearchPath)
	if err = checkResponse(response, err, http.MethodGet, leaseSearchPath); err != nil {
		return nil, errors.WithMessage(err, "failed to get the lease list")
	}
	return lease.ParseRows(response.Body())
}

// Fetches a fresh CSRF token from the edit page of the interface.
func (c *Client) FetchCSRFToken(ctx context.Context, interfaceID string) (*CSRFToken, error) {
	response, err := c.request(ctx).
		SetQueryParam("if", interfaceID).
		Get(dhcpEditPagePath)
	if err = checkResponse(response, err, http.MethodGet, dhcpEditPagePath); err != nil {
		return nil, err
	}
	return ExtractCSRFToken(response.String())
}

// Submits the static mapping creation form.
func (c *Client) CreateStaticMapping(ctx context.Context, token *CSRFToken, form StaticMappingForm) error {
	interfaceID := form.Lease.InterfaceID
	response, err := c.request(ctx).
		SetHeader(csrfHeader, token.Value).
		SetQueryParam("if", interfaceID).
		SetFormData(map[string]string{
			token.Name: token.Value,
			"mac":      form.Lease.MACAddress,
			"ipaddr":   form.Lease.IPAddress,
			"hostname": form.Lease.Hostname,
			"descr":    form.Lease.Description,
			"if":       interfaceID,
			"ntp1":     form.NTP.Primary,
			"ntp2":     form.NTP.Secondary,
			"dns1":     form.DNS.Primary,
			"dns2":     form.DNS.Secondary,
		}).
		Post(dhcpEditPagePath)
	if err = checkResponse(response, err, http.MethodPost, dhcpEditPagePath); err != nil {
		return errors.WithMessage(err, "failed to make the static mapping")
	}
	return nil
}

// Applies the pending DHCP configuration changes of the interface.
func (c *Client) ApplyChanges(ctx context.Context, token *CSRFToken, interfaceID string) error {
	response, err := c.request(ctx).
		SetHeader(csrfHeader, token.Value).
		SetQueryParam("if", interfaceID).
		SetFormData(map[string]string{
			token.Name: token.Value,
			"apply":    "Apply changes",
			"if":       interfaceID,
		}).
		Post(dhcpPagePath)
	if err = checkResponse(response, err, http.MethodPost, dhcpPagePath); err != nil {
		return errors.WithMessage(err, "failed to apply the static mapping")
	}
	return nil
}
