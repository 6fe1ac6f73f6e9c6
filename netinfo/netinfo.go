package netinfo

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/miekg/dns"
)

const (
	// IPPlaceholder substitutes the public address when every lookup fails.
	IPPlaceholder = "<unknown-ip>"

	// CountryUnknown substitutes the country code when geolocation fails.
	CountryUnknown = "XX"

	// LookupTimeout bounds every outbound lookup call.
	LookupTimeout = 5 * time.Second
)

// maxResponseBytes caps how much of a lookup response is read; both services
// reply with a handful of bytes.
const maxResponseBytes = 256

var defaultIPEndpoints = []string{
	"https://api.ipify.org",
	"https://ipv4.icanhazip.com",
}

const (
	defaultGeoEndpoint = "http://ip-api.com/line/%s?fields=countryCode"
	defaultDNSResolver = "resolver1.opendns.com:53"
	myIPQuestion       = "myip.opendns.com."
)

// Dotted quad, four groups of 1-3 digits. No octet range validation.
var ipv4Pattern = regexp.MustCompile(`^\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}$`)

var countryPattern = regexp.MustCompile(`^[A-Z]{2}$`)

// Info is the node's discovered network identity. Both fields may hold
// substitute sentinels; consumers must not assume they are real values.
type Info struct {
	IP      string
	Country string
}

// Resolver discovers the node's public IPv4 address and country code.
// Every failure degrades to a substitute value; Resolve never fails.
type Resolver struct {
	// Client performs the HTTP lookups; it should carry a short timeout.
	Client *http.Client

	// IPEndpoints are tried in order until one returns a valid dotted quad.
	IPEndpoints []string

	// GeoEndpoint is a format string taking the resolved IP.
	GeoEndpoint string

	// DNSResolver is the address for the DNS-based IP fallback. Empty
	// disables the fallback.
	DNSResolver string

	Log *slog.Logger
}

// NewResolver returns a Resolver with the default endpoints and a bounded
// lookup timeout.
func NewResolver(log *slog.Logger) *Resolver {
	return &Resolver{
		Client:      &http.Client{Timeout: LookupTimeout},
		IPEndpoints: defaultIPEndpoints,
		GeoEndpoint: defaultGeoEndpoint,
		DNSResolver: defaultDNSResolver,
		Log:         log,
	}
}

// Resolve discovers the public IP, then geolocates it. Geolocation is
// skipped when the IP lookup already failed.
func (r *Resolver) Resolve(ctx context.Context) Info {
	ip := r.lookupIP(ctx)
	country := CountryUnknown
	if ip != IPPlaceholder {
		country = r.lookupCountry(ctx, ip)
	}
	return Info{IP: ip, Country: country}
}

func (r *Resolver) lookupIP(ctx context.Context) string {
	for _, endpoint := range r.IPEndpoints {
		body, err := r.get(ctx, endpoint)
		if err != nil {
			r.Log.Debug("IP echo lookup failed", slog.String("endpoint", endpoint), "err", err)
			continue
		}
		ip := strings.TrimSpace(body)
		if ipv4Pattern.MatchString(ip) {
			return ip
		}
		r.Log.Debug("IP echo returned malformed address", slog.String("endpoint", endpoint))
	}

	if r.DNSResolver != "" {
		if ip, err := r.lookupIPDNS(ctx); err == nil {
			return ip
		} else {
			r.Log.Debug("DNS IP fallback failed", "err", err)
		}
	}

	r.Log.Warn("Public IP discovery failed, using placeholder")
	return IPPlaceholder
}

// lookupIPDNS asks OpenDNS for myip.opendns.com, which resolves to the
// querying host's public address.
func (r *Resolver) lookupIPDNS(ctx context.Context) (string, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(myIPQuestion, dns.TypeA)

	client := &dns.Client{Timeout: LookupTimeout}
	reply, _, err := client.ExchangeContext(ctx, msg, r.DNSResolver)
	if err != nil {
		return "", err
	}
	for _, answer := range reply.Answer {
		if a, ok := answer.(*dns.A); ok {
			ip := a.A.String()
			if ipv4Pattern.MatchString(ip) {
				return ip, nil
			}
		}
	}
	return "", fmt.Errorf("no A record in reply from %s", r.DNSResolver)
}

func (r *Resolver) lookupCountry(ctx context.Context, ip string) string {
	body, err := r.get(ctx, fmt.Sprintf(r.GeoEndpoint, ip))
	if err != nil {
		r.Log.Debug("Geo lookup failed", "err", err)
		return CountryUnknown
	}
	country := strings.TrimSpace(body)
	if !countryPattern.MatchString(country) {
		r.Log.Debug("Geo lookup returned unexpected body")
		return CountryUnknown
	}
	return country
}

func (r *Resolver) get(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := r.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("server returned %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", err
	}
	return string(body), nil
}
