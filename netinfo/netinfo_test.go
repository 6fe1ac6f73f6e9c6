package netinfo

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestResolver(ipEndpoints []string, geoEndpoint string) *Resolver {
	return &Resolver{
		Client:      &http.Client{Timeout: time.Second},
		IPEndpoints: ipEndpoints,
		GeoEndpoint: geoEndpoint,
		DNSResolver: "", // fallback disabled in tests
		Log:         testLogger(),
	}
}

func echoServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func failingServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestResolve_IPAndCountry(t *testing.T) {
	ipSrv := echoServer(t, "203.0.113.5\n")
	geoSrv := echoServer(t, "US\n")

	r := newTestResolver([]string{ipSrv.URL}, geoSrv.URL+"/line/%s")
	info := r.Resolve(context.Background())
	assert.Equal(t, "203.0.113.5", info.IP)
	assert.Equal(t, "US", info.Country)
}

func TestResolve_MalformedIPRejected(t *testing.T) {
	for _, body := range []string{
		"not-an-ip",
		"203.0.113",
		"203.0.113.5.9",
		"1234.0.0.1",
		"<html>203.0.113.5</html>",
	} {
		ipSrv := echoServer(t, body)
		r := newTestResolver([]string{ipSrv.URL}, "http://unused/%s")
		info := r.Resolve(context.Background())
		assert.Equal(t, IPPlaceholder, info.IP, "Body %q should be rejected", body)
	}
}

func TestResolve_EndpointFallback(t *testing.T) {
	primary := failingServer(t)
	secondary := echoServer(t, "198.51.100.7")
	geoSrv := echoServer(t, "DE")

	r := newTestResolver([]string{primary.URL, secondary.URL}, geoSrv.URL+"/line/%s")
	info := r.Resolve(context.Background())
	assert.Equal(t, "198.51.100.7", info.IP, "Second endpoint should be consulted after the first fails")
	assert.Equal(t, "DE", info.Country)
}

func TestResolve_GeoSoftFail(t *testing.T) {
	ipSrv := echoServer(t, "203.0.113.5")

	for name, geoSrv := range map[string]*httptest.Server{
		"failing":   failingServer(t),
		"empty":     echoServer(t, ""),
		"malformed": echoServer(t, "United States"),
	} {
		r := newTestResolver([]string{ipSrv.URL}, geoSrv.URL+"/line/%s")
		info := r.Resolve(context.Background())
		assert.Equal(t, "203.0.113.5", info.IP, "case %s", name)
		assert.Equal(t, CountryUnknown, info.Country, "case %s should degrade to the sentinel", name)
	}
}

func TestResolve_GeoSkippedWithoutIP(t *testing.T) {
	ipSrv := failingServer(t)
	geoSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("Geo lookup must be skipped when IP discovery failed")
	}))
	defer geoSrv.Close()

	r := newTestResolver([]string{ipSrv.URL}, geoSrv.URL+"/line/%s")
	info := r.Resolve(context.Background())
	assert.Equal(t, IPPlaceholder, info.IP)
	assert.Equal(t, CountryUnknown, info.Country)
}

// startDNSServer serves a fixed A record for every query on a loopback UDP
// socket and returns its address.
func startDNSServer(t *testing.T, ip string) string {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := &dns.Server{
		PacketConn: pc,
		Handler: dns.HandlerFunc(func(w dns.ResponseWriter, req *dns.Msg) {
			reply := new(dns.Msg)
			reply.SetReply(req)
			rr, err := dns.NewRR(req.Question[0].Name + " 60 IN A " + ip)
			if err == nil {
				reply.Answer = append(reply.Answer, rr)
			}
			w.WriteMsg(reply)
		}),
	}
	started := make(chan struct{})
	srv.NotifyStartedFunc = func() { close(started) }
	go srv.ActivateAndServe()
	t.Cleanup(func() { srv.Shutdown() })
	<-started

	return pc.LocalAddr().String()
}

func TestResolve_DNSFallback(t *testing.T) {
	geoSrv := echoServer(t, "NL")

	// Both HTTP echo endpoints are dead; only the DNS resolver can answer.
	r := newTestResolver([]string{"http://127.0.0.1:1"}, geoSrv.URL+"/line/%s")
	r.DNSResolver = startDNSServer(t, "203.0.113.9")

	info := r.Resolve(context.Background())
	assert.Equal(t, "203.0.113.9", info.IP, "DNS fallback should supply the public IP")
	assert.Equal(t, "NL", info.Country, "Geo lookup should run against the DNS-discovered IP")
}

func TestResolve_NeverFails(t *testing.T) {
	// Unroutable endpoints; Resolve must still return promptly with sentinels.
	r := newTestResolver([]string{"http://127.0.0.1:1"}, "http://127.0.0.1:1/%s")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	info := r.Resolve(ctx)
	require.Equal(t, Info{IP: IPPlaceholder, Country: CountryUnknown}, info)
}
