// Package netinfo discovers the node's public IPv4 address and approximate
// country code.
//
// Neither lookup is load-bearing for the relay itself; they only feed the
// printed summary and the share link. Both therefore degrade instead of
// failing: the pipeline always proceeds, substituting a placeholder address
// or the "XX" country sentinel when a lookup cannot complete. Every outbound
// call carries a bounded timeout so a dead endpoint cannot hang provisioning.
//
// IP discovery tries two HTTP echo services in order and finally falls back
// to a DNS query against OpenDNS. Echo responses are accepted only when they
// strictly match a dotted-quad pattern; octet ranges are deliberately not
// validated beyond digit count.
package netinfo
