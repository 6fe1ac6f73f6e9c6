// Package sharelink renders the tuic:// connection URI handed to clients.
package sharelink

import (
	"fmt"

	"tuic-node/identity"
	"tuic-node/netinfo"
)

// Client-side connection parameters mirrored in every link. These must agree
// with the rendered server configuration.
const (
	CongestionControl = "bbr"
	ALPN              = "h3"
	UDPRelayMode      = "native"
	MaxUDPPacketSize  = 8192
	LabelPrefix       = "TUIC"
)

// Encode renders the share link for a provisioned node. The query parameter
// order is fixed; clients treat the link as opaque but compatibility tests
// compare it verbatim. Callers are responsible for passing complete inputs.
func Encode(cred identity.Credential, info netinfo.Info, port int, sni string) string {
	return fmt.Sprintf(
		"tuic://%s:%s@%s:%d"+
			"?congestion_control=%s"+
			"&alpn=%s"+
			"&allowInsecure=1"+
			"&sni=%s"+
			"&udp_relay_mode=%s"+
			"&disable_sni=0"+
			"&reduce_rtt=1"+
			"&max_udp_relay_packet_size=%d"+
			"#%s-%s",
		cred.ID, cred.Secret, info.IP, port,
		CongestionControl, ALPN, sni, UDPRelayMode, MaxUDPPacketSize,
		LabelPrefix, info.Country,
	)
}
