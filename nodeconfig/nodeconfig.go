package nodeconfig

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"tuic-node/identity"
)

// Fixed protocol parameters of the rendered document. The relay binary is
// tuned for small containers: generous QUIC windows but a hard cap on
// external packet size and aggressive garbage collection of relay state.
const (
	AuthTimeout            = "10s"
	TaskNegotiationTimeout = "5s"
	GCInterval             = "10s"
	GCLifetime             = "10s"
	MaxExternalPacketSize  = 8192

	InitialMTU        = 1500
	MinMTU            = 1200
	SendWindow        = 8 << 20
	ReceiveWindow     = 4 << 20
	MaxIdleTime       = "20s"
	CongestionControl = "bbr"
	InitialWindow     = 4 << 20
)

// ALPNHTTP3 is the single ALPN value the listener advertises.
const ALPNHTTP3 = "h3"

// AdminSecretBytes is the entropy of a sampled admin-endpoint secret.
const AdminSecretBytes = 16

// RenderOpts are the inputs a document is derived from.
type RenderOpts struct {
	Port       int
	Credential identity.Credential
	CertPath   string
	KeyPath    string

	// AdminSecret protects the relay's loopback management endpoint. When
	// empty a fresh random secret is sampled; it is intentionally never
	// persisted, so every run's document carries a different one.
	AdminSecret string
}

// Document is the relay server configuration. Field order matters: the
// encoded form must be byte-for-byte reproducible for identical inputs.
type Document struct {
	LogLevel               string            `json:"log_level"`
	Server                 string            `json:"server"`
	UDPRelayIPv6           bool              `json:"udp_relay_ipv6"`
	ZeroRTTHandshake       bool              `json:"zero_rtt_handshake"`
	DualStack              bool              `json:"dual_stack"`
	AuthTimeout            string            `json:"auth_timeout"`
	TaskNegotiationTimeout string            `json:"task_negotiation_timeout"`
	GCInterval             string            `json:"gc_interval"`
	GCLifetime             string            `json:"gc_lifetime"`
	MaxExternalPacketSize  int               `json:"max_external_packet_size"`
	Users                  map[string]string `json:"users"`
	Restful                Restful           `json:"restful"`
	QUIC                   QUIC              `json:"quic"`
	TLS                    TLS               `json:"tls"`
}

// Restful is the loopback management endpoint of the relay binary.
type Restful struct {
	Addr                  string `json:"addr"`
	Secret                string `json:"secret"`
	MaximumClientsPerUser uint32 `json:"maximum_clients_per_user"`
}

type QUIC struct {
	InitialMTU        int        `json:"initial_mtu"`
	MinMTU            int        `json:"min_mtu"`
	GSO               bool       `json:"gso"`
	PMTU              bool       `json:"pmtu"`
	SendWindow        int        `json:"send_window"`
	ReceiveWindow     int        `json:"receive_window"`
	MaxIdleTime       string     `json:"max_idle_time"`
	CongestionControl Congestion `json:"congestion_control"`
}

type Congestion struct {
	Controller    string `json:"controller"`
	InitialWindow int    `json:"initial_window"`
}

type TLS struct {
	SelfSign    bool     `json:"self_sign"`
	Certificate string   `json:"certificate"`
	PrivateKey  string   `json:"private_key"`
	ALPN        []string `json:"alpn"`
}

// Render derives the complete server configuration from opts. Aside from the
// admin secret (sampled here when unset) the result is a pure function of
// its inputs.
func Render(opts RenderOpts) (*Document, error) {
	secret := opts.AdminSecret
	if secret == "" {
		buf := make([]byte, AdminSecretBytes)
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("failed to sample admin secret: %w", err)
		}
		secret = hex.EncodeToString(buf)
	}

	return &Document{
		LogLevel:               "off",
		Server:                 fmt.Sprintf("0.0.0.0:%d", opts.Port),
		UDPRelayIPv6:           false,
		ZeroRTTHandshake:       true,
		DualStack:              false,
		AuthTimeout:            AuthTimeout,
		TaskNegotiationTimeout: TaskNegotiationTimeout,
		GCInterval:             GCInterval,
		GCLifetime:             GCLifetime,
		MaxExternalPacketSize:  MaxExternalPacketSize,
		Users: map[string]string{
			opts.Credential.ID: opts.Credential.Secret,
		},
		Restful: Restful{
			Addr:                  fmt.Sprintf("127.0.0.1:%d", opts.Port),
			Secret:                secret,
			MaximumClientsPerUser: ^uint32(0),
		},
		QUIC: QUIC{
			InitialMTU:    InitialMTU,
			MinMTU:        MinMTU,
			GSO:           true,
			PMTU:          true,
			SendWindow:    SendWindow,
			ReceiveWindow: ReceiveWindow,
			MaxIdleTime:   MaxIdleTime,
			CongestionControl: Congestion{
				Controller:    CongestionControl,
				InitialWindow: InitialWindow,
			},
		},
		TLS: TLS{
			SelfSign:    false,
			Certificate: opts.CertPath,
			PrivateKey:  opts.KeyPath,
			ALPN:        []string{ALPNHTTP3},
		},
	}, nil
}

// Encode renders the document as indented JSON with a trailing newline.
func (d *Document) Encode() ([]byte, error) {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode configuration: %w", err)
	}
	return append(data, '\n'), nil
}

// WriteFile encodes the document to path. Failure is fatal to provisioning.
func (d *Document) WriteFile(path string) error {
	data, err := d.Encode()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write configuration: %w", err)
	}
	return nil
}
