// Package cryptoutils manages the self-signed TLS serving certificate for
// the relay node.
//
// The relay protocol masquerades as ordinary HTTPS traffic, so the
// certificate's common name is a decoy domain rather than anything the node
// actually owns. Clients connect with certificate validation disabled; the
// certificate only has to exist and be well formed for the QUIC handshake to
// complete. Chain of trust does not matter here.
//
// EnsureServingCert is idempotent: a valid on-disk pair is reused byte for
// byte, and a new ECDSA P-256 pair is generated only when the files are
// missing, unreadable, inconsistent, or expired. The private key is written
// with owner-only permissions.
//
// Note that reuse deliberately ignores the requested common name: a still
// valid certificate generated for an earlier decoy domain is kept as-is even
// when the current invocation sampled a different domain.
package cryptoutils
