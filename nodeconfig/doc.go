// Package nodeconfig synthesizes the configuration document consumed by the
// relay binary.
//
// The document is a JSON tree covering the listener, the credential table,
// QUIC tuning and the TLS certificate paths. All protocol parameters are
// fixed constants; the only variable inputs are the port, the node
// credential and the certificate file locations. Given identical inputs
// (including an explicit admin secret) repeated renders encode to identical
// bytes, which downstream compatibility tests rely on.
//
// The admin-endpoint secret is the one deliberately unstable field: it is
// sampled fresh on every render and never persisted, so a re-provisioned but
// otherwise identical node still rotates its management credential.
package nodeconfig
