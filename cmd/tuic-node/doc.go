// Command tuic-node provisions a single TUIC relay node and launches it.
//
// The tool is designed for repeated invocation on resource-constrained
// container panels: every run converges to the same persisted node identity
// instead of re-randomizing state. Configuration comes from flags,
// TUIC_*-prefixed environment variables, an optional .env file in the
// current directory, and an optional TOML file, in descending precedence.
//
// Exit codes: 2 for an unsupported host architecture, 3 for a failed relay
// binary download, 1 for any other fatal provisioning error. When the relay
// binary is launched, its own exit code is propagated.
package main
