// Package provision orchestrates node setup and the handoff to the relay
// binary.
//
// The pipeline runs strictly sequentially: serving certificate, relay
// executable, node credential, rendered configuration, network identity,
// share link, summary, launch. Each stage is idempotent on its own; the
// orchestrator is the only component with cross-stage ordering knowledge.
//
// Failure policy is two-class. Certificate generation, binary provisioning,
// credential persistence and configuration rendering are fatal: the first
// error aborts the run with no retries and no partial-state recovery beyond
// what each stage guarantees itself. Network discovery is degraded-only and
// can never abort a run.
//
// A working-directory file lock rejects concurrent invocations against the
// same state directory, which would otherwise race lazily-created files.
package provision
