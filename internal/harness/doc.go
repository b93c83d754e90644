// Package harness runs scenario conformance cases described in YAML and
// compares their activity traces against golden files.
//
// A case names a scenario document, a tick count, and a seed; the harness
// executes it with sequential token IDs so the trace is reproducible, then
// checks the case's assertions and, optionally, a canonical-JSON golden
// snapshot of the full trace.
package harness
