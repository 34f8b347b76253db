// Package session holds the per-conversation unit of state. Each
// session owns exactly one pipeline graph, one ordered event log, and
// one turn machine; the registry package manages their lifecycle.
package session
