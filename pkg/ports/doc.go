// Package ports declares the interfaces pipechat's core calls out
// through: the reasoning capability that proposes tool selections and
// the pipeline persistence store. Adapters implement these under
// internal/adapters; the contract suite in ports/tests verifies store
// implementations uniformly.
package ports
