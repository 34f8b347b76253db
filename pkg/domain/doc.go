// Package domain holds the core vocabulary of pipechat: annotation
// types, tool descriptors, stream events, and the sentinel errors shared
// by every layer. It has no dependencies beyond the standard library.
package domain
