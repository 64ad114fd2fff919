// Package types defines the public identifiers and typed errors shared by the
// dspload packages: library/module/instance ids, entry points, and the stable
// error categories callers branch on.
package types
