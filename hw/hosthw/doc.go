// Package hosthw implements the hw collaborator interfaces in process: a
// sparse page-table mapper over host memory, a reader-fed DMA channel that
// honors the pending/reload protocol, and counting clock, allocator, and
// cache implementations.
//
// It serves two roles: the backend for dsploadctl when exercising the
// pipeline on a host, and the reference semantics integration tests assert
// against. Every implementation keeps call counters so tests can verify that
// rollback paths return the system to its pre-call state.
package hosthw
