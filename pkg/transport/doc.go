// Package transport defines the contracts between the HTTP surface and
// the job engine: the JobRunner execution interface with its middleware
// chain, the JobService operations the HTTP adapter exposes, the JobStore
// persistence interface, and the mapping from structured API errors to
// HTTP status codes.
package transport
