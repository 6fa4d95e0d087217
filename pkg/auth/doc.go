// Package auth guards the worker's job API.
//
// Authenticators form a chain with three-outcome voting: Allow commits
// to an identity, Deny rejects the request, Abstain passes to the next
// authenticator. A configurable default decision covers the all-abstain
// case. Auth runs as HTTP middleware ahead of the job routes, which also
// lets it inject the caller's tenant into the request context for
// storage scoping and feed the rate limiter.
package auth
