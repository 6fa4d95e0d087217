// Package api defines the job schema for the comfypod worker: the
// generation input accepted by the HTTP endpoint, the job record returned
// to callers, the job status lifecycle, and the structured error types
// used across all layers.
//
// The wire format follows the RunPod serverless job contract: a job body
// carries an "input" object with the generation parameters, and status
// responses carry the job id, status, and (on completion) the output
// image locations.
package api
