// Package engine implements the core orchestration logic for comfypod.
// The Engine struct implements transport.JobService, bridging incoming
// job requests to a ComfyUI instance. It validates inputs, splices them
// into the workflow template, queues prompts, relays progress, collects
// output images, and hands them to the uploader. A single worker
// goroutine drains a bounded queue so jobs execute serially, one at a
// time on the GPU.
package engine
