// Package comfy is the client side of the ComfyUI HTTP and WebSocket API,
// plus supervision of a locally launched ComfyUI process.
//
// The engine is treated as opaque: this package queues prompts, polls
// history for completion, downloads output images, and relays progress
// messages. Polling is the completion authority; the WebSocket tracker is
// advisory and a broken socket never fails a job.
package comfy
