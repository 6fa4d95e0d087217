// Command submit sends a generation job to a comfypod worker and renders
// live progress while polling its status.
//
// Usage:
//
//	submit -addr http://localhost:8000 -positive "a watercolor fox" -steps 30
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/comfypod/comfypod/pkg/api"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "submit:", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "http://localhost:8000", "worker base URL")
	apiKey := flag.String("api-key", "", "bearer token, if the worker requires one")
	positive := flag.String("positive", "", "positive prompt")
	negative := flag.String("negative", "", "negative prompt")
	seed := flag.Int64("seed", -1, "sampler seed, -1 for the template default")
	steps := flag.Int("steps", 0, "sampling steps, 0 for the template default")
	cfgScale := flag.Float64("cfg", 0, "guidance scale, 0 for the template default")
	width := flag.Int("width", 0, "image width, 0 for the template default")
	height := flag.Int("height", 0, "image height, 0 for the template default")
	ckpt := flag.String("ckpt", "", "checkpoint file name")
	interval := flag.Duration("interval", 500*time.Millisecond, "status poll interval")
	timeout := flag.Duration("timeout", 30*time.Minute, "overall deadline")
	flag.Parse()

	input := &api.GenerationInput{}
	if *positive != "" {
		input.Positive = positive
	}
	if *negative != "" {
		input.Negative = negative
	}
	if *seed >= 0 {
		input.Seed = seed
	}
	if *steps > 0 {
		input.Steps = steps
	}
	if *cfgScale > 0 {
		input.CFG = cfgScale
	}
	if *width > 0 {
		input.Width = width
	}
	if *height > 0 {
		input.Height = height
	}
	if *ckpt != "" {
		input.CheckpointName = ckpt
	}

	c := &client{base: *addr, apiKey: *apiKey, httpc: &http.Client{Timeout: 30 * time.Second}}

	id, err := c.submit(&api.JobRequest{Input: input})
	if err != nil {
		return err
	}
	fmt.Println("job", id)

	job, err := c.watch(id, *interval, *timeout)
	if err != nil {
		return err
	}

	switch job.Status {
	case api.JobStatusCompleted:
		for _, img := range job.Output.Images {
			switch {
			case img.URL != "":
				fmt.Println(img.URL)
			default:
				fmt.Println(img.LocalPath)
			}
		}
		return nil
	default:
		if job.Error != nil {
			return fmt.Errorf("job %s: %s", job.Status, job.Error.Message)
		}
		return fmt.Errorf("job finished with status %s", job.Status)
	}
}

type client struct {
	base   string
	apiKey string
	httpc  *http.Client
}

func (c *client) submit(req *api.JobRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequest(http.MethodPost, c.base+"/run", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.authorize(httpReq)

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", decodeError(resp)
	}

	var queued struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&queued); err != nil {
		return "", err
	}
	return queued.ID, nil
}

// watch polls the job status until it reaches a terminal state, driving
// a progress bar from the reported sampler progress.
func (c *client) watch(id string, interval, timeout time.Duration) (*api.Job, error) {
	deadline := time.Now().Add(timeout)

	var bar *progressbar.ProgressBar
	for time.Now().Before(deadline) {
		job, err := c.status(id)
		if err != nil {
			return nil, err
		}

		if p := job.Progress; p != nil && p.Max > 0 {
			if bar == nil {
				bar = progressbar.Default(int64(p.Max), "sampling")
			}
			bar.Set(p.Value)
		}

		if job.Terminal() {
			if bar != nil {
				bar.Finish()
				fmt.Println()
			}
			return job, nil
		}
		time.Sleep(interval)
	}

	return nil, fmt.Errorf("job %s still running after %s", id, timeout)
}

func (c *client) status(id string) (*api.Job, error) {
	httpReq, err := http.NewRequest(http.MethodGet, c.base+"/status/"+id, nil)
	if err != nil {
		return nil, err
	}
	c.authorize(httpReq)

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}

	var job api.Job
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (c *client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// decodeError turns a non-200 response into a readable error.
func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var body api.ErrorResponse
	if err := json.Unmarshal(data, &body); err == nil && body.Error != nil {
		return fmt.Errorf("worker returned %d: %s", resp.StatusCode, body.Error.Message)
	}
	return fmt.Errorf("worker returned %d: %s", resp.StatusCode, bytes.TrimSpace(data))
}
