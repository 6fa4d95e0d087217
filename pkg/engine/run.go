package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/comfypod/comfypod/pkg/api"
	"github.com/comfypod/comfypod/pkg/comfy"
	"github.com/comfypod/comfypod/pkg/observability"
)

// runJob executes a single job against ComfyUI: splice the input into a
// fresh copy of the template, queue the prompt, relay progress, wait for
// history, collect the images, upload when configured.
func (e *Engine) runJob(ctx context.Context, job *api.Job) (*api.JobOutput, error) {
	graph, err := e.template.Apply(job.Input)
	if err != nil {
		return nil, api.NewInvalidRequestError("input", err.Error())
	}

	promptID, err := e.comfy.QueuePrompt(ctx, graph)
	if err != nil {
		var promptErr *comfy.PromptError
		if errors.As(err, &promptErr) {
			return nil, api.NewInvalidRequestError("input", promptErr.Error())
		}
		return nil, api.NewEngineError("queueing prompt: " + err.Error())
	}

	job.PromptID = promptID
	if uerr := e.store.UpdateJob(ctx, job); uerr != nil {
		e.logger.Warn("recording prompt id", "job_id", job.ID, "error", uerr)
	}

	// Progress over the websocket is advisory. A failed dial or a broken
	// socket leaves polling as the only (and sufficient) signal.
	var relayDone <-chan struct{}
	tracker, terr := e.comfy.Track(ctx)
	if terr != nil {
		e.logger.Debug("progress socket unavailable", "job_id", job.ID, "error", terr)
	} else {
		relayDone = e.relayProgress(ctx, tracker, job, promptID)
	}

	entry, err := e.comfy.WaitForPrompt(ctx, promptID, e.cfg.pollInterval())
	if tracker != nil {
		tracker.Close()
		<-relayDone
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, api.NewEngineError("waiting for prompt " + promptID + ": " + err.Error())
	}

	if entry.Failed() {
		return nil, api.NewEngineError(entry.ErrorMessage())
	}

	refs := entry.Images()
	if len(refs) == 0 {
		return nil, api.NewEngineError("execution produced no images")
	}

	output := &api.JobOutput{}
	for _, ref := range refs {
		img, err := e.collectImage(ctx, job.ID, ref)
		if err != nil {
			return nil, err
		}
		output.Images = append(output.Images, img)
	}

	return output, nil
}

// relayProgress streams websocket progress events for this prompt into
// the job record. The returned channel closes when the relay is done;
// runJob closes the tracker after polling finishes and waits on it so
// progress writes never race the terminal write.
func (e *Engine) relayProgress(ctx context.Context, tracker *comfy.Tracker, job *api.Job, promptID string) <-chan struct{} {
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-tracker.Events():
				if !ok {
					return
				}
				if ev.PromptID != "" && ev.PromptID != promptID {
					continue
				}
				switch ev.Type {
				case comfy.EventProgress:
					job.Progress = &api.Progress{Value: ev.Value, Max: ev.Max, Node: ev.NodeID}
				case comfy.EventExecuting:
					if ev.NodeID == "" {
						// Node == nil marks the end of execution.
						return
					}
					job.Progress = &api.Progress{Node: ev.NodeID}
				case comfy.EventError, comfy.EventInterrupted:
					return
				default:
					continue
				}
				if err := e.store.UpdateJob(ctx, job); err != nil {
					e.logger.Debug("writing progress", "job_id", job.ID, "error", err)
				}
			}
		}
	}()

	return done
}

// collectImage locates one generated image on the shared volume, falling
// back to fetching it over /view, and uploads it when an uploader is
// configured.
func (e *Engine) collectImage(ctx context.Context, jobID string, ref comfy.ImageRef) (api.ImageOutput, error) {
	img := api.ImageOutput{Filename: ref.Filename}

	localPath := ""
	if e.volume.Root != "" {
		p := filepath.Join(e.volume.OutputDir(), ref.Subfolder, ref.Filename)
		if _, err := os.Stat(p); err == nil {
			localPath = p
		}
	}

	if localPath == "" {
		data, err := e.comfy.View(ctx, ref)
		if err != nil {
			return img, api.NewEngineError("fetching image " + ref.Filename + ": " + err.Error())
		}
		dir := e.scratchDir(jobID)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return img, api.NewServerError("creating output dir: " + err.Error())
		}
		localPath = filepath.Join(dir, ref.Filename)
		if err := os.WriteFile(localPath, data, 0o644); err != nil {
			return img, api.NewServerError("writing image: " + err.Error())
		}
	}

	img.LocalPath = localPath

	if e.uploader != nil {
		url, err := e.uploader.UploadFile(ctx, jobID, localPath)
		if err != nil {
			return img, api.NewServerError("uploading " + ref.Filename + ": " + err.Error())
		}
		img.URL = url
		observability.UploadedImagesTotal.Inc()
		if fi, err := os.Stat(localPath); err == nil {
			observability.UploadedBytesTotal.Add(float64(fi.Size()))
		}
	}

	return img, nil
}

// scratchDir is where /view downloads land for a job.
func (e *Engine) scratchDir(jobID string) string {
	if e.volume.Root != "" {
		return e.volume.JobOutputDir(jobID)
	}
	return filepath.Join(os.TempDir(), "comfypod", jobID)
}
