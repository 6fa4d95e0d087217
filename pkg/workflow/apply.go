package workflow

import "github.com/comfypod/comfypod/pkg/api"

// Apply returns a copy of the graph with the generation input spliced in.
// The receiver is never mutated. Absent input fields leave the template's
// values untouched.
//
// Prompt text is routed by wiring: the first KSampler's positive and
// negative conditioning links are followed to their source nodes, and the
// text is set only when that source really is a CLIPTextEncode. Scalar
// sampler controls go to every KSampler, dimensions to every
// EmptyLatentImage, and the checkpoint override to every
// CheckpointLoaderSimple.
func (g Graph) Apply(in *api.GenerationInput) (Graph, error) {
	wf, err := g.Clone()
	if err != nil {
		return nil, err
	}
	if in == nil {
		return wf, nil
	}

	if in.CheckpointName != nil {
		wf.EachByClass(ClassCheckpointLoader, func(_ string, node *Node) {
			node.setInput("ckpt_name", *in.CheckpointName)
		})
	}

	posID, negID := wf.conditioningSources()

	if in.Positive != nil {
		wf.setPromptText(posID, *in.Positive)
	}
	if in.Negative != nil {
		wf.setPromptText(negID, *in.Negative)
	}

	wf.EachByClass(ClassKSampler, func(_ string, node *Node) {
		if in.Seed != nil {
			node.setInput("seed", *in.Seed)
		}
		if in.Steps != nil {
			node.setInput("steps", *in.Steps)
		}
		if in.CFG != nil {
			node.setInput("cfg", *in.CFG)
		}
		if in.Denoise != nil {
			node.setInput("denoise", *in.Denoise)
		}
	})

	wf.EachByClass(ClassEmptyLatentImage, func(_ string, node *Node) {
		if in.Width != nil {
			node.setInput("width", *in.Width)
		}
		if in.Height != nil {
			node.setInput("height", *in.Height)
		}
	})

	return wf, nil
}

// conditioningSources follows the first KSampler's positive and negative
// input links to their source node ids. Either id may be empty when the
// graph has no KSampler or the input is not a link.
func (g Graph) conditioningSources() (posID, negID string) {
	_, ks := g.FirstByClass(ClassKSampler)
	if ks == nil {
		return "", ""
	}
	if v, ok := ks.Inputs["positive"]; ok {
		if id, ok := linkTarget(v); ok {
			posID = id
		}
	}
	if v, ok := ks.Inputs["negative"]; ok {
		if id, ok := linkTarget(v); ok {
			negID = id
		}
	}
	return posID, negID
}

// setPromptText sets the text widget on the node with the given id, but
// only when the node exists and is a CLIPTextEncode.
func (g Graph) setPromptText(id, text string) {
	if id == "" {
		return
	}
	node, ok := g[id]
	if !ok || node.ClassType != ClassCLIPTextEncode {
		return
	}
	node.setInput("text", text)
}
