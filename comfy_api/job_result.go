package comfy_api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"comfy_studio/entities"
)

type JobStatus struct {
	StatusStr string `json:"status_str"`
	Completed bool   `json:"completed"`
}

type NodeOutput struct {
	NodeID string
	Images []entities.ImageRef
}

// JobResult is one finished job. Outputs keep the order the engine wrote them
// in its response.
type JobResult struct {
	JobID   string
	Status  JobStatus
	Outputs []NodeOutput
}

type historyItem struct {
	Status  JobStatus       `json:"status"`
	Outputs json.RawMessage `json:"outputs"`
}

func parseHistory(body []byte, jobID string) (*JobResult, bool, error) {
	var history map[string]json.RawMessage

	err := json.Unmarshal(body, &history)
	if err != nil {
		return nil, false, fmt.Errorf("unexpected history response: %w", err)
	}

	raw, ok := history[jobID]
	if !ok {
		return nil, false, nil
	}

	item := historyItem{}

	err = json.Unmarshal(raw, &item)
	if err != nil {
		return nil, false, fmt.Errorf("unexpected history entry for %s: %w", jobID, err)
	}

	outputs, err := decodeOrderedOutputs(item.Outputs)
	if err != nil {
		return nil, false, err
	}

	return &JobResult{
		JobID:   jobID,
		Status:  item.Status,
		Outputs: outputs,
	}, true, nil
}

// decodeOrderedOutputs walks the outputs object token by token so node order
// matches the document rather than Go's randomized map order.
func decodeOrderedOutputs(raw json.RawMessage) ([]NodeOutput, error) {
	if len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null" {
		return nil, nil
	}

	decoder := json.NewDecoder(bytes.NewReader(raw))

	token, err := decoder.Token()
	if err != nil {
		return nil, err
	}

	if delim, ok := token.(json.Delim); !ok || delim != '{' {
		return nil, errors.New("outputs is not an object")
	}

	outputs := make([]NodeOutput, 0)

	for decoder.More() {
		keyToken, err := decoder.Token()
		if err != nil {
			return nil, err
		}

		nodeID, ok := keyToken.(string)
		if !ok {
			return nil, errors.New("unexpected outputs key")
		}

		var output struct {
			Images []entities.ImageRef `json:"images"`
		}

		err = decoder.Decode(&output)
		if err != nil {
			return nil, fmt.Errorf("node %s output: %w", nodeID, err)
		}

		outputs = append(outputs, NodeOutput{NodeID: nodeID, Images: output.Images})
	}

	return outputs, nil
}

// LocateOutputImage picks the first image of the first output node that
// exposes one.
func LocateOutputImage(result *JobResult) (entities.ImageRef, error) {
	if result == nil {
		return entities.ImageRef{}, ErrNoOutputImage
	}

	for _, output := range result.Outputs {
		if len(output.Images) > 0 {
			return output.Images[0], nil
		}
	}

	if result.Status.StatusStr != "" && result.Status.StatusStr != "success" {
		return entities.ImageRef{}, fmt.Errorf("%w (engine status: %s)", ErrNoOutputImage, result.Status.StatusStr)
	}

	return entities.ImageRef{}, ErrNoOutputImage
}
