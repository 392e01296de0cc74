package comfy_api

import (
	"context"

	"comfy_studio/entities"
	"comfy_studio/workflow_template"
)

type ComfyAPI interface {
	Host() string
	Submit(ctx context.Context, template workflow_template.Template) (string, error)
	AwaitCompletion(ctx context.Context, jobID string) (*JobResult, error)
	FetchImageBytes(ctx context.Context, ref entities.ImageRef) ([]byte, error)
}
