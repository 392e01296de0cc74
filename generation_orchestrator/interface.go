package generation_orchestrator

import (
	"context"

	"comfy_studio/entities"
)

type Orchestrator interface {
	Generate(ctx context.Context, params entities.GenerationParameters, templatePath, engineURL string) (*Result, error)
}
