package default_settings

import (
	"context"

	"comfy_studio/entities"
)

type Repository interface {
	Upsert(ctx context.Context, setting *entities.DefaultSettings) (*entities.DefaultSettings, error)
	GetByProfile(ctx context.Context, profile string) (*entities.DefaultSettings, error)
}
