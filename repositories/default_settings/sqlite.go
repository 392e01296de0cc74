package default_settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"comfy_studio/entities"
	"comfy_studio/repositories"
)

const upsertSetting string = `
INSERT OR REPLACE INTO default_settings (profile, width, height, steps, cfg_scale, sampler_name, negative_prompt) VALUES (?, ?, ?, ?, ?, ?, ?);
`

const getSettingByProfile string = `
SELECT profile, width, height, steps, cfg_scale, sampler_name, negative_prompt FROM default_settings WHERE profile = ?;
`

type sqliteRepo struct {
	dbConn *sql.DB
}

type Config struct {
	DB *sql.DB
}

func NewRepository(cfg *Config) (Repository, error) {
	if cfg.DB == nil {
		return nil, errors.New("missing DB parameter")
	}

	newRepo := &sqliteRepo{
		dbConn: cfg.DB,
	}

	return newRepo, nil
}

func (repo *sqliteRepo) Upsert(ctx context.Context, setting *entities.DefaultSettings) (*entities.DefaultSettings, error) {
	if setting.Profile == "" {
		return nil, errors.New("missing profile name")
	}

	_, err := repo.dbConn.ExecContext(ctx, upsertSetting,
		setting.Profile, setting.Width, setting.Height, setting.Steps,
		setting.CfgScale, setting.SamplerName, setting.NegativePrompt)
	if err != nil {
		return nil, err
	}

	return setting, nil
}

func (repo *sqliteRepo) GetByProfile(ctx context.Context, profile string) (*entities.DefaultSettings, error) {
	var setting entities.DefaultSettings

	err := repo.dbConn.QueryRowContext(ctx, getSettingByProfile, profile).Scan(
		&setting.Profile, &setting.Width, &setting.Height, &setting.Steps,
		&setting.CfgScale, &setting.SamplerName, &setting.NegativePrompt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repositories.NewNotFoundError(fmt.Sprintf("default settings for profile %s", profile))
		}

		return nil, err
	}

	return &setting, nil
}
