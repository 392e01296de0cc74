package app_config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"slices"
	"strings"
	"time"

	"comfy_studio/atomic_file"
	"comfy_studio/comfy_api"
	"comfy_studio/workflow_template"

	"github.com/spf13/viper"
)

const (
	DefaultConfigFile = "config.json"

	envPrefix = "COMFY_STUDIO"
)

type Config struct {
	AppName               string           `mapstructure:"app_name" json:"app_name"`
	ServerName            string           `mapstructure:"server_name" json:"server_name"`
	ServerPort            int              `mapstructure:"server_port" json:"server_port"`
	ComfyURL              string           `mapstructure:"comfy_url" json:"comfy_url"`
	WorkflowFile          string           `mapstructure:"workflow_file" json:"workflow_file"`
	HistoryFilePath       string           `mapstructure:"history_file_path" json:"history_file_path"`
	ThumbnailDir          string           `mapstructure:"thumbnail_dir" json:"thumbnail_dir"`
	BackupDir             string           `mapstructure:"backup_dir" json:"backup_dir"`
	LaunchBat             string           `mapstructure:"launch_bat" json:"launch_bat"`
	ComfyOutputDir        string           `mapstructure:"comfy_output_dir" json:"comfy_output_dir"`
	DatabaseFile          string           `mapstructure:"database_file" json:"database_file"`
	BackupSchedule        string           `mapstructure:"backup_schedule" json:"backup_schedule"`
	DefaultNegativePrompt string           `mapstructure:"default_negative_prompt" json:"default_negative_prompt"`
	QualityTagsList       []string         `mapstructure:"quality_tags_list" json:"quality_tags_list"`
	DefaultQualityTags    []string         `mapstructure:"default_quality_tags" json:"default_quality_tags"`
	DecadeTagsList        []string         `mapstructure:"decade_tags_list" json:"decade_tags_list"`
	DefaultDecadeTags     []string         `mapstructure:"default_decade_tags" json:"default_decade_tags"`
	TimePeriodTagsList    []string         `mapstructure:"time_period_tags_list" json:"time_period_tags_list"`
	DefaultPeriodTags     []string         `mapstructure:"default_period_tags" json:"default_period_tags"`
	MetaTagsList          []string         `mapstructure:"meta_tags_list" json:"meta_tags_list"`
	DefaultMetaTags       []string         `mapstructure:"default_meta_tags" json:"default_meta_tags"`
	SafetyTagsList        []string         `mapstructure:"safety_tags_list" json:"safety_tags_list"`
	DefaultSafetyTags     []string         `mapstructure:"default_safety_tags" json:"default_safety_tags"`
	CustomTagsList        []string         `mapstructure:"custom_tags_list" json:"custom_tags_list"`
	DefaultCustomTags     []string         `mapstructure:"default_custom_tags" json:"default_custom_tags"`
	ResolutionPresets     map[string][]int `mapstructure:"resolution_presets" json:"resolution_presets"`
	DefaultResolution     string           `mapstructure:"default_resolution" json:"default_resolution"`
	GalleryPageSize       int              `mapstructure:"gallery_page_size" json:"gallery_page_size"`
	PollIntervalMS        int              `mapstructure:"poll_interval_ms" json:"poll_interval_ms"`
	PollRetryIntervalMS   int              `mapstructure:"poll_retry_interval_ms" json:"poll_retry_interval_ms"`
	// PollMaxWaitSeconds of 0 waits for the engine indefinitely.
	PollMaxWaitSeconds int                          `mapstructure:"poll_max_wait_seconds" json:"poll_max_wait_seconds"`
	SlotTitles         workflow_template.SlotTitles `mapstructure:"slot_titles" json:"slot_titles"`
}

func setDefaults(vp *viper.Viper) {
	vp.SetDefault("app_name", "Comfy Studio")
	vp.SetDefault("server_name", "0.0.0.0")
	vp.SetDefault("server_port", 7867)
	vp.SetDefault("comfy_url", "http://"+comfy_api.DefaultEngineHost+":"+comfy_api.DefaultEnginePort)
	vp.SetDefault("workflow_file", "anima-t2i.json")
	vp.SetDefault("history_file_path", "history.json")
	vp.SetDefault("thumbnail_dir", "thumbnails")
	vp.SetDefault("backup_dir", "")
	vp.SetDefault("launch_bat", "")
	vp.SetDefault("comfy_output_dir", "")
	vp.SetDefault("database_file", "comfy_studio.sqlite")
	vp.SetDefault("backup_schedule", "")
	vp.SetDefault("default_negative_prompt", "worst quality, low quality, score_1, score_2, score_3, blurry, "+
		"jpeg artifacts, sepia, extra arms, extra legs, bad anatomy, missing limb, bad hands, extra fingers, "+
		"extra digits, bad fingers, bad legs, extra legs, bad feet, ")
	vp.SetDefault("quality_tags_list", []string{
		"masterpiece", "best quality", "good quality", "normal quality",
		"score_9", "score_8", "score_7", "score_6", "score_5", "score_4",
	})
	vp.SetDefault("default_quality_tags", []string{"masterpiece", "best quality", "score_9", "score_8", "score_7"})
	vp.SetDefault("decade_tags_list", []string{"2020s", "2010s", "2000s", "1990s", "1980s"})
	vp.SetDefault("default_decade_tags", []string{})
	vp.SetDefault("time_period_tags_list", []string{"newest", "recent", "mid", "early", "old"})
	vp.SetDefault("default_period_tags", []string{})
	vp.SetDefault("meta_tags_list", []string{"highres", "absurdres", "anime screenshot", "jpeg artifacts", "official art"})
	vp.SetDefault("default_meta_tags", []string{})
	vp.SetDefault("safety_tags_list", []string{"safe", "sensitive", "nsfw", "explicit"})
	vp.SetDefault("default_safety_tags", []string{"safe"})
	vp.SetDefault("custom_tags_list", []string{})
	vp.SetDefault("default_custom_tags", []string{})
	vp.SetDefault("resolution_presets", map[string]any{
		"1024x1024": []int{1024, 1024},
		"1152x896":  []int{1152, 896},
		"896x1152":  []int{896, 1152},
		"1216x832":  []int{1216, 832},
	})
	vp.SetDefault("default_resolution", "1152x896")
	vp.SetDefault("gallery_page_size", 60)
	vp.SetDefault("poll_interval_ms", int(comfy_api.DefaultPollInterval/time.Millisecond))
	vp.SetDefault("poll_retry_interval_ms", int(comfy_api.DefaultPollRetryInterval/time.Millisecond))
	vp.SetDefault("poll_max_wait_seconds", 0)

	titles := workflow_template.DefaultSlotTitles()
	vp.SetDefault("slot_titles.positive_prompt", titles.PositivePrompt)
	vp.SetDefault("slot_titles.negative_prompt", titles.NegativePrompt)
	vp.SetDefault("slot_titles.latent_image", titles.LatentImage)
	vp.SetDefault("slot_titles.sampler", titles.Sampler)
}

// Load merges the JSON file at path over the built-in defaults, then applies
// COMFY_STUDIO_* environment overrides. A missing or malformed file is logged
// and the defaults are used.
func Load(path string) (*Config, error) {
	vp := viper.New()
	setDefaults(vp)

	vp.SetEnvPrefix(envPrefix)
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	if path != "" {
		vp.SetConfigFile(path)
		vp.SetConfigType("json")

		err := vp.ReadInConfig()

		switch {
		case err == nil:
			log.Printf("Loaded config from %s", path)
		case errors.Is(err, fs.ErrNotExist):
			log.Printf("Config file %s not found, using defaults", path)
		default:
			log.Printf("Config file %s could not be parsed, using defaults: %v", path, err)
		}
	}

	cfg := &Config{}

	err := vp.Unmarshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	// Presets from the file replace the built-in table instead of merging
	// into it, so a removed preset stays removed.
	if vp.InConfig("resolution_presets") {
		cfg.ResolutionPresets = nil

		err = vp.UnmarshalKey("resolution_presets", &cfg.ResolutionPresets)
		if err != nil {
			return nil, fmt.Errorf("failed to decode resolution_presets: %w", err)
		}
	}

	return cfg, nil
}

// Save rewrites the whole config file. The previous file stays in place if
// the write fails.
func Save(path string, cfg *Config) error {
	buf := new(bytes.Buffer)

	encoder := json.NewEncoder(buf)
	encoder.SetEscapeHTML(false)
	encoder.SetIndent("", "    ")

	err := encoder.Encode(cfg)
	if err != nil {
		return err
	}

	err = atomic_file.Write(path, buf.Bytes())
	if err != nil {
		return fmt.Errorf("failed to save config %s: %w", path, err)
	}

	return nil
}

func (c *Config) PollOptions() comfy_api.PollOptions {
	return comfy_api.PollOptions{
		Interval:      time.Duration(c.PollIntervalMS) * time.Millisecond,
		RetryInterval: time.Duration(c.PollRetryIntervalMS) * time.Millisecond,
		MaxWait:       time.Duration(c.PollMaxWaitSeconds) * time.Second,
	}
}

// DefaultSize returns the width and height of the default resolution preset.
func (c *Config) DefaultSize() (int, int, bool) {
	size, ok := c.ResolutionPresets[c.DefaultResolution]
	if !ok || len(size) != 2 {
		return 0, 0, false
	}

	return size[0], size[1], true
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.ServerName, c.ServerPort)
}

// Clone returns a deep copy, so a caller may decode into it without touching c.
func (c *Config) Clone() *Config {
	clone := *c

	for _, list := range []*[]string{
		&clone.QualityTagsList, &clone.DefaultQualityTags,
		&clone.DecadeTagsList, &clone.DefaultDecadeTags,
		&clone.TimePeriodTagsList, &clone.DefaultPeriodTags,
		&clone.MetaTagsList, &clone.DefaultMetaTags,
		&clone.SafetyTagsList, &clone.DefaultSafetyTags,
		&clone.CustomTagsList, &clone.DefaultCustomTags,
	} {
		*list = slices.Clone(*list)
	}

	if c.ResolutionPresets != nil {
		clone.ResolutionPresets = make(map[string][]int, len(c.ResolutionPresets))
		for name, size := range c.ResolutionPresets {
			clone.ResolutionPresets[name] = slices.Clone(size)
		}
	}

	return &clone
}
