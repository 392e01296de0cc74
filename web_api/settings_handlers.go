package web_api

import (
	"net/http"
	"strconv"

	"comfy_studio/app_config"
	"comfy_studio/comfy_api"
	"comfy_studio/entities"
	"comfy_studio/repositories"

	"github.com/gin-gonic/gin"
)

// Tag categories as they appear in tag_lists; each value is a comma
// separated list with "+" marking default selections.
const (
	tagListQuality = "quality"
	tagListDecade  = "decade"
	tagListPeriod  = "time_period"
	tagListMeta    = "meta"
	tagListSafety  = "safety"
	tagListCustom  = "custom"
)

type configPayload struct {
	app_config.Config
	TagLists map[string]string `json:"tag_lists,omitempty"`
}

func tagListFields(cfg *app_config.Config) map[string][2]*[]string {
	return map[string][2]*[]string{
		tagListQuality: {&cfg.QualityTagsList, &cfg.DefaultQualityTags},
		tagListDecade:  {&cfg.DecadeTagsList, &cfg.DefaultDecadeTags},
		tagListPeriod:  {&cfg.TimePeriodTagsList, &cfg.DefaultPeriodTags},
		tagListMeta:    {&cfg.MetaTagsList, &cfg.DefaultMetaTags},
		tagListSafety:  {&cfg.SafetyTagsList, &cfg.DefaultSafetyTags},
		tagListCustom:  {&cfg.CustomTagsList, &cfg.DefaultCustomTags},
	}
}

func (s *serverImpl) handleGetConfig(c *gin.Context) {
	cfg := s.config().Clone()

	tagLists := make(map[string]string)
	for category, fields := range tagListFields(cfg) {
		tagLists[category] = app_config.FormatTaggedList(*fields[0], *fields[1])
	}

	success(c, configPayload{Config: *cfg, TagLists: tagLists}, "")
}

func (s *serverImpl) handlePutConfig(c *gin.Context) {
	payload := configPayload{Config: *s.config().Clone()}

	err := c.ShouldBindJSON(&payload)
	if err != nil {
		fail(c, http.StatusBadRequest, "invalid config: "+err.Error())

		return
	}

	updated := payload.Config

	fields := tagListFields(&updated)

	for category, raw := range payload.TagLists {
		target, ok := fields[category]
		if !ok {
			fail(c, http.StatusBadRequest, "unknown tag category "+category)

			return
		}

		*target[0], *target[1] = app_config.ParseTaggedList(raw)
	}

	if s.configPath != "" {
		err = app_config.Save(s.configPath, &updated)
		if err != nil {
			fail(c, http.StatusInternalServerError, err.Error())

			return
		}
	}

	s.cfgMu.Lock()
	s.cfg = &updated
	s.cfgMu.Unlock()

	success(c, updated, "settings saved, restart to apply server and storage changes")
}

func (s *serverImpl) handleEngineStatus(c *gin.Context) {
	engineURL := c.DefaultQuery("url", s.config().ComfyURL)

	online := comfy_api.CheckStatus(engineURL, engineStatusTimeout)

	success(c, gin.H{"url": comfy_api.NormalizeBaseURL(engineURL), "online": online}, "")
}

func (s *serverImpl) handleListJobs(c *gin.Context) {
	if s.jobRecordRepo == nil {
		fail(c, http.StatusServiceUnavailable, "job ledger is not configured")

		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil {
		fail(c, http.StatusBadRequest, "invalid limit")

		return
	}

	records, err := s.jobRecordRepo.ListRecent(c.Request.Context(), limit)
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())

		return
	}

	success(c, records, "")
}

func (s *serverImpl) handleGetDefaults(c *gin.Context) {
	if s.defaultSettingsRepo == nil {
		fail(c, http.StatusServiceUnavailable, "default settings are not configured")

		return
	}

	setting, err := s.defaultSettingsRepo.GetByProfile(c.Request.Context(), c.Param("profile"))
	if err != nil {
		if repositories.IsNotFound(err) {
			fail(c, http.StatusNotFound, err.Error())

			return
		}

		fail(c, http.StatusInternalServerError, err.Error())

		return
	}

	success(c, setting, "")
}

func (s *serverImpl) handlePutDefaults(c *gin.Context) {
	if s.defaultSettingsRepo == nil {
		fail(c, http.StatusServiceUnavailable, "default settings are not configured")

		return
	}

	var setting entities.DefaultSettings

	err := c.ShouldBindJSON(&setting)
	if err != nil {
		fail(c, http.StatusBadRequest, "invalid default settings: "+err.Error())

		return
	}

	setting.Profile = c.Param("profile")

	saved, err := s.defaultSettingsRepo.Upsert(c.Request.Context(), &setting)
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())

		return
	}

	success(c, saved, "saved")
}
