package web_api

import (
	"context"
	"net/http"

	"comfy_studio/entities"
	"comfy_studio/generation_orchestrator"

	"github.com/gin-gonic/gin"
)

type generateRequest struct {
	entities.GenerationParameters
	// EngineURL overrides the configured engine for this generation.
	EngineURL string `json:"engine_url"`
}

type generateResponse struct {
	Status string                `json:"status"`
	Entry  entities.HistoryEntry `json:"entry"`
}

func (s *serverImpl) handleGenerate(c *gin.Context) {
	var req generateRequest

	err := c.ShouldBindJSON(&req)
	if err != nil {
		fail(c, http.StatusBadRequest, "invalid generation request: "+err.Error())

		return
	}

	if !s.generating.TryLock() {
		fail(c, http.StatusConflict, "a generation is already running")

		return
	}
	defer s.generating.Unlock()

	cfg := s.config()

	params := req.GenerationParameters
	if params.Width == 0 || params.Height == 0 {
		if width, height, ok := cfg.DefaultSize(); ok {
			params.Width, params.Height = width, height
		}
	}

	engineURL := req.EngineURL
	if engineURL == "" {
		engineURL = cfg.ComfyURL
	}

	// A job the engine accepted is always seen through to history, even if
	// the client stops waiting for the response.
	ctx := context.WithoutCancel(c.Request.Context())

	result, err := s.orchestrator.Generate(ctx, params, cfg.WorkflowFile, engineURL)
	if err != nil {
		fail(c, generationStatusCode(err), generation_orchestrator.StatusMessage(err))

		return
	}

	success(c, generateResponse{Status: result.Status, Entry: result.Entry}, result.Status)
}

func generationStatusCode(err error) int {
	kind, ok := generation_orchestrator.KindOf(err)
	if !ok {
		return http.StatusInternalServerError
	}

	switch kind {
	case generation_orchestrator.KindInvalidParameters:
		return http.StatusBadRequest
	case generation_orchestrator.KindTemplateNotFound, generation_orchestrator.KindNoOutputImage:
		return http.StatusUnprocessableEntity
	case generation_orchestrator.KindConnectionError, generation_orchestrator.KindFetchError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
