package generation_orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"

	"comfy_studio/comfy_api"
	"comfy_studio/entities"
	"comfy_studio/history_store"
	"comfy_studio/png_info_extractor"
	"comfy_studio/repositories/job_records"
	"comfy_studio/workflow_template"
)

// ClientFactory builds an engine client for a base URL. The URL may change
// between generations, so clients are built per call.
type ClientFactory func(host string) (comfy_api.ComfyAPI, error)

type orchestratorImpl struct {
	newClient     ClientFactory
	historyStore  history_store.Store
	jobRecordRepo job_records.Repository
	slotTitles    workflow_template.SlotTitles
	seedSource    func() uint64
}

type Config struct {
	HistoryStore history_store.Store
	// JobRecordRepo is optional. Ledger failures are logged, never returned.
	JobRecordRepo job_records.Repository
	SlotTitles    workflow_template.SlotTitles
	// Poll is used by the default client factory.
	Poll          comfy_api.PollOptions
	ClientFactory ClientFactory
	SeedSource    func() uint64
}

func New(cfg Config) (Orchestrator, error) {
	if cfg.HistoryStore == nil {
		return nil, errors.New("missing history store")
	}

	newClient := cfg.ClientFactory
	if newClient == nil {
		poll := cfg.Poll

		newClient = func(host string) (comfy_api.ComfyAPI, error) {
			return comfy_api.New(comfy_api.Config{Host: host, Poll: poll})
		}
	}

	seedSource := cfg.SeedSource
	if seedSource == nil {
		seedSource = rand.Uint64
	}

	return &orchestratorImpl{
		newClient:     newClient,
		historyStore:  cfg.HistoryStore,
		jobRecordRepo: cfg.JobRecordRepo,
		slotTitles:    withDefaultTitles(cfg.SlotTitles),
		seedSource:    seedSource,
	}, nil
}

type Result struct {
	Image  []byte
	Status string
	Entry  entities.HistoryEntry
}

// Generate runs one job end to end: load and patch the template, submit it,
// wait for the engine, fetch the first output image and record it in history.
// Nothing is written to history unless every step succeeded.
func (o *orchestratorImpl) Generate(
	ctx context.Context,
	params entities.GenerationParameters,
	templatePath, engineURL string,
) (*Result, error) {
	template, err := workflow_template.Load(templatePath)
	if err != nil {
		if errors.Is(err, workflow_template.ErrNotFound) {
			return nil, &GenerationError{Kind: KindTemplateNotFound, Err: err}
		}

		return nil, &GenerationError{Kind: KindInvalidParameters, Err: err}
	}

	if params.Width <= 0 || params.Height <= 0 || params.Steps <= 0 {
		return nil, &GenerationError{
			Kind: KindInvalidParameters,
			Err:  fmt.Errorf("invalid size %dx%d or steps %d", params.Width, params.Height, params.Steps),
		}
	}

	host := comfy_api.NormalizeBaseURL(engineURL)

	client, err := o.newClient(host)
	if err != nil {
		return nil, &GenerationError{Kind: KindConnectionError, Err: err}
	}

	positivePrompt := BuildPrompt(params.Prompt, params.Tags)

	seed := params.Seed
	if params.RandomizeSeed {
		seed = o.seedSource()
	}

	patchTemplate(template, o.slotTitles, params, positivePrompt, seed)

	log.Printf("Generating with seed %d: %s", seed, positivePrompt)

	jobID, err := client.Submit(ctx, template)
	if err != nil {
		return nil, &GenerationError{Kind: KindConnectionError, Err: err}
	}

	o.recordSubmitted(ctx, jobID, host, positivePrompt, seed, params)

	image, ref, err := o.collect(ctx, client, jobID)
	if err != nil {
		o.recordFailed(ctx, jobID, err)

		return nil, err
	}

	o.verifySeed(image, seed)

	entry := entities.NewHistoryEntry(params, seed, Caption(seed, params.SamplerName))

	saved, err := o.historyStore.Append(entry, ref, host, image)
	if err != nil {
		genErr := &GenerationError{Kind: KindSaveFailure, Err: err}
		o.recordFailed(ctx, jobID, genErr)

		return nil, genErr
	}

	o.recordCompleted(ctx, jobID, ref.Filename)

	return &Result{
		Image:  image,
		Status: StatusSuccess,
		Entry:  saved,
	}, nil
}

func (o *orchestratorImpl) collect(
	ctx context.Context,
	client comfy_api.ComfyAPI,
	jobID string,
) ([]byte, entities.ImageRef, error) {
	result, err := client.AwaitCompletion(ctx, jobID)
	if err != nil {
		return nil, entities.ImageRef{}, &GenerationError{Kind: KindConnectionError, Err: err}
	}

	ref, err := comfy_api.LocateOutputImage(result)
	if err != nil {
		return nil, entities.ImageRef{}, &GenerationError{Kind: KindNoOutputImage, Err: err}
	}

	image, err := client.FetchImageBytes(ctx, ref)
	if err != nil {
		return nil, entities.ImageRef{}, &GenerationError{Kind: KindFetchError, Err: err}
	}

	return image, ref, nil
}

// verifySeed compares the seed the engine embedded in the image against the
// one that was sent. A mismatch only means the sampler slot was not patched.
func (o *orchestratorImpl) verifySeed(image []byte, seed uint64) {
	extractor, err := png_info_extractor.New(png_info_extractor.Config{PngData: image})
	if err != nil {
		return
	}

	info, err := extractor.ExtractWorkflowInfo()
	if err != nil {
		return
	}

	embedded, ok := info.SamplerSeed(o.slotTitles.Sampler)
	if ok && embedded != seed {
		log.Printf("Engine used seed %d but %d was requested, the sampler slot may be missing", embedded, seed)
	}
}

func (o *orchestratorImpl) recordSubmitted(
	ctx context.Context,
	jobID, host, prompt string,
	seed uint64,
	params entities.GenerationParameters,
) {
	if o.jobRecordRepo == nil {
		return
	}

	_, err := o.jobRecordRepo.Create(ctx, &entities.JobRecord{
		JobID:       jobID,
		EngineURL:   host,
		Prompt:      prompt,
		Seed:        seed,
		SamplerName: params.SamplerName,
		Width:       params.Width,
		Height:      params.Height,
		Status:      entities.JobStatusSubmitted,
	})
	if err != nil {
		log.Printf("Error creating job record for %s: %v", jobID, err)
	}
}

func (o *orchestratorImpl) recordCompleted(ctx context.Context, jobID, filename string) {
	if o.jobRecordRepo == nil {
		return
	}

	err := o.jobRecordRepo.MarkCompleted(context.WithoutCancel(ctx), jobID, filename)
	if err != nil {
		log.Printf("Error marking job %s completed: %v", jobID, err)
	}
}

func (o *orchestratorImpl) recordFailed(ctx context.Context, jobID string, cause error) {
	if o.jobRecordRepo == nil {
		return
	}

	err := o.jobRecordRepo.MarkFailed(context.WithoutCancel(ctx), jobID, StatusMessage(cause))
	if err != nil {
		log.Printf("Error marking job %s failed: %v", jobID, err)
	}
}
