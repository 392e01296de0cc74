package comfy_api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"log"
	"strings"
	"time"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"comfy_studio/entities"
	"comfy_studio/workflow_template"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	_ "golang.org/x/image/webp"
)

const (
	submitTimeout = 10 * time.Second
	pollTimeout   = 5 * time.Second
	fetchTimeout  = 20 * time.Second

	DefaultPollInterval      = 500 * time.Millisecond
	DefaultPollRetryInterval = 1 * time.Second
)

// PollOptions controls AwaitCompletion. A zero MaxWait waits until the engine
// reports the job, however long that takes.
type PollOptions struct {
	Interval      time.Duration
	RetryInterval time.Duration
	MaxWait       time.Duration
}

type apiImpl struct {
	host     string
	clientID string
	client   *resty.Client
	poll     PollOptions
}

type Config struct {
	Host string
	Poll PollOptions
}

func New(cfg Config) (ComfyAPI, error) {
	host := NormalizeBaseURL(cfg.Host)
	if host == "" {
		return nil, errors.New("missing host")
	}

	poll := cfg.Poll
	if poll.Interval <= 0 {
		poll.Interval = DefaultPollInterval
	}

	if poll.RetryInterval <= 0 {
		poll.RetryInterval = DefaultPollRetryInterval
	}

	client := resty.New().
		SetBaseURL(host).
		SetHeader("Content-Type", "application/json; charset=UTF-8")

	return &apiImpl{
		host:     host,
		clientID: uuid.NewString(),
		client:   client,
		poll:     poll,
	}, nil
}

func (api *apiImpl) Host() string {
	return api.host
}

type submitRequest struct {
	Prompt   workflow_template.Template `json:"prompt"`
	ClientID string                     `json:"client_id"`
}

type submitResponse struct {
	PromptID   string          `json:"prompt_id"`
	Number     int             `json:"number"`
	NodeErrors json.RawMessage `json:"node_errors"`
}

func (api *apiImpl) Submit(ctx context.Context, template workflow_template.Template) (string, error) {
	if template == nil {
		return "", errors.New("missing template")
	}

	postURL := api.host + "/prompt"

	reqCtx, cancel := context.WithTimeout(ctx, submitTimeout)
	defer cancel()

	response, err := api.client.R().
		SetContext(reqCtx).
		SetBody(submitRequest{Prompt: template, ClientID: api.clientID}).
		Post("/prompt")
	if err != nil {
		log.Printf("API URL: %s", postURL)
		log.Printf("Error with API Request: %v", err)

		return "", &ConnectionError{URL: postURL, Err: err}
	}

	if response.IsError() {
		log.Printf("API URL: %s", postURL)
		log.Printf("Unexpected API response: %s", response.String())

		return "", &ConnectionError{
			URL: postURL,
			Err: fmt.Errorf("%s: %s", response.Status(), strings.TrimSpace(response.String())),
		}
	}

	respStruct := &submitResponse{}

	err = json.Unmarshal(response.Body(), respStruct)
	if err != nil {
		log.Printf("API URL: %s", postURL)
		log.Printf("Unexpected API response: %s", response.String())

		return "", &ConnectionError{URL: postURL, Err: err}
	}

	if respStruct.PromptID == "" {
		return "", &ConnectionError{URL: postURL, Err: errors.New("response did not contain a prompt_id")}
	}

	log.Printf("Submitted job %s (queue number %d)", respStruct.PromptID, respStruct.Number)

	return respStruct.PromptID, nil
}

// AwaitCompletion polls /history/<jobID> until the engine lists the job.
// Transient failures are logged and retried after the longer retry interval.
func (api *apiImpl) AwaitCompletion(ctx context.Context, jobID string) (*JobResult, error) {
	if jobID == "" {
		return nil, errors.New("missing job ID")
	}

	started := time.Now()

	for {
		wait := api.poll.Interval

		result, found, err := api.fetchHistory(ctx, jobID)

		switch {
		case err != nil:
			log.Printf("Error polling job %s, retrying: %v", jobID, err)

			wait = api.poll.RetryInterval
		case found:
			return result, nil
		}

		if api.poll.MaxWait > 0 && time.Since(started) >= api.poll.MaxWait {
			return nil, ErrPollTimeout
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (api *apiImpl) fetchHistory(ctx context.Context, jobID string) (*JobResult, bool, error) {
	reqCtx, cancel := context.WithTimeout(ctx, pollTimeout)
	defer cancel()

	response, err := api.client.R().
		SetContext(reqCtx).
		SetPathParam("jobID", jobID).
		Get("/history/{jobID}")
	if err != nil {
		return nil, false, err
	}

	if response.IsError() {
		return nil, false, fmt.Errorf("history request failed: %s", response.Status())
	}

	return parseHistory(response.Body(), jobID)
}

func (api *apiImpl) FetchImageBytes(ctx context.Context, ref entities.ImageRef) ([]byte, error) {
	if ref.Filename == "" {
		return nil, &FetchError{Err: errors.New("missing filename")}
	}

	imageType := ref.Type
	if imageType == "" {
		imageType = defaultImageType
	}

	reqCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	response, err := api.client.R().
		SetContext(reqCtx).
		SetQueryParams(map[string]string{
			"filename":  ref.Filename,
			"subfolder": ref.Subfolder,
			"type":      imageType,
		}).
		Get("/view")
	if err != nil {
		log.Printf("API URL: %s", ViewURL(api.host, ref))
		log.Printf("Error with API Request: %v", err)

		return nil, &FetchError{Filename: ref.Filename, Err: err}
	}

	if response.IsError() {
		return nil, &FetchError{Filename: ref.Filename, Err: fmt.Errorf("unexpected status %s", response.Status())}
	}

	body := response.Body()

	_, _, err = image.DecodeConfig(bytes.NewReader(body))
	if err != nil {
		return nil, &FetchError{Filename: ref.Filename, Err: fmt.Errorf("response is not a decodable image: %w", err)}
	}

	return body, nil
}
