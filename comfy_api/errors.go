package comfy_api

import (
	"errors"
	"fmt"
)

var (
	ErrNoOutputImage = errors.New("no output image found, check that the workflow has an image output node")
	ErrPollTimeout   = errors.New("gave up waiting for the engine to finish the job")
)

// ConnectionError means the engine could not be reached or refused a job.
type ConnectionError struct {
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to connect to engine at %s: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

func (e *ConnectionError) Is(err error) bool {
	_, ok := err.(*ConnectionError)
	return ok
}

// FetchError means the produced image could not be downloaded or decoded.
type FetchError struct {
	Filename string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch image %s: %v", e.Filename, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func (e *FetchError) Is(err error) bool {
	_, ok := err.(*FetchError)
	return ok
}
