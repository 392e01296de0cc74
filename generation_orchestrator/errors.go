package generation_orchestrator

import (
	"errors"
	"fmt"
)

type ErrorKind int

const (
	KindTemplateNotFound ErrorKind = iota
	KindInvalidParameters
	KindConnectionError
	KindFetchError
	KindNoOutputImage
	KindSaveFailure
)

func (k ErrorKind) String() string {
	switch k {
	case KindTemplateNotFound:
		return "template_not_found"
	case KindInvalidParameters:
		return "invalid_parameters"
	case KindConnectionError:
		return "connection_error"
	case KindFetchError:
		return "fetch_error"
	case KindNoOutputImage:
		return "no_output_image"
	case KindSaveFailure:
		return "save_failure"
	default:
		return "unknown"
	}
}

// GenerationError is the only error Generate returns. Kind tells the caller
// what failed; Err keeps the underlying cause.
type GenerationError struct {
	Kind ErrorKind
	Err  error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

func (e *GenerationError) Is(err error) bool {
	target, ok := err.(*GenerationError)
	if !ok {
		return false
	}

	return target.Kind == e.Kind
}

const (
	StatusSuccess          = "Success"
	statusTemplateNotFound = "Workflow file not found."
)

// StatusMessage renders err as the line shown next to the generated image.
func StatusMessage(err error) string {
	if err == nil {
		return StatusSuccess
	}

	var genErr *GenerationError
	if errors.As(err, &genErr) && genErr.Kind == KindTemplateNotFound {
		return statusTemplateNotFound
	}

	if genErr != nil {
		return fmt.Sprintf("Error: %v", genErr.Err)
	}

	return fmt.Sprintf("Error: %v", err)
}

// KindOf reports the failure kind of err and whether it came from Generate.
func KindOf(err error) (ErrorKind, bool) {
	var genErr *GenerationError
	if errors.As(err, &genErr) {
		return genErr.Kind, true
	}

	return 0, false
}
