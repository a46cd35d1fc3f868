package llm

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	openai "github.com/sashabaranov/go-openai"

	"github.com/nikhilbhutani/docqa/internal/models"
)

// classify converts a raw provider failure into *models.ProviderError.
// Rate limits, 5xx responses and timeouts are transient; everything else is not.
func classify(provider string, err error) error {
	if err == nil {
		return nil
	}
	var pe *models.ProviderError
	if errors.As(err, &pe) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	status := statusOf(err)
	transient := transientStatus(status)

	if errors.Is(err, context.DeadlineExceeded) {
		transient = true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		transient = true
	}

	return &models.ProviderError{
		Provider:   provider,
		StatusCode: status,
		Transient:  transient,
		Err:        err,
	}
}

func statusOf(err error) int {
	var oaiAPI *openai.APIError
	if errors.As(err, &oaiAPI) {
		return oaiAPI.HTTPStatusCode
	}
	var oaiReq *openai.RequestError
	if errors.As(err, &oaiReq) {
		return oaiReq.HTTPStatusCode
	}
	var antErr *anthropic.Error
	if errors.As(err, &antErr) {
		return antErr.StatusCode
	}
	var httpErr *statusError
	if errors.As(err, &httpErr) {
		return httpErr.code
	}
	return 0
}

func transientStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500
}

// statusError is returned by the plain HTTP providers for non-2xx responses.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return http.StatusText(e.code)
	}
	return http.StatusText(e.code) + ": " + e.body
}
