package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"github.com/valyala/fasthttp"

	"pool-verifier/internal/config"
	"pool-verifier/internal/constants"
	"pool-verifier/internal/domain"
)

// OCRClient talks to the external text-recognition engine. The engine is a
// black box: image bytes in, text plus a 0-100 confidence out.
type OCRClient struct {
	endpoint string
	apiKey   string
	client   *fasthttp.Client
	logger   zerolog.Logger
}

type ocrResponse struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

func NewOCRClient(cfg *config.Config, logger zerolog.Logger) *OCRClient {
	return &OCRClient{
		endpoint: cfg.OCREndpoint,
		apiKey:   cfg.OCRAPIKey,
		client: &fasthttp.Client{
			MaxConnsPerHost:     100,
			ReadTimeout:         constants.ExternalAPITimeout,
			WriteTimeout:        constants.ExternalAPITimeout,
			MaxIdleConnDuration: 1 * time.Minute,
		},
		logger: logger,
	}
}

// ExtractText runs OCR on one image. Transient engine failures (timeouts,
// 5xx) are retried with exponential backoff; anything that still fails is
// wrapped in domain.ErrOCRFailure.
func (c *OCRClient) ExtractText(ctx context.Context, image []byte, contentType string) (domain.ExtractedText, error) {
	var parsed ocrResponse

	backoff := retry.WithMaxRetries(constants.OCRMaxRetries, retry.NewExponential(constants.OCRRetryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		req := fasthttp.AcquireRequest()
		resp := fasthttp.AcquireResponse()
		defer fasthttp.ReleaseRequest(req)
		defer fasthttp.ReleaseResponse(resp)

		req.SetRequestURI(c.endpoint)
		req.Header.SetMethod(fasthttp.MethodPost)
		req.Header.SetContentType(contentType)
		req.Header.Set("apikey", c.apiKey)
		req.SetBody(image)

		if err := c.do(ctx, req, resp); err != nil {
			return retry.RetryableError(err)
		}

		status := resp.StatusCode()
		if status >= 500 {
			return retry.RetryableError(fmt.Errorf("ocr engine returned %d", status))
		}
		if status != fasthttp.StatusOK {
			return fmt.Errorf("ocr engine returned %d", status)
		}

		if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
			return fmt.Errorf("decode ocr response: %w", err)
		}
		return nil
	})
	if err != nil {
		c.logger.Error().Err(err).Msg("ocr extraction failed")
		return domain.ExtractedText{}, fmt.Errorf("%w: %w", domain.ErrOCRFailure, err)
	}

	c.logger.Debug().
		Float64("confidence", parsed.Confidence).
		Int("text_len", len(parsed.Text)).
		Msg("text extracted")

	return domain.ExtractedText{Text: parsed.Text, Confidence: parsed.Confidence}, nil
}

func (c *OCRClient) do(ctx context.Context, req *fasthttp.Request, resp *fasthttp.Response) error {
	if deadline, ok := ctx.Deadline(); ok {
		return c.client.DoDeadline(req, resp, deadline)
	}
	return c.client.Do(req, resp)
}
