package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/pagemill/pagemill/internal/config"
	"github.com/pagemill/pagemill/pkg/logger"
)

// PDFExtractor calls an external document parsing service over HTTP. The
// service accepts a multipart upload on /extract and returns the text as
// {"content": "..."}. An empty service URL disables PDF ingestion.
type PDFExtractor struct {
	httpClient *http.Client
	baseURL    string
	log        *slog.Logger
}

type pdfExtractResponse struct {
	Content string `json:"content"`
}

type pdfErrorResponse struct {
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

func NewPDFExtractor(cfg *config.Config, log *slog.Logger) *PDFExtractor {
	return &PDFExtractor{
		httpClient: &http.Client{
			Timeout: cfg.Pipeline.PDFServiceTimeout,
		},
		baseURL: cfg.Pipeline.PDFServiceURL,
		log:     log.With(logger.Scope("pdf-extract")),
	}
}

// Enabled reports whether a parsing service is configured.
func (e *PDFExtractor) Enabled() bool {
	return e.baseURL != ""
}

func (e *PDFExtractor) Extensions() []string {
	return []string{".pdf"}
}

func (e *PDFExtractor) Extract(ctx context.Context, content []byte, filename string) (string, error) {
	if !e.Enabled() {
		return "", fmt.Errorf("%w: PDF extraction service not configured", ErrPermanent)
	}

	start := time.Now()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return "", fmt.Errorf("write file content: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/extract", &buf)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("extraction service call: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read extraction response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		// The service rejected the file itself; retrying the same bytes
		// cannot succeed.
		var svcErr pdfErrorResponse
		if err := json.Unmarshal(body, &svcErr); err == nil && svcErr.Message != "" {
			return "", fmt.Errorf("%w: %s", ErrPermanent, svcErr.Message)
		}
		return "", fmt.Errorf("%w: extraction service returned %d", ErrPermanent, resp.StatusCode)
	default:
		return "", fmt.Errorf("extraction service returned %d", resp.StatusCode)
	}

	var result pdfExtractResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("decode extraction response: %w", err)
	}

	e.log.Debug("pdf extracted",
		slog.String("filename", filename),
		slog.Int("size_bytes", len(content)),
		slog.Int("text_bytes", len(result.Content)),
		slog.Duration("duration", time.Since(start)),
	)
	return result.Content, nil
}
