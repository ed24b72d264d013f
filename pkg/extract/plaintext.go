package extract

import (
	"context"
	"fmt"
	"unicode/utf8"
)

// PlaintextExtractor handles text formats that need no parsing beyond UTF-8
// validation.
type PlaintextExtractor struct{}

func NewPlaintextExtractor() *PlaintextExtractor {
	return &PlaintextExtractor{}
}

func (e *PlaintextExtractor) Extensions() []string {
	return []string{".txt", ".md", ".csv", ".log"}
}

func (e *PlaintextExtractor) Extract(_ context.Context, content []byte, filename string) (string, error) {
	if !utf8.Valid(content) {
		return "", fmt.Errorf("%w: %s is not valid UTF-8", ErrPermanent, filename)
	}
	return string(content), nil
}
