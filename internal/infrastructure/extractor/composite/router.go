// Package composite routes extraction to the cheapest capable backend:
// native parsers first, the Tika server for everything else.
package composite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/financial-risk-analyzer/internal/core/domain"
	"github.com/kirillkom/financial-risk-analyzer/internal/core/ports"
)

// BytesExtractor is a native parser keyed by file name and content.
type BytesExtractor interface {
	ExtractText(ctx context.Context, name string, data []byte) (string, error)
}

var textExtensions = map[string]bool{".txt": true, ".md": true, ".csv": true, ".py": true}

type Router struct {
	plain    ports.TextExtractor
	pdf      BytesExtractor
	xlsx     BytesExtractor
	fallback ports.TextExtractor
}

// New builds a router. fallback may be nil when no Tika server is configured.
func New(plain ports.TextExtractor, pdf, xlsx BytesExtractor, fallback ports.TextExtractor) *Router {
	return &Router{plain: plain, pdf: pdf, xlsx: xlsx, fallback: fallback}
}

func (r *Router) ExtractText(ctx context.Context, file domain.SourceFile) (string, error) {
	ext := strings.ToLower(file.Ext)
	switch {
	case textExtensions[ext] && r.plain != nil:
		return r.plain.ExtractText(ctx, file)
	case ext == ".pdf" && r.pdf != nil:
		text, err := r.pdf.ExtractText(ctx, file.Name, file.Data)
		if err == nil && strings.TrimSpace(text) != "" {
			return text, nil
		}
		// Image-only PDFs have no text layer; Tika can OCR them.
		if r.fallback == nil {
			return text, err
		}
		slog.Debug("pdf_text_layer_missing", "file", file.Name, "error", err)
	case ext == ".xlsx" && r.xlsx != nil:
		return r.xlsx.ExtractText(ctx, file.Name, file.Data)
	}

	if r.fallback == nil {
		return "", domain.WrapError(domain.ErrUnsupportedType, "extract", fmt.Errorf("%s (%s): no extractor configured", file.Name, ext))
	}
	text, err := r.fallback.ExtractText(ctx, file)
	if err != nil && !errors.Is(err, domain.ErrUnsupportedType) {
		return "", fmt.Errorf("fallback extract %s: %w", file.Name, err)
	}
	return text, err
}
