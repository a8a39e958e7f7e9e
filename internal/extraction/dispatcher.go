package extraction

import (
	"context"
	"errors"
	"fmt"
	"unicode"

	"go.uber.org/zap"

	"github.com/Ajay6601/docuflow-ai/internal/common"
	"github.com/Ajay6601/docuflow-ai/pkg/logger"
)

const (
	MethodNative = "native"
	MethodOCR    = "ocr"
)

var (
	ErrUnsupportedType = errors.New("unsupported file type for extraction")
	ErrNoText          = errors.New("no extractable text after all strategies")
)

type Result struct {
	Text      string
	PageCount *int
	Method    string
}

// Strategy converts raw file bytes into plain text. Strategies are tried in
// order until one yields text above the quality threshold; adding a format
// means adding a strategy, not another branch.
type Strategy interface {
	Name() string
	Extract(ctx context.Context, data []byte) (Result, error)
}

type Dispatcher struct {
	chains       map[string][]Strategy
	minTextChars int
}

// NewDispatcher wires the per-MIME strategy chains. minTextChars is the
// tunable quality threshold: primary output with fewer non-space characters
// triggers the single optical fallback hop.
func NewDispatcher(ocrClient OCREngine, minTextChars int) *Dispatcher {
	pdfNative := &PDFStrategy{}
	pdfOCR := &PDFOCRStrategy{engine: ocrClient}
	imageOCR := &ImageOCRStrategy{engine: ocrClient}

	return &Dispatcher{
		minTextChars: minTextChars,
		chains: map[string][]Strategy{
			"application/pdf": {pdfNative, pdfOCR},
			"image/png":       {imageOCR},
			"image/jpeg":      {imageOCR},
			"application/vnd.openxmlformats-officedocument.wordprocessingml.document": {&DocxStrategy{}},
			"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":       {&XlsxStrategy{}},
			"message/rfc822": {&EmlStrategy{}},
		},
	}
}

func (d *Dispatcher) Extract(ctx context.Context, data []byte, mimeType string) (Result, error) {
	chain, ok := d.chains[mimeType]
	if !ok {
		return Result{}, common.Permanent("extraction",
			fmt.Errorf("%w: %s", ErrUnsupportedType, mimeType))
	}

	var lastErr error
	for _, strategy := range chain {
		res, err := strategy.Extract(ctx, data)
		if err != nil {
			if common.IsPermanent(err) {
				lastErr = err
				logger.Warn("Extraction strategy failed",
					zap.String("strategy", strategy.Name()),
					zap.Error(err),
				)
				continue
			}
			// Timeouts and unavailable engines propagate for the
			// orchestrator's retry policy.
			return Result{}, err
		}

		if d.usable(res.Text) {
			logger.Info("Text extracted",
				zap.String("strategy", strategy.Name()),
				zap.String("method", res.Method),
				zap.Int("chars", len(res.Text)),
			)
			return res, nil
		}

		lastErr = fmt.Errorf("strategy %s yielded %d usable characters, below threshold %d",
			strategy.Name(), countNonSpace(res.Text), d.minTextChars)
		logger.Info("Extraction below quality threshold, trying fallback",
			zap.String("strategy", strategy.Name()),
		)
	}

	if lastErr == nil {
		lastErr = ErrNoText
	}
	return Result{}, common.Permanent("extraction", fmt.Errorf("%w: %v", ErrNoText, lastErr))
}

func (d *Dispatcher) usable(text string) bool {
	return countNonSpace(text) >= d.minTextChars
}

func countNonSpace(s string) int {
	n := 0
	for _, r := range s {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}
