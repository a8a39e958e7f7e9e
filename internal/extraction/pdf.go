package extraction

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"strings"

	"github.com/gen2brain/go-fitz"

	"github.com/Ajay6601/docuflow-ai/internal/common"
)

// PDFStrategy reads the embedded text layer. Scanned PDFs come back empty
// here and fall through to PDFOCRStrategy.
type PDFStrategy struct{}

func (s *PDFStrategy) Name() string { return "pdf-native" }

func (s *PDFStrategy) Extract(ctx context.Context, data []byte) (Result, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return Result{}, common.Permanent("extraction", fmt.Errorf("corrupt or unreadable pdf: %w", err))
	}
	defer doc.Close()

	pages := doc.NumPage()
	var b strings.Builder
	for i := 0; i < pages; i++ {
		text, err := doc.Text(i)
		if err != nil || strings.TrimSpace(text) == "" {
			continue
		}
		fmt.Fprintf(&b, "\n--- Page %d ---\n%s", i+1, text)
	}

	return Result{
		Text:      strings.TrimSpace(b.String()),
		PageCount: &pages,
		Method:    MethodNative,
	}, nil
}

// OCREngine is the slice of the recognition client the strategies need.
type OCREngine interface {
	Recognize(ctx context.Context, image []byte, contentType string) (string, error)
}

// PDFOCRStrategy rasterizes each page and sends it through the optical
// recognition engine. Used as the single fallback hop for scanned PDFs.
type PDFOCRStrategy struct {
	engine OCREngine
}

func (s *PDFOCRStrategy) Name() string { return "pdf-ocr" }

func (s *PDFOCRStrategy) Extract(ctx context.Context, data []byte) (Result, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return Result{}, common.Permanent("extraction", fmt.Errorf("corrupt or unreadable pdf: %w", err))
	}
	defer doc.Close()

	pages := doc.NumPage()
	var b strings.Builder
	for i := 0; i < pages; i++ {
		img, err := doc.Image(i)
		if err != nil {
			return Result{}, common.Permanent("extraction", fmt.Errorf("failed to rasterize page %d: %w", i+1, err))
		}

		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return Result{}, common.Permanent("extraction", fmt.Errorf("failed to encode page %d: %w", i+1, err))
		}

		text, err := s.engine.Recognize(ctx, buf.Bytes(), "image/png")
		if err != nil {
			return Result{}, common.Transient("extraction", fmt.Errorf("ocr on page %d: %w", i+1, err))
		}
		if strings.TrimSpace(text) != "" {
			fmt.Fprintf(&b, "\n--- Page %d ---\n%s", i+1, text)
		}
	}

	return Result{
		Text:      strings.TrimSpace(b.String()),
		PageCount: &pages,
		Method:    MethodOCR,
	}, nil
}

// ImageOCRStrategy handles raster uploads directly.
type ImageOCRStrategy struct {
	engine OCREngine
}

func (s *ImageOCRStrategy) Name() string { return "image-ocr" }

func (s *ImageOCRStrategy) Extract(ctx context.Context, data []byte) (Result, error) {
	text, err := s.engine.Recognize(ctx, data, "application/octet-stream")
	if err != nil {
		return Result{}, common.Transient("extraction", fmt.Errorf("image ocr: %w", err))
	}
	return Result{
		Text:   strings.TrimSpace(text),
		Method: MethodOCR,
	}, nil
}
