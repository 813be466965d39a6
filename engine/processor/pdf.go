package processor

import (
	"context"
	"os"
	"path/filepath"
	"runtime"

	"github.com/nasindex/fileingest/engine/docmodel"
)

const (
	largePDFSizeThreshold  = 50 << 20
	largePDFPageThreshold  = 100
	pdfChunkPages          = 10
	pdfThumbnailDPI        = 72
)

// PDFTextExtractor extracts native (non-OCR) text and the page count.
type PDFTextExtractor interface {
	ExtractText(ctx context.Context, path string) (text string, pageCount int, err error)
}

// PDFRasterizer rasterises one page to an image for OCR fallback, and can
// render a low-DPI thumbnail of the first page.
type PDFRasterizer interface {
	RasterizePage(ctx context.Context, path string, page, dpi int) (imagePath string, err error)
}

// PDFProcessor implements the PDF contract of §4.3: native extraction
// first, OCR fallback on empty output, chunked rasterisation with forced GC
// for large documents, first-page low-DPI thumbnail.
type PDFProcessor struct {
	Text       PDFTextExtractor
	Rasterizer PDFRasterizer
	OCR        OCREngine
	Thumbnails ThumbnailGenerator
	SizeCap    int64
}

// NewPDFProcessor wires a PDFProcessor with the default size cap.
func NewPDFProcessor(text PDFTextExtractor, rasterizer PDFRasterizer, ocr OCREngine, thumbs ThumbnailGenerator) *PDFProcessor {
	return &PDFProcessor{Text: text, Rasterizer: rasterizer, OCR: ocr, Thumbnails: thumbs, SizeCap: DefaultSizeCaps().PDF}
}

func (p *PDFProcessor) CanProcess(path string) bool {
	return normalizeExt(filepath.Ext(path)) == "pdf"
}

func (p *PDFProcessor) Process(ctx context.Context, path string) (ProcessingResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return ProcessingResult{}, err
	}
	if res, ok := enforceCap(info.Size(), p.SizeCap, "pdf"); !ok {
		return res, nil
	}

	return timed(func() ProcessingResult {
		res := ProcessingResult{
			FileName:         filepath.Base(path),
			FileSize:         info.Size(),
			FileType:         "pdf",
			MimeType:         "application/pdf",
			ProcessorName:    "pdf",
			ProcessorVersion: "1.0",
			Metadata:         map[string]string{},
		}

		text, pageCount, err := p.Text.ExtractText(ctx, path)
		if err != nil {
			wrapped := docmodel.Wrap(docmodel.KindProcessingFailure, "processor.pdf", err)
			res.Success = false
			res.ErrorMessage = wrapped.Error()
			res.Err = wrapped
			return res
		}
		res.PageCount = pageCount

		if text == "" && p.Rasterizer != nil && p.OCR != nil {
			text = p.ocrByPage(ctx, path, pageCount, info.Size())
		}
		res.ExtractedText = text
		res.WordCount = wordCount(text)
		res.CharCount = len([]rune(text))

		if p.Thumbnails != nil && p.Rasterizer != nil {
			if imagePath, err := p.Rasterizer.RasterizePage(ctx, path, 1, pdfThumbnailDPI); err == nil {
				if data, format, err := p.Thumbnails.Generate(ctx, imagePath); err == nil {
					res.ThumbnailBytes = data
					res.ThumbnailFormat = format
				}
			}
		}
		res.Success = true
		return res
	}), nil
}

// ocrByPage rasterises and OCRs every page. Large documents (by size or
// page count) are processed in chunks of pdfChunkPages with a forced GC
// between chunks to bound peak memory (§4.3).
func (p *PDFProcessor) ocrByPage(ctx context.Context, path string, pageCount int, size int64) string {
	large := size > largePDFSizeThreshold || pageCount > largePDFPageThreshold
	var out string
	for start := 1; start <= pageCount; start += pdfChunkPages {
		end := start + pdfChunkPages - 1
		if end > pageCount {
			end = pageCount
		}
		for page := start; page <= end; page++ {
			imagePath, err := p.Rasterizer.RasterizePage(ctx, path, page, 150)
			if err != nil {
				continue
			}
			text, _, _, err := p.OCR.ExtractText(ctx, imagePath, false)
			if err != nil {
				continue
			}
			out += text
		}
		if large {
			runtime.GC()
		}
	}
	return out
}
