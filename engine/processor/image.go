package processor

import (
	"context"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/nasindex/fileingest/engine/docmodel"
)

// OCREngine extracts text from a raster image. Implementations live outside
// this module (spec §1 Non-goals: "the format-specific extractors
// themselves... are not part of the core").
type OCREngine interface {
	// ExtractText runs OCR on imagePath. preprocess requests grayscale +
	// contrast normalisation before recognition.
	ExtractText(ctx context.Context, imagePath string, preprocess bool) (text string, confidence float64, language string, err error)
}

// ThumbnailGenerator produces a thumbnail for a raster image.
type ThumbnailGenerator interface {
	Generate(ctx context.Context, imagePath string) (data []byte, format string, err error)
}

var imageExtensions = []string{"jpg", "jpeg", "png", "gif", "bmp", "tiff", "tif", "webp"}

// ImageProcessor implements the image contract of §4.3: OCR (Japanese
// primary, English fallback), thumbnail generation, EXIF/dimension
// metadata, with optional grayscale+contrast preprocessing before OCR.
type ImageProcessor struct {
	OCR        OCREngine
	Thumbnails ThumbnailGenerator
	Preprocess bool
	SizeCap    int64
}

// NewImageProcessor wires an ImageProcessor with the default size cap.
func NewImageProcessor(ocr OCREngine, thumbs ThumbnailGenerator, preprocess bool) *ImageProcessor {
	return &ImageProcessor{OCR: ocr, Thumbnails: thumbs, Preprocess: preprocess, SizeCap: DefaultSizeCaps().Image}
}

func (p *ImageProcessor) CanProcess(path string) bool {
	ext := normalizeExt(filepath.Ext(path))
	for _, e := range imageExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

func (p *ImageProcessor) Process(ctx context.Context, path string) (ProcessingResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return ProcessingResult{}, err
	}
	if res, ok := enforceCap(info.Size(), p.SizeCap, "image"); !ok {
		return res, nil
	}

	return timed(func() ProcessingResult {
		res := ProcessingResult{
			FileName:         filepath.Base(path),
			FileSize:         info.Size(),
			FileType:         "image",
			MimeType:         mimeFor(path),
			ProcessorName:    "image",
			ProcessorVersion: "1.0",
			Metadata:         map[string]string{},
		}

		text, confidence, lang, err := p.OCR.ExtractText(ctx, path, p.Preprocess)
		if err != nil {
			wrapped := docmodel.Wrap(docmodel.KindProcessingFailure, "processor.image", err)
			res.Success = false
			res.ErrorMessage = wrapped.Error()
			res.Err = wrapped
			return res
		}
		res.ExtractedText = text
		res.WordCount = wordCount(text)
		res.CharCount = len([]rune(text))
		res.OCRConfidence = &confidence
		res.OCRLanguage = lang

		if p.Thumbnails != nil {
			if data, format, err := p.Thumbnails.Generate(ctx, path); err == nil {
				res.ThumbnailBytes = data
				res.ThumbnailFormat = format
			}
		}
		res.Success = true
		return res
	}), nil
}

func mimeFor(path string) string {
	ext := filepath.Ext(path)
	if m := mime.TypeByExtension(ext); m != "" {
		return m
	}
	return "application/octet-stream"
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}
