package processor

import (
	"context"
	"os"
	"path/filepath"

	"github.com/nasindex/fileingest/engine/docmodel"
)

// DocuWorksConverter routes a .xdw/.xbd file to an out-of-process Windows
// converter reached through a dedicated conversion queue (spec §1
// Non-goals: the converter itself is out of scope).
type DocuWorksConverter interface {
	Convert(ctx context.Context, path string) (pdfPath string, err error)
}

var docuWorksExtensions = []string{"xdw", "xbd"}

// DocuWorksProcessor implements the DocuWorks contract of §4.3: convert via
// the dedicated queue, then OCR the resulting PDF.
type DocuWorksProcessor struct {
	Converter DocuWorksConverter
	PDF       *PDFProcessor
	SizeCap   int64
}

// NewDocuWorksProcessor wires a DocuWorksProcessor with the default size cap.
func NewDocuWorksProcessor(converter DocuWorksConverter, pdf *PDFProcessor) *DocuWorksProcessor {
	return &DocuWorksProcessor{Converter: converter, PDF: pdf, SizeCap: DefaultSizeCaps().Office}
}

func (p *DocuWorksProcessor) CanProcess(path string) bool {
	ext := normalizeExt(filepath.Ext(path))
	for _, e := range docuWorksExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

func (p *DocuWorksProcessor) Process(ctx context.Context, path string) (ProcessingResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return ProcessingResult{}, err
	}
	if res, ok := enforceCap(info.Size(), p.SizeCap, "docuworks"); !ok {
		return res, nil
	}

	return timed(func() ProcessingResult {
		fileName := filepath.Base(path)

		pdfPath, err := p.Converter.Convert(ctx, path)
		if err != nil {
			wrapped := docmodel.Wrap(docmodel.KindProcessingFailure, "processor.docuworks", err)
			return ProcessingResult{
				Success:          false,
				ErrorMessage:     wrapped.Error(),
				Err:              wrapped,
				FileName:         fileName,
				FileSize:         info.Size(),
				FileType:         "docuworks",
				ProcessorName:    "docuworks",
				ProcessorVersion: "1.0",
			}
		}

		res, err := p.PDF.Process(ctx, pdfPath)
		if err != nil {
			wrapped := docmodel.Wrap(docmodel.KindProcessingFailure, "processor.docuworks", err)
			return ProcessingResult{
				Success:          false,
				ErrorMessage:     wrapped.Error(),
				Err:              wrapped,
				FileName:         fileName,
				FileSize:         info.Size(),
				FileType:         "docuworks",
				ProcessorName:    "docuworks",
				ProcessorVersion: "1.0",
			}
		}
		res.FileName = fileName
		res.FileSize = info.Size()
		res.FileType = "docuworks"
		res.ProcessorName = "docuworks"
		res.ProcessorVersion = "1.0"
		return res
	}), nil
}
