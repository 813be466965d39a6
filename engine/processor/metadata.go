package processor

import (
	"context"
	"os"
	"path/filepath"
)

// MetadataOnlyProcessor handles formats that are never text-extractable
// (CAD, archives, media, executables): it emits an empty-text result
// carrying only identity metadata, which is still indexed (§4.3).
type MetadataOnlyProcessor struct {
	extensions []string
}

// NewMetadataOnlyProcessor binds the processor to the given extensions.
func NewMetadataOnlyProcessor(extensions ...string) *MetadataOnlyProcessor {
	normalized := make([]string, len(extensions))
	for i, e := range extensions {
		normalized[i] = normalizeExt(e)
	}
	return &MetadataOnlyProcessor{extensions: normalized}
}

func (p *MetadataOnlyProcessor) CanProcess(path string) bool {
	ext := normalizeExt(filepath.Ext(path))
	for _, e := range p.extensions {
		if ext == e {
			return true
		}
	}
	return false
}

func (p *MetadataOnlyProcessor) Process(ctx context.Context, path string) (ProcessingResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return ProcessingResult{}, err
	}
	return timed(func() ProcessingResult {
		return ProcessingResult{
			Success:          true,
			FileName:         filepath.Base(path),
			FileSize:         info.Size(),
			FileType:         "metadata-only",
			MimeType:         mimeFor(path),
			ProcessorName:    "metadata-only",
			ProcessorVersion: "1.0",
			Metadata:         map[string]string{},
		}
	}), nil
}
