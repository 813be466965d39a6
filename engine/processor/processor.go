// Package processor implements the Processor Registry (spec §4.3): routes a
// local file to a format-specific processor by extension, enforces
// per-type size caps, and normalises whatever the processor returns. The
// format-specific extractors themselves (OCR, Office/DocuWorks conversion)
// are out of scope (spec §1 Non-goals) and are modelled here as small
// interfaces a caller supplies a real implementation for.
package processor

import (
	"context"
	"strings"
	"time"

	"github.com/nasindex/fileingest/engine/docmodel"
)

// ProcessingResult is the normalised output of any processor (§4.3).
type ProcessingResult struct {
	Success               bool
	ErrorMessage          string
	// Err carries the classified failure behind ErrorMessage (docmodel.Kind
	// surfaces retry/DLQ/ack policy per §7). Only set when Success is false;
	// callers that need to route a failure fall back to wrapping
	// ErrorMessage as KindProcessingFailure when Err is nil.
	Err                   error
	FileName              string
	FileSize              int64
	FileType              string
	MimeType              string
	ExtractedText         string
	PageCount             int
	WordCount             int
	CharCount             int
	ThumbnailBytes        []byte
	ThumbnailFormat       string
	Metadata              map[string]string
	ProcessorName         string
	ProcessorVersion      string
	ProcessingTimeSeconds float64
	OCRConfidence         *float64
	OCRLanguage           string
}

// Processor routes and transforms a single local file.
type Processor interface {
	// CanProcess reports whether this processor handles path's extension.
	CanProcess(path string) bool
	// Process runs extraction/conversion and returns a normalised result.
	// It never returns a Go error for a content problem — failures are
	// reported via ProcessingResult.Success/ErrorMessage so the caller can
	// still index identity metadata for an unprocessable file. A non-nil
	// error indicates the processor itself could not run (e.g. context
	// cancellation).
	Process(ctx context.Context, path string) (ProcessingResult, error)
}

// Registry routes by lowercased file extension.
type Registry struct {
	byExt map[string]Processor
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{byExt: make(map[string]Processor)}
}

// Register binds extensions (with or without a leading dot) to proc.
func (r *Registry) Register(proc Processor, extensions ...string) {
	for _, ext := range extensions {
		r.byExt[normalizeExt(ext)] = proc
	}
}

// Lookup returns the processor registered for path's extension. The second
// return value is false for an unknown extension — per §4.3 routing
// policy, the caller's default is "not supported": delete the message as a
// success/no-op rather than sending it to the DLQ.
func (r *Registry) Lookup(path string) (Processor, bool) {
	proc, ok := r.byExt[normalizeExt(docmodel.DeriveExtension(path))]
	return proc, ok
}

func normalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// SizeCaps are the default per-type maximums (§4.3 Enforcement).
type SizeCaps struct {
	Image  int64
	PDF    int64
	Office int64
}

// DefaultSizeCaps returns the spec's default caps.
func DefaultSizeCaps() SizeCaps {
	return SizeCaps{
		Image:  50 << 20,
		PDF:    500 << 20,
		Office: 200 << 20,
	}
}

// enforceCap returns a failed ProcessingResult with KindResourceExhaustion
// when size exceeds cap; ok is false in that case and the caller must not
// proceed with extraction.
func enforceCap(size, cap int64, processorName string) (ProcessingResult, bool) {
	if size <= cap {
		return ProcessingResult{}, true
	}
	wrapped := docmodel.Wrap(docmodel.KindResourceExhaustion, "processor."+processorName, errOversize(size, cap))
	return ProcessingResult{
		Success:       false,
		ErrorMessage:  wrapped.Error(),
		Err:           wrapped,
		ProcessorName: processorName,
	}, false
}

func errOversize(size, cap int64) error {
	return &oversizeError{size: size, cap: cap}
}

type oversizeError struct {
	size, cap int64
}

func (e *oversizeError) Error() string {
	return "file size exceeds processor cap"
}

// timed runs fn and stamps ProcessingTimeSeconds on its result.
func timed(fn func() ProcessingResult) ProcessingResult {
	start := time.Now()
	res := fn()
	res.ProcessingTimeSeconds = time.Since(start).Seconds()
	return res
}
