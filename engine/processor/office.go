package processor

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/nasindex/fileingest/engine/docmodel"
)

const defaultOfficeConvertTimeout = 180 * time.Second

// OfficeConverter delegates Office→PDF conversion to an external converter
// process (spec §1 Non-goals: conversion itself is out of scope).
type OfficeConverter interface {
	ConvertToPDF(ctx context.Context, path string, timeout time.Duration) (pdfPath string, err error)
}

// PPTXThumbnailReader reads a PPTX's embedded slide-one thumbnail directly
// from its archive, avoiding a full conversion just for the thumbnail.
type PPTXThumbnailReader interface {
	ReadEmbeddedThumbnail(path string) (data []byte, format string, ok bool)
}

var officeExtensions = []string{"doc", "docx", "xls", "xlsx", "ppt", "pptx"}

// OfficeProcessor implements the Office contract of §4.3: convert to PDF,
// then run the PDF pipeline; for PPTX, try the embedded thumbnail first.
type OfficeProcessor struct {
	Converter       OfficeConverter
	PPTXThumbnails  PPTXThumbnailReader
	PDF             *PDFProcessor
	ConvertTimeout  time.Duration
	SizeCap         int64
}

// NewOfficeProcessor wires an OfficeProcessor with the default timeout and
// size cap.
func NewOfficeProcessor(converter OfficeConverter, pptxThumbs PPTXThumbnailReader, pdf *PDFProcessor) *OfficeProcessor {
	return &OfficeProcessor{
		Converter:      converter,
		PPTXThumbnails: pptxThumbs,
		PDF:            pdf,
		ConvertTimeout: defaultOfficeConvertTimeout,
		SizeCap:        DefaultSizeCaps().Office,
	}
}

func (p *OfficeProcessor) CanProcess(path string) bool {
	ext := normalizeExt(filepath.Ext(path))
	for _, e := range officeExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

func (p *OfficeProcessor) Process(ctx context.Context, path string) (ProcessingResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return ProcessingResult{}, err
	}
	if res, ok := enforceCap(info.Size(), p.SizeCap, "office"); !ok {
		return res, nil
	}

	return timed(func() ProcessingResult {
		res := ProcessingResult{
			FileName:         filepath.Base(path),
			FileSize:         info.Size(),
			FileType:         "office",
			MimeType:         mimeFor(path),
			ProcessorName:    "office",
			ProcessorVersion: "1.0",
			Metadata:         map[string]string{},
		}

		if normalizeExt(filepath.Ext(path)) == "pptx" && p.PPTXThumbnails != nil {
			if data, format, ok := p.PPTXThumbnails.ReadEmbeddedThumbnail(path); ok {
				res.ThumbnailBytes = data
				res.ThumbnailFormat = format
			}
		}

		pdfPath, err := p.Converter.ConvertToPDF(ctx, path, p.ConvertTimeout)
		if err != nil {
			wrapped := docmodel.Wrap(docmodel.KindProcessingFailure, "processor.office", err)
			res.Success = false
			res.ErrorMessage = wrapped.Error()
			res.Err = wrapped
			return res
		}

		pdfRes, err := p.PDF.Process(ctx, pdfPath)
		if err != nil {
			wrapped := docmodel.Wrap(docmodel.KindProcessingFailure, "processor.office", err)
			res.Success = false
			res.ErrorMessage = wrapped.Error()
			res.Err = wrapped
			return res
		}
		pdfRes.FileName = res.FileName
		pdfRes.FileType = res.FileType
		pdfRes.MimeType = res.MimeType
		pdfRes.ProcessorName = res.ProcessorName
		pdfRes.ProcessorVersion = res.ProcessorVersion
		if res.ThumbnailBytes != nil {
			pdfRes.ThumbnailBytes = res.ThumbnailBytes
			pdfRes.ThumbnailFormat = res.ThumbnailFormat
		}
		return pdfRes
	}), nil
}
