package processor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile(%s) = %v", path, err)
	}
	return path
}

func TestRegistryLookupByExtension(t *testing.T) {
	r := NewRegistry()
	img := NewImageProcessor(nil, nil, false)
	r.Register(img, "jpg", ".png")

	if _, ok := r.Lookup("documents/road/ts-server3/photo.jpg"); !ok {
		t.Error("expected jpg to route to the registered processor")
	}
	if _, ok := r.Lookup("documents/road/ts-server3/photo.PNG"); !ok {
		t.Error("expected uppercase extension to match case-insensitively")
	}
	if _, ok := r.Lookup("documents/road/ts-server3/archive.zip"); ok {
		t.Error("expected unregistered extension to report not found")
	}
}

type fakeOCR struct {
	text       string
	confidence float64
	lang       string
	err        error
}

func (f *fakeOCR) ExtractText(ctx context.Context, imagePath string, preprocess bool) (string, float64, string, error) {
	return f.text, f.confidence, f.lang, f.err
}

type fakeThumbnailer struct {
	data   []byte
	format string
	err    error
}

func (f *fakeThumbnailer) Generate(ctx context.Context, imagePath string) ([]byte, string, error) {
	return f.data, f.format, f.err
}

func TestImageProcessorReturnsOCRText(t *testing.T) {
	path := writeTempFile(t, "scan.jpg", []byte("fake-jpeg-bytes"))
	ocr := &fakeOCR{text: "道路台帳", confidence: 0.92, lang: "ja"}
	thumbs := &fakeThumbnailer{data: []byte("thumb"), format: "jpeg"}
	p := NewImageProcessor(ocr, thumbs, true)

	res, err := p.Process(context.Background(), path)
	if err != nil {
		t.Fatalf("Process() = %v", err)
	}
	if !res.Success || res.ExtractedText != "道路台帳" {
		t.Errorf("res = %+v", res)
	}
	if res.OCRConfidence == nil || *res.OCRConfidence != 0.92 {
		t.Errorf("OCRConfidence = %v", res.OCRConfidence)
	}
	if len(res.ThumbnailBytes) == 0 {
		t.Error("expected thumbnail bytes")
	}
}

func TestImageProcessorEnforcesSizeCap(t *testing.T) {
	path := writeTempFile(t, "scan.jpg", []byte("small"))
	p := NewImageProcessor(&fakeOCR{}, nil, false)
	p.SizeCap = 1 // force an oversize failure

	res, err := p.Process(context.Background(), path)
	if err != nil {
		t.Fatalf("Process() = %v", err)
	}
	if res.Success {
		t.Error("expected failure for oversize file")
	}
	if res.ErrorMessage == "" {
		t.Error("expected a non-empty error message")
	}
	if res.Err == nil {
		t.Error("expected a classified error so the worker can route to the DLQ")
	}
}

func TestImageProcessorPropagatesOCRFailure(t *testing.T) {
	path := writeTempFile(t, "scan.jpg", []byte("x"))
	p := NewImageProcessor(&fakeOCR{err: errors.New("ocr engine unavailable")}, nil, false)

	res, err := p.Process(context.Background(), path)
	if err != nil {
		t.Fatalf("Process() = %v", err)
	}
	if res.Success {
		t.Error("expected failure when OCR errors")
	}
	if res.Err == nil {
		t.Error("expected a classified error so the worker can route to the DLQ")
	}
}

type fakePDFText struct {
	text      string
	pageCount int
	err       error
}

func (f *fakePDFText) ExtractText(ctx context.Context, path string) (string, int, error) {
	return f.text, f.pageCount, f.err
}

type fakeRasterizer struct {
	imagePath string
	err       error
}

func (f *fakeRasterizer) RasterizePage(ctx context.Context, path string, page, dpi int) (string, error) {
	return f.imagePath, f.err
}

func TestPDFProcessorUsesNativeTextWhenPresent(t *testing.T) {
	path := writeTempFile(t, "report.pdf", []byte("%PDF-1.4"))
	p := NewPDFProcessor(&fakePDFText{text: "native text", pageCount: 3}, &fakeRasterizer{}, &fakeOCR{}, nil)

	res, err := p.Process(context.Background(), path)
	if err != nil {
		t.Fatalf("Process() = %v", err)
	}
	if res.ExtractedText != "native text" || res.PageCount != 3 {
		t.Errorf("res = %+v", res)
	}
}

func TestPDFProcessorFallsBackToOCROnEmptyNativeText(t *testing.T) {
	path := writeTempFile(t, "scan.pdf", []byte("%PDF-1.4"))
	p := NewPDFProcessor(
		&fakePDFText{text: "", pageCount: 2},
		&fakeRasterizer{imagePath: "/tmp/page.png"},
		&fakeOCR{text: "ocr'd text"},
		nil,
	)

	res, err := p.Process(context.Background(), path)
	if err != nil {
		t.Fatalf("Process() = %v", err)
	}
	if res.ExtractedText == "" {
		t.Error("expected OCR fallback to populate extracted text")
	}
}

func TestOfficeProcessorConvertsThenRunsPDFPipeline(t *testing.T) {
	path := writeTempFile(t, "report.docx", []byte("fake-docx"))
	pdfProc := NewPDFProcessor(&fakePDFText{text: "converted text", pageCount: 1}, &fakeRasterizer{}, &fakeOCR{}, nil)
	converter := &fakeOfficeConverter{pdfPath: writeTempFile(t, "converted.pdf", []byte("%PDF-1.4"))}
	p := NewOfficeProcessor(converter, nil, pdfProc)

	res, err := p.Process(context.Background(), path)
	if err != nil {
		t.Fatalf("Process() = %v", err)
	}
	if res.ExtractedText != "converted text" || res.FileType != "office" {
		t.Errorf("res = %+v", res)
	}
}

type fakeOfficeConverter struct {
	pdfPath string
	err     error
}

func (f *fakeOfficeConverter) ConvertToPDF(ctx context.Context, path string, timeout time.Duration) (string, error) {
	return f.pdfPath, f.err
}

func TestMetadataOnlyProcessorAlwaysSucceeds(t *testing.T) {
	path := writeTempFile(t, "drawing.dwg", []byte("cad-bytes"))
	p := NewMetadataOnlyProcessor("dwg", "dxf")

	if !p.CanProcess(path) {
		t.Fatal("expected .dwg to be handled")
	}
	res, err := p.Process(context.Background(), path)
	if err != nil {
		t.Fatalf("Process() = %v", err)
	}
	if !res.Success || res.ExtractedText != "" {
		t.Errorf("res = %+v", res)
	}
}
