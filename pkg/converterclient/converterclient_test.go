package converterclient

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
)

type fakeLambda struct {
	out *lambda.InvokeOutput
	err error
	in  *lambda.InvokeInput
}

func (f *fakeLambda) Invoke(ctx context.Context, in *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error) {
	f.in = in
	return f.out, f.err
}

func jsonPayload(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return b
}

func TestPDFTextClientExtractText(t *testing.T) {
	fake := &fakeLambda{out: &lambda.InvokeOutput{
		Payload: jsonPayload(t, map[string]any{"text": "hello world", "pageCount": 3}),
	}}
	c := NewPDFTextClient(fake, "pdf-text-fn", nil)
	text, pages, err := c.ExtractText(context.Background(), "/tmp/doc.pdf")
	if err != nil {
		t.Fatalf("ExtractText() = %v", err)
	}
	if text != "hello world" || pages != 3 {
		t.Errorf("text=%q pages=%d", text, pages)
	}
	if aws.ToString(fake.in.FunctionName) != "pdf-text-fn" {
		t.Errorf("FunctionName = %q", aws.ToString(fake.in.FunctionName))
	}
}

func TestPDFTextClientPropagatesRemoteError(t *testing.T) {
	fake := &fakeLambda{out: &lambda.InvokeOutput{
		Payload: jsonPayload(t, map[string]any{"error": "encrypted pdf"}),
	}}
	c := NewPDFTextClient(fake, "pdf-text-fn", nil)
	if _, _, err := c.ExtractText(context.Background(), "/tmp/doc.pdf"); err == nil {
		t.Fatal("expected error for a remote-reported failure")
	}
}

func TestPDFRasterClientRasterizePage(t *testing.T) {
	fake := &fakeLambda{out: &lambda.InvokeOutput{
		Payload: jsonPayload(t, map[string]any{"imagePath": "/tmp/page1.png"}),
	}}
	c := NewPDFRasterClient(fake, "pdf-raster-fn")
	path, err := c.RasterizePage(context.Background(), "/tmp/doc.pdf", 1, 150)
	if err != nil {
		t.Fatalf("RasterizePage() = %v", err)
	}
	if path != "/tmp/page1.png" {
		t.Errorf("path = %q", path)
	}
	var req map[string]any
	if err := json.Unmarshal(fake.in.Payload, &req); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	if req["page"] != float64(1) || req["dpi"] != float64(150) {
		t.Errorf("req = %+v", req)
	}
}

func TestOCRClientExtractText(t *testing.T) {
	fake := &fakeLambda{out: &lambda.InvokeOutput{
		Payload: jsonPayload(t, map[string]any{"text": "scanned text", "confidence": 0.92, "language": "en"}),
	}}
	c := NewOCRClient(fake, "ocr-fn")
	text, confidence, lang, err := c.ExtractText(context.Background(), "/tmp/page.png", true)
	if err != nil {
		t.Fatalf("ExtractText() = %v", err)
	}
	if text != "scanned text" || confidence != 0.92 || lang != "en" {
		t.Errorf("text=%q confidence=%v lang=%q", text, confidence, lang)
	}
}

func TestOCRClientInvokeErrorPropagates(t *testing.T) {
	fake := &fakeLambda{err: context.DeadlineExceeded}
	c := NewOCRClient(fake, "ocr-fn")
	if _, _, _, err := c.ExtractText(context.Background(), "/tmp/page.png", false); err == nil {
		t.Fatal("expected invoke error to propagate")
	}
}

func TestThumbnailClientGenerate(t *testing.T) {
	fake := &fakeLambda{out: &lambda.InvokeOutput{
		Payload: jsonPayload(t, map[string]any{"dataBase64": "xyz", "format": "jpeg"}),
	}}
	c := NewThumbnailClient(fake, "thumb-fn")
	data, format, err := c.Generate(context.Background(), "/tmp/photo.jpg")
	if err != nil {
		t.Fatalf("Generate() = %v", err)
	}
	if string(data) != "xyz" || format != "jpeg" {
		t.Errorf("data=%q format=%q", data, format)
	}
}

func TestThumbnailClientFunctionErrorPropagates(t *testing.T) {
	fake := &fakeLambda{out: &lambda.InvokeOutput{
		FunctionError: aws.String("Unhandled"),
		Payload:       []byte(`{"errorMessage":"boom"}`),
	}}
	c := NewThumbnailClient(fake, "thumb-fn")
	if _, _, err := c.Generate(context.Background(), "/tmp/photo.jpg"); err == nil {
		t.Fatal("expected FunctionError to propagate as an error")
	}
}

func TestOfficeConvertClientConvertToPDF(t *testing.T) {
	fake := &fakeLambda{out: &lambda.InvokeOutput{
		Payload: jsonPayload(t, map[string]any{"pdfPath": "/tmp/converted.pdf"}),
	}}
	c := NewOfficeConvertClient(fake, "office-convert-fn")
	path, err := c.ConvertToPDF(context.Background(), "/tmp/doc.docx", 5*time.Second)
	if err != nil {
		t.Fatalf("ConvertToPDF() = %v", err)
	}
	if path != "/tmp/converted.pdf" {
		t.Errorf("path = %q", path)
	}
}

func TestDocuWorksConvertClientConvert(t *testing.T) {
	fake := &fakeLambda{out: &lambda.InvokeOutput{
		Payload: jsonPayload(t, map[string]any{"pdfPath": "/tmp/converted.pdf"}),
	}}
	c := NewDocuWorksConvertClient(fake, "docuworks-convert-fn")
	path, err := c.Convert(context.Background(), "/tmp/doc.xdw")
	if err != nil {
		t.Fatalf("Convert() = %v", err)
	}
	if path != "/tmp/converted.pdf" {
		t.Errorf("path = %q", path)
	}
}
