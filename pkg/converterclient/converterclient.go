// Package converterclient implements the format-specific extractor/converter
// clients the processor registry depends on (spec §1 Non-goals: the
// extractors themselves are external processes; this package is the RPC
// boundary to them), following the same synchronous Lambda-invoke shape as
// pkg/embedclient. Each converter is reached as a distinct Lambda function
// so its timeout and failure mode can be tuned independently (§5: converter
// RPC default 180s, OCR implicit via the processing budget).
package converterclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"

	"github.com/nasindex/fileingest/pkg/resilience"
)

// lambdaAPI is the subset of the Lambda client every client in this package
// depends on.
type lambdaAPI interface {
	Invoke(ctx context.Context, in *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
}

// rpcLimiter bounds the combined rate of converter RPC calls across every
// client in this package (OCR, thumbnail, PDF text/raster, office,
// DocuWorks) — all six are typically invoked by the same bounded worker
// pool (§4.6 MaxWorkers), so the ceiling belongs to the RPC boundary as a
// whole rather than to each individual function.
var rpcLimiter = resilience.NewLimiter(resilience.LimiterOpts{Rate: 20, Burst: 20})

func invokeJSON(ctx context.Context, client lambdaAPI, functionName string, req, resp any) error {
	if err := rpcLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("converterclient: rate limit wait for %s: %w", functionName, err)
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("converterclient: marshal request: %w", err)
	}
	out, err := client.Invoke(ctx, &lambda.InvokeInput{
		FunctionName: aws.String(functionName),
		Payload:      payload,
	})
	if err != nil {
		return fmt.Errorf("converterclient: invoke %s: %w", functionName, err)
	}
	if out.FunctionError != nil {
		return fmt.Errorf("converterclient: %s reported an error: %s", functionName, aws.ToString(out.FunctionError))
	}
	if err := json.Unmarshal(out.Payload, resp); err != nil {
		return fmt.Errorf("converterclient: unmarshal %s response: %w", functionName, err)
	}
	return nil
}

// PDFTextClient implements engine/processor.PDFTextExtractor.
type PDFTextClient struct {
	client   lambdaAPI
	function string
	logger   *slog.Logger
}

func NewPDFTextClient(client lambdaAPI, function string, logger *slog.Logger) *PDFTextClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &PDFTextClient{client: client, function: function, logger: logger}
}

func (c *PDFTextClient) ExtractText(ctx context.Context, path string) (string, int, error) {
	var resp struct {
		Text      string `json:"text"`
		PageCount int    `json:"pageCount"`
		Error     string `json:"error,omitempty"`
	}
	if err := invokeJSON(ctx, c.client, c.function, map[string]string{"path": path}, &resp); err != nil {
		return "", 0, err
	}
	if resp.Error != "" {
		return "", 0, fmt.Errorf("converterclient: pdf text extraction: %s", resp.Error)
	}
	return resp.Text, resp.PageCount, nil
}

// PDFRasterClient implements engine/processor.PDFRasterizer.
type PDFRasterClient struct {
	client   lambdaAPI
	function string
}

func NewPDFRasterClient(client lambdaAPI, function string) *PDFRasterClient {
	return &PDFRasterClient{client: client, function: function}
}

func (c *PDFRasterClient) RasterizePage(ctx context.Context, path string, page, dpi int) (string, error) {
	var resp struct {
		ImagePath string `json:"imagePath"`
		Error     string `json:"error,omitempty"`
	}
	req := map[string]any{"path": path, "page": page, "dpi": dpi}
	if err := invokeJSON(ctx, c.client, c.function, req, &resp); err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", fmt.Errorf("converterclient: rasterize page: %s", resp.Error)
	}
	return resp.ImagePath, nil
}

// OCRClient implements engine/processor.OCREngine.
type OCRClient struct {
	client   lambdaAPI
	function string
}

func NewOCRClient(client lambdaAPI, function string) *OCRClient {
	return &OCRClient{client: client, function: function}
}

func (c *OCRClient) ExtractText(ctx context.Context, imagePath string, preprocess bool) (string, float64, string, error) {
	var resp struct {
		Text       string  `json:"text"`
		Confidence float64 `json:"confidence"`
		Language   string  `json:"language"`
		Error      string  `json:"error,omitempty"`
	}
	req := map[string]any{"imagePath": imagePath, "preprocess": preprocess}
	if err := invokeJSON(ctx, c.client, c.function, req, &resp); err != nil {
		return "", 0, "", err
	}
	if resp.Error != "" {
		return "", 0, "", fmt.Errorf("converterclient: ocr: %s", resp.Error)
	}
	return resp.Text, resp.Confidence, resp.Language, nil
}

// ThumbnailClient implements engine/processor.ThumbnailGenerator.
type ThumbnailClient struct {
	client   lambdaAPI
	function string
}

func NewThumbnailClient(client lambdaAPI, function string) *ThumbnailClient {
	return &ThumbnailClient{client: client, function: function}
}

func (c *ThumbnailClient) Generate(ctx context.Context, imagePath string) ([]byte, string, error) {
	var resp struct {
		DataBase64 string `json:"dataBase64"`
		Format     string `json:"format"`
		Error      string `json:"error,omitempty"`
	}
	if err := invokeJSON(ctx, c.client, c.function, map[string]string{"imagePath": imagePath}, &resp); err != nil {
		return nil, "", err
	}
	if resp.Error != "" {
		return nil, "", fmt.Errorf("converterclient: thumbnail: %s", resp.Error)
	}
	return []byte(resp.DataBase64), resp.Format, nil
}

// OfficeConvertClient implements engine/processor.OfficeConverter.
type OfficeConvertClient struct {
	client   lambdaAPI
	function string
}

func NewOfficeConvertClient(client lambdaAPI, function string) *OfficeConvertClient {
	return &OfficeConvertClient{client: client, function: function}
}

func (c *OfficeConvertClient) ConvertToPDF(ctx context.Context, path string, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	var resp struct {
		PDFPath string `json:"pdfPath"`
		Error   string `json:"error,omitempty"`
	}
	if err := invokeJSON(ctx, c.client, c.function, map[string]string{"path": path}, &resp); err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", fmt.Errorf("converterclient: office convert: %s", resp.Error)
	}
	return resp.PDFPath, nil
}

// DocuWorksConvertClient implements engine/processor.DocuWorksConverter,
// reaching the dedicated out-of-process Windows converter (spec §1
// Non-goals) through the same synchronous Lambda-invoke boundary as the
// other converters.
type DocuWorksConvertClient struct {
	client   lambdaAPI
	function string
}

func NewDocuWorksConvertClient(client lambdaAPI, function string) *DocuWorksConvertClient {
	return &DocuWorksConvertClient{client: client, function: function}
}

func (c *DocuWorksConvertClient) Convert(ctx context.Context, path string) (string, error) {
	var resp struct {
		PDFPath string `json:"pdfPath"`
		Error   string `json:"error,omitempty"`
	}
	if err := invokeJSON(ctx, c.client, c.function, map[string]string{"path": path}, &resp); err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", fmt.Errorf("converterclient: docuworks convert: %s", resp.Error)
	}
	return resp.PDFPath, nil
}
