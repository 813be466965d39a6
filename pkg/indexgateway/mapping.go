package indexgateway

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// MappingOptions parameterizes the fixed index schema (§4.4).
type MappingOptions struct {
	VectorDimension int
	Shards          int
	Replicas        int
}

// DefaultMappingOptions returns sensible defaults for a single-node dev
// cluster; production deployments override Shards/Replicas.
func DefaultMappingOptions() MappingOptions {
	return MappingOptions{VectorDimension: 512, Shards: 1, Replicas: 1}
}

const japaneseAnalyzer = "ja_analyzer"

// buildMapping renders the fixed index body: keyword fields unanalyzed,
// text fields tokenized with a Japanese morphological analyzer (base-form,
// stop-word, part-of-speech, and half/full-width normalisation filters),
// and a single k-NN vector field with cosine similarity and HNSW.
func buildMapping(opts MappingOptions) ([]byte, error) {
	body := map[string]any{
		"settings": map[string]any{
			"index": map[string]any{
				"number_of_shards":   opts.Shards,
				"number_of_replicas": opts.Replicas,
				"knn":                true,
			},
			"analysis": map[string]any{
				"analyzer": map[string]any{
					japaneseAnalyzer: map[string]any{
						"type":      "custom",
						"tokenizer": "kuromoji_tokenizer",
						"filter": []string{
							"kuromoji_baseform",
							"kuromoji_part_of_speech",
							"ja_stop",
							"kuromoji_number",
							"kuromoji_stemmer",
							"cjk_width",
							"lowercase",
						},
					},
				},
			},
		},
		"mappings": map[string]any{
			"properties": map[string]any{
				"fileId":          keyword(),
				"fileName":        textField(),
				"filePath":        textField(),
				"fileKey":         keyword(),
				"bucket":          keyword(),
				"fileExtension":   keyword(),
				"mimeType":        keyword(),
				"fileSize":        map[string]any{"type": "long"},
				"createdAt":       dateField(),
				"modifiedAt":      dateField(),
				"indexedAt":       dateField(),
				"processedAt":     dateField(),
				"extractedText":   textField(),
				"content":         textField(),
				"pageCount":       map[string]any{"type": "integer"},
				"wordCount":       map[string]any{"type": "integer"},
				"charCount":       map[string]any{"type": "integer"},
				"category":        keyword(),
				"categoryDisplay": keyword(),
				"nasServer":       keyword(),
				"rootFolder":      keyword(),
				"nasPath":         textField(),
				"thumbnailUrl":    keyword(),
				"thumbnailS3Key":  keyword(),
				"totalPages":      map[string]any{"type": "integer"},
				"imageVector": map[string]any{
					"type":      "knn_vector",
					"dimension": opts.VectorDimension,
					"method": map[string]any{
						"name":       "hnsw",
						"space_type": "cosinesimil",
						"engine":     "nmslib",
					},
				},
				"vectorDimension":  map[string]any{"type": "integer"},
				"vectorModel":      keyword(),
				"vectorUpdatedAt":  dateField(),
				"ocrText":          textField(),
				"ocrConfidence":    map[string]any{"type": "float"},
				"ocrLanguage":      keyword(),
				"processingStatus": keyword(),
				"errorMessage":     textField(),
				"success":          map[string]any{"type": "boolean"},
				"processorName":    keyword(),
				"processorVersion": keyword(),
			},
		},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, fmt.Errorf("indexgateway: encode mapping: %w", err)
	}
	return buf.Bytes(), nil
}

func keyword() map[string]any {
	return map[string]any{"type": "keyword"}
}

func textField() map[string]any {
	return map[string]any{"type": "text", "analyzer": japaneseAnalyzer}
}

func dateField() map[string]any {
	return map[string]any{"type": "date"}
}
