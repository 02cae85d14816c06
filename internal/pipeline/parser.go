package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dvloznov/statement-reconciler/internal/logger"
	"google.golang.org/genai"
)

// GeminiExtractor is the Extractor backed by a Gemini model.
type GeminiExtractor struct {
	client *genai.Client
	model  string
}

// NewGeminiExtractor creates a GenAI client. Credentials come from the
// environment (GOOGLE_API_KEY, or Vertex AI project settings).
func NewGeminiExtractor(ctx context.Context, model string) (*GeminiExtractor, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return nil, fmt.Errorf("NewGeminiExtractor: create genai client: %w", err)
	}
	if model == "" {
		model = DefaultModelName
	}
	return &GeminiExtractor{client: client, model: model}, nil
}

// Model returns the model name used for extraction.
func (g *GeminiExtractor) Model() string {
	return g.model
}

// Extract implements Extractor. Unencrypted PDFs are sent inline; an
// encrypted one is decrypted locally and sent as page text.
func (g *GeminiExtractor) Extract(ctx context.Context, doc Document, schema Schema) Result {
	parts := []*genai.Part{{Text: buildExtractionPrompt(schema)}}

	if doc.Password != "" {
		text, pages, err := ExtractText(doc.Data, doc.Password)
		if err != nil {
			return Failure{Reason: err.Error(), Retryable: false}
		}
		parts = append(parts, &genai.Part{
			Text: fmt.Sprintf("Statement text (%d pages):\n%s", pages, text),
		})
	} else {
		parts = append(parts, &genai.Part{
			InlineData: &genai.Blob{
				MIMEType: pdfMIMEType,
				Data:     doc.Data,
			},
		})
	}

	contents := []*genai.Content{{Role: "user", Parts: parts}}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Failure{Reason: "extraction engine timed out", Retryable: true}
		}
		return Failure{Reason: fmt.Sprintf("generate content: %v", err), Retryable: true}
	}

	rawText := resp.Text()
	if rawText == "" {
		return Failure{Reason: "empty response from model", Retryable: true}
	}

	raw, err := decodeModelJSON(cleanModelJSON(rawText))
	if err != nil {
		log := logger.FromContext(ctx)
		log.Debug().Str("file_name", doc.Name).Str("raw_response", rawText).Msg("Unparseable model output")
		return Failure{Reason: fmt.Sprintf("unmarshal JSON: %v", err), Retryable: true}
	}

	payload, err := payloadFromModelOutput(raw)
	if err != nil {
		return Failure{Reason: err.Error(), Retryable: true}
	}
	return Success{Payload: payload, Raw: raw}
}

// decodeModelJSON decodes an object keeping numbers as json.Number so
// amounts reach decimal without a float round-trip.
func decodeModelJSON(s string) (map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()

	var out map[string]interface{}
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, fmt.Errorf("model output is not an object")
	}
	return out, nil
}

func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	// Handle ```json ... ``` or ``` ... ``` wrappers.
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		s = strings.TrimSpace(s)
	}

	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}

	s = strings.TrimSpace(s)

	// keep only the outermost object
	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end != -1 && end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}

	return s
}
