package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/dvloznov/statement-reconciler/internal/classifier"
	"github.com/dvloznov/statement-reconciler/internal/pipeline"
	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("error: %v", err)
	}
}

// run extracts one local statement and prints the payload, for checking
// prompts and models without touching any store.
//
// Vertex vs Gemini Dev is controlled via env vars:
//   - GOOGLE_GENAI_USE_VERTEXAI=True  -> Vertex AI
//   - GOOGLE_CLOUD_PROJECT
//   - GOOGLE_CLOUD_LOCATION
func run() error {
	_ = godotenv.Load()

	model := flag.String("model", pipeline.DefaultModelName, "Gemini model name")
	password := flag.String("password", "", "Password for an encrypted PDF")
	textOnly := flag.Bool("text", false, "Print the decoded PDF text instead of calling the model")
	timeout := flag.Duration("timeout", pipeline.DefaultExtractTimeout, "Extraction timeout")
	flag.Parse()

	if flag.NArg() != 1 {
		return fmt.Errorf("usage: extract-pdf [options] FILE.pdf")
	}
	pdfPath := flag.Arg(0)

	pdfBytes, err := os.ReadFile(pdfPath)
	if err != nil {
		return fmt.Errorf("failed to read PDF at %q: %w", pdfPath, err)
	}

	used, encrypted, err := pipeline.PDFUnlocker{}.Unlock(pdfBytes, []string{*password})
	if err != nil {
		return err
	}
	if encrypted {
		fmt.Fprintln(os.Stderr, "PDF is encrypted; unlocked with the supplied password")
	}

	if *textOnly {
		text, pages, err := pipeline.ExtractText(pdfBytes, used)
		if err != nil {
			return err
		}
		fmt.Printf("--- %d page(s) ---\n%s\n", pages, text)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	extractor, err := pipeline.NewGeminiExtractor(ctx, *model)
	if err != nil {
		return err
	}

	start := time.Now()
	res := extractor.Extract(ctx, pipeline.Document{
		Name:     filepath.Base(pdfPath),
		Data:     pdfBytes,
		Password: used,
	}, pipeline.StatementSchema)

	switch r := res.(type) {
	case pipeline.Failure:
		return fmt.Errorf("extraction failed (retryable=%v): %s", r.Retryable, r.Reason)
	case pipeline.Success:
		c := classifier.Classify(classifier.FromPayload(&r.Payload, ""))
		out := map[string]interface{}{
			"payload":        r.Payload,
			"classification": c,
			"took":           time.Since(start).Round(time.Millisecond).String(),
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	default:
		return fmt.Errorf("unexpected extraction result %T", res)
	}
}
