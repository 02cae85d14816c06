package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Unlocker opens possibly encrypted documents.
type Unlocker interface {
	// Unlock reports whether data is encrypted and, if so, which candidate
	// opens it. It returns ErrPasswordRequired when none does.
	Unlock(data []byte, candidates []string) (password string, encrypted bool, err error)
}

// PDFUnlocker is an Unlocker for PDF documents.
type PDFUnlocker struct{}

// Unlock implements Unlocker.
func (PDFUnlocker) Unlock(data []byte, candidates []string) (password string, encrypted bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("Unlock: PDF library crashed: %v", r)
		}
	}()

	_, openErr := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if openErr == nil {
		return "", false, nil
	}
	if !errors.Is(openErr, pdf.ErrInvalidPassword) {
		return "", false, fmt.Errorf("Unlock: reading pdf: %w", openErr)
	}

	for _, pw := range candidates {
		if pw == "" {
			continue
		}
		if _, err := openEncrypted(data, pw); err == nil {
			return pw, true, nil
		}
	}
	return "", true, ErrPasswordRequired
}

// ExtractText returns the plain text and page count of a PDF, decrypting
// it with password when one is given.
func ExtractText(data []byte, password string) (text string, pages int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("ExtractText: PDF library crashed: %v", r)
		}
	}()

	r, err := openEncrypted(data, password)
	if err != nil {
		return "", 0, fmt.Errorf("ExtractText: %w", err)
	}

	pages = r.NumPage()
	var b strings.Builder
	for i := 1; i <= pages; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		s, err := p.GetPlainText(nil)
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "--- page %d ---\n%s\n", i, strings.TrimSpace(s))
	}
	if b.Len() > 0 {
		return b.String(), pages, nil
	}

	// Some files only yield text through the document-level reader.
	rd, err := r.GetPlainText()
	if err != nil {
		return "", pages, fmt.Errorf("ExtractText: reading text: %w", err)
	}
	all, err := io.ReadAll(rd)
	if err != nil {
		return "", pages, fmt.Errorf("ExtractText: reading text: %w", err)
	}
	return string(all), pages, nil
}

func openEncrypted(data []byte, password string) (*pdf.Reader, error) {
	tried := false
	return pdf.NewReaderEncrypted(bytes.NewReader(data), int64(len(data)), func() string {
		if tried {
			return ""
		}
		tried = true
		return password
	})
}
