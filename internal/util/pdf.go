package util

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ExtractPDFText returns the sanitized plain text of the PDF at path.
func ExtractPDFText(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()
	return plainText(r)
}

// ExtractPDFTextFrom reads a PDF from an in-memory or uploaded source.
func ExtractPDFTextFrom(src io.ReaderAt, size int64) (string, error) {
	r, err := pdf.NewReader(src, size)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	return plainText(r)
}

func plainText(r *pdf.Reader) (string, error) {
	reader, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}
	buf := new(strings.Builder)
	if _, err := io.Copy(buf, reader); err != nil {
		return "", fmt.Errorf("read extracted text: %w", err)
	}
	text := SanitizeText(strings.TrimSpace(buf.String()))
	if text == "" {
		return "", ErrNoExtractableText
	}
	return text, nil
}

// TitleFromText picks the first non-empty line, capped at maxRunes.
func TitleFromText(text string, maxRunes int) string {
	s := bufio.NewScanner(strings.NewReader(text))
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" {
			continue
		}
		return DisplaySnippet(line, maxRunes)
	}
	return ""
}
