package service

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

// Format is the document format declared by an upload's file extension
type Format string

const (
	FormatText Format = "text"
	FormatPDF  Format = "pdf"
)

// DetectFormat maps a filename's extension (case-insensitive) onto a Format
func DetectFormat(filename string) (Format, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".txt":
		return FormatText, nil
	case ".pdf":
		return FormatPDF, nil
	}
	return "", fmt.Errorf("%w: %q, please upload PDF or TXT files", ErrUnsupportedFormat, filename)
}

// TextExtractor turns raw document bytes into text
type TextExtractor struct{}

func NewTextExtractor() *TextExtractor {
	return &TextExtractor{}
}

// Extract decodes content according to format. The result is not trimmed
// and may be blank; rejecting blank text is the caller's decision.
func (e *TextExtractor) Extract(content []byte, format Format) (string, error) {
	switch format {
	case FormatText:
		if !utf8.Valid(content) {
			return "", fmt.Errorf("%w: document is not valid UTF-8", ErrExtraction)
		}
		return string(content), nil
	case FormatPDF:
		return extractPDF(content)
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
}

// pageSource is the slice of a paged document the extractor needs
type pageSource interface {
	NumPage() int
	PageText(i int) (string, error)
}

// joinPages writes every page's text followed by a newline, in page order.
// Pages without text still contribute their newline.
func joinPages(src pageSource) (string, error) {
	var sb strings.Builder
	for i := 1; i <= src.NumPage(); i++ {
		text, err := src.PageText(i)
		if err != nil {
			return "", fmt.Errorf("page %d: %w", i, err)
		}
		sb.WriteString(text)
		sb.WriteByte('\n')
	}
	return sb.String(), nil
}

type pdfPages struct {
	reader *pdf.Reader
}

func (p pdfPages) NumPage() int {
	return p.reader.NumPage()
}

func (p pdfPages) PageText(i int) (string, error) {
	page := p.reader.Page(i)
	if page.V.IsNull() {
		return "", nil
	}
	return page.GetPlainText(nil)
}

func extractPDF(content []byte) (text string, err error) {
	// the pdf package panics on some corrupt inputs
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = fmt.Errorf("%w: error reading PDF: %v", ErrExtraction, r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("%w: error reading PDF: %w", ErrExtraction, err)
	}

	text, err = joinPages(pdfPages{reader: reader})
	if err != nil {
		return "", fmt.Errorf("%w: error reading PDF: %w", ErrExtraction, err)
	}
	return text, nil
}
