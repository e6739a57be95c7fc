package structex

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/xuri/excelize/v2"
	"golang.org/x/net/html"
)

// DetectMIME sniffs the MIME type of a file.
func DetectMIME(filePath string) (string, error) {
	mt, err := mimetype.DetectFile(filePath)
	if err != nil {
		return "", fmt.Errorf("detect mime type: %w", err)
	}
	return mt.String(), nil
}

// TextExtractor reads plain-text documents as-is.
type TextExtractor struct{}

func (e *TextExtractor) Extract(ctx context.Context, filePath string) (string, error) {
	raw, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", filePath, err)
	}
	return string(raw), nil
}

func (e *TextExtractor) CanHandle(mimeType string) bool {
	return strings.HasPrefix(mimeType, "text/plain") ||
		strings.HasPrefix(mimeType, "application/json") ||
		strings.HasPrefix(mimeType, "text/csv") ||
		strings.HasPrefix(mimeType, "text/markdown")
}

// HTMLExtractor harvests the visible text of an HTML document, skipping
// script and style subtrees.
type HTMLExtractor struct{}

func (e *HTMLExtractor) Extract(ctx context.Context, filePath string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", filePath, err)
	}
	defer f.Close()

	doc, err := html.Parse(f)
	if err != nil {
		return "", fmt.Errorf("parse html %s: %w", filePath, err)
	}

	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				sb.WriteString(text)
				sb.WriteByte('\n')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return sb.String(), nil
}

func (e *HTMLExtractor) CanHandle(mimeType string) bool {
	return strings.HasPrefix(mimeType, "text/html") ||
		strings.HasPrefix(mimeType, "application/xhtml+xml")
}

// SpreadsheetExtractor renders each sheet of an xlsx workbook as
// comma-separated rows under a sheet header.
type SpreadsheetExtractor struct{}

func (e *SpreadsheetExtractor) Extract(ctx context.Context, filePath string) (string, error) {
	wb, err := excelize.OpenFile(filePath)
	if err != nil {
		return "", fmt.Errorf("open workbook %s: %w", filePath, err)
	}
	defer wb.Close()

	var sb strings.Builder
	for _, sheet := range wb.GetSheetList() {
		rows, err := wb.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("read sheet %q: %w", sheet, err)
		}
		fmt.Fprintf(&sb, "# Sheet: %s\n", sheet)
		for _, row := range rows {
			sb.WriteString(strings.Join(row, ","))
			sb.WriteByte('\n')
		}
		sb.WriteByte('\n')
	}
	return sb.String(), nil
}

func (e *SpreadsheetExtractor) CanHandle(mimeType string) bool {
	return strings.Contains(mimeType, "spreadsheet") ||
		strings.Contains(mimeType, "vnd.ms-excel")
}

// selectExtractor returns the first extractor claiming the MIME type, in
// the order given (waterfall order when resolved from a registry).
func selectExtractor(extractors []Extractor, mimeType string) (Extractor, bool) {
	for _, e := range extractors {
		if e.CanHandle(mimeType) {
			return e, true
		}
	}
	return nil, false
}
