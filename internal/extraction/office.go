package extraction

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/Ajay6601/docuflow-ai/internal/common"
)

// DocxStrategy pulls paragraph text out of word/document.xml. OOXML is a
// zip container, so no office runtime is needed.
type DocxStrategy struct{}

func (s *DocxStrategy) Name() string { return "docx" }

func (s *DocxStrategy) Extract(ctx context.Context, data []byte) (Result, error) {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Result{}, common.Permanent("extraction", fmt.Errorf("corrupt docx container: %w", err))
	}

	var docXML io.ReadCloser
	for _, f := range r.File {
		if f.Name == "word/document.xml" {
			docXML, err = f.Open()
			if err != nil {
				return Result{}, common.Permanent("extraction", fmt.Errorf("failed to open document.xml: %w", err))
			}
			break
		}
	}
	if docXML == nil {
		return Result{}, common.Permanent("extraction", fmt.Errorf("docx missing word/document.xml"))
	}
	defer docXML.Close()

	text, err := docxParagraphs(docXML)
	if err != nil {
		return Result{}, common.Permanent("extraction", fmt.Errorf("failed to parse document.xml: %w", err))
	}

	return Result{Text: text, Method: MethodNative}, nil
}

// docxParagraphs walks the XML token stream collecting w:t runs, one line
// per w:p paragraph.
func docxParagraphs(r io.Reader) (string, error) {
	decoder := xml.NewDecoder(r)
	var (
		b      strings.Builder
		inText bool
	)

	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "t" {
				inText = true
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				b.WriteString("\n")
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}

	return strings.TrimSpace(b.String()), nil
}

// XlsxStrategy flattens every sheet into tab-separated rows under a sheet
// header, mirroring how spreadsheets read as plain text.
type XlsxStrategy struct{}

func (s *XlsxStrategy) Name() string { return "xlsx" }

func (s *XlsxStrategy) Extract(ctx context.Context, data []byte) (Result, error) {
	wb, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return Result{}, common.Permanent("extraction", fmt.Errorf("corrupt xlsx container: %w", err))
	}
	defer wb.Close()

	var b strings.Builder
	for _, sheet := range wb.GetSheetList() {
		rows, err := wb.GetRows(sheet)
		if err != nil {
			return Result{}, common.Permanent("extraction", fmt.Errorf("failed to read sheet %s: %w", sheet, err))
		}

		fmt.Fprintf(&b, "\n--- Sheet: %s ---\n", sheet)
		for _, row := range rows {
			line := strings.Join(row, "\t")
			if strings.TrimSpace(line) != "" {
				b.WriteString(line)
				b.WriteString("\n")
			}
		}
	}

	return Result{Text: strings.TrimSpace(b.String()), Method: MethodNative}, nil
}
