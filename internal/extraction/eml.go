package extraction

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/Ajay6601/docuflow-ai/internal/common"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// EmlStrategy decodes RFC 822 email containers: headers, then every
// text/plain and text/html part, walking nested multiparts.
type EmlStrategy struct{}

func (s *EmlStrategy) Name() string { return "eml" }

func (s *EmlStrategy) Extract(ctx context.Context, data []byte) (Result, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(data))
	if err != nil {
		return Result{}, common.Permanent("extraction", fmt.Errorf("unreadable email message: %w", err))
	}

	var b strings.Builder
	for _, h := range []string{"From", "To", "Subject", "Date"} {
		if v := msg.Header.Get(h); v != "" {
			fmt.Fprintf(&b, "%s: %s\n", h, v)
		}
	}
	b.WriteString("\n")

	body, err := partText(msg.Header.Get("Content-Type"), msg.Header.Get("Content-Transfer-Encoding"), msg.Body)
	if err != nil {
		return Result{}, common.Permanent("extraction", fmt.Errorf("failed to decode email body: %w", err))
	}
	b.WriteString(body)

	return Result{Text: strings.TrimSpace(b.String()), Method: MethodNative}, nil
}

func partText(contentType, transferEncoding string, body io.Reader) (string, error) {
	mediaType := "text/plain"
	var params map[string]string
	if contentType != "" {
		var err error
		mediaType, params, err = mime.ParseMediaType(contentType)
		if err != nil {
			return "", err
		}
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return "", fmt.Errorf("multipart message without boundary")
		}

		var b strings.Builder
		mr := multipart.NewReader(body, boundary)
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				return "", err
			}

			text, err := partText(part.Header.Get("Content-Type"),
				part.Header.Get("Content-Transfer-Encoding"), part)
			if err != nil {
				continue // skip undecodable parts, attachments included
			}
			if strings.TrimSpace(text) != "" {
				b.WriteString(text)
				b.WriteString("\n")
			}
		}
		return b.String(), nil
	}

	decoded := decodeTransfer(body, transferEncoding)

	switch {
	case mediaType == "text/html":
		return htmlToText(decoded)
	case strings.HasPrefix(mediaType, "text/"):
		raw, err := io.ReadAll(decoded)
		if err != nil {
			return "", err
		}
		return string(raw), nil
	default:
		return "", nil // binary attachment, nothing to extract
	}
}

func decodeTransfer(r io.Reader, encoding string) io.Reader {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		return base64.NewDecoder(base64.StdEncoding, r)
	case "quoted-printable":
		return quotedprintable.NewReader(r)
	default:
		return r
	}
}

func htmlToText(r io.Reader) (string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", err
	}

	doc.Find("script, style").Each(func(i int, sel *goquery.Selection) {
		sel.Remove()
	})

	text := doc.Text()
	text = whitespaceRun.ReplaceAllString(text, " ")
	return strings.TrimSpace(text), nil
}
