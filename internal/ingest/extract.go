package ingest

import (
	"bytes"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"unicode/utf8"

	readability "github.com/go-shiori/go-readability"
)

// Extraction is the metadata-extraction output for one document.
type Extraction struct {
	ContentType string
	Text        string
	Metadata    map[string]interface{}
}

// ExtractText derives plain text and lightweight metadata from document
// bytes. HTML goes through readability; plain text and markdown pass
// through; anything else records size/type only, with empty text, which
// downstream paths treat as "nothing to index".
func ExtractText(filename string, data []byte) Extraction {
	contentType := detectContentType(filename, data)
	meta := map[string]interface{}{
		"size_bytes":   len(data),
		"content_type": contentType,
	}

	var text string
	switch {
	case strings.HasPrefix(contentType, "text/html"):
		if article, err := readability.FromReader(bytes.NewReader(data), &url.URL{Path: "/" + filename}); err == nil {
			text = article.TextContent
			if article.Title != "" {
				meta["title"] = article.Title
			}
		}
	case strings.HasPrefix(contentType, "text/"), contentType == "application/json":
		if utf8.Valid(data) {
			text = string(data)
		}
	}

	text = strings.TrimSpace(text)
	meta["text_chars"] = len(text)
	return Extraction{ContentType: contentType, Text: text, Metadata: meta}
}

func detectContentType(filename string, data []byte) string {
	if byExt := mime.TypeByExtension(path.Ext(filename)); byExt != "" {
		if mediaType, _, err := mime.ParseMediaType(byExt); err == nil {
			return mediaType
		}
	}
	sniffed := http.DetectContentType(data)
	if mediaType, _, err := mime.ParseMediaType(sniffed); err == nil {
		return mediaType
	}
	return "application/octet-stream"
}
