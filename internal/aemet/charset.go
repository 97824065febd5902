package aemet

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/htmlindex"
)

// toUTF8 transcodes body according to the charset of contentType.
// AEMET serves its payloads as ISO-8859-15; UTF-8 and unlabeled bodies pass through.
func toUTF8(body []byte, contentType string) ([]byte, error) {
	charset := ""
	if contentType != "" {
		if _, params, err := mime.ParseMediaType(contentType); err == nil {
			charset = strings.ToLower(strings.TrimSpace(params["charset"]))
		}
	}

	switch charset {
	case "", "utf-8", "utf8":
		return body, nil
	}

	enc, err := htmlindex.Get(charset)
	if err != nil {
		// Unknown label: keep the bytes if they already are valid UTF-8
		if utf8.Valid(body) {
			return body, nil
		}
		return nil, fmt.Errorf("unsupported charset %q", charset)
	}

	out, err := io.ReadAll(enc.NewDecoder().Reader(bytes.NewReader(body)))
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s body: %w", charset, err)
	}
	return out, nil
}
