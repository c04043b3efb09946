// Package armor implements the bit-exact interchange format used for every
// signed instrument exchanged with the notary: deflate-compress, base64
// encode, wrap at 72 columns, and bookend with a versioned header (C2).
package armor

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/klauspost/compress/flate"

	"github.com/open-transactions/notary/pkg/errs"
)

const (
	lineWidth = 72

	beginPrefix = "-----BEGIN OT ARMORED "
	endPrefix   = "-----END OT ARMORED "
	bookendSuf  = "-----"

	escapedTag = "- "

	versionHeader = "Version: Open Transactions 1.0"
)

// Frame type tags the notary's own surfaces exchange.
const (
	TypeMessage = "MESSAGE"
	TypePurse   = "PURSE"
	TypeToken   = "TOKEN"
)

// Encode compresses payload, base64-wraps it, and bookends it with
// typeTag. When escaped is true every bookend line is prefixed with "- ",
// the variant used when the frame is itself embedded in a signed,
// line-oriented document.
func Encode(payload []byte, typeTag string, escaped bool) (string, error) {
	if typeTag == "" {
		return "", errs.New(errs.MalformedArmor, "empty type tag")
	}

	compressed, err := deflate(payload)
	if err != nil {
		return "", errs.Wrap(errs.DecompressFailure, "compressing payload", err)
	}

	encoded := base64.StdEncoding.EncodeToString(compressed)

	var buf bytes.Buffer
	tag := escapeTag(escaped)

	fmt.Fprintf(&buf, "%s%s%s%s\n", tag, beginPrefix, typeTag, bookendSuf)
	fmt.Fprintf(&buf, "%s\n", versionHeader)
	fmt.Fprintf(&buf, "Comment: %s\n\n", typeTag)

	for i := 0; i < len(encoded); i += lineWidth {
		end := i + lineWidth
		if end > len(encoded) {
			end = len(encoded)
		}
		buf.WriteString(encoded[i:end])
		buf.WriteByte('\n')
	}

	fmt.Fprintf(&buf, "%s%s%s%s\n", tag, endPrefix, typeTag, bookendSuf)

	return buf.String(), nil
}

func escapeTag(escaped bool) string {
	if escaped {
		return escapedTag
	}
	return ""
}

// Decode locates the bookends for typeTag (accepting either the escaped or
// unescaped form), skips Version:/Comment: headers, concatenates the body
// lines, base64-decodes, and inflates.
func Decode(text string, typeTag string) ([]byte, error) {
	beginLine := beginPrefix + typeTag + bookendSuf
	endLine := endPrefix + typeTag + bookendSuf

	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var inBody bool
	var pastHeaders bool
	var body strings.Builder
	var found bool

	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimPrefix(line, escapedTag)

		if !inBody {
			if trimmed == beginLine {
				inBody = true
				found = true
			}
			continue
		}

		if trimmed == endLine {
			break
		}

		if !pastHeaders {
			if line == "" {
				pastHeaders = true
				continue
			}
			if strings.HasPrefix(line, "Version:") || strings.HasPrefix(line, "Comment:") {
				continue
			}
			pastHeaders = true
		}

		body.WriteString(strings.TrimSpace(line))
	}
	if err := scanner.Err(); err != nil {
		return nil, errs.Wrap(errs.MalformedArmor, "scanning armored text", err)
	}
	if !found || !inBody {
		return nil, errs.New(errs.MalformedArmor, "bookends not found for type "+typeTag)
	}

	compressed, err := base64.StdEncoding.DecodeString(body.String())
	if err != nil {
		return nil, errs.Wrap(errs.DecodeFailure, "base64 decoding body", err)
	}

	payload, err := inflate(compressed)
	if err != nil {
		return nil, errs.Wrap(errs.DecompressFailure, "inflating body", err)
	}
	return payload, nil
}

func deflate(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(payload); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func inflate(compressed []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(compressed))
	defer r.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
