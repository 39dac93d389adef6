package emitter

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/valyala/bytebufferpool"

	"github.com/princespaghetti/certbake/internal/encoder"
)

// bytesPerLine is the number of hex literals per line of an array body.
const bytesPerLine = 16

func (e *Emitter) renderCompact(buf *bytebufferpool.ByteBuffer, enc *encoder.Encoded) error {
	if len(enc.Compact) == 0 {
		return fmt.Errorf("render compact bundle: empty encoding")
	}

	fmt.Fprintf(buf, "static const uint8_t bundle[]%s = {\n", e.rom())
	writeHexBody(buf, enc.Compact)
	buf.WriteString("};\n")
	fmt.Fprintf(buf, "static const uint32_t bundleSize = %d;\n\n", len(enc.Compact))
	return nil
}

func (e *Emitter) renderIndexed(buf *bytebufferpool.ByteBuffer, enc *encoder.Encoded) error {
	t := enc.Indexed
	if t == nil {
		return fmt.Errorf("render indexed bundle: missing tables")
	}
	n := t.Count()
	if len(t.Indexes) != n || len(t.Sizes) != n {
		return fmt.Errorf("render indexed bundle: table lengths differ (%d certificates, %d indexes, %d sizes)",
			n, len(t.Indexes), len(t.Sizes))
	}

	rom := e.rom()
	for i := 0; i < n; i++ {
		if i < len(t.Labels) {
			if label := sanitizeComment(t.Labels[i]); label != "" {
				fmt.Fprintf(buf, "// %s\n", label)
			}
		}
		fmt.Fprintf(buf, "static const uint8_t cert_%d[]%s = {\n", i, rom)
		writeHexBody(buf, t.Certificates[i])
		buf.WriteString("};\n")
		fmt.Fprintf(buf, "static const uint8_t idx_%d[]%s = {\n", i, rom)
		writeHexBody(buf, t.Indexes[i][:])
		buf.WriteString("};\n\n")
	}

	fmt.Fprintf(buf, "static const uint16_t numberOfCertificates = %d;\n\n", n)

	sizes := make([]string, n)
	certs := make([]string, n)
	idxs := make([]string, n)
	for i := 0; i < n; i++ {
		sizes[i] = strconv.Itoa(int(t.Sizes[i]))
		certs[i] = "cert_" + strconv.Itoa(i)
		idxs[i] = "idx_" + strconv.Itoa(i)
	}
	writeList(buf, "static const uint16_t certSizes[]"+rom, sizes)
	writeList(buf, "static const uint8_t* const certificates[]"+rom, certs)
	writeList(buf, "static const uint8_t* const indexes[]"+rom, idxs)

	if e.opts.ListType != "" {
		fmt.Fprintf(buf, "static const %s certList(certificates, indexes, certSizes, numberOfCertificates);\n",
			e.opts.ListType)
	}
	return nil
}

func (e *Emitter) renderPEM(buf *bytebufferpool.ByteBuffer, enc *encoder.Encoded) error {
	if enc.PEM == "" {
		return fmt.Errorf("render pem bundle: empty text")
	}

	fmt.Fprintf(buf, "static const char certs_bundle[]%s = \"\"\\\n", e.rom())
	text := enc.PEM
	for len(text) > 0 {
		line := text
		nl := strings.IndexByte(text, '\n')
		if nl >= 0 {
			line, text = text[:nl+1], text[nl+1:]
		} else {
			text = ""
		}
		buf.WriteString("\"")
		buf.WriteString(escapeString(line))
		buf.WriteString("\"\\\n")
	}
	buf.WriteString("\"\";\n\n")
	return nil
}

// writeHexBody writes data as 0x.. literals, bytesPerLine per indented line.
func writeHexBody(buf *bytebufferpool.ByteBuffer, data []byte) {
	const hexDigits = "0123456789abcdef"
	for i, b := range data {
		if i%bytesPerLine == 0 {
			buf.WriteString("    ")
		}
		buf.B = append(buf.B, '0', 'x', hexDigits[b>>4], hexDigits[b&0x0f])
		switch {
		case i == len(data)-1:
			buf.WriteString("\n")
		case i%bytesPerLine == bytesPerLine-1:
			buf.WriteString(",\n")
		default:
			buf.WriteString(", ")
		}
	}
}

func writeList(buf *bytebufferpool.ByteBuffer, decl string, items []string) {
	fmt.Fprintf(buf, "%s = {%s};\n\n", decl, strings.Join(items, ", "))
}

// escapeString escapes s for a C string literal. Newlines become \n so each
// source line of PEM stays one literal.
func escapeString(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 8)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '?':
			// Avoid forming trigraphs.
			b.WriteString(`\?`)
		default:
			if c < 0x20 || c >= 0x7f {
				fmt.Fprintf(&b, `\%03o`, c)
			} else {
				b.WriteByte(c)
			}
		}
	}
	return b.String()
}

// sanitizeComment keeps printable ASCII only and drops trailing backslashes,
// which would splice the next source line into a // comment.
func sanitizeComment(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if c := s[i]; c >= 0x20 && c < 0x7f {
			b.WriteByte(c)
		}
	}
	return strings.TrimSpace(strings.TrimRight(b.String(), ` \`))
}
