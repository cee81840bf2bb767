package document

import (
	"bytes"
	"io"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// ToUTF8 detects the encoding of a text file and converts it to UTF-8. The
// backend decodes uploads as UTF-8, so legacy encodings would otherwise be
// ingested as mojibake.
func ToUTF8(data []byte) ([]byte, string) {
	// UTF-8 BOM
	if bytes.HasPrefix(data, []byte{0xEF, 0xBB, 0xBF}) {
		return data[3:], "UTF-8-BOM"
	}

	if len(data) >= 2 {
		if data[0] == 0xFF && data[1] == 0xFE {
			if out, err := decodeWithEncoding(data, unicode.UTF16(unicode.LittleEndian, unicode.UseBOM)); err == nil {
				return out, "UTF-16LE"
			}
		}
		if data[0] == 0xFE && data[1] == 0xFF {
			if out, err := decodeWithEncoding(data, unicode.UTF16(unicode.BigEndian, unicode.UseBOM)); err == nil {
				return out, "UTF-16BE"
			}
		}
	}

	if utf8.Valid(data) {
		return data, "UTF-8"
	}

	// Windows-1251 (Cyrillic)
	if out, err := decodeWithEncoding(data, charmap.Windows1251); err == nil && looksLikeCyrillic(out) {
		return out, "Windows-1251"
	}

	// Windows-1252 maps every byte, so this is the last resort
	if out, err := decodeWithEncoding(data, charmap.Windows1252); err == nil {
		return out, "Windows-1252"
	}

	return bytes.ToValidUTF8(data, []byte("�")), "UTF-8-fallback"
}

func decodeWithEncoding(data []byte, enc encoding.Encoding) ([]byte, error) {
	reader := transform.NewReader(bytes.NewReader(data), enc.NewDecoder())
	return io.ReadAll(reader)
}

// looksLikeCyrillic reports whether more than a third of the letters are Cyrillic
func looksLikeCyrillic(text []byte) bool {
	cyrillicCount := 0
	totalLetters := 0

	for _, r := range string(text) {
		if (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || (r >= 0x0400 && r <= 0x04FF) {
			totalLetters++
			if r >= 0x0400 && r <= 0x04FF {
				cyrillicCount++
			}
		}
	}

	return totalLetters > 10 && cyrillicCount > totalLetters/3
}
