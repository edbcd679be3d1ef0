package tabular

import (
	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Decode returns data as UTF-8. A UTF-8 byte order mark is dropped and
// UTF-16 input with a byte order mark (common for spreadsheet "Unicode text"
// exports) is transcoded. Input without a BOM is treated as UTF-8.
func Decode(data []byte) ([]byte, error) {
	dec := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	out, _, err := transform.Bytes(dec, data)
	if err != nil {
		return nil, eris.Wrap(err, "tabular: decode input")
	}
	return out, nil
}
