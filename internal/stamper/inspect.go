package stamper

import (
	"bytes"
	"fmt"

	"github.com/remiblancher/pdfstamp/internal/pdf"
	"github.com/remiblancher/pdfstamp/internal/tsa"
)

// EmbeddedTimestamp describes one document timestamp found in a PDF.
type EmbeddedTimestamp struct {
	FieldName string
	ByteRange [4]int64
	Token     *tsa.Token

	// ImprintMatches reports whether the token's message imprint equals
	// the digest of the file's ByteRange. This is an inspection-level
	// check, not a certificate chain validation.
	ImprintMatches bool
}

// Inspect lists the document timestamps embedded in a PDF.
func Inspect(data []byte) ([]EmbeddedTimestamp, error) {
	doc, err := pdf.Open(data)
	if err != nil {
		return nil, err
	}
	_, cat, err := doc.Catalog()
	if err != nil {
		return nil, err
	}

	formObj, err := doc.Deref(cat["AcroForm"])
	if err != nil {
		return nil, err
	}
	form, ok := formObj.(pdf.Dict)
	if !ok {
		return nil, nil // no form, no timestamps
	}

	fieldsObj, err := doc.Deref(form["Fields"])
	if err != nil {
		return nil, err
	}
	fields, _ := fieldsObj.(pdf.Array)

	var out []EmbeddedTimestamp
	for _, f := range fields {
		fieldObj, err := doc.Deref(f)
		if err != nil {
			continue
		}
		field, ok := fieldObj.(pdf.Dict)
		if !ok || field.GetName("FT") != "Sig" {
			continue
		}
		sigObj, err := doc.Deref(field["V"])
		if err != nil {
			continue
		}
		sig, ok := sigObj.(pdf.Dict)
		if !ok || sig.GetName("SubFilter") != "ETSI.RFC3161" {
			continue
		}

		ts, err := readTimestamp(data, field, sig)
		if err != nil {
			return nil, err
		}
		out = append(out, *ts)
	}
	return out, nil
}

func readTimestamp(data []byte, field, sig pdf.Dict) (*EmbeddedTimestamp, error) {
	contents, ok := sig["Contents"].(pdf.HexString)
	if !ok || len(contents) == 0 {
		return nil, fmt.Errorf("%w: timestamp signature has no Contents", ErrMalformed)
	}
	n, err := derTotalLength(contents)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	token, err := tsa.ParseToken(contents[:n])
	if err != nil {
		return nil, err
	}

	ts := &EmbeddedTimestamp{Token: token}
	if name, ok := field["T"].(pdf.String); ok {
		ts.FieldName = string(name)
	}

	brArr := sig.GetArray("ByteRange")
	if len(brArr) == 4 {
		valid := true
		for i, v := range brArr {
			n, ok := v.(int64)
			if !ok || n < 0 || n > int64(len(data)) {
				valid = false
				break
			}
			ts.ByteRange[i] = n
		}
		if valid && token.HashAlgorithm.Available() {
			h := token.HashAlgorithm.New()
			h.Write(data[ts.ByteRange[0] : ts.ByteRange[0]+ts.ByteRange[1]])
			h.Write(data[ts.ByteRange[2] : ts.ByteRange[2]+ts.ByteRange[3]])
			ts.ImprintMatches = bytes.Equal(h.Sum(nil), token.HashedMessage)
		}
	}
	return ts, nil
}

// derTotalLength returns the encoded length of the DER value at the
// start of b, separating the token from its zero padding.
func derTotalLength(b []byte) (int, error) {
	if len(b) < 2 {
		return 0, fmt.Errorf("truncated DER value")
	}
	if b[1] < 0x80 {
		return 2 + int(b[1]), nil
	}
	n := int(b[1] & 0x7f)
	if n == 0 || n > 4 || len(b) < 2+n {
		return 0, fmt.Errorf("bad DER length")
	}
	length := 0
	for i := 0; i < n; i++ {
		length = length<<8 | int(b[2+i])
	}
	total := 2 + n + length
	if total > len(b) {
		return 0, fmt.Errorf("DER value exceeds container")
	}
	return total, nil
}
