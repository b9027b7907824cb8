package pdf

import (
	"bytes"
	"compress/flate"
	"compress/zlib"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Cross-reference entry types.
const (
	xrefFree      = 0
	xrefInFile    = 1
	xrefInObjStm  = 2
	maxXRefChain  = 64
	tailScanBytes = 2048
)

type xrefEntry struct {
	typ    int
	offset int64 // xrefInFile: byte offset of the object
	gen    int
	stmNum int // xrefInObjStm: containing object stream number
	stmIdx int // xrefInObjStm: index within the stream
}

// findStartXRef locates the startxref pointer near the end of the file.
func findStartXRef(data []byte) (int64, error) {
	tail := data
	if len(tail) > tailScanBytes {
		tail = tail[len(tail)-tailScanBytes:]
	}
	idx := bytes.LastIndex(tail, []byte("startxref"))
	if idx < 0 {
		return 0, fmt.Errorf("%w: startxref not found", ErrMalformed)
	}
	l := &lexer{data: tail, pos: idx + len("startxref")}
	l.skipSpace()
	tok := l.readBareToken()
	off, err := strconv.ParseInt(tok, 10, 64)
	if err != nil || off < 0 || off >= int64(len(data)) {
		return 0, fmt.Errorf("%w: invalid startxref offset %q", ErrMalformed, tok)
	}
	return off, nil
}

// readXRefChain walks the cross-reference chain from the newest section to
// the oldest, merging entries (newest wins) and trailer keys.
func readXRefChain(data []byte) (map[int]xrefEntry, Dict, int64, bool, error) {
	start, err := findStartXRef(data)
	if err != nil {
		return nil, nil, 0, false, err
	}

	entries := make(map[int]xrefEntry)
	trailer := Dict{}
	isStream := false
	first := true

	seen := make(map[int64]bool)
	offset := start
	for i := 0; offset >= 0 && i < maxXRefChain; i++ {
		if seen[offset] {
			return nil, nil, 0, false, fmt.Errorf("%w: cross-reference chain loop at %d", ErrMalformed, offset)
		}
		seen[offset] = true

		section, sectionIsStream, err := readXRefSection(data, offset)
		if err != nil {
			return nil, nil, 0, false, err
		}
		if first {
			isStream = sectionIsStream
			first = false
		}

		mergeEntries(entries, section.entries)
		for k, v := range section.trailer {
			if _, ok := trailer[k]; !ok {
				trailer[k] = v
			}
		}

		// Hybrid-reference files point at a parallel xref stream.
		if xs, ok := section.trailer.GetInt("XRefStm"); ok && !seen[xs] {
			seen[xs] = true
			hybrid, _, err := readXRefSection(data, xs)
			if err == nil {
				mergeEntries(entries, hybrid.entries)
			}
		}

		offset = -1
		if prev, ok := section.trailer.GetInt("Prev"); ok {
			offset = prev
		}
	}

	if len(entries) == 0 {
		return nil, nil, 0, false, fmt.Errorf("%w: empty cross-reference table", ErrMalformed)
	}
	return entries, trailer, start, isStream, nil
}

func mergeEntries(dst, src map[int]xrefEntry) {
	for num, e := range src {
		if _, ok := dst[num]; !ok {
			dst[num] = e
		}
	}
}

type xrefSection struct {
	entries map[int]xrefEntry
	trailer Dict
}

// readXRefSection parses one cross-reference section, either a classic
// table ("xref" keyword) or a cross-reference stream object.
func readXRefSection(data []byte, offset int64) (*xrefSection, bool, error) {
	if offset < 0 || offset >= int64(len(data)) {
		return nil, false, fmt.Errorf("%w: cross-reference offset %d out of bounds", ErrMalformed, offset)
	}
	l := &lexer{data: data, pos: int(offset)}
	l.skipSpace()
	if strings.HasPrefix(string(data[l.pos:min(l.pos+4, len(data))]), "xref") {
		s, err := readXRefTable(l)
		return s, false, err
	}
	s, err := readXRefStream(data, l)
	return s, true, err
}

func readXRefTable(l *lexer) (*xrefSection, error) {
	if err := l.expectKeyword("xref"); err != nil {
		return nil, err
	}

	section := &xrefSection{entries: make(map[int]xrefEntry)}
	for {
		l.skipSpace()
		save := l.pos
		tok := l.readBareToken()
		if tok == "trailer" {
			break
		}
		start, err := strconv.Atoi(tok)
		if err != nil {
			l.pos = save
			return nil, fmt.Errorf("%w: bad xref subsection header %q", ErrMalformed, tok)
		}
		l.skipSpace()
		count, err := strconv.Atoi(l.readBareToken())
		if err != nil || count < 0 {
			return nil, fmt.Errorf("%w: bad xref subsection count", ErrMalformed)
		}

		for i := 0; i < count; i++ {
			l.skipSpace()
			offTok := l.readBareToken()
			l.skipSpace()
			genTok := l.readBareToken()
			l.skipSpace()
			kind := l.readBareToken()

			off, err1 := strconv.ParseInt(offTok, 10, 64)
			gen, err2 := strconv.Atoi(genTok)
			if err1 != nil || err2 != nil || (kind != "n" && kind != "f") {
				return nil, fmt.Errorf("%w: bad xref entry for object %d", ErrMalformed, start+i)
			}
			e := xrefEntry{typ: xrefFree, gen: gen}
			if kind == "n" {
				e = xrefEntry{typ: xrefInFile, offset: off, gen: gen}
			}
			section.entries[start+i] = e
		}
	}

	trailer, err := l.parseDict2()
	if err != nil {
		return nil, err
	}
	section.trailer = trailer
	return section, nil
}

// parseDict2 parses a dictionary after skipping whitespace.
func (l *lexer) parseDict2() (Dict, error) {
	l.skipSpace()
	if l.pos+1 >= len(l.data) || l.data[l.pos] != '<' || l.data[l.pos+1] != '<' {
		return nil, fmt.Errorf("%w: expected trailer dictionary at offset %d", ErrMalformed, l.pos)
	}
	return l.parseDict()
}

func readXRefStream(data []byte, l *lexer) (*xrefSection, error) {
	_, _, obj, err := parseIndirectAt(data, int64(l.pos), nil)
	if err != nil {
		return nil, err
	}
	stm, ok := obj.(Stream)
	if !ok || stm.Dict.GetName("Type") != "XRef" {
		return nil, fmt.Errorf("%w: cross-reference stream expected", ErrMalformed)
	}

	decoded, err := decodeStreamData(stm, nil)
	if err != nil {
		return nil, err
	}

	wArr := stm.Dict.GetArray("W")
	if len(wArr) < 3 {
		return nil, fmt.Errorf("%w: cross-reference stream missing W", ErrMalformed)
	}
	var w [3]int
	for i := 0; i < 3; i++ {
		n, ok := asInt(wArr[i])
		if !ok || n < 0 || n > 8 {
			return nil, fmt.Errorf("%w: bad W entry in cross-reference stream", ErrMalformed)
		}
		w[i] = int(n)
	}
	rowLen := w[0] + w[1] + w[2]
	if rowLen == 0 {
		return nil, fmt.Errorf("%w: zero-width cross-reference rows", ErrMalformed)
	}

	size, ok := stm.Dict.GetInt("Size")
	if !ok {
		return nil, fmt.Errorf("%w: cross-reference stream missing Size", ErrMalformed)
	}
	index := stm.Dict.GetArray("Index")
	if index == nil {
		index = Array{int64(0), size}
	}
	if len(index)%2 != 0 {
		return nil, fmt.Errorf("%w: odd Index array in cross-reference stream", ErrMalformed)
	}

	section := &xrefSection{entries: make(map[int]xrefEntry), trailer: stm.Dict}
	pos := 0
	for i := 0; i < len(index); i += 2 {
		start, ok1 := asInt(index[i])
		count, ok2 := asInt(index[i+1])
		if !ok1 || !ok2 || count < 0 {
			return nil, fmt.Errorf("%w: bad Index pair in cross-reference stream", ErrMalformed)
		}
		for j := int64(0); j < count; j++ {
			if pos+rowLen > len(decoded) {
				return nil, fmt.Errorf("%w: truncated cross-reference stream", ErrMalformed)
			}
			f1 := readField(decoded[pos:], w[0], 1) // type defaults to 1
			f2 := readField(decoded[pos+w[0]:], w[1], 0)
			f3 := readField(decoded[pos+w[0]+w[1]:], w[2], 0)
			pos += rowLen

			num := int(start + j)
			switch f1 {
			case xrefFree:
				section.entries[num] = xrefEntry{typ: xrefFree, gen: int(f3)}
			case xrefInFile:
				section.entries[num] = xrefEntry{typ: xrefInFile, offset: f2, gen: int(f3)}
			case xrefInObjStm:
				section.entries[num] = xrefEntry{typ: xrefInObjStm, stmNum: int(f2), stmIdx: int(f3)}
			}
		}
	}
	return section, nil
}

func readField(b []byte, width int, def int64) int64 {
	if width == 0 {
		return def
	}
	var v int64
	for i := 0; i < width; i++ {
		v = v<<8 | int64(b[i])
	}
	return v
}

func asInt(obj Object) (int64, bool) {
	switch v := obj.(type) {
	case int64:
		return v, true
	case float64:
		return int64(v), true
	}
	return 0, false
}

// parseIndirectAt parses "N G obj ... endobj" at the given offset. The
// resolve callback supplies indirect /Length values; it may be nil, in
// which case indirect lengths are recovered by scanning for "endstream".
func parseIndirectAt(data []byte, offset int64, resolve func(Ref) (Object, error)) (int, int, Object, error) {
	if offset < 0 || offset >= int64(len(data)) {
		return 0, 0, nil, fmt.Errorf("%w: object offset %d out of bounds", ErrMalformed, offset)
	}
	l := &lexer{data: data, pos: int(offset)}
	l.skipSpace()
	num, err1 := strconv.Atoi(l.readBareToken())
	l.skipSpace()
	gen, err2 := strconv.Atoi(l.readBareToken())
	if err1 != nil || err2 != nil {
		return 0, 0, nil, fmt.Errorf("%w: object header expected at offset %d", ErrMalformed, offset)
	}
	if err := l.expectKeyword("obj"); err != nil {
		return 0, 0, nil, err
	}

	obj, err := l.parseObject()
	if err != nil {
		return 0, 0, nil, err
	}

	dict, isDict := obj.(Dict)
	if !isDict || !l.skipStreamKeyword() {
		return num, gen, obj, nil
	}

	// Stream data follows. Determine its length.
	length := int64(-1)
	switch v := dict["Length"].(type) {
	case int64:
		length = v
	case Ref:
		if resolve != nil {
			if lo, err := resolve(v); err == nil {
				if n, ok := asInt(lo); ok {
					length = n
				}
			}
		}
	}
	start := l.pos
	if length < 0 || int64(start)+length > int64(len(data)) {
		end := bytes.Index(data[start:], []byte("endstream"))
		if end < 0 {
			return 0, 0, nil, fmt.Errorf("%w: unterminated stream in object %d", ErrMalformed, num)
		}
		length = int64(end)
		// Strip the EOL preceding the endstream keyword.
		for length > 0 && (data[start+int(length)-1] == '\n' || data[start+int(length)-1] == '\r') {
			length--
		}
	}
	l.pos = start + int(length)
	_ = l.expectKeyword("endstream") // lenient: some writers misreport Length padding

	return num, gen, Stream{Dict: dict, Raw: data[start : start+int(length)]}, nil
}

// decodeStreamData applies the stream's filter chain. Only FlateDecode
// (with optional PNG predictors) is supported, which covers the filters
// cross-reference and object streams are allowed to use in practice.
func decodeStreamData(stm Stream, resolve func(Ref) (Object, error)) ([]byte, error) {
	raw := stm.Raw
	filter := stm.Dict["Filter"]
	if filter == nil {
		return raw, nil
	}

	var filters []Name
	switch f := filter.(type) {
	case Name:
		filters = []Name{f}
	case Array:
		for _, item := range f {
			n, ok := item.(Name)
			if !ok {
				return nil, fmt.Errorf("%w: non-name stream filter", ErrMalformed)
			}
			filters = append(filters, n)
		}
	default:
		return nil, fmt.Errorf("%w: invalid Filter entry", ErrMalformed)
	}

	parms := stm.Dict["DecodeParms"]
	for i, f := range filters {
		if f != "FlateDecode" {
			return nil, fmt.Errorf("%w: unsupported stream filter %s", ErrMalformed, f)
		}
		out, err := inflate(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: flate: %v", ErrMalformed, err)
		}
		raw = out

		var p Dict
		switch pv := parms.(type) {
		case Dict:
			if i == 0 {
				p = pv
			}
		case Array:
			if i < len(pv) {
				p, _ = pv[i].(Dict)
			}
		}
		if p != nil {
			raw, err = unpredict(raw, p)
			if err != nil {
				return nil, err
			}
		}
	}
	return raw, nil
}

func inflate(raw []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(raw))
	if err == nil {
		defer zr.Close()
		out, err := io.ReadAll(zr)
		if err == nil || len(out) > 0 {
			return out, nil
		}
	}
	// Some producers emit raw deflate data without the zlib wrapper.
	fr := flate.NewReader(bytes.NewReader(raw))
	defer fr.Close()
	return io.ReadAll(fr)
}

// unpredict reverses PNG row predictors (predictor values 10-15).
func unpredict(data []byte, parms Dict) ([]byte, error) {
	pred, ok := parms.GetInt("Predictor")
	if !ok || pred <= 1 {
		return data, nil
	}
	if pred < 10 {
		return nil, fmt.Errorf("%w: unsupported predictor %d", ErrMalformed, pred)
	}

	columns := int64(1)
	if v, ok := parms.GetInt("Columns"); ok {
		columns = v
	}
	colors := int64(1)
	if v, ok := parms.GetInt("Colors"); ok {
		colors = v
	}
	bpc := int64(8)
	if v, ok := parms.GetInt("BitsPerComponent"); ok {
		bpc = v
	}

	bpp := int((colors*bpc + 7) / 8)
	rowLen := int((columns*colors*bpc + 7) / 8)
	if rowLen <= 0 || bpp <= 0 {
		return nil, fmt.Errorf("%w: bad predictor geometry", ErrMalformed)
	}
	stride := rowLen + 1
	if len(data)%stride != 0 {
		return nil, fmt.Errorf("%w: predicted data not row-aligned", ErrMalformed)
	}

	rows := len(data) / stride
	out := make([]byte, 0, rows*rowLen)
	prev := make([]byte, rowLen)
	cur := make([]byte, rowLen)
	for r := 0; r < rows; r++ {
		ft := data[r*stride]
		copy(cur, data[r*stride+1:(r+1)*stride])
		switch ft {
		case 0: // None
		case 1: // Sub
			for i := bpp; i < rowLen; i++ {
				cur[i] += cur[i-bpp]
			}
		case 2: // Up
			for i := 0; i < rowLen; i++ {
				cur[i] += prev[i]
			}
		case 3: // Average
			for i := 0; i < rowLen; i++ {
				left := 0
				if i >= bpp {
					left = int(cur[i-bpp])
				}
				cur[i] += byte((left + int(prev[i])) / 2)
			}
		case 4: // Paeth
			for i := 0; i < rowLen; i++ {
				left, upLeft := 0, 0
				if i >= bpp {
					left = int(cur[i-bpp])
					upLeft = int(prev[i-bpp])
				}
				cur[i] += paeth(byte(left), prev[i], byte(upLeft))
			}
		default:
			return nil, fmt.Errorf("%w: unknown PNG filter %d", ErrMalformed, ft)
		}
		out = append(out, cur...)
		prev, cur = cur, prev
	}
	return out, nil
}

func paeth(a, b, c byte) byte {
	p := int(a) + int(b) - int(c)
	pa, pb, pc := abs(p-int(a)), abs(p-int(b)), abs(p-int(c))
	if pa <= pb && pa <= pc {
		return a
	}
	if pb <= pc {
		return b
	}
	return c
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
