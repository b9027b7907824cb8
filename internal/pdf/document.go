package pdf

import (
	"bytes"
	"fmt"
	"strconv"
)

// Document is a parsed view over an immutable PDF byte sequence. The
// underlying bytes are never modified; all changes go through an Updater
// which appends an incremental section.
type Document struct {
	data    []byte
	xref    map[int]xrefEntry
	trailer Dict
	// startXRef is the offset of the newest cross-reference section,
	// used as /Prev in appended updates.
	startXRef int64
	// xrefIsStream records whether the newest section is a
	// cross-reference stream; appended sections must match.
	xrefIsStream bool

	objStmCache map[int][]Object
}

// Open parses the trailer and cross-reference chain of a PDF held in
// memory. The byte slice is retained and must not be modified by the
// caller afterwards.
func Open(data []byte) (*Document, error) {
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		return nil, structErr("open", ErrNotPDF)
	}
	entries, trailer, start, isStream, err := readXRefChain(data)
	if err != nil {
		return nil, structErr("xref", err)
	}
	if _, ok := trailer["Root"]; !ok {
		return nil, structErr("xref", fmt.Errorf("%w: trailer has no Root", ErrMalformed))
	}
	return &Document{
		data:         data,
		xref:         entries,
		trailer:      trailer,
		startXRef:    start,
		xrefIsStream: isStream,
		objStmCache:  make(map[int][]Object),
	}, nil
}

// Bytes returns the original document bytes.
func (d *Document) Bytes() []byte { return d.data }

// Trailer returns the merged trailer dictionary.
func (d *Document) Trailer() Dict { return d.trailer }

// Version reports the header version string, e.g. "1.7".
func (d *Document) Version() string {
	end := bytes.IndexAny(d.data, "\r\n")
	if end < 0 || end > 16 {
		end = min(16, len(d.data))
	}
	return string(bytes.TrimPrefix(d.data[:end], []byte("%PDF-")))
}

// maxObjectNumber returns the highest known object number.
func (d *Document) maxObjectNumber() int {
	maxNum := 0
	for num := range d.xref {
		if num > maxNum {
			maxNum = num
		}
	}
	if size, ok := d.trailer.GetInt("Size"); ok && int(size)-1 > maxNum {
		maxNum = int(size) - 1
	}
	return maxNum
}

// Get resolves an indirect reference, following cross-reference entries
// into object streams when needed.
func (d *Document) Get(ref Ref) (Object, error) {
	entry, ok := d.xref[ref.Num]
	if !ok || entry.typ == xrefFree {
		return nil, nil // missing objects are null per the PDF spec
	}

	switch entry.typ {
	case xrefInFile:
		num, _, obj, err := parseIndirectAt(d.data, entry.offset, d.Get)
		if err != nil {
			return nil, structErr("resolve", err)
		}
		if num != ref.Num {
			return nil, structErr("resolve",
				fmt.Errorf("%w: object %d found where %d expected", ErrMalformed, num, ref.Num))
		}
		return obj, nil
	case xrefInObjStm:
		objs, err := d.objectStream(entry.stmNum)
		if err != nil {
			return nil, err
		}
		if entry.stmIdx < 0 || entry.stmIdx >= len(objs) {
			return nil, structErr("resolve",
				fmt.Errorf("%w: object stream %d has no index %d", ErrMalformed, entry.stmNum, entry.stmIdx))
		}
		return objs[entry.stmIdx], nil
	}
	return nil, nil
}

// Deref resolves obj when it is a reference, otherwise returns it as-is.
func (d *Document) Deref(obj Object) (Object, error) {
	if ref, ok := obj.(Ref); ok {
		return d.Get(ref)
	}
	return obj, nil
}

// objectStream loads and caches the decoded objects of an object stream.
func (d *Document) objectStream(num int) ([]Object, error) {
	if objs, ok := d.objStmCache[num]; ok {
		return objs, nil
	}

	obj, err := d.Get(Ref{Num: num})
	if err != nil {
		return nil, err
	}
	stm, ok := obj.(Stream)
	if !ok || stm.Dict.GetName("Type") != "ObjStm" {
		return nil, structErr("resolve",
			fmt.Errorf("%w: object %d is not an object stream", ErrMalformed, num))
	}

	decoded, err := decodeStreamData(stm, d.Get)
	if err != nil {
		return nil, structErr("resolve", err)
	}

	count, ok1 := stm.Dict.GetInt("N")
	first, ok2 := stm.Dict.GetInt("First")
	if !ok1 || !ok2 || count < 0 || first < 0 || first > int64(len(decoded)) {
		return nil, structErr("resolve",
			fmt.Errorf("%w: object stream %d has bad N/First", ErrMalformed, num))
	}

	// Header: N pairs of (object number, offset relative to First).
	hdr := &lexer{data: decoded[:first]}
	offsets := make([]int64, 0, count)
	for i := int64(0); i < count; i++ {
		hdr.skipSpace()
		if _, err := strconv.Atoi(hdr.readBareToken()); err != nil {
			return nil, structErr("resolve",
				fmt.Errorf("%w: bad object stream header", ErrMalformed))
		}
		hdr.skipSpace()
		off, err := strconv.ParseInt(hdr.readBareToken(), 10, 64)
		if err != nil {
			return nil, structErr("resolve",
				fmt.Errorf("%w: bad object stream header", ErrMalformed))
		}
		offsets = append(offsets, off)
	}

	objs := make([]Object, count)
	for i, off := range offsets {
		pos := first + off
		if pos < 0 || pos > int64(len(decoded)) {
			return nil, structErr("resolve",
				fmt.Errorf("%w: object stream offset out of bounds", ErrMalformed))
		}
		l := &lexer{data: decoded, pos: int(pos)}
		o, err := l.parseObject()
		if err != nil {
			return nil, structErr("resolve", err)
		}
		objs[i] = o
	}

	d.objStmCache[num] = objs
	return objs, nil
}

// Catalog returns the document catalog and its reference.
func (d *Document) Catalog() (Ref, Dict, error) {
	rootRef, ok := d.trailer.GetRef("Root")
	if !ok {
		return Ref{}, nil, structErr("resolve",
			fmt.Errorf("%w: trailer Root is not a reference", ErrMalformed))
	}
	obj, err := d.Get(rootRef)
	if err != nil {
		return Ref{}, nil, err
	}
	cat, ok := obj.(Dict)
	if !ok {
		return Ref{}, nil, structErr("resolve",
			fmt.Errorf("%w: document catalog is not a dictionary", ErrMalformed))
	}
	return rootRef, cat, nil
}

// FirstPage walks the page tree and returns the first page object.
func (d *Document) FirstPage() (Ref, Dict, error) {
	_, cat, err := d.Catalog()
	if err != nil {
		return Ref{}, nil, err
	}
	pagesRef, ok := cat.GetRef("Pages")
	if !ok {
		return Ref{}, nil, structErr("resolve",
			fmt.Errorf("%w: catalog has no Pages reference", ErrMalformed))
	}
	return d.descendToPage(pagesRef, 0)
}

func (d *Document) descendToPage(ref Ref, depth int) (Ref, Dict, error) {
	if depth > 32 {
		return Ref{}, nil, structErr("resolve",
			fmt.Errorf("%w: page tree too deep", ErrMalformed))
	}
	obj, err := d.Get(ref)
	if err != nil {
		return Ref{}, nil, err
	}
	node, ok := obj.(Dict)
	if !ok {
		return Ref{}, nil, structErr("resolve",
			fmt.Errorf("%w: page tree node is not a dictionary", ErrMalformed))
	}
	if node.GetName("Type") == "Page" {
		return ref, node, nil
	}
	for _, kid := range node.GetArray("Kids") {
		kidRef, ok := kid.(Ref)
		if !ok {
			continue
		}
		if pRef, page, err := d.descendToPage(kidRef, depth+1); err == nil {
			return pRef, page, nil
		}
	}
	return Ref{}, nil, structErr("resolve",
		fmt.Errorf("%w: no page found in page tree", ErrMalformed))
}
