package pdf

import (
	"bytes"
	"crypto"
	"fmt"
	"sort"
)

// DefaultReservation is the default number of bytes reserved for the
// DER-encoded timestamp token inside /Contents. Tokens from public TSAs
// carrying a certificate chain commonly run 4-8 KiB.
const DefaultReservation = 12288

// Signature dictionary constants for document timestamps (PAdES / ISO
// 32000-2 12.8.5).
const (
	sigFilter    = Name("Adobe.PPKLite")
	sigSubFilter = Name("ETSI.RFC3161")
	sigType      = Name("DocTimeStamp")
)

// Updater stages objects for one incremental update of a Document.
// The original bytes are never touched; Append produces original || update.
type Updater struct {
	doc     *Document
	objects []indirectObj
	nextNum int
}

type indirectObj struct {
	num, gen int
	obj      Object
}

// NewUpdater creates an updater for the given document.
func NewUpdater(doc *Document) *Updater {
	return &Updater{doc: doc, nextNum: doc.maxObjectNumber() + 1}
}

// Add stages a new object and returns its reference.
func (u *Updater) Add(obj Object) Ref {
	num := u.nextNum
	u.nextNum++
	u.objects = append(u.objects, indirectObj{num: num, gen: 0, obj: obj})
	return Ref{Num: num}
}

// Update stages a replacement for an existing object, keeping its
// generation number.
func (u *Updater) Update(ref Ref, obj Object) {
	gen := ref.Gen
	if e, ok := u.doc.xref[ref.Num]; ok {
		gen = e.gen
	}
	for i := range u.objects {
		if u.objects[i].num == ref.Num {
			u.objects[i].obj = obj
			return
		}
	}
	u.objects = append(u.objects, indirectObj{num: ref.Num, gen: gen, obj: obj})
}

// Placeholder is a document with a reserved, zero-filled /Contents hole
// awaiting a timestamp token. ByteRange excludes exactly the hex string
// including its <> delimiters.
type Placeholder struct {
	Data      []byte
	ByteRange [4]int64

	holeStart   int64 // offset of '<'
	holeEnd     int64 // offset one past '>'
	reservation int
}

// PrepareTimestamp stages a document-timestamp signature field and
// produces the placeholder document. reservation is the number of bytes
// reserved for the DER token; 0 selects DefaultReservation.
func (u *Updater) PrepareTimestamp(fieldName string, reservation int) (*Placeholder, error) {
	if reservation <= 0 {
		reservation = DefaultReservation
	}
	if fieldName == "" {
		fieldName = "Timestamp"
	}
	if _, ok := u.doc.trailer["Encrypt"]; ok {
		return nil, structErr("append",
			fmt.Errorf("%w: encrypted documents are not supported", ErrMalformed))
	}

	pageRef, page, err := u.doc.FirstPage()
	if err != nil {
		return nil, err
	}

	// The signature dictionary is serialized by hand later so the
	// /Contents and /ByteRange offsets are known exactly; reserve its
	// object number now.
	sigRef := u.Add(nil)

	// Widget annotation carrying the timestamp, invisible (empty rect).
	field := Dict{
		"Type":    Name("Annot"),
		"Subtype": Name("Widget"),
		"FT":      Name("Sig"),
		"T":       String(fieldName),
		"Rect":    Array{int64(0), int64(0), int64(0), int64(0)},
		"F":       int64(132), // print + locked
		"P":       pageRef,
		"V":       sigRef,
	}
	fieldRef := u.Add(field)

	if err := u.attachField(fieldRef); err != nil {
		return nil, err
	}
	if err := u.annotatePage(pageRef, page, fieldRef); err != nil {
		return nil, err
	}

	return u.appendWithHole(sigRef, reservation)
}

// attachField links the signature field into the document's AcroForm,
// creating one when absent.
func (u *Updater) attachField(fieldRef Ref) error {
	catRef, cat, err := u.doc.Catalog()
	if err != nil {
		return err
	}

	loadFields := func(form Dict) (Array, error) {
		obj, err := u.doc.Deref(form["Fields"])
		if err != nil {
			return nil, err
		}
		if arr, ok := obj.(Array); ok {
			return append(Array{}, arr...), nil
		}
		return Array{}, nil
	}

	var form Dict
	var formRef Ref
	haveFormRef := false

	switch v := cat["AcroForm"].(type) {
	case Ref:
		obj, err := u.doc.Get(v)
		if err != nil {
			return err
		}
		if d, ok := obj.(Dict); ok {
			form = d.Clone()
			formRef = v
			haveFormRef = true
		}
	case Dict:
		form = v.Clone()
	}
	if form == nil {
		form = Dict{}
	}

	fields, err := loadFields(form)
	if err != nil {
		return err
	}
	form["Fields"] = append(fields, fieldRef)

	sigFlags, _ := form.GetInt("SigFlags")
	form["SigFlags"] = sigFlags | 3 // SignaturesExist | AppendOnly

	if haveFormRef {
		u.Update(formRef, form)
		return nil
	}
	catCopy := cat.Clone()
	catCopy["AcroForm"] = u.Add(form)
	u.Update(catRef, catCopy)
	return nil
}

// annotatePage adds the widget to the page's /Annots.
func (u *Updater) annotatePage(pageRef Ref, page Dict, fieldRef Ref) error {
	obj, err := u.doc.Deref(page["Annots"])
	if err != nil {
		return err
	}
	annots := Array{}
	if arr, ok := obj.(Array); ok {
		annots = append(annots, arr...)
	}
	pageCopy := page.Clone()
	pageCopy["Annots"] = append(annots, fieldRef)
	u.Update(pageRef, pageCopy)
	return nil
}

// appendWithHole writes original || staged objects || xref, serializing
// the signature dictionary by hand to learn the /Contents hole and
// /ByteRange slot offsets, then patches ByteRange.
func (u *Updater) appendWithHole(sigRef Ref, reservation int) (*Placeholder, error) {
	buf := make([]byte, len(u.doc.data), len(u.doc.data)+reservation*2+4096)
	copy(buf, u.doc.data)
	if n := len(buf); n > 0 && buf[n-1] != '\n' && buf[n-1] != '\r' {
		buf = append(buf, '\n')
	}

	sorted := append([]indirectObj(nil), u.objects...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].num < sorted[j].num })

	offsets := make(map[int]int64, len(sorted))
	var holeStart, byteRangeSlot int64

	for _, io := range sorted {
		offsets[io.num] = int64(len(buf))
		buf = append(buf, fmt.Sprintf("%d %d obj\n", io.num, io.gen)...)
		if io.num == sigRef.Num {
			var hs, brs int64
			buf, hs, brs = appendSigDict(buf, reservation)
			holeStart, byteRangeSlot = hs, brs
		} else {
			buf = appendObject(buf, io.obj)
		}
		buf = append(buf, "\nendobj\n"...)
	}

	xrefOffset := int64(len(buf))
	var err error
	if u.doc.xrefIsStream {
		buf, err = u.appendXRefStream(buf, offsets, xrefOffset)
	} else {
		buf = u.appendXRefTable(buf, offsets)
	}
	if err != nil {
		return nil, err
	}
	buf = append(buf, fmt.Sprintf("startxref\n%d\n%%%%EOF\n", xrefOffset)...)

	holeEnd := holeStart + 1 + int64(reservation*2) + 1
	br := [4]int64{0, holeStart, holeEnd, int64(len(buf)) - holeEnd}
	patch := fmt.Sprintf("[0 %010d %010d %010d]", br[1], br[2], br[3])
	copy(buf[byteRangeSlot:], patch)

	return &Placeholder{
		Data:        buf,
		ByteRange:   br,
		holeStart:   holeStart,
		holeEnd:     holeEnd,
		reservation: reservation,
	}, nil
}

// appendSigDict writes the document-timestamp signature dictionary with a
// zero-filled /Contents hex string and a fixed-width /ByteRange slot.
// Returns the offsets of the hole ('<') and the ByteRange value.
func appendSigDict(buf []byte, reservation int) ([]byte, int64, int64) {
	buf = append(buf, "<< /Type /"...)
	buf = append(buf, sigType...)
	buf = append(buf, "\n/Filter /"...)
	buf = append(buf, sigFilter...)
	buf = append(buf, "\n/SubFilter /"...)
	buf = append(buf, sigSubFilter...)
	buf = append(buf, "\n/Contents "...)

	holeStart := int64(len(buf))
	buf = append(buf, '<')
	buf = append(buf, bytes.Repeat([]byte("00"), reservation)...)
	buf = append(buf, '>')

	buf = append(buf, "\n/ByteRange "...)
	byteRangeSlot := int64(len(buf))
	buf = append(buf, fmt.Sprintf("[0 %010d %010d %010d]", 0, 0, 0)...)
	buf = append(buf, "\n>>"...)
	return buf, holeStart, byteRangeSlot
}

// appendXRefTable writes a classic cross-reference table and trailer.
func (u *Updater) appendXRefTable(buf []byte, offsets map[int]int64) []byte {
	nums := make([]int, 0, len(offsets))
	for n := range offsets {
		nums = append(nums, n)
	}
	sort.Ints(nums)

	buf = append(buf, "xref\n"...)
	for i := 0; i < len(nums); {
		j := i
		for j+1 < len(nums) && nums[j+1] == nums[j]+1 {
			j++
		}
		buf = append(buf, fmt.Sprintf("%d %d\n", nums[i], j-i+1)...)
		for k := i; k <= j; k++ {
			gen := 0
			for _, io := range u.objects {
				if io.num == nums[k] {
					gen = io.gen
				}
			}
			buf = append(buf, fmt.Sprintf("%010d %05d n \n", offsets[nums[k]], gen)...)
		}
		i = j + 1
	}

	trailer := Dict{
		"Size": int64(u.nextNum),
		"Prev": u.doc.startXRef,
	}
	if root, ok := u.doc.trailer.GetRef("Root"); ok {
		trailer["Root"] = root
	}
	if info, ok := u.doc.trailer.GetRef("Info"); ok {
		trailer["Info"] = info
	}
	if id := u.doc.trailer.GetArray("ID"); id != nil {
		trailer["ID"] = id
	}

	buf = append(buf, "trailer\n"...)
	buf = appendObject(buf, trailer)
	buf = append(buf, '\n')
	return buf
}

// appendXRefStream writes the update's cross-reference data as an
// uncompressed cross-reference stream, as required when the existing
// document uses cross-reference streams.
func (u *Updater) appendXRefStream(buf []byte, offsets map[int]int64, selfOffset int64) ([]byte, error) {
	selfNum := u.nextNum
	u.nextNum++
	offsets[selfNum] = selfOffset

	nums := make([]int, 0, len(offsets))
	for n := range offsets {
		nums = append(nums, n)
	}
	sort.Ints(nums)

	// W = [1 4 2]: 1-byte type, 4-byte offset, 2-byte generation.
	var rows []byte
	var index Array
	for i := 0; i < len(nums); {
		j := i
		for j+1 < len(nums) && nums[j+1] == nums[j]+1 {
			j++
		}
		index = append(index, int64(nums[i]), int64(j-i+1))
		for k := i; k <= j; k++ {
			off := offsets[nums[k]]
			if off < 0 || off > 0xffffffff {
				return nil, structErr("append",
					fmt.Errorf("%w: object offset exceeds 4 GiB", ErrMalformed))
			}
			gen := 0
			for _, io := range u.objects {
				if io.num == nums[k] {
					gen = io.gen
				}
			}
			rows = append(rows, 1,
				byte(off>>24), byte(off>>16), byte(off>>8), byte(off),
				byte(gen>>8), byte(gen))
		}
		i = j + 1
	}

	dict := Dict{
		"Type":   Name("XRef"),
		"Size":   int64(u.nextNum),
		"Prev":   u.doc.startXRef,
		"W":      Array{int64(1), int64(4), int64(2)},
		"Index":  index,
		"Length": int64(len(rows)),
	}
	if root, ok := u.doc.trailer.GetRef("Root"); ok {
		dict["Root"] = root
	}
	if info, ok := u.doc.trailer.GetRef("Info"); ok {
		dict["Info"] = info
	}
	if id := u.doc.trailer.GetArray("ID"); id != nil {
		dict["ID"] = id
	}

	buf = append(buf, fmt.Sprintf("%d 0 obj\n", selfNum)...)
	buf = appendObject(buf, Stream{Dict: dict, Raw: rows})
	buf = append(buf, "\nendobj\n"...)
	return buf, nil
}

// SignedBytes returns the concatenation of the two ByteRange parts, the
// exact bytes covered by the timestamp digest.
func (p *Placeholder) SignedBytes() []byte {
	br := p.ByteRange
	out := make([]byte, 0, br[1]+br[3])
	out = append(out, p.Data[br[0]:br[0]+br[1]]...)
	out = append(out, p.Data[br[2]:br[2]+br[3]]...)
	return out
}

// Digest hashes the ByteRange-covered bytes with the given algorithm.
func (p *Placeholder) Digest(h crypto.Hash) []byte {
	hh := h.New()
	br := p.ByteRange
	hh.Write(p.Data[br[0] : br[0]+br[1]])
	hh.Write(p.Data[br[2] : br[2]+br[3]])
	return hh.Sum(nil)
}

// Fill inserts the DER token into the reserved hole and returns the
// finished document. The placeholder data is not modified. Fails with
// ErrIntegrity when the token exceeds the reservation.
func (p *Placeholder) Fill(token []byte) ([]byte, error) {
	if len(token) > p.reservation {
		return nil, structErr("append",
			fmt.Errorf("%w: token is %d bytes, reservation is %d",
				ErrIntegrity, len(token), p.reservation))
	}
	out := make([]byte, len(p.Data))
	copy(out, p.Data)
	hexed := fmt.Sprintf("%X", token)
	copy(out[p.holeStart+1:], hexed)
	return out, nil
}

// Reservation returns the reserved token capacity in bytes.
func (p *Placeholder) Reservation() int { return p.reservation }
