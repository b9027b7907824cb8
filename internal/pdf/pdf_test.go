package pdf

import (
	"bytes"
	"compress/zlib"
	"crypto"
	"crypto/sha256"
	"errors"
	"fmt"
	"testing"
)

// buildClassicPDF assembles a minimal one-page PDF using a classic
// cross-reference table.
func buildClassicPDF(t *testing.T) []byte {
	t.Helper()
	var b bytes.Buffer
	b.WriteString("%PDF-1.7\n")

	offsets := map[int]int{}
	writeObj := func(num int, body string) {
		offsets[num] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n%s\nendobj\n", num, body)
	}
	writeObj(1, "<< /Type /Catalog /Pages 2 0 R >>")
	writeObj(2, "<< /Type /Pages /Kids [3 0 R] /Count 1 >>")
	writeObj(3, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] >>")

	xrefOff := b.Len()
	b.WriteString("xref\n0 4\n0000000000 65535 f \n")
	for i := 1; i <= 3; i++ {
		fmt.Fprintf(&b, "%010d 00000 n \n", offsets[i])
	}
	b.WriteString("trailer\n<< /Size 4 /Root 1 0 R >>\nstartxref\n")
	fmt.Fprintf(&b, "%d\n%%%%EOF\n", xrefOff)
	return b.Bytes()
}

// buildXRefStreamPDF assembles the same document using a cross-reference
// stream, with the catalog packed into an object stream.
func buildXRefStreamPDF(t *testing.T) []byte {
	t.Helper()
	var b bytes.Buffer
	b.WriteString("%PDF-1.7\n")

	offsets := map[int]int{}
	writeObj := func(num int, body string) {
		offsets[num] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n%s\nendobj\n", num, body)
	}
	writeObj(2, "<< /Type /Pages /Kids [3 0 R] /Count 1 >>")
	writeObj(3, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] >>")

	// Object stream 4 holds the catalog (object 1).
	catalog := "<< /Type /Catalog /Pages 2 0 R >>"
	header := "1 0 "
	var zbuf bytes.Buffer
	zw := zlib.NewWriter(&zbuf)
	zw.Write([]byte(header + catalog))
	zw.Close()
	offsets[4] = b.Len()
	fmt.Fprintf(&b, "4 0 obj\n<< /Type /ObjStm /N 1 /First %d /Filter /FlateDecode /Length %d >>\nstream\n",
		len(header), zbuf.Len())
	b.Write(zbuf.Bytes())
	b.WriteString("\nendstream\nendobj\n")

	// Cross-reference stream, object 5, W = [1 4 2].
	xrefOff := b.Len()
	row := func(typ byte, f2 int64, f3 int) []byte {
		return []byte{typ,
			byte(f2 >> 24), byte(f2 >> 16), byte(f2 >> 8), byte(f2),
			byte(f3 >> 8), byte(f3)}
	}
	var rows bytes.Buffer
	rows.Write(row(0, 0, 0xffff))                   // 0: free
	rows.Write(row(2, 4, 0))                        // 1: in object stream 4, index 0
	rows.Write(row(1, int64(offsets[2]), 0))        // 2
	rows.Write(row(1, int64(offsets[3]), 0))        // 3
	rows.Write(row(1, int64(offsets[4]), 0))        // 4
	rows.Write(row(1, int64(xrefOff), 0))           // 5: self
	fmt.Fprintf(&b, "5 0 obj\n<< /Type /XRef /Size 6 /Root 1 0 R /W [1 4 2] /Index [0 6] /Length %d >>\nstream\n",
		rows.Len())
	b.Write(rows.Bytes())
	b.WriteString("\nendstream\nendobj\n")
	fmt.Fprintf(&b, "startxref\n%d\n%%%%EOF\n", xrefOff)
	return b.Bytes()
}

// appendRevision appends one incremental update that rewrites a single
// object, chaining a new classic xref section via /Prev.
func appendRevision(t *testing.T, base []byte, num int, body string) []byte {
	t.Helper()
	idx := bytes.LastIndex(base, []byte("startxref"))
	if idx < 0 {
		t.Fatal("base has no startxref")
	}
	var prev int64
	if _, err := fmt.Sscanf(string(base[idx:]), "startxref\n%d", &prev); err != nil {
		t.Fatalf("cannot read startxref: %v", err)
	}

	var b bytes.Buffer
	b.Write(base)
	objOff := b.Len()
	fmt.Fprintf(&b, "%d 0 obj\n%s\nendobj\n", num, body)
	xrefOff := b.Len()
	fmt.Fprintf(&b, "xref\n%d 1\n%010d 00000 n \n", num, objOff)
	fmt.Fprintf(&b, "trailer\n<< /Size 4 /Root 1 0 R /Prev %d >>\nstartxref\n%d\n%%%%EOF\n",
		prev, xrefOff)
	return b.Bytes()
}

// buildHybridPDF assembles a classic-table document whose trailer points
// at a parallel cross-reference stream (/XRefStm) covering objects the
// table does not know: an object stream and its packed content.
func buildHybridPDF(t *testing.T) []byte {
	t.Helper()
	var b bytes.Buffer
	b.WriteString("%PDF-1.7\n")

	offsets := map[int]int{}
	writeObj := func(num int, body string) {
		offsets[num] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n%s\nendobj\n", num, body)
	}
	writeObj(1, "<< /Type /Catalog /Pages 2 0 R /Names 6 0 R >>")
	writeObj(2, "<< /Type /Pages /Kids [3 0 R] /Count 1 >>")
	writeObj(3, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] >>")

	// Object stream 4 holds object 6.
	payload := "<< /Hybrid true >>"
	header := "6 0 "
	var zbuf bytes.Buffer
	zw := zlib.NewWriter(&zbuf)
	zw.Write([]byte(header + payload))
	zw.Close()
	offsets[4] = b.Len()
	fmt.Fprintf(&b, "4 0 obj\n<< /Type /ObjStm /N 1 /First %d /Filter /FlateDecode /Length %d >>\nstream\n",
		len(header), zbuf.Len())
	b.Write(zbuf.Bytes())
	b.WriteString("\nendstream\nendobj\n")

	// Cross-reference stream, object 5, covering objects 4-6 only.
	streamOff := b.Len()
	row := func(typ byte, f2 int64, f3 int) []byte {
		return []byte{typ,
			byte(f2 >> 24), byte(f2 >> 16), byte(f2 >> 8), byte(f2),
			byte(f3 >> 8), byte(f3)}
	}
	var rows bytes.Buffer
	rows.Write(row(1, int64(offsets[4]), 0)) // 4
	rows.Write(row(1, int64(streamOff), 0))  // 5: self
	rows.Write(row(2, 4, 0))                 // 6: in object stream 4, index 0
	fmt.Fprintf(&b, "5 0 obj\n<< /Type /XRef /Size 7 /Root 1 0 R /W [1 4 2] /Index [4 3] /Length %d >>\nstream\n",
		rows.Len())
	b.Write(rows.Bytes())
	b.WriteString("\nendstream\nendobj\n")

	// Classic table covering objects 0-3, pointing at the stream.
	tableOff := b.Len()
	b.WriteString("xref\n0 4\n0000000000 65535 f \n")
	for i := 1; i <= 3; i++ {
		fmt.Fprintf(&b, "%010d 00000 n \n", offsets[i])
	}
	fmt.Fprintf(&b, "trailer\n<< /Size 7 /Root 1 0 R /XRefStm %d >>\nstartxref\n%d\n%%%%EOF\n",
		streamOff, tableOff)
	return b.Bytes()
}

func TestU_OpenClassic(t *testing.T) {
	doc, err := Open(buildClassicPDF(t))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if got := doc.Version(); got != "1.7" {
		t.Errorf("Version() = %q, want %q", got, "1.7")
	}
	if _, ok := doc.Trailer().GetRef("Root"); !ok {
		t.Error("trailer has no Root reference")
	}
	_, cat, err := doc.Catalog()
	if err != nil {
		t.Fatalf("Catalog() error = %v", err)
	}
	if cat.GetName("Type") != "Catalog" {
		t.Errorf("catalog Type = %q", cat.GetName("Type"))
	}
	pageRef, page, err := doc.FirstPage()
	if err != nil {
		t.Fatalf("FirstPage() error = %v", err)
	}
	if pageRef.Num != 3 || page.GetName("Type") != "Page" {
		t.Errorf("FirstPage() = %v %v", pageRef, page.GetName("Type"))
	}
}

func TestU_OpenXRefStream(t *testing.T) {
	doc, err := Open(buildXRefStreamPDF(t))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if !doc.xrefIsStream {
		t.Error("xrefIsStream = false, want true")
	}
	// The catalog lives inside an object stream.
	_, cat, err := doc.Catalog()
	if err != nil {
		t.Fatalf("Catalog() error = %v", err)
	}
	if _, ok := cat.GetRef("Pages"); !ok {
		t.Error("catalog has no Pages reference")
	}
	if _, _, err := doc.FirstPage(); err != nil {
		t.Errorf("FirstPage() error = %v", err)
	}
}

func TestU_OpenIncrementalUpdates(t *testing.T) {
	// Two revisions on top of the base document: the /Prev chain is
	// three sections long and the newest definition of object 3 wins.
	data := appendRevision(t, buildClassicPDF(t), 3,
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Rotate 90 >>")
	data = appendRevision(t, data, 3,
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Rotate 180 >>")

	doc, err := Open(data)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	_, page, err := doc.FirstPage()
	if err != nil {
		t.Fatalf("FirstPage() error = %v", err)
	}
	if rot, _ := page.GetInt("Rotate"); rot != 180 {
		t.Errorf("Rotate = %d, want 180 (newest revision must win)", rot)
	}
	// Objects untouched by the updates still resolve from the oldest
	// section.
	_, cat, err := doc.Catalog()
	if err != nil {
		t.Fatalf("Catalog() error = %v", err)
	}
	if cat.GetName("Type") != "Catalog" {
		t.Errorf("catalog Type = %q", cat.GetName("Type"))
	}
}

func TestU_OpenHybridXRef(t *testing.T) {
	doc, err := Open(buildHybridPDF(t))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	// The newest section is the classic table; appended updates must
	// stay classic.
	if doc.xrefIsStream {
		t.Error("xrefIsStream = true, want false for a hybrid file")
	}
	if _, _, err := doc.FirstPage(); err != nil {
		t.Fatalf("FirstPage() error = %v", err)
	}
	// Object 6 is only reachable through the /XRefStm section, packed
	// inside object stream 4.
	obj, err := doc.Get(Ref{Num: 6})
	if err != nil {
		t.Fatalf("Get(6) error = %v", err)
	}
	d, ok := obj.(Dict)
	if !ok || d["Hybrid"] != true {
		t.Errorf("object 6 = %v, want << /Hybrid true >>", obj)
	}
}

func TestU_OpenErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"not a pdf", []byte("hello world"), ErrNotPDF},
		{"empty", nil, ErrNotPDF},
		{"no startxref", []byte("%PDF-1.4\njunk"), ErrMalformed},
		{"bad offset", []byte("%PDF-1.4\nstartxref\n99999\n%%EOF"), ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Open(tt.data)
			if !errors.Is(err, tt.want) {
				t.Errorf("Open() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestU_LexerObjects(t *testing.T) {
	tests := []struct {
		name  string
		input string
		check func(t *testing.T, obj Object)
	}{
		{
			"name with escape", "/A#20B",
			func(t *testing.T, obj Object) {
				if obj != Name("A B") {
					t.Errorf("got %v", obj)
				}
			},
		},
		{
			"literal string escapes", `(a\(b\)c\\d\nend)`,
			func(t *testing.T, obj Object) {
				if string(obj.(String)) != "a(b)c\\d\nend" {
					t.Errorf("got %q", obj)
				}
			},
		},
		{
			"octal escape", `(\101)`,
			func(t *testing.T, obj Object) {
				if string(obj.(String)) != "A" {
					t.Errorf("got %q", obj)
				}
			},
		},
		{
			"hex string odd digits", "<48656C6C6F2>",
			func(t *testing.T, obj Object) {
				if !bytes.Equal(obj.(HexString), []byte("Hello ")) {
					t.Errorf("got %q", obj)
				}
			},
		},
		{
			"indirect reference", "12 0 R",
			func(t *testing.T, obj Object) {
				if obj != (Ref{Num: 12}) {
					t.Errorf("got %v", obj)
				}
			},
		},
		{
			"integer not a ref", "12 0 RG",
			func(t *testing.T, obj Object) {
				if obj != int64(12) {
					t.Errorf("got %v", obj)
				}
			},
		},
		{
			"real", "-3.25",
			func(t *testing.T, obj Object) {
				if obj != -3.25 {
					t.Errorf("got %v", obj)
				}
			},
		},
		{
			"nested structures", "<< /A [1 (two) /Three << /B true >>] /N null >>",
			func(t *testing.T, obj Object) {
				d := obj.(Dict)
				arr := d.GetArray("A")
				if len(arr) != 4 {
					t.Fatalf("array length = %d", len(arr))
				}
				if sub := arr[3].(Dict); sub["B"] != true {
					t.Errorf("nested dict B = %v", sub["B"])
				}
				if v, present := d["N"]; !present || v != nil {
					t.Errorf("null entry = %v (present %v)", v, present)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := &lexer{data: []byte(tt.input)}
			obj, err := l.parseObject()
			if err != nil {
				t.Fatalf("parseObject() error = %v", err)
			}
			tt.check(t, obj)
		})
	}
}

func TestU_PrepareTimestampClassic(t *testing.T) {
	orig := buildClassicPDF(t)
	doc, err := Open(orig)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	ph, err := NewUpdater(doc).PrepareTimestamp("Timestamp", 256)
	if err != nil {
		t.Fatalf("PrepareTimestamp() error = %v", err)
	}

	// The original bytes must be an untouched prefix of the result.
	if !bytes.Equal(ph.Data[:len(orig)], orig) {
		t.Fatal("original bytes were modified")
	}

	br := ph.ByteRange
	if br[0] != 0 {
		t.Errorf("ByteRange[0] = %d, want 0", br[0])
	}
	if ph.Data[br[1]] != '<' {
		t.Errorf("byte at ByteRange[1] = %q, want '<'", ph.Data[br[1]])
	}
	if ph.Data[br[2]-1] != '>' {
		t.Errorf("byte before ByteRange[2] = %q, want '>'", ph.Data[br[2]-1])
	}
	if hole := br[2] - br[1]; hole != 2*256+2 {
		t.Errorf("hole size = %d, want %d", hole, 2*256+2)
	}
	if br[1]+(br[2]-br[1])+br[3] != int64(len(ph.Data)) {
		t.Error("ByteRange does not tile the document")
	}

	// The result must itself be a well-formed incremental update.
	doc2, err := Open(ph.Data)
	if err != nil {
		t.Fatalf("Open(placeholder) error = %v", err)
	}
	_, cat, err := doc2.Catalog()
	if err != nil {
		t.Fatalf("Catalog() error = %v", err)
	}
	formObj, err := doc2.Deref(cat["AcroForm"])
	if err != nil {
		t.Fatalf("Deref(AcroForm) error = %v", err)
	}
	form, ok := formObj.(Dict)
	if !ok {
		t.Fatal("AcroForm missing from updated catalog")
	}
	if flags, _ := form.GetInt("SigFlags"); flags&3 != 3 {
		t.Errorf("SigFlags = %d, want bits 1|2 set", flags)
	}
	fields := form.GetArray("Fields")
	if len(fields) != 1 {
		t.Fatalf("Fields length = %d, want 1", len(fields))
	}
	fieldObj, err := doc2.Deref(fields[0])
	if err != nil {
		t.Fatalf("Deref(field) error = %v", err)
	}
	field := fieldObj.(Dict)
	if field.GetName("FT") != "Sig" {
		t.Errorf("field FT = %q", field.GetName("FT"))
	}
	sigObj, err := doc2.Deref(field["V"])
	if err != nil {
		t.Fatalf("Deref(V) error = %v", err)
	}
	sig := sigObj.(Dict)
	if sig.GetName("Type") != "DocTimeStamp" ||
		sig.GetName("SubFilter") != "ETSI.RFC3161" {
		t.Errorf("signature dict = %v", sig)
	}

	// The widget must be linked from the page.
	_, page, err := doc2.FirstPage()
	if err != nil {
		t.Fatalf("FirstPage() error = %v", err)
	}
	if len(page.GetArray("Annots")) != 1 {
		t.Errorf("page Annots length = %d, want 1", len(page.GetArray("Annots")))
	}
}

func TestU_PrepareTimestampXRefStream(t *testing.T) {
	orig := buildXRefStreamPDF(t)
	doc, err := Open(orig)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	ph, err := NewUpdater(doc).PrepareTimestamp("Timestamp", 128)
	if err != nil {
		t.Fatalf("PrepareTimestamp() error = %v", err)
	}
	if !bytes.Equal(ph.Data[:len(orig)], orig) {
		t.Fatal("original bytes were modified")
	}

	doc2, err := Open(ph.Data)
	if err != nil {
		t.Fatalf("Open(placeholder) error = %v", err)
	}
	if !doc2.xrefIsStream {
		t.Error("appended section is not a cross-reference stream")
	}
	_, cat, err := doc2.Catalog()
	if err != nil {
		t.Fatalf("Catalog() error = %v", err)
	}
	formObj, err := doc2.Deref(cat["AcroForm"])
	if err != nil || formObj == nil {
		t.Fatalf("AcroForm not reachable: %v", err)
	}
}

func TestU_PlaceholderFill(t *testing.T) {
	doc, err := Open(buildClassicPDF(t))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	ph, err := NewUpdater(doc).PrepareTimestamp("Timestamp", 16)
	if err != nil {
		t.Fatalf("PrepareTimestamp() error = %v", err)
	}

	token := []byte{0x30, 0x0a, 0x02, 0x01, 0x01}
	out, err := ph.Fill(token)
	if err != nil {
		t.Fatalf("Fill() error = %v", err)
	}
	wantHex := fmt.Sprintf("%X", token)
	got := string(out[ph.holeStart+1 : ph.holeStart+1+int64(len(wantHex))])
	if got != wantHex {
		t.Errorf("hole content = %q, want %q", got, wantHex)
	}
	// The placeholder itself stays zero-filled.
	if ph.Data[ph.holeStart+1] != '0' {
		t.Error("Fill() modified the placeholder data")
	}
	// The covered bytes are identical before and after filling.
	br := ph.ByteRange
	if !bytes.Equal(out[:br[1]], ph.Data[:br[1]]) ||
		!bytes.Equal(out[br[2]:], ph.Data[br[2]:]) {
		t.Error("Fill() changed bytes outside the hole")
	}

	if _, err := ph.Fill(bytes.Repeat([]byte{0x30}, 17)); !errors.Is(err, ErrIntegrity) {
		t.Errorf("Fill(oversized) error = %v, want ErrIntegrity", err)
	}
}

func TestU_PlaceholderDigest(t *testing.T) {
	doc, err := Open(buildClassicPDF(t))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	ph, err := NewUpdater(doc).PrepareTimestamp("Timestamp", 32)
	if err != nil {
		t.Fatalf("PrepareTimestamp() error = %v", err)
	}
	want := sha256.Sum256(ph.SignedBytes())
	got := ph.Digest(crypto.SHA256)
	if !bytes.Equal(got, want[:]) {
		t.Error("Digest() does not match hash of SignedBytes()")
	}
	if int64(len(ph.SignedBytes())) != ph.ByteRange[1]+ph.ByteRange[3] {
		t.Error("SignedBytes() length does not match ByteRange")
	}
}

func TestU_EncryptedRejected(t *testing.T) {
	orig := buildClassicPDF(t)
	doc, err := Open(orig)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	doc.trailer["Encrypt"] = Ref{Num: 99}
	if _, err := NewUpdater(doc).PrepareTimestamp("Timestamp", 64); !errors.Is(err, ErrMalformed) {
		t.Errorf("PrepareTimestamp() error = %v, want ErrMalformed", err)
	}
}
