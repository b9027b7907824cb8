package main

import (
	"bytes"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"

	"github.com/remiblancher/pdfstamp/internal/tsa/tsatest"
)

// executeCommand executes a Cobra command with the given args and returns output.
func executeCommand(root *cobra.Command, args ...string) (output string, err error) {
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)

	err = root.Execute()
	return buf.String(), err
}

// resetGlobalFlags resets the persistent root flags.
func resetGlobalFlags() {
	auditLogPath = ""
}

// resetStampFlags resets all stamp command flags to their default values.
func resetStampFlags() {
	resetGlobalFlags()
	stampConfigPath = ""
	stampOut = ""
	stampURL = ""
	stampHash = ""
	stampPolicy = ""
	stampField = ""
	stampTimeout = 0
	stampReservation = 0
	stampNoNonce = false
	stampNoCerts = false
}

// resetInfoFlags resets all info command flags to their default values.
func resetInfoFlags() {
	resetGlobalFlags()
	infoJSON = false
	infoDumpToken = ""
	infoDumpCerts = ""
}

// testContext holds test resources.
type testContext struct {
	t       *testing.T
	tempDir string
}

// newTestContext creates a new test context with a temp directory.
func newTestContext(t *testing.T) *testContext {
	t.Helper()
	dir, err := os.MkdirTemp("", "pdfstamp-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp directory: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return &testContext{t: t, tempDir: dir}
}

// path returns a path within the temp directory.
func (tc *testContext) path(name string) string {
	return filepath.Join(tc.tempDir, name)
}

// writePDF writes a minimal one-page PDF to the temp directory.
func (tc *testContext) writePDF(name string) string {
	tc.t.Helper()
	path := tc.path(name)
	if err := os.WriteFile(path, buildPDF(), 0644); err != nil {
		tc.t.Fatalf("Failed to write PDF %s: %v", name, err)
	}
	return path
}

// buildPDF produces a minimal classic-xref document.
func buildPDF() []byte {
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

// startTSA runs an in-process timestamp authority.
func startTSA(t *testing.T) string {
	t.Helper()
	auth, err := tsatest.New()
	if err != nil {
		t.Fatalf("tsatest.New() error = %v", err)
	}
	srv := httptest.NewServer(auth)
	t.Cleanup(srv.Close)
	return srv.URL
}

// assertError fails the test if err is nil.
func assertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected an error, got nil")
	}
}

// assertNoError fails the test if err is not nil.
func assertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
