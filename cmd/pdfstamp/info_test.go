package main

import (
	"os"
	"testing"

	"github.com/remiblancher/pdfstamp/internal/tsa"
)

// stampedPDF stamps a fresh document and returns its path.
func stampedPDF(t *testing.T, tc *testContext) string {
	t.Helper()
	resetStampFlags()

	tsaURL := startTSA(t)
	input := tc.writePDF("doc.pdf")
	output := tc.path("doc.stamped.pdf")

	_, err := executeCommand(rootCmd, "stamp", input,
		"--url", tsaURL,
		"--out", output,
	)
	assertNoError(t, err)
	return output
}

func TestF_Info_Stamped(t *testing.T) {
	tc := newTestContext(t)
	stamped := stampedPDF(t, tc)
	resetInfoFlags()

	_, err := executeCommand(rootCmd, "info", stamped)
	assertNoError(t, err)
}

func TestF_Info_JSON(t *testing.T) {
	tc := newTestContext(t)
	stamped := stampedPDF(t, tc)
	resetInfoFlags()

	_, err := executeCommand(rootCmd, "info", stamped, "--json")
	assertNoError(t, err)
}

func TestF_Info_DumpArtifacts(t *testing.T) {
	tc := newTestContext(t)
	stamped := stampedPDF(t, tc)
	resetInfoFlags()

	tokenPath := tc.path("token.tsr")
	certsPath := tc.path("tsa.pem")

	_, err := executeCommand(rootCmd, "info", stamped,
		"--dump-token", tokenPath,
		"--dump-certs", certsPath,
	)
	assertNoError(t, err)

	tokenDER, err := os.ReadFile(tokenPath)
	assertNoError(t, err)
	if _, err := tsa.ParseToken(tokenDER); err != nil {
		t.Errorf("dumped token does not parse: %v", err)
	}

	certsPEM, err := os.ReadFile(certsPath)
	assertNoError(t, err)
	if len(certsPEM) == 0 {
		t.Error("dumped certificates file is empty")
	}
}

func TestF_Info_Unstamped(t *testing.T) {
	tc := newTestContext(t)
	resetInfoFlags()

	input := tc.writePDF("plain.pdf")

	_, err := executeCommand(rootCmd, "info", input)
	assertError(t, err)
}

func TestF_Info_MissingFile(t *testing.T) {
	tc := newTestContext(t)
	resetInfoFlags()

	_, err := executeCommand(rootCmd, "info", tc.path("missing.pdf"))
	assertError(t, err)
}
