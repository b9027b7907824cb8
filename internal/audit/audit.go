package audit

import (
	"fmt"
	"sync"
)

var (
	// globalWriter is the default audit writer.
	globalWriter Writer = NopWriter{}
	globalMu     sync.RWMutex

	// enabled tracks whether audit logging is active.
	enabled bool
)

// Init initializes the global audit logger with the given writer.
// Must be called before any audit events are logged.
func Init(w Writer) error {
	globalMu.Lock()
	defer globalMu.Unlock()

	if w == nil {
		globalWriter = NopWriter{}
		enabled = false
		return nil
	}

	globalWriter = w
	enabled = true
	return nil
}

// InitFile initializes the global audit logger with a file writer.
// This is a convenience function for the common case.
func InitFile(path string) error {
	if path == "" {
		return Init(nil)
	}

	w, err := NewFileWriter(path)
	if err != nil {
		return err
	}

	return Init(w)
}

// Close closes the global audit writer.
// Should be called when the application exits.
func Close() error {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalWriter != nil {
		err := globalWriter.Close()
		globalWriter = NopWriter{}
		enabled = false
		return err
	}
	return nil
}

// Enabled returns whether audit logging is active.
func Enabled() bool {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return enabled
}

// Log writes an audit event to the global writer.
func Log(event *Event) error {
	globalMu.RLock()
	w := globalWriter
	globalMu.RUnlock()

	return w.Write(event)
}

// MustLog writes an audit event and returns an error suitable for
// failing the parent operation if audit logging fails.
func MustLog(event *Event) error {
	if err := Log(event); err != nil {
		return fmt.Errorf("audit log failed: %w", err)
	}
	return nil
}

// LogStampStarted logs the beginning of a stamping operation.
func LogStampStarted(docPath, tsaURL, algorithm string, sizeBytes int) error {
	event := NewEvent(EventStampStarted, ResultSuccess).
		WithObject(Object{
			Type: "document",
			Path: docPath,
		}).
		WithContext(Context{
			TSAURL:    tsaURL,
			Algorithm: algorithm,
			SizeBytes: sizeBytes,
		})

	return MustLog(event)
}

// LogStampCompleted logs the outcome of a stamping operation.
func LogStampCompleted(docPath, tsaURL string, success bool, reason string) error {
	result := ResultSuccess
	if !success {
		result = ResultFailure
	}

	event := NewEvent(EventStampCompleted, result).
		WithObject(Object{
			Type: "document",
			Path: docPath,
		}).
		WithContext(Context{
			TSAURL: tsaURL,
			Reason: reason,
		})

	return MustLog(event)
}

// LogTSAExchange logs one request/response round-trip with a TSA.
func LogTSAExchange(tsaURL, digestHex, serial, genTime, policy string, success bool, reason string) error {
	result := ResultSuccess
	if !success {
		result = ResultFailure
	}

	event := NewEvent(EventTSAResponse, result).
		WithObject(Object{
			Type:   "token",
			Serial: serial,
			Digest: digestHex,
		}).
		WithContext(Context{
			TSAURL:  tsaURL,
			GenTime: genTime,
			Policy:  policy,
			Reason:  reason,
		})

	return MustLog(event)
}

// LogAPIServe logs the start of the HTTP API.
func LogAPIServe(addr, tsaURL string) error {
	event := NewEvent(EventAPIServe, ResultSuccess).
		WithObject(Object{
			Type: "server",
			Path: addr,
		}).
		WithContext(Context{
			TSAURL: tsaURL,
		})

	return MustLog(event)
}

// LogTokenEmbedded logs the insertion of a token into a document.
func LogTokenEmbedded(docPath string, tokenBytes, reservation int) error {
	event := NewEvent(EventTokenEmbedded, ResultSuccess).
		WithObject(Object{
			Type: "document",
			Path: docPath,
		}).
		WithContext(Context{
			SizeBytes:   tokenBytes,
			Reservation: reservation,
		})

	return MustLog(event)
}
