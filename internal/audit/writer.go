package audit

// Writer persists audit events. Implementations set the hash chain
// fields (HashPrev, Hash) on each event and must not return from Write
// before the event is durable; a failed audit write fails the stamping
// operation that caused it.
type Writer interface {
	Write(event *Event) error

	// Close flushes any pending writes and releases the sink.
	Close() error

	// LastHash returns the hash of the last written event, or
	// GenesisHash when nothing has been written yet.
	LastHash() string
}

// NopWriter discards all events. It backs the global logger while audit
// logging is disabled.
type NopWriter struct{}

var _ Writer = (*NopWriter)(nil)

func (NopWriter) Write(*Event) error { return nil }
func (NopWriter) Close() error       { return nil }
func (NopWriter) LastHash() string   { return GenesisHash }

// MultiWriter fans one event out to several writers, for example a local
// file plus a forwarder. The first failing writer aborts the write.
type MultiWriter struct {
	writers []Writer
}

var _ Writer = (*MultiWriter)(nil)

// NewMultiWriter creates a writer that writes to all provided writers.
func NewMultiWriter(writers ...Writer) *MultiWriter {
	return &MultiWriter{writers: writers}
}

func (m *MultiWriter) Write(event *Event) error {
	for _, w := range m.writers {
		if err := w.Write(event); err != nil {
			return err
		}
	}
	return nil
}

func (m *MultiWriter) Close() error {
	var lastErr error
	for _, w := range m.writers {
		if err := w.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func (m *MultiWriter) LastHash() string {
	if len(m.writers) > 0 {
		return m.writers[0].LastHash()
	}
	return GenesisHash
}
