package oplog

import "sync"

// Recorder stores entries in memory for later inspection. Useful for tests
// and for building audit trails.
type Recorder struct {
	mode    Mode
	mu      sync.Mutex
	entries []Entry
}

func NewRecorder(mode Mode) *Recorder {
	if mode == "" {
		mode = ModeStandard
	}
	return &Recorder{mode: mode}
}

func (r *Recorder) Mode() Mode {
	return r.mode
}

func (r *Recorder) Log(entry Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
}

// Entries returns a copy of everything logged so far.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// EntriesByOperation filters recorded entries by operation kind.
func (r *Recorder) EntriesByOperation(op Operation) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Entry
	for _, entry := range r.entries {
		if entry.Operation == op {
			out = append(out, entry)
		}
	}
	return out
}

// Len reports the number of recorded entries.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Clear discards all recorded entries.
func (r *Recorder) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = nil
}
