package agent

import "sync"

// compressThreshold and keepVerbatim implement spec §4.6 step 7: "if
// short-term size exceeds a threshold (≈8), compress the oldest entries
// into the summary map (preserve last 5 verbatim)".
const (
	compressThreshold = 8
	keepVerbatim      = 5
)

// Interaction is one short-term memory entry: a record of a single
// execute_task call.
type Interaction struct {
	TaskID  string
	Input   map[string]any
	Output  map[string]any
	Success bool
}

// Memory is an agent's contextual memory (spec §4.6: "a definition plus a
// contextual memory (short-term map, long-term map, summary map)").
type Memory struct {
	mu sync.Mutex

	shortTerm []Interaction
	longTerm  map[string]any
	summary   map[string]string
}

// NewMemory constructs an empty Memory.
func NewMemory() *Memory {
	return &Memory{
		longTerm: make(map[string]any),
		summary:  make(map[string]string),
	}
}

// Record appends an interaction to short-term memory, compressing the
// oldest entries into summary once the threshold is exceeded.
func (m *Memory) Record(i Interaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shortTerm = append(m.shortTerm, i)
	if len(m.shortTerm) > compressThreshold {
		m.compressLocked()
	}
}

// compressLocked folds every entry but the most recent keepVerbatim into a
// single summary entry, keyed by the oldest compressed task id. Caller
// holds m.mu.
func (m *Memory) compressLocked() {
	cut := len(m.shortTerm) - keepVerbatim
	toCompress := m.shortTerm[:cut]
	kept := m.shortTerm[cut:]

	successes := 0
	for _, e := range toCompress {
		if e.Success {
			successes++
		}
	}
	key := "compressed_" + toCompress[0].TaskID
	m.summary[key] = summarize(toCompress, successes)

	m.shortTerm = append([]Interaction{}, kept...)
}

func summarize(entries []Interaction, successes int) string {
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.TaskID)
	}
	return joinWithStats(ids, successes, len(entries))
}

func joinWithStats(ids []string, successes, total int) string {
	s := ""
	for i, id := range ids {
		if i > 0 {
			s += ","
		}
		s += id
	}
	return s + " (" + itoa(successes) + "/" + itoa(total) + " succeeded)"
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// ShortTerm returns a copy of the current short-term entries, most recent
// last.
func (m *Memory) ShortTerm() []Interaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Interaction, len(m.shortTerm))
	copy(out, m.shortTerm)
	return out
}

// Summary returns a copy of the compressed-history map.
func (m *Memory) Summary() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.summary))
	for k, v := range m.summary {
		out[k] = v
	}
	return out
}

// SetLongTerm stores a durable fact (e.g. a learned preference) in the
// agent's long-term map.
func (m *Memory) SetLongTerm(key string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.longTerm[key] = value
}

// LongTerm returns a long-term fact, if present.
func (m *Memory) LongTerm(key string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.longTerm[key]
	return v, ok
}
