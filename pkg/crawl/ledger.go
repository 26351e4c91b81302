package crawl

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"booru-archiver/pkg/utils"
)

// LedgerVersion is bumped whenever the on-disk state shape changes. Older
// files are discarded rather than migrated.
const LedgerVersion = 2

// State is the resume ledger persisted after every processed item. A nil
// LastSeenID means the crawl has not paged yet (cursor unbounded).
type State struct {
	Version       int    `json:"version"`
	Query         string `json:"query"`
	LastSeenID    *int64 `json:"lastSeenId"`
	TotalImages   int    `json:"totalImages"`
	SkippedImages int    `json:"skippedImages"`
	UpdatedAt     string `json:"updatedAt"`
	Completed     bool   `json:"completed"`
}

// Ledger reads and writes crawl state for one query at a fixed path.
type Ledger struct {
	path string
	log  *logrus.Entry
}

func NewLedger(path string, log *logrus.Entry) *Ledger {
	return &Ledger{path: path, log: log.WithField("ledger", path)}
}

func (l *Ledger) Path() string { return l.path }

// Load returns the persisted state, or nil for a clean slate. Any problem —
// missing file, corrupt JSON, version mismatch, or a state written for a
// different query — yields nil; a stale ledger must never steer a new crawl.
func (l *Ledger) Load(expectedQuery string) *State {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if !os.IsNotExist(err) {
			l.log.WithError(err).Warn("Failed to read resume state, starting fresh")
		}
		return nil
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		l.log.WithError(err).Warn("Corrupt resume state, starting fresh")
		return nil
	}
	if st.Version != LedgerVersion {
		l.log.WithField("found_version", st.Version).Warn("Resume state version mismatch, starting fresh")
		return nil
	}
	if st.Query != expectedQuery {
		l.log.WithFields(logrus.Fields{
			"state_query":    st.Query,
			"expected_query": expectedQuery,
		}).Warn("Resume state belongs to a different query, starting fresh")
		return nil
	}
	return &st
}

// StartState derives the state a new run should begin from. A nil prior
// state, and a prior state marked completed, both start from the top with
// zeroed counters — rerunning a finished crawl becomes a gap-fill pass that
// picks up posts added since.
func StartState(prev *State, query string) *State {
	if prev == nil || prev.Completed {
		return &State{Query: query}
	}
	cp := *prev
	if prev.LastSeenID != nil {
		v := *prev.LastSeenID
		cp.LastSeenID = &v
	}
	return &cp
}

// Save overwrites the ledger, creating parent directories as needed.
func (l *Ledger) Save(st *State) error {
	st.Version = LedgerVersion
	st.UpdatedAt = time.Now().UTC().Format(time.RFC3339)

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("%w: creating state directory: %v", utils.ErrFilesystem, err)
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling resume state: %w", err)
	}
	if err := os.WriteFile(l.path, data, 0o644); err != nil {
		return fmt.Errorf("%w: writing resume state: %v", utils.ErrFilesystem, err)
	}
	return nil
}
