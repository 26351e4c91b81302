package metadata

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"booru-archiver/pkg/utils"
)

// BundleVersion is bumped whenever the bundle shape changes.
const BundleVersion = 3

// XMPSummary is the sidecar portion of a bundle, counts only.
type XMPSummary struct {
	Attempted int `json:"attempted"`
	Written   int `json:"written"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// Bundle is the metadata document written at the end of a run.
type Bundle struct {
	Version              int         `json:"version"`
	GeneratedAt          string      `json:"generatedAt"`
	RunID                string      `json:"runId"`
	RootDir              string      `json:"rootDir"`
	Mode                 string      `json:"mode"` // "single" or "crawl"
	SearchQuery          string      `json:"searchQuery,omitempty"`
	TotalFiles           int         `json:"totalFiles"`
	TotalUniqueIDs       int         `json:"totalUniqueIds"`
	TotalMetadataRecords int         `json:"totalMetadataRecords"`
	MissingIDs           []int64     `json:"missingIds"`
	ProcessedQueries     []Summary   `json:"processedQueries"`
	XMPSidecars          *XMPSummary `json:"xmpSidecars,omitempty"`
	Records              []Record    `json:"records"`
}

// NewBundle stamps the envelope fields; the caller fills in counts and
// records.
func NewBundle(rootDir, mode, searchQuery string) *Bundle {
	return &Bundle{
		Version:          BundleVersion,
		GeneratedAt:      time.Now().UTC().Format(time.RFC3339),
		RunID:            uuid.NewString(),
		RootDir:          rootDir,
		Mode:             mode,
		SearchQuery:      searchQuery,
		MissingIDs:       []int64{},
		ProcessedQueries: []Summary{},
	}
}

// Write serializes the bundle to path, creating parent directories.
func (b *Bundle) Write(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("%w: creating output directory: %v", utils.ErrFilesystem, err)
	}
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling metadata bundle: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("%w: writing metadata bundle: %v", utils.ErrFilesystem, err)
	}
	return nil
}
