package xmp

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"booru-archiver/pkg/metadata"
)

// ratingNumeric maps provider rating labels onto the 0-5 xmp:Rating scale
// photo managers understand. Unknown labels map to 0 (unrated).
var ratingNumeric = map[string]int{
	"general":      1,
	"safe":         1,
	"s":            1,
	"questionable": 2,
	"sensitive":    3,
	"q":            3,
	"explicit":     4,
	"e":            4,
	"unknown":      0,
}

func ratingToNumeric(rating string) int {
	return ratingNumeric[strings.ToLower(rating)]
}

var escaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
)

func esc(v string) string { return escaper.Replace(v) }

// Content renders the sidecar document for one local file of a record. The
// output is deterministic: the same record and file always produce the same
// bytes, which is what makes compare-and-skip meaningful.
func Content(rec metadata.Record, file metadata.LocalFile) string {
	ratingLabel := rec.Rating
	if ratingLabel == "" {
		ratingLabel = "unknown"
	}
	source := rec.Source
	if source == "" {
		source = rec.FileURL
	}

	var b strings.Builder
	b.WriteString("<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n")
	b.WriteString("<?xpacket begin=\"\uFEFF\" id=\"W5M0MpCehiHzreSzNTczkc9d\"?>\n")
	b.WriteString("<x:xmpmeta xmlns:x=\"adobe:ns:meta/\">\n")
	b.WriteString("  <rdf:RDF xmlns:rdf=\"http://www.w3.org/1999/02/22-rdf-syntax-ns#\">\n")
	b.WriteString("    <rdf:Description rdf:about=\"\"\n")
	b.WriteString("      xmlns:dc=\"http://purl.org/dc/elements/1.1/\"\n")
	b.WriteString("      xmlns:xmp=\"http://ns.adobe.com/xap/1.0/\"\n")
	b.WriteString("      xmlns:xmpMM=\"http://ns.adobe.com/xap/1.0/mm/\"\n")
	b.WriteString("      xmlns:photoshop=\"http://ns.adobe.com/photoshop/1.0/\"\n")
	b.WriteString("      xmlns:Iptc4xmpCore=\"http://iptc.org/std/Iptc4xmpCore/1.0/xmlns/\"\n")
	b.WriteString("      xmlns:Booru=\"https://booru-archiver.dev/ns/1.0/\"\n")
	fmt.Fprintf(&b, "      xmp:Rating=\"%d\"\n", ratingToNumeric(ratingLabel))
	fmt.Fprintf(&b, "      xmp:Label=\"%s\"\n", esc(ratingLabel))
	fmt.Fprintf(&b, "      Booru:Rating=\"%s\"\n", esc(ratingLabel))
	fmt.Fprintf(&b, "      Booru:Score=\"%d\"\n", rec.Score)
	fmt.Fprintf(&b, "      Booru:HasChildren=\"%t\"\n", rec.HasChildren)
	fmt.Fprintf(&b, "      Booru:HasComments=\"%t\"\n", rec.HasComments)
	fmt.Fprintf(&b, "      Booru:SampleFlag=\"%t\"\n", rec.Sample)
	fmt.Fprintf(&b, "      Booru:Width=\"%d\"\n", rec.Width)
	fmt.Fprintf(&b, "      Booru:Height=\"%d\"\n", rec.Height)
	fmt.Fprintf(&b, "      Booru:FileUrl=\"%s\"\n", esc(rec.FileURL))
	fmt.Fprintf(&b, "      Booru:PreviewUrl=\"%s\"\n", esc(rec.PreviewURL))
	fmt.Fprintf(&b, "      Booru:SampleUrl=\"%s\"\n", esc(rec.SampleURL))
	fmt.Fprintf(&b, "      Booru:FetchedAt=\"%s\"\n", esc(rec.FetchedAt))
	b.WriteString("    >\n")

	// dc:title — the local filename.
	b.WriteString("      <dc:title>\n        <rdf:Alt>\n")
	fmt.Fprintf(&b, "          <rdf:li xml:lang=\"x-default\">%s</rdf:li>\n", esc(file.Filename))
	b.WriteString("        </rdf:Alt>\n      </dc:title>\n")

	if desc := buildDescription(rec); desc != "" {
		b.WriteString("      <dc:description>\n        <rdf:Alt>\n")
		fmt.Fprintf(&b, "          <rdf:li xml:lang=\"x-default\">%s</rdf:li>\n", esc(desc))
		b.WriteString("        </rdf:Alt>\n      </dc:description>\n")
	}

	if rec.Owner != "" {
		b.WriteString("      <dc:creator>\n        <rdf:Seq>\n")
		fmt.Fprintf(&b, "          <rdf:li>%s</rdf:li>\n", esc(rec.Owner))
		b.WriteString("        </rdf:Seq>\n      </dc:creator>\n")
	}

	if source != "" {
		fmt.Fprintf(&b, "      <photoshop:Source>%s</photoshop:Source>\n", esc(source))
	}
	if rec.CreatedAt != "" {
		fmt.Fprintf(&b, "      <xmp:CreateDate>%s</xmp:CreateDate>\n", esc(rec.CreatedAt))
	}
	if rec.MD5 != "" {
		fmt.Fprintf(&b, "      <xmpMM:DerivedFrom>%s</xmpMM:DerivedFrom>\n", esc(rec.MD5))
	}

	if len(rec.Tags) > 0 {
		b.WriteString("      <Iptc4xmpCore:Keywords>\n        <rdf:Bag>\n")
		for _, tag := range rec.Tags {
			fmt.Fprintf(&b, "          <rdf:li>%s</rdf:li>\n", esc(tag))
		}
		b.WriteString("        </rdf:Bag>\n      </Iptc4xmpCore:Keywords>\n")

		b.WriteString("      <dc:subject>\n        <rdf:Bag>\n")
		for _, tag := range rec.Tags {
			fmt.Fprintf(&b, "          <rdf:li>%s</rdf:li>\n", esc(tag))
		}
		b.WriteString("        </rdf:Bag>\n      </dc:subject>\n")
	}

	// Provider block: ids that only matter for cross-referencing the board.
	b.WriteString("      <Booru:Record>\n")
	fmt.Fprintf(&b, "        <Booru:PostId>%d</Booru:PostId>\n", rec.ID)
	if rec.Directory != "" {
		fmt.Fprintf(&b, "        <Booru:Directory>%s</Booru:Directory>\n", esc(rec.Directory))
	}
	if rec.Board.ParentID != 0 {
		fmt.Fprintf(&b, "        <Booru:ParentId>%d</Booru:ParentId>\n", rec.Board.ParentID)
	}
	if rec.Board.CreatorID != 0 {
		fmt.Fprintf(&b, "        <Booru:CreatorId>%d</Booru:CreatorId>\n", rec.Board.CreatorID)
	}
	if rec.Board.Change != 0 {
		fmt.Fprintf(&b, "        <Booru:LastChange>%d</Booru:LastChange>\n", rec.Board.Change)
	}
	b.WriteString("        <Booru:Tags>\n          <rdf:Bag>\n")
	for _, tag := range rec.Tags {
		fmt.Fprintf(&b, "            <rdf:li>%s</rdf:li>\n", esc(tag))
	}
	b.WriteString("          </rdf:Bag>\n        </Booru:Tags>\n")
	b.WriteString("      </Booru:Record>\n")

	b.WriteString("    </rdf:Description>\n  </rdf:RDF>\n</x:xmpmeta>\n")
	b.WriteString("<?xpacket end=\"w\"?>\n")
	return b.String()
}

func buildDescription(rec metadata.Record) string {
	var parts []string
	if rec.Status != "" {
		parts = append(parts, "Status: "+rec.Status)
	}
	if rec.Owner != "" {
		parts = append(parts, "Uploader: "+rec.Owner)
	}
	if rec.Width > 0 && rec.Height > 0 {
		parts = append(parts, fmt.Sprintf("Resolution: %dx%d", rec.Width, rec.Height))
	}
	parts = append(parts, fmt.Sprintf("Score: %d", rec.Score))
	return strings.Join(parts, " | ")
}

// FileError records why one sidecar could not be written.
type FileError struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// Stats aggregates a writer's outcomes.
type Stats struct {
	Attempted int
	Written   int
	Skipped   int
	Failed    int
	Errors    []FileError
}

// Writer places one .xmp sidecar next to every local file of the records it
// is fed. A sidecar whose bytes already match is left untouched, so photo
// managers watching the tree do not reindex unchanged assets.
type Writer struct {
	rootDir string
	stats   Stats
	log     *logrus.Entry
}

func NewWriter(rootDir string, log *logrus.Entry) *Writer {
	return &Writer{rootDir: rootDir, log: log.WithField("component", "xmp_writer")}
}

// ProcessRecord writes or refreshes the sidecars for one record. Per-file
// failures are collected into the stats; they never abort the record.
func (w *Writer) ProcessRecord(rec metadata.Record) {
	for _, file := range rec.LocalFiles {
		w.stats.Attempted++

		abs := filepath.Join(w.rootDir, filepath.FromSlash(file.RelativePath))
		dir := filepath.Dir(abs)
		name := strings.TrimSuffix(filepath.Base(abs), filepath.Ext(abs))
		sidecarPath := filepath.Join(dir, name+".xmp")

		content := []byte(Content(rec, file))
		if existing, err := os.ReadFile(sidecarPath); err == nil && bytes.Equal(existing, content) {
			w.stats.Skipped++
			continue
		}

		if err := os.MkdirAll(dir, 0o755); err != nil {
			w.fail(file.RelativePath, err)
			continue
		}
		if err := os.WriteFile(sidecarPath, content, 0o644); err != nil {
			w.fail(file.RelativePath, err)
			continue
		}
		w.stats.Written++
	}
}

func (w *Writer) fail(path string, err error) {
	w.stats.Failed++
	w.stats.Errors = append(w.stats.Errors, FileError{Path: path, Reason: err.Error()})
	w.log.WithError(err).WithField("file", path).Warn("Failed to write sidecar")
}

// Stats returns the writer's accumulated outcomes.
func (w *Writer) Stats() Stats { return w.stats }
