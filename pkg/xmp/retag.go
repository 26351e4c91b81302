package xmp

import (
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"
)

// ratingAliases folds folder names onto the current rating vocabulary.
// Note the letter aliases differ from the numeric map: boards renamed
// s/q to sensitive/questionable in the word era.
var ratingAliases = map[string]string{
	"g":            "general",
	"general":      "general",
	"safe":         "general",
	"s":            "sensitive",
	"sensitive":    "sensitive",
	"q":            "questionable",
	"questionable": "questionable",
	"e":            "explicit",
	"explicit":     "explicit",
	"unknown":      "unknown",
}

// RetagStats aggregates one RetagRatings pass.
type RetagStats struct {
	Processed      int
	Updated        int
	AlreadyTagged  int
	SkippedNoMatch int // sidecars outside a recognizable rating folder
	MissingBags    int
	Errors         int
}

var bagRe = regexp.MustCompile(`(?s)(<rdf:Bag>)(.*?)(</rdf:Bag>)`)

// RetagRatings walks rootDir for existing .xmp sidecars and inserts the
// rating:<bucket> tag, derived from the rating folder each sidecar sits in,
// into every rdf:Bag that does not carry it yet. Sidecars written before the
// rating tag existed get it without a full metadata refetch. With dryRun set
// nothing is written.
func RetagRatings(rootDir string, dryRun bool, log *logrus.Entry) (RetagStats, error) {
	var stats RetagStats

	err := filepath.WalkDir(rootDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(d.Name()), ".xmp") {
			return nil
		}
		stats.Processed++

		rating := ratingFromPath(rootDir, path)
		if rating == "" {
			stats.SkippedNoMatch++
			return nil
		}

		content, readErr := os.ReadFile(path)
		if readErr != nil {
			stats.Errors++
			log.WithError(readErr).WithField("file", path).Warn("Failed to read sidecar")
			return nil
		}

		next, changed, bagCount := appendRatingToBags(string(content), "rating:"+rating)
		if bagCount == 0 {
			stats.MissingBags++
			return nil
		}
		if !changed {
			stats.AlreadyTagged++
			return nil
		}

		if !dryRun {
			if writeErr := os.WriteFile(path, []byte(next), 0o644); writeErr != nil {
				stats.Errors++
				log.WithError(writeErr).WithField("file", path).Warn("Failed to update sidecar")
				return nil
			}
		}
		stats.Updated++
		return nil
	})
	return stats, err
}

// ratingFromPath maps the sidecar's parent folder name onto a rating bucket,
// "" when the folder is not a rating folder.
func ratingFromPath(rootDir, path string) string {
	rel, err := filepath.Rel(rootDir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return ""
	}
	segments := strings.Split(filepath.ToSlash(rel), "/")
	if len(segments) < 2 {
		return ""
	}
	return ratingAliases[strings.ToLower(segments[len(segments)-2])]
}

// appendRatingToBags inserts the tag into every rdf:Bag missing it,
// preserving the surrounding indentation.
func appendRatingToBags(xml, ratingTag string) (content string, changed bool, bagCount int) {
	content = bagRe.ReplaceAllStringFunc(xml, func(match string) string {
		bagCount++
		sub := bagRe.FindStringSubmatch(match)
		open, inner, closing := sub[1], sub[2], sub[3]

		if strings.Contains(inner, ">"+ratingTag+"<") {
			return match
		}

		// Reuse the indentation of the existing items; derive it from the
		// closing tag when the bag is empty.
		trailing := inner[len(strings.TrimRight(inner, " \t\n")):]
		body := inner[:len(inner)-len(trailing)]

		itemIndent := ""
		if m := regexp.MustCompile(`\n([ \t]*)<rdf:li`).FindStringSubmatch(inner); m != nil {
			itemIndent = m[1]
		} else if m := regexp.MustCompile(`\n([ \t]*)$`).FindStringSubmatch(trailing); m != nil {
			itemIndent = m[1] + "  "
		}

		lead := ""
		if body == "" {
			lead = "\n"
		} else if !strings.HasSuffix(body, "\n") {
			lead = "\n"
		}

		changed = true
		return open + body + lead + itemIndent + "<rdf:li>" + ratingTag + "</rdf:li>" + trailing + closing
	})
	return content, changed, bagCount
}
