package metadata

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"booru-archiver/pkg/utils"
)

// supportedExtensions are the media types the boards serve; anything else in
// the tree (sidecars, ledgers, bundles) is skipped during scanning.
var supportedExtensions = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".webm": {}, ".mp4": {},
	".bmp": {}, ".webp": {}, ".avif": {}, ".zip": {}, ".rar": {},
}

// File is one media file found under the scan root.
type File struct {
	ID           int64
	AbsolutePath string
	RelativePath string // posix-style, relative to the scan root
	Filename     string
	Extension    string
	QueryFolder  string // empty when the file is not nested deep enough
	RatingFolder string
}

// Group collects every file named after the same post id. Duplicate downloads
// (the same post under two queries) stay together so one metadata fetch
// covers them all.
type Group struct {
	ID    int64
	Files []File
}

// LocalFiles converts a group's files into record attachments.
func (g Group) LocalFiles() []LocalFile {
	out := make([]LocalFile, len(g.Files))
	for i, f := range g.Files {
		out[i] = LocalFile{
			RelativePath: f.RelativePath,
			Filename:     f.Filename,
			Extension:    f.Extension,
			QueryFolder:  f.QueryFolder,
			RatingFolder: f.RatingFolder,
		}
	}
	return out
}

// parseIDFromFilename extracts the numeric post id a downloaded file is named
// after. Non-numeric names are not ours to touch.
func parseIDFromFilename(name string) (int64, bool) {
	base := name
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		base = name[:idx]
	}
	id, err := strconv.ParseInt(base, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// Scan walks rootDir recursively and returns id-grouped media files sorted by
// id ascending. The layout convention is <root>/<query>/<rating>/<id>.<ext>;
// the two nearest parent folders are recorded as rating and query attribution
// when present.
func Scan(rootDir string) ([]Group, error) {
	info, err := os.Stat(rootDir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: directory not found: %s", utils.ErrFilesystem, rootDir)
	}

	byID := make(map[int64][]File)
	walkErr := filepath.WalkDir(rootDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		ext := strings.ToLower(filepath.Ext(d.Name()))
		if _, ok := supportedExtensions[ext]; !ok {
			return nil
		}
		id, ok := parseIDFromFilename(d.Name())
		if !ok {
			return nil
		}

		rel, err := filepath.Rel(rootDir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		segments := strings.Split(rel, "/")

		var ratingFolder, queryFolder string
		if len(segments) >= 2 {
			ratingFolder = segments[len(segments)-2]
		}
		if len(segments) >= 3 {
			queryFolder = segments[len(segments)-3]
		}

		byID[id] = append(byID[id], File{
			ID:           id,
			AbsolutePath: path,
			RelativePath: rel,
			Filename:     d.Name(),
			Extension:    ext,
			QueryFolder:  queryFolder,
			RatingFolder: ratingFolder,
		})
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("%w: scanning %s: %v", utils.ErrFilesystem, rootDir, walkErr)
	}

	groups := make([]Group, 0, len(byID))
	for id, files := range byID {
		groups = append(groups, Group{ID: id, Files: files})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].ID < groups[j].ID })
	return groups, nil
}

// GroupByQuery buckets groups by the query folder of their first file. Files
// sitting directly under the root land in the "" bucket.
func GroupByQuery(groups []Group) map[string][]Group {
	buckets := make(map[string][]Group)
	for _, g := range groups {
		query := ""
		if len(g.Files) > 0 {
			query = g.Files[0].QueryFolder
		}
		buckets[query] = append(buckets[query], g)
	}
	return buckets
}

// TotalFiles counts the files across all groups.
func TotalFiles(groups []Group) int {
	total := 0
	for _, g := range groups {
		total += len(g.Files)
	}
	return total
}
