package metadata

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root string, rel string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func TestScanGroupsAndAttribution(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "yakumo_ran/general/100.jpg")
	writeFile(t, root, "yakumo_ran/explicit/200.png")
	writeFile(t, root, "chen/general/100.jpg") // same id under two queries
	writeFile(t, root, "300.gif")              // directly under the root
	writeFile(t, root, "yakumo_ran/general/not_a_post.jpg")
	writeFile(t, root, "yakumo_ran/general/400.txt") // unsupported extension
	writeFile(t, root, "yakumo_ran/general/100.xmp") // sidecar, skipped

	groups, err := Scan(root)
	require.NoError(t, err)
	require.Len(t, groups, 3)

	// Sorted ascending by id.
	assert.Equal(t, int64(100), groups[0].ID)
	assert.Equal(t, int64(200), groups[1].ID)
	assert.Equal(t, int64(300), groups[2].ID)

	// Duplicate id across queries stays in one group.
	assert.Len(t, groups[0].Files, 2)

	// Folder attribution.
	f := groups[1].Files[0]
	assert.Equal(t, "yakumo_ran", f.QueryFolder)
	assert.Equal(t, "explicit", f.RatingFolder)
	assert.Equal(t, "yakumo_ran/explicit/200.png", f.RelativePath)
	assert.Equal(t, ".png", f.Extension)

	// A file directly under the root has no attribution.
	rootFile := groups[2].Files[0]
	assert.Empty(t, rootFile.QueryFolder)
	assert.Empty(t, rootFile.RatingFolder)
}

func TestScanMissingRoot(t *testing.T) {
	_, err := Scan(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
}

func TestGroupByQuery(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "touhou/general/1.jpg")
	writeFile(t, root, "touhou/general/2.jpg")
	writeFile(t, root, "chen/general/3.jpg")
	writeFile(t, root, "4.jpg")

	groups, err := Scan(root)
	require.NoError(t, err)

	buckets := GroupByQuery(groups)
	assert.Len(t, buckets["touhou"], 2)
	assert.Len(t, buckets["chen"], 1)
	assert.Len(t, buckets[""], 1)
	assert.Equal(t, 4, TotalFiles(groups))
}

func TestParseIDFromFilename(t *testing.T) {
	tests := []struct {
		name   string
		wantID int64
		wantOK bool
	}{
		{"12345.jpg", 12345, true},
		{"007.png", 7, true},
		{"999", 999, true},
		{"cover.jpg", 0, false},
		{"12a45.jpg", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		id, ok := parseIDFromFilename(tt.name)
		assert.Equal(t, tt.wantOK, ok, tt.name)
		if ok {
			assert.Equal(t, tt.wantID, id, tt.name)
		}
	}
}
