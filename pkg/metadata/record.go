package metadata

import (
	"strings"
	"time"

	"booru-archiver/pkg/booru"
)

// LocalFile describes one on-disk media file that belongs to a record.
type LocalFile struct {
	RelativePath string `json:"relativePath"` // posix-style, relative to the scan root
	Filename     string `json:"filename"`
	Extension    string `json:"extension"`
	QueryFolder  string `json:"queryFolder,omitempty"`
	RatingFolder string `json:"ratingFolder,omitempty"`
}

// BoardIDs carries the provider-side identifiers that only matter for
// cross-referencing back to the board.
type BoardIDs struct {
	Change    int64 `json:"change,omitempty"`
	ParentID  int64 `json:"parentId,omitempty"`
	CreatorID int64 `json:"creatorId,omitempty"`
}

// Record joins a remote post with the local files carrying its id.
type Record struct {
	ID          int64       `json:"id"`
	Rating      string      `json:"rating"`
	Tags        []string    `json:"tags"`
	Source      string      `json:"source,omitempty"`
	CreatedAt   string      `json:"createdAt,omitempty"` // RFC3339
	Width       int         `json:"width,omitempty"`
	Height      int         `json:"height,omitempty"`
	Score       int         `json:"score"`
	Owner       string      `json:"owner,omitempty"`
	Status      string      `json:"status,omitempty"`
	FileURL     string      `json:"fileUrl,omitempty"`
	PreviewURL  string      `json:"previewUrl,omitempty"`
	SampleURL   string      `json:"sampleUrl,omitempty"`
	MD5         string      `json:"md5,omitempty"`
	HasChildren bool        `json:"hasChildren"`
	HasComments bool        `json:"hasComments"`
	Directory   string      `json:"directory,omitempty"`
	Sample      bool        `json:"sample"`
	Board       BoardIDs    `json:"board"`
	LocalFiles  []LocalFile `json:"localFiles"`
	FetchedAt   string      `json:"fetchedAt"`
}

// BuildRecord assembles a Record from a post and its local files. The rating
// label falls back to the folder the file sits in, then to "unknown"; a
// synthetic rating:<label> tag is appended so the rating survives in plain tag
// consumers.
func BuildRecord(post booru.Post, files []LocalFile) Record {
	rating := post.RatingLabel
	if rating == "" || rating == string(booru.RatingUnknown) {
		if len(files) > 0 && files[0].RatingFolder != "" {
			rating = files[0].RatingFolder
		}
	}
	if rating == "" {
		rating = string(booru.RatingUnknown)
	}

	tags := appendRatingTag(post.TagList(), rating)

	createdAt := ""
	if !post.CreatedAt.IsZero() {
		createdAt = post.CreatedAt.UTC().Format(time.RFC3339)
	}

	return Record{
		ID:          post.ID,
		Rating:      rating,
		Tags:        tags,
		Source:      post.Source,
		CreatedAt:   createdAt,
		Width:       post.Width,
		Height:      post.Height,
		Score:       post.Score,
		Owner:       post.Owner,
		Status:      post.Status,
		FileURL:     post.FileURL,
		PreviewURL:  post.PreviewURL,
		SampleURL:   post.SampleURL,
		MD5:         post.MD5,
		HasChildren: post.HasChildren,
		HasComments: post.HasComments,
		Directory:   post.Directory,
		Sample:      post.Sample,
		Board: BoardIDs{
			Change:    post.Change,
			ParentID:  post.ParentID,
			CreatorID: post.CreatorID,
		},
		LocalFiles: files,
		FetchedAt:  time.Now().UTC().Format(time.RFC3339),
	}
}

func appendRatingTag(tags []string, rating string) []string {
	normalized := strings.ToLower(strings.TrimSpace(rating))
	if normalized == "" {
		normalized = string(booru.RatingUnknown)
	}
	ratingTag := "rating:" + normalized
	for _, tag := range tags {
		if strings.EqualFold(tag, ratingTag) {
			return tags
		}
	}
	return append(tags, ratingTag)
}
