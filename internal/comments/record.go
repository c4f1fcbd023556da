package comments

import (
	"strings"
	"time"
)

const (
	// ImagePlaceholder replaces every body line that embeds an image, it is also
	// the whole body of a comment that has no text left.
	ImagePlaceholder = "(이미지)"
	// BodyDelimiter joins the surviving body lines in Contents.
	BodyDelimiter = "\t"

	imageMarker = "<img"
)

type Author struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

type CommentRecord struct {
	ID            int64     `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	Author        Author    `json:"author"`
	BodyLines     []string  `json:"body_lines"`
	ReactionCount uint64    `json:"reaction_count"`
	// ParentID is 0 for top level comments.
	ParentID int64 `json:"parent_id,omitempty"`
	IsReply  bool  `json:"is_reply"`
}

func (c CommentRecord) Contents() string {
	return strings.Join(c.BodyLines, BodyDelimiter)
}

// NormalizeBody splits raw into trimmed non-blank lines, lines holding an
// image become ImagePlaceholder. The result is never empty.
func NormalizeBody(raw string) []string {
	var lines []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.Contains(line, imageMarker) {
			line = ImagePlaceholder
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return []string{ImagePlaceholder}
	}
	return lines
}
