package extract

import (
	"encoding/json"
)

type Reaction struct {
	ReactionType string `json:"reactionType"`
	Count        uint64 `json:"count"`
}

type ReactionContent struct {
	ContentsId string     `json:"contentsId"`
	Reactions  []Reaction `json:"reactions"`
}

// ReactionsPayload is the body of the like counter JSONP response.
type ReactionsPayload struct {
	Contents []ReactionContent `json:"contents"`
}

// ParseReactions unwraps and decodes a like counter response. On any error the
// returned payload is empty (not partially filled) and the error says why.
func ParseReactions(body, callback string) (ReactionsPayload, error) {
	raw, err := UnwrapJSONP(body, callback)
	if err != nil {
		return ReactionsPayload{}, err
	}
	var payload ReactionsPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return ReactionsPayload{}, err
	}
	return payload, nil
}

// Count reads contents[0].reactions[0].count, missing segments count as 0.
func (p ReactionsPayload) Count() uint64 {
	if len(p.Contents) == 0 || len(p.Contents[0].Reactions) == 0 {
		return 0
	}
	return p.Contents[0].Reactions[0].Count
}
