// Package voice turns spoken text into cached synthesized clips that the
// provider can fetch and play.
package voice

import (
	"fmt"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Clip is one synthesized audio file.
type Clip struct {
	ID          string
	Audio       []byte
	ContentType string
}

// ClipCache keeps the most recently used clips in memory.
type ClipCache struct {
	clips *lru.Cache[string, Clip]
}

func NewClipCache(size int) (*ClipCache, error) {
	c, err := lru.New[string, Clip](size)
	if err != nil {
		return nil, fmt.Errorf("create clip cache: %w", err)
	}
	return &ClipCache{clips: c}, nil
}

// ClipID derives a stable identifier for text spoken with voice, so that
// repeated prompts resolve to the same clip.
func ClipID(voice, text string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(voice+"\x00"+text)).String()
}

func (c *ClipCache) Put(clip Clip) {
	c.clips.Add(clip.ID, clip)
}

func (c *ClipCache) Get(id string) (Clip, bool) {
	return c.clips.Get(id)
}

func (c *ClipCache) Len() int {
	return c.clips.Len()
}
