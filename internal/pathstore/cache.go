package pathstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgallion1/studypack/internal/studyguide"
)

// GuidePrefix is the key namespace for cached guides.
const GuidePrefix = "studypack/guides/by_hash"

// CachedGuide is a finished guide stored under its content hash.
type CachedGuide struct {
	Filename  string           `json:"filename"`
	Model     string           `json:"model"`
	Sections  int              `json:"sections"`
	Fallbacks int              `json:"fallbacks"`
	Guide     studyguide.Guide `json:"guide"`
	Markdown  string           `json:"markdown"`
	CreatedAt time.Time        `json:"created_at"`
}

// GuideCache stores finished guides in pathstore keyed by content hash.
type GuideCache struct {
	client *Client
}

func NewGuideCache(client *Client) *GuideCache {
	return &GuideCache{client: client}
}

func guideKey(hash string) string {
	return GuidePrefix + "/" + hash
}

// GetGuide returns the cached guide for hash, or nil when there is none.
func (c *GuideCache) GetGuide(ctx context.Context, hash string) (*CachedGuide, error) {
	node, err := c.client.GetNode(ctx, guideKey(hash))
	if err != nil || node == nil {
		return nil, err
	}
	var g CachedGuide
	if err := json.Unmarshal(node.Value, &g); err != nil {
		return nil, fmt.Errorf("decode cached guide %s: %w", hash, err)
	}
	if g.Markdown == "" {
		return nil, nil
	}
	return &g, nil
}

// PutGuide stores g under hash, replacing any earlier entry.
func (c *GuideCache) PutGuide(ctx context.Context, hash string, g CachedGuide) error {
	return c.client.PutNode(ctx, guideKey(hash), NodeRequest{
		Value:      g,
		MergeMode:  "replace",
		MemoryType: "semantic",
		Salience:   0.5,
		Source:     "studypack:" + g.Filename,
	})
}

// DeleteGuide drops the cached entry for hash.
func (c *GuideCache) DeleteGuide(ctx context.Context, hash string) error {
	return c.client.DeleteNode(ctx, guideKey(hash))
}
