// Package publisher hands accepted frontier links to downstream consumers.
package publisher

import (
	"context"
	"fmt"

	"github.com/JakeFAU/sitescout/internal/crawler"
)

// Publisher delivers one payload to a topic and returns the message id.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// LinkMessage is the payload published for each frontier link.
type LinkMessage struct {
	Site string                 `json:"site"`
	Link crawler.DiscoveredLink `json:"link"`
}

// PublishLinks publishes each link in order and returns the message ids.
// It stops at the first failure.
func PublishLinks(ctx context.Context, p Publisher, topic, site string, links []crawler.DiscoveredLink) ([]string, error) {
	if p == nil {
		return nil, fmt.Errorf("publisher is not configured")
	}
	ids := make([]string, 0, len(links))
	for _, link := range links {
		id, err := p.Publish(ctx, topic, LinkMessage{Site: site, Link: link})
		if err != nil {
			return ids, fmt.Errorf("publish %s: %w", link.URL, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
