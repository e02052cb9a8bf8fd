package publisher

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitescout/internal/crawler"
	"github.com/JakeFAU/sitescout/internal/publisher/memory"
)

type failingPublisher struct{ after int }

func (f *failingPublisher) Publish(context.Context, string, any) (string, error) {
	if f.after == 0 {
		return "", errors.New("topic unavailable")
	}
	f.after--
	return "ok", nil
}

func TestPublishLinks(t *testing.T) {
	t.Parallel()

	pub := memory.New()
	links := []crawler.DiscoveredLink{
		{URL: "https://example.com/a", Depth: 1},
		{URL: "https://example.com/b", Depth: 1},
	}
	ids, err := PublishLinks(context.Background(), pub, "frontier", "example.com", links)
	require.NoError(t, err)
	require.Equal(t, []string{"memory-1", "memory-2"}, ids)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "frontier", msgs[0].Topic)
	msg, ok := msgs[1].Payload.(LinkMessage)
	require.True(t, ok)
	require.Equal(t, "https://example.com/b", msg.Link.URL)
	require.Equal(t, "example.com", msg.Site)
}

func TestPublishLinksStopsOnError(t *testing.T) {
	t.Parallel()

	links := []crawler.DiscoveredLink{{URL: "https://x/1"}, {URL: "https://x/2"}, {URL: "https://x/3"}}
	ids, err := PublishLinks(context.Background(), &failingPublisher{after: 1}, "t", "x", links)
	require.ErrorContains(t, err, "https://x/2")
	require.Equal(t, []string{"ok"}, ids)

	_, err = PublishLinks(context.Background(), nil, "t", "x", links)
	require.Error(t, err)
}
