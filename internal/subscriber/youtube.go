package subscriber

import (
	"encoding/xml"
	"fmt"
	"time"

	"github.com/GoCodeAlone/repost/internal/model"
)

// SiteParser turns one raw update payload into a Feed.
type SiteParser interface {
	ParseFeed(body []byte) (*model.Feed, error)
}

// youtubeFeed mirrors the Atom push payload YouTube hubs deliver. The
// yt: namespace carries the video and channel ids.
type youtubeFeed struct {
	XMLName xml.Name `xml:"feed"`
	Entry   struct {
		VideoID   string `xml:"http://www.youtube.com/xml/schemas/2015 videoId"`
		ChannelID string `xml:"http://www.youtube.com/xml/schemas/2015 channelId"`
		Title     string `xml:"title"`
		Links     []struct {
			Rel  string `xml:"rel,attr"`
			Href string `xml:"href,attr"`
		} `xml:"link"`
		Author struct {
			Name string `xml:"name"`
			URI  string `xml:"uri"`
		} `xml:"author"`
		Updated string `xml:"updated"`
	} `xml:"entry"`
}

// YouTubeParser parses YouTube's WebSub Atom notifications.
type YouTubeParser struct{}

// ParseFeed extracts the first entry of the Atom payload.
func (YouTubeParser) ParseFeed(body []byte) (*model.Feed, error) {
	var doc youtubeFeed
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFeed, err)
	}
	if doc.Entry.VideoID == "" {
		return nil, fmt.Errorf("%w: no entry", ErrMalformedFeed)
	}
	feed := &model.Feed{
		VideoID:      doc.Entry.VideoID,
		VideoTitle:   doc.Entry.Title,
		ChannelID:    doc.Entry.ChannelID,
		ChannelTitle: doc.Entry.Author.Name,
		ChannelURL:   doc.Entry.Author.URI,
		Site:         "youtube",
		UpdateTime:   time.Now(),
	}
	for _, link := range doc.Entry.Links {
		if link.Rel == "alternate" {
			feed.VideoURL = link.Href
			break
		}
	}
	if updated, err := time.Parse(time.RFC3339, doc.Entry.Updated); err == nil {
		feed.UpdateTime = updated
	}
	return feed, nil
}

// parsers maps site names to their feed parsers.
var parsers = map[string]SiteParser{
	"youtube": YouTubeParser{},
}

// ParserFor returns the registered parser for a site.
func ParserFor(site string) (SiteParser, error) {
	p, ok := parsers[site]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSite, site)
	}
	return p, nil
}

// DownloadTaskFromFeed derives the task a new feed entry should enqueue.
func DownloadTaskFromFeed(feed *model.Feed) *model.DownloadTask {
	task := &model.DownloadTask{URL: feed.VideoURL, Site: feed.Site}
	task.Name = feed.VideoTitle
	task.Priority = model.PriorityDefault
	return task
}
