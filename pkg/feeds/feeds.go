// Package feeds renders the RSS feed and XML sitemap from published
// posts.
package feeds

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"inkwell/pkg/content"
	"inkwell/pkg/models"
)

const rssDescriptionLimit = 300

type rssFeed struct {
	XMLName xml.Name   `xml:"rss"`
	Version string     `xml:"version,attr"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title       string    `xml:"title"`
	Link        string    `xml:"link"`
	Description string    `xml:"description"`
	Items       []rssItem `xml:"item"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	GUID        string `xml:"guid"`
	PubDate     string `xml:"pubDate"`
	Description string `xml:"description"`
}

// RSS renders an RSS 2.0 document for the given posts. Posts are
// expected to be published and ordered newest first.
func RSS(baseURL, title, description string, posts []models.Post) ([]byte, error) {
	base := strings.TrimRight(baseURL, "/")
	ch := rssChannel{Title: title, Link: base + "/", Description: description}
	for _, p := range posts {
		desc := p.Summary
		if desc == "" {
			desc = content.Snippet(content.PlainText(p.ContentJSON), rssDescriptionLimit)
		}
		link := fmt.Sprintf("%s/post/%s", base, p.Slug)
		item := rssItem{
			Title:       p.Title,
			Link:        link,
			GUID:        link,
			Description: desc,
		}
		if p.PublishedAt != nil {
			item.PubDate = p.PublishedAt.UTC().Format(time.RFC1123Z)
		}
		ch.Items = append(ch.Items, item)
	}
	out, err := xml.MarshalIndent(rssFeed{Version: "2.0", Channel: ch}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode rss: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

type urlSet struct {
	XMLName xml.Name  `xml:"urlset"`
	Xmlns   string    `xml:"xmlns,attr"`
	URLs    []siteURL `xml:"url"`
}

type siteURL struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod,omitempty"`
}

// Sitemap renders an XML sitemap covering the landing pages and every
// published post.
func Sitemap(baseURL string, posts []models.Post) ([]byte, error) {
	base := strings.TrimRight(baseURL, "/")
	set := urlSet{
		Xmlns: "http://www.sitemaps.org/schemas/sitemap/0.9",
		URLs: []siteURL{
			{Loc: base + "/"},
			{Loc: base + "/posts"},
		},
	}
	for _, p := range posts {
		u := siteURL{Loc: fmt.Sprintf("%s/post/%s", base, p.Slug)}
		if !p.UpdatedAt.IsZero() {
			u.LastMod = p.UpdatedAt.UTC().Format("2006-01-02")
		}
		set.URLs = append(set.URLs, u)
	}
	out, err := xml.MarshalIndent(set, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode sitemap: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}
