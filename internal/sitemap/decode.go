package sitemap

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/klauspost/compress/gzip"
)

// maxDocumentBytes bounds decompressed output; the sitemap protocol caps files at 50MB.
const maxDocumentBytes = 50 << 20

// IsGzip reports whether body starts with the gzip magic bytes.
func IsGzip(body []byte) bool {
	return len(body) >= 2 && body[0] == 0x1f && body[1] == 0x8b
}

// Decompress inflates gzip content and returns other content unchanged.
func Decompress(body []byte) ([]byte, bool, error) {
	if !IsGzip(body) {
		return body, false, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, true, fmt.Errorf("open gzip: %w", err)
	}
	defer zr.Close()
	out, err := io.ReadAll(io.LimitReader(zr, maxDocumentBytes))
	if err != nil {
		return nil, true, fmt.Errorf("inflate gzip: %w", err)
	}
	return out, true, nil
}

// ParseDocument decodes one sitemap body. Gzip input is inflated first.
func ParseDocument(body []byte, source string) (Document, error) {
	body, _, err := Decompress(body)
	if err != nil {
		return Document{}, err
	}
	trimmed := bytes.TrimSpace(bytes.TrimPrefix(body, []byte("\xef\xbb\xbf")))
	if len(trimmed) == 0 {
		return Document{}, fmt.Errorf("empty sitemap document")
	}
	if trimmed[0] != '<' {
		return parseText(trimmed, source), nil
	}

	doc, err := xmlquery.Parse(bytes.NewReader(trimmed))
	if err != nil {
		return Document{}, fmt.Errorf("parse sitemap xml: %w", err)
	}
	root := firstElement(doc)
	if root == nil {
		return Document{}, fmt.Errorf("sitemap xml has no root element")
	}
	switch strings.ToLower(root.Data) {
	case "urlset":
		return parseURLSet(root, source), nil
	case "sitemapindex":
		return parseIndex(root), nil
	case "rss":
		return parseRSS(root, source), nil
	case "feed":
		return parseAtom(root, source), nil
	default:
		return Document{Format: FormatUnknown}, fmt.Errorf("unsupported sitemap root <%s>", root.Data)
	}
}

func parseText(body []byte, source string) Document {
	out := Document{Format: FormatText}
	scanner := bufio.NewScanner(bytes.NewReader(body))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "http://") || strings.HasPrefix(line, "https://") {
			out.Entries = append(out.Entries, Entry{URL: line, Source: source})
		}
	}
	return out
}

func parseURLSet(root *xmlquery.Node, source string) Document {
	out := Document{Format: FormatURLSet}
	for _, urlNode := range childElements(root, "url") {
		entry := Entry{Source: source}
		for _, child := range childElements(urlNode, "") {
			switch strings.ToLower(child.Data) {
			case "loc":
				entry.URL = text(child)
			case "lastmod":
				entry.LastMod = text(child)
			case "changefreq":
				entry.ChangeFreq = strings.ToLower(text(child))
			case "priority":
				if p, err := strconv.ParseFloat(text(child), 64); err == nil {
					entry.Priority = &p
				}
			case "image":
				entry.Images = append(entry.Images, parseImage(child))
			case "video":
				entry.Videos = append(entry.Videos, parseVideo(child))
			case "news":
				entry.News = parseNews(child)
			case "link":
				if strings.EqualFold(attr(child, "rel"), "alternate") && attr(child, "href") != "" {
					entry.Alternates = append(entry.Alternates, Alternate{
						Hreflang: attr(child, "hreflang"),
						Href:     attr(child, "href"),
					})
				}
			}
		}
		if entry.URL != "" {
			out.Entries = append(out.Entries, entry)
		}
	}
	return out
}

func parseIndex(root *xmlquery.Node) Document {
	out := Document{Format: FormatIndex}
	for _, sm := range childElements(root, "sitemap") {
		for _, loc := range childElements(sm, "loc") {
			if value := text(loc); value != "" {
				out.Sitemaps = append(out.Sitemaps, value)
			}
		}
	}
	return out
}

func parseImage(n *xmlquery.Node) Image {
	var img Image
	for _, child := range childElements(n, "") {
		switch strings.ToLower(child.Data) {
		case "loc":
			img.Loc = text(child)
		case "caption":
			img.Caption = text(child)
		case "title":
			img.Title = text(child)
		}
	}
	return img
}

func parseVideo(n *xmlquery.Node) Video {
	var v Video
	for _, child := range childElements(n, "") {
		switch strings.ToLower(child.Data) {
		case "thumbnail_loc":
			v.ThumbnailLoc = text(child)
		case "title":
			v.Title = text(child)
		case "description":
			v.Description = text(child)
		case "content_loc":
			v.ContentLoc = text(child)
		case "player_loc":
			v.PlayerLoc = text(child)
		case "duration":
			v.Duration = text(child)
		}
	}
	return v
}

func parseNews(n *xmlquery.Node) *News {
	news := &News{}
	for _, child := range childElements(n, "") {
		switch strings.ToLower(child.Data) {
		case "publication":
			for _, p := range childElements(child, "") {
				switch strings.ToLower(p.Data) {
				case "name":
					news.PublicationName = text(p)
				case "language":
					news.Language = text(p)
				}
			}
		case "publication_date":
			news.PublicationDate = text(child)
		case "title":
			news.Title = text(child)
		}
	}
	return news
}

func parseRSS(root *xmlquery.Node, source string) Document {
	out := Document{Format: FormatRSS}
	for _, channel := range childElements(root, "channel") {
		for _, item := range childElements(channel, "item") {
			entry := Entry{Source: source}
			for _, child := range childElements(item, "") {
				switch strings.ToLower(child.Data) {
				case "link":
					if v := text(child); v != "" {
						entry.URL = v
					}
				case "pubdate":
					entry.LastMod = text(child)
				}
			}
			if entry.URL != "" {
				out.Entries = append(out.Entries, entry)
			}
		}
	}
	return out
}

func parseAtom(root *xmlquery.Node, source string) Document {
	out := Document{Format: FormatAtom}
	for _, item := range childElements(root, "entry") {
		entry := Entry{Source: source}
		for _, child := range childElements(item, "") {
			switch strings.ToLower(child.Data) {
			case "link":
				rel := attr(child, "rel")
				if (rel == "" || rel == "alternate") && entry.URL == "" {
					entry.URL = attr(child, "href")
				}
			case "updated":
				entry.LastMod = text(child)
			}
		}
		if entry.URL != "" {
			out.Entries = append(out.Entries, entry)
		}
	}
	return out
}

func firstElement(doc *xmlquery.Node) *xmlquery.Node {
	for n := doc.FirstChild; n != nil; n = n.NextSibling {
		if n.Type == xmlquery.ElementNode {
			return n
		}
	}
	return nil
}

// childElements returns the element children of n, filtered by local name when name is set.
func childElements(n *xmlquery.Node, name string) []*xmlquery.Node {
	var out []*xmlquery.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != xmlquery.ElementNode {
			continue
		}
		if name == "" || strings.EqualFold(c.Data, name) {
			out = append(out, c)
		}
	}
	return out
}

func text(n *xmlquery.Node) string {
	return strings.TrimSpace(n.InnerText())
}

func attr(n *xmlquery.Node, name string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Name.Local, name) {
			return a.Value
		}
	}
	return ""
}
