package source

import (
	"encoding/xml"
	"fmt"
	"os"
)

// FeedInfo is one subscription from an OPML file.
type FeedInfo struct {
	Name string
	URL  string
}

type opmlOutline struct {
	Text     string        `xml:"text,attr"`
	Title    string        `xml:"title,attr"`
	XMLURL   string        `xml:"xmlUrl,attr"`
	Outlines []opmlOutline `xml:"outline"`
}

type opmlDoc struct {
	Body struct {
		Outlines []opmlOutline `xml:"outline"`
	} `xml:"body"`
}

// ReadOPML extracts every subscribed feed from an OPML file, descending
// through folder outlines.
func ReadOPML(path string) ([]FeedInfo, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read opml %s: %w", path, err)
	}

	var doc opmlDoc
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse opml %s: %w", path, err)
	}

	var feeds []FeedInfo
	var walk func(outlines []opmlOutline)
	walk = func(outlines []opmlOutline) {
		for _, o := range outlines {
			if o.XMLURL != "" {
				name := o.Text
				if name == "" {
					name = o.Title
				}
				feeds = append(feeds, FeedInfo{Name: name, URL: o.XMLURL})
			}
			walk(o.Outlines)
		}
	}
	walk(doc.Body.Outlines)
	return feeds, nil
}
