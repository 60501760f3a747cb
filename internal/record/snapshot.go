package record

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

const (
	finalMarker = "Final Details for Order #"
	dateMarker  = "Order Placed:"

	dateLayout    = "January 2, 2006"
	isoDateLayout = "2006-01-02"

	snippetLen = 160
)

// ErrDateMarkerNotFound is returned when a record page has no "Order Placed:" label.
var ErrDateMarkerNotFound = errors.New("order date marker not found")

// Snapshot is one observation of a record page.
type Snapshot struct {
	Content   []byte
	Final     bool
	OrderDate string
}

// IsFinal reports whether content is the finalized version of a record.
func IsFinal(content []byte) bool {
	return bytes.Contains(content, []byte(finalMarker))
}

// ExtractOrderDate finds the order placement date and returns it as YYYY-MM-DD.
// On failure the returned snippet holds the raw text around the problem.
func ExtractOrderDate(content []byte) (date, snippet string, err error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return "", truncate(string(content)), fmt.Errorf("parse record page: %w", err)
	}

	var marker *html.Node
	for _, n := range doc.Nodes {
		if marker = findText(n, dateMarker); marker != nil {
			break
		}
	}
	if marker == nil {
		return "", truncate(doc.Text()), ErrDateMarkerNotFound
	}

	raw := ""
	if marker.Parent != nil {
		raw = strings.TrimSpace(nodeText(marker.Parent.NextSibling))
	}
	if raw == "" {
		// Label and value can share one text node.
		_, after, _ := strings.Cut(marker.Data, dateMarker)
		raw = strings.TrimSpace(after)
	}

	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return "", truncate(raw), fmt.Errorf("parse order date %q: %w", raw, err)
	}
	return t.Format(isoDateLayout), "", nil
}

func findText(n *html.Node, needle string) *html.Node {
	if n.Type == html.TextNode && strings.Contains(n.Data, needle) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findText(c, needle); found != nil {
			return found
		}
	}
	return nil
}

func nodeText(n *html.Node) string {
	if n == nil {
		return ""
	}
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(cur *html.Node) {
		if cur.Type == html.TextNode {
			b.WriteString(cur.Data)
		}
		for c := cur.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func truncate(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= snippetLen {
		return s
	}
	return s[:snippetLen] + "..."
}
