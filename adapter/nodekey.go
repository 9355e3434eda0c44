package adapter

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// NodeKey derives a stable structural key for the first node of sel: the
// element's tag/position path from the document root, e.g.
// "html[0]/body[1]/div[0]/button[2]". Two scans of an unchanged tree
// produce identical keys for the same element, which is what lets the
// dispatch layer recognise already-seen mutation targets without tagging
// the tree itself.
func NodeKey(sel *goquery.Selection) string {
	if sel == nil || len(sel.Nodes) == 0 {
		return ""
	}
	return nodeKey(sel.Nodes[0])
}

func nodeKey(n *html.Node) string {
	var parts []string
	for cur := n; cur != nil && cur.Type == html.ElementNode; cur = cur.Parent {
		idx := 0
		for sib := cur.PrevSibling; sib != nil; sib = sib.PrevSibling {
			if sib.Type == html.ElementNode {
				idx++
			}
		}
		parts = append(parts, fmt.Sprintf("%s[%d]", cur.Data, idx))
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, "/")
}

// NodeKeys maps NodeKey over a slice of selections, skipping empties.
func NodeKeys(sels []*goquery.Selection) []string {
	out := make([]string, 0, len(sels))
	for _, s := range sels {
		if k := NodeKey(s); k != "" {
			out = append(out, k)
		}
	}
	return out
}
