// Package tagparse converts raw model output into typed action records.
//
// The model communicates one action per turn by wrapping its content in
// a same-named tag (<assistant>…</assistant>, <tool>…</tool>, <end/>).
// Parse scans only top-level tags, in document order, and applies the
// fallback rules for untagged output.
package tagparse

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Action is one parsed model action. Actions are ephemeral: the
// orchestrator wraps the one it consumes into a transcript Message and
// the rest are discarded.
type Action struct {
	Tag     string
	Content string
}

// endThreshold is the raw-output length below which untagged output is
// treated as termination rather than assistant speech.
const endThreshold = 5

// Parse scans raw model output for top-level tags and returns the
// actions in document order. Nested tags are not split out; a tag's
// content is its inner text with surrounding whitespace trimmed.
//
// Untagged output shorter than the end threshold yields a single
// synthetic end action. Untagged output at or above it yields a single
// assistant action carrying the raw text.
func Parse(raw string) []Action {
	actions := topLevelTags(raw)
	if len(actions) > 0 {
		return actions
	}

	if len(raw) < endThreshold {
		return []Action{{Tag: "end", Content: ""}}
	}
	return []Action{{Tag: "assistant", Content: raw}}
}

// topLevelTags parses raw as an HTML fragment and collects its
// top-level element nodes. Bare text between tags is not an action.
func topLevelTags(raw string) []Action {
	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(raw), body)
	if err != nil {
		return nil
	}

	var actions []Action
	for _, n := range nodes {
		if n.Type != html.ElementNode {
			continue
		}
		actions = append(actions, Action{
			Tag:     n.Data,
			Content: strings.TrimSpace(innerText(n)),
		})
	}
	return actions
}

// innerText returns the concatenated text content of a node's subtree.
func innerText(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(innerText(c))
	}
	return b.String()
}
