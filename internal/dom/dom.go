// Package dom models the rendered content region.
//
// A [Document] wraps a content host element (<div id="content">) holding the
// parsed body markup of the current page. Interactive behaviour is attached
// through a single click-handler slot per node: [Document.SetOnClick]
// replaces whatever handler a node had, so repeated passes never stack
// handlers. [Document.Click] dispatches an activation to a node's handler and
// reports whether the handler suppressed the default action.
//
// All methods are safe for concurrent use. Handlers run without the document
// lock held.
package dom

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// HostID is the id attribute of the content host element.
const HostID = "content"

// Event describes one activation of a node.
type Event struct {
	// Target is the activated node.
	Target *html.Node

	// Input is a value supplied with the activation, such as the text the
	// user typed into a prompt. Empty when the activation carried none.
	Input string

	// DefaultPrevented is set by handlers that suppress the node's default
	// action (navigation for anchors).
	DefaultPrevented bool
}

// PreventDefault suppresses the default action of the activated node.
func (e *Event) PreventDefault() { e.DefaultPrevented = true }

// Handler reacts to an activation.
type Handler func(ctx context.Context, ev *Event) error

// Document is the rendered content.
type Document struct {
	mu       sync.Mutex
	host     *html.Node
	handlers map[*html.Node]Handler
}

// Parse builds a Document whose content host holds markup parsed as a body
// fragment.
func Parse(markup string) (*Document, error) {
	host := &html.Node{
		Type:     html.ElementNode,
		Data:     "div",
		DataAtom: atom.Div,
		Attr:     []html.Attribute{{Key: "id", Val: HostID}},
	}
	nodes, err := html.ParseFragment(strings.NewReader(markup), host)
	if err != nil {
		return nil, fmt.Errorf("dom: parse content: %w", err)
	}
	for _, n := range nodes {
		host.AppendChild(n)
	}
	return &Document{host: host, handlers: make(map[*html.Node]Handler)}, nil
}

// Host returns the content host element. Callers must not mutate the tree
// directly; use the Document methods.
func (d *Document) Host() *html.Node { return d.host }

// Empty reports whether the host has neither elements nor visible text.
func (d *Document) Empty() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for c := d.host.FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case html.ElementNode:
			return false
		case html.TextNode:
			if strings.TrimSpace(c.Data) != "" {
				return false
			}
		}
	}
	return true
}

// Find returns the nodes under the host matching the CSS selector, in
// document order.
func (d *Document) Find(selector string) []*html.Node {
	d.mu.Lock()
	defer d.mu.Unlock()
	return goquery.NewDocumentFromNode(d.host).Find(selector).Nodes
}

// NodeByAttr returns the first node under the host whose attribute key
// equals val, or nil.
func (d *Document) NodeByAttr(key, val string) *html.Node {
	d.mu.Lock()
	defer d.mu.Unlock()
	var found *html.Node
	goquery.NewDocumentFromNode(d.host).Find("[" + key + "]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if v, _ := s.Attr(key); v == val {
			found = s.Nodes[0]
			return false
		}
		return true
	})
	return found
}

// Text returns the trimmed plain-text content of n.
func (d *Document) Text(n *html.Node) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return strings.TrimSpace(goquery.NewDocumentFromNode(n).Text())
}

// HasClass reports whether n carries class.
func (d *Document) HasClass(n *html.Node, class string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return goquery.NewDocumentFromNode(n).HasClass(class)
}

// AddClass adds class to n.
func (d *Document) AddClass(n *html.Node, class string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	goquery.NewDocumentFromNode(n).AddClass(class)
}

// Attr returns the value of attribute key on n.
func (d *Document) Attr(n *html.Node, key string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return goquery.NewDocumentFromNode(n).Attr(key)
}

// SetAttr sets attribute key on n.
func (d *Document) SetAttr(n *html.Node, key, val string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	goquery.NewDocumentFromNode(n).SetAttr(key, val)
}

// InsertAfter inserts nodes, in order, immediately after ref.
func (d *Document) InsertAfter(ref *html.Node, nodes ...*html.Node) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ref.Parent == nil {
		return
	}
	next := ref.NextSibling
	for _, n := range nodes {
		ref.Parent.InsertBefore(n, next)
	}
}

// SetOnClick assigns h as the only click handler of n. A nil h clears it.
func (d *Document) SetOnClick(n *html.Node, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if h == nil {
		delete(d.handlers, n)
		return
	}
	d.handlers[n] = h
}

// HandlerCount returns the number of nodes with a click handler.
func (d *Document) HandlerCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.handlers)
}

// HasHandler reports whether n has a click handler.
func (d *Document) HasHandler(n *html.Node) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.handlers[n]
	return ok
}

// Click activates n with input and returns the dispatched event. Nodes
// without a handler produce an event with no default prevented.
func (d *Document) Click(ctx context.Context, n *html.Node, input string) (Event, error) {
	d.mu.Lock()
	h := d.handlers[n]
	d.mu.Unlock()

	ev := Event{Target: n, Input: input}
	if h == nil {
		return ev, nil
	}
	err := h(ctx, &ev)
	return ev, err
}

// HTML renders the inner markup of the host.
func (d *Document) HTML() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var b strings.Builder
	for c := d.host.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&b, c); err != nil {
			return "", fmt.Errorf("dom: render: %w", err)
		}
	}
	return b.String(), nil
}

// NewElement returns a detached element with the given attributes and text.
func NewElement(tag string, text string, attrs ...html.Attribute) *html.Node {
	n := &html.Node{
		Type:     html.ElementNode,
		Data:     tag,
		DataAtom: atom.Lookup([]byte(tag)),
		Attr:     attrs,
	}
	if text != "" {
		n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	}
	return n
}
