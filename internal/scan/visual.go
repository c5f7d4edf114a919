package scan

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Classes and attributes the coordinator writes onto tracked elements.
const (
	ClassScanned   = "scanned"
	ClassBlurred   = "blurred-content"
	ClassBlocked   = "content-blocked"
	ClassRevealed  = "safe-revealed"
	AttrCategory   = "data-blocked-category"
	AttrTitle      = "title"
	blockedTitle   = "Blocked: "
	defaultBlocked = "content blocked"
)

// All helpers below expect the page lock to be held.

func selectionOf(n *html.Node) *goquery.Selection {
	return goquery.NewDocumentFromNode(n).Selection
}

func markScanned(n *html.Node) {
	selectionOf(n).AddClass(ClassScanned)
}

func markPending(n *html.Node) {
	selectionOf(n).AddClass(ClassBlurred)
}

func markBlocked(n *html.Node, category, reason string) {
	if reason == "" {
		reason = defaultBlocked
	}
	s := selectionOf(n)
	s.RemoveClass(ClassBlurred, ClassRevealed).AddClass(ClassBlocked)
	if category != "" {
		s.SetAttr(AttrCategory, category)
	}
	s.SetAttr(AttrTitle, blockedTitle+reason)
}

func markRevealed(n *html.Node) {
	selectionOf(n).RemoveClass(ClassBlurred, ClassBlocked).AddClass(ClassRevealed)
}

// clearMarks returns an element to its undiscovered look. A title is only
// removed when it is one the coordinator wrote.
func clearMarks(n *html.Node) {
	s := selectionOf(n)
	s.RemoveClass(ClassScanned, ClassBlurred, ClassBlocked, ClassRevealed)
	s.RemoveAttr(AttrCategory)
	if title, ok := s.Attr(AttrTitle); ok && strings.HasPrefix(title, blockedTitle) {
		s.RemoveAttr(AttrTitle)
	}
}
