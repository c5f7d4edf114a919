package scan

import (
	"fmt"
	"strings"

	"github.com/andybalholm/cascadia"
	"github.com/antchfx/htmlquery"
	"github.com/antchfx/xpath"
	"golang.org/x/net/html"
)

// DefaultSelector matches every image element.
const DefaultSelector = "img"

// Selector finds candidate image nodes in a document.
type Selector interface {
	Select(root *html.Node) []*html.Node
	String() string
}

// CompileSelector parses expr as XPath when it starts with "/" or "(", and
// as a CSS selector otherwise.
func CompileSelector(expr string) (Selector, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		expr = DefaultSelector
	}
	if strings.HasPrefix(expr, "/") || strings.HasPrefix(expr, "(") {
		compiled, err := xpath.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("compile xpath %q: %w", expr, err)
		}
		return xpathSelector{expr: expr, compiled: compiled}, nil
	}
	sel, err := cascadia.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("compile css selector %q: %w", expr, err)
	}
	return cssSelector{expr: expr, sel: sel}, nil
}

type cssSelector struct {
	expr string
	sel  cascadia.Selector
}

func (s cssSelector) Select(root *html.Node) []*html.Node {
	return s.sel.MatchAll(root)
}

func (s cssSelector) String() string { return s.expr }

type xpathSelector struct {
	expr     string
	compiled *xpath.Expr
}

func (s xpathSelector) Select(root *html.Node) []*html.Node {
	nodes := htmlquery.QuerySelectorAll(root, s.compiled)
	out := nodes[:0]
	for _, n := range nodes {
		if n.Type == html.ElementNode {
			out = append(out, n)
		}
	}
	return out
}

func (s xpathSelector) String() string { return s.expr }
