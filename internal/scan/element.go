package scan

import (
	"image"
	"strconv"
	"strings"
	"time"

	"github.com/aymerick/douceur/parser"
	"golang.org/x/net/html"
)

// MinSize is the smallest width and height, in logical pixels, worth
// classifying.
const MinSize = 50

// State is the lifecycle position of a tracked element.
type State int

const (
	Unseen State = iota
	Pending
	Blocked
	Revealed
)

func (s State) String() string {
	switch s {
	case Unseen:
		return "unseen"
	case Pending:
		return "pending"
	case Blocked:
		return "blocked"
	case Revealed:
		return "revealed"
	default:
		return "unknown"
	}
}

// Decided reports whether s is terminal.
func (s State) Decided() bool {
	return s == Blocked || s == Revealed
}

// Outcome labels why an element reached its terminal state.
const (
	OutcomeBlocked    = "blocked"
	OutcomeRevealed   = "revealed"
	OutcomeTooSmall   = "too_small"
	OutcomeUnreadable = "unreadable"
	OutcomeTimeout    = "timeout"
	OutcomeSendFailed = "send_failed"
)

// TrackedElement is the coordinator's record of one candidate image. It is
// owned by the coordinator's loop goroutine.
type TrackedElement struct {
	Node         *html.Node
	State        State
	Size         Size
	RequestID    int64
	Loading      bool
	Outcome      string
	Category     string
	Reason       string
	Confidence   float64
	discoveredAt time.Time
}

// Size is a width/height pair; zero means unknown.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Known reports whether both dimensions are set.
func (s Size) Known() bool {
	return s.Width > 0 && s.Height > 0
}

// Small reports whether either dimension is below min.
func (s Size) Small(min int) bool {
	return s.Width < min || s.Height < min
}

// ElementMeta is everything Assess needs to know about an element.
type ElementMeta struct {
	Rendered Size
	Loaded   bool
	Image    *LoadedImage
	LoadErr  error
	MinSize  int
}

// Outcome is the result of assessing an element. Exactly one of the
// concrete types below.
type Outcome interface {
	outcome()
}

// Deferred means the element has to finish loading first.
type Deferred struct{}

// TooSmall means the element is below the size floor and is revealed
// without inference.
type TooSmall struct{ Size Size }

// Unreadable means the pixels cannot be read; the element is revealed.
type Unreadable struct{ Err error }

// Eligible carries the serialized payload for dispatch.
type Eligible struct{ Payload string }

func (Deferred) outcome()   {}
func (TooSmall) outcome()   {}
func (Unreadable) outcome() {}
func (Eligible) outcome()   {}

// Assess decides what to do with an element from its metadata alone. The
// rendered size wins over the natural size; until the image has loaded and
// its size is still unknown or large enough, the decision is deferred.
func Assess(meta ElementMeta) Outcome {
	min := meta.MinSize
	if min <= 0 {
		min = MinSize
	}

	if meta.Rendered.Known() && meta.Rendered.Small(min) {
		return TooSmall{Size: meta.Rendered}
	}
	if !meta.Loaded {
		return Deferred{}
	}
	if meta.LoadErr != nil {
		return Unreadable{Err: meta.LoadErr}
	}
	if meta.Image == nil {
		return Unreadable{Err: ErrNoPixels}
	}

	size := effectiveSize(meta.Rendered, meta.Image.Natural())
	if size.Small(min) {
		return TooSmall{Size: size}
	}
	if meta.Image.Tainted {
		return Unreadable{Err: ErrTainted}
	}

	payload, err := Serialize(meta.Image.Image, serializeSize(meta.Rendered, meta.Image.Natural()))
	if err != nil {
		return Unreadable{Err: err}
	}
	return Eligible{Payload: payload}
}

// effectiveSize fills unknown rendered dimensions from the natural size.
func effectiveSize(rendered, natural Size) Size {
	s := rendered
	if s.Width <= 0 {
		s.Width = natural.Width
	}
	if s.Height <= 0 {
		s.Height = natural.Height
	}
	return s
}

func serializeSize(rendered, natural Size) Size {
	s := effectiveSize(rendered, natural)
	if s.Width <= 0 {
		s.Width = DefaultRasterSize
	}
	if s.Height <= 0 {
		s.Height = DefaultRasterSize
	}
	return s
}

// renderedSize reads the layout size an element declares through its
// width/height attributes or inline style. Inline style wins.
func renderedSize(n *html.Node) Size {
	var s Size
	for _, a := range n.Attr {
		switch strings.ToLower(a.Key) {
		case "width":
			s.Width = parseDimension(a.Val)
		case "height":
			s.Height = parseDimension(a.Val)
		}
	}
	if style := attr(n, "style"); style != "" {
		// The trailing separator terminates a final declaration written
		// without one. Declarations before a syntax error still count.
		decls, _ := parser.NewParser(style + ";").ParseDeclarations()
		for _, d := range decls {
			v, ok := pixels(d.Value)
			if !ok {
				continue
			}
			switch strings.ToLower(d.Property) {
			case "width":
				s.Width = v
			case "height":
				s.Height = v
			}
		}
	}
	return s
}

// pixels accepts only absolute px lengths; percentages and relative units
// depend on layout the scanner does not have.
func pixels(v string) (int, bool) {
	v = strings.TrimSpace(v)
	if len(v) < 2 || !strings.EqualFold(v[len(v)-2:], "px") {
		return 0, false
	}
	return parseDimension(v[:len(v)-2]), true
}

func parseDimension(v string) int {
	v = strings.TrimSuffix(strings.TrimSpace(v), "px")
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return 0
	}
	return int(f + 0.5)
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func imageSize(img image.Image) Size {
	b := img.Bounds()
	return Size{Width: b.Dx(), Height: b.Dy()}
}
