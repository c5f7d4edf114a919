package scan

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/imgfirewall/internal/policy"
	"github.com/GriffinCanCode/imgfirewall/internal/protocol"
)

const testOrigin = "https://example.com/article"

func solidImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 40, B: 40, A: 255})
		}
	}
	return img
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, solidImage(w, h)))
	return buf.Bytes()
}

func pngDataURL(t *testing.T, w, h int) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes(t, w, h))
}

// payloadSize decodes the dimensions of a serialized payload.
func payloadSize(t *testing.T, payload string) Size {
	t.Helper()
	_, data, ok := strings.Cut(payload, ",")
	require.True(t, ok)
	raw, err := base64.StdEncoding.DecodeString(data)
	require.NoError(t, err)
	cfg, format, err := image.DecodeConfig(bytes.NewReader(raw))
	require.NoError(t, err)
	require.Equal(t, "jpeg", format)
	return Size{Width: cfg.Width, Height: cfg.Height}
}

type fakeSandbox struct {
	ch       protocol.Channel
	requests chan protocol.Classify
}

// newFakeSandbox answers classify requests with decide; a false second
// return leaves the request unanswered.
func newFakeSandbox(t *testing.T, ready bool, decide func(protocol.Classify) (protocol.Verdict, bool)) (*fakeSandbox, protocol.Channel) {
	t.Helper()
	host, end := protocol.NewPipe(0)
	f := &fakeSandbox{ch: end, requests: make(chan protocol.Classify, 32)}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		_ = end.Close()
	})
	if ready {
		f.ready(t)
	}

	go func() {
		for {
			msg, err := end.Receive(ctx)
			if err != nil {
				if protocol.IsProtocolError(err) {
					continue
				}
				return
			}
			req, ok := msg.(protocol.Classify)
			if !ok {
				continue
			}
			f.requests <- req
			if decide == nil {
				continue
			}
			if v, ok := decide(req); ok {
				_ = end.Send(ctx, v)
			}
		}
	}()
	return f, host
}

func (f *fakeSandbox) ready(t *testing.T) {
	t.Helper()
	require.NoError(t, f.ch.Send(context.Background(), protocol.SandboxReady{Instance: "test"}))
}

func (f *fakeSandbox) reply(t *testing.T, v protocol.Verdict) {
	t.Helper()
	require.NoError(t, f.ch.Send(context.Background(), v))
}

func (f *fakeSandbox) next(t *testing.T) protocol.Classify {
	t.Helper()
	select {
	case req := <-f.requests:
		return req
	case <-time.After(3 * time.Second):
		require.FailNow(t, "no classify request arrived")
		return protocol.Classify{}
	}
}

func (f *fakeSandbox) none(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case req := <-f.requests:
		require.FailNow(t, "unexpected classify request", "id %d", req.ID)
	case <-time.After(wait):
	}
}

func payloadWidth(payload string) int {
	_, data, _ := strings.Cut(payload, ",")
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return 0
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return 0
	}
	return cfg.Width
}

// blockLarge blocks payloads at least 110px wide and reveals the rest.
func blockLarge() func(protocol.Classify) (protocol.Verdict, bool) {
	return func(req protocol.Classify) (protocol.Verdict, bool) {
		if payloadWidth(req.Payload) >= 110 {
			return protocol.Verdict{
				ID:              req.ID,
				ShouldBlock:     true,
				PrimaryCategory: "weapons",
				Confidence:      0.9,
				Reason:          "content matched: weapons",
			}, true
		}
		return protocol.Verdict{ID: req.ID, Confidence: 0.4, Reason: policy.ReasonNotMatched}, true
	}
}

func revealAll(req protocol.Classify) (protocol.Verdict, bool) {
	return protocol.Verdict{ID: req.ID, Reason: policy.ReasonNotMatched}, true
}

type fakePolicy struct {
	mu   sync.Mutex
	cfg  policy.Config
	err  error
	subs []func(policy.Config)
}

func (p *fakePolicy) PolicyConfig(context.Context, string) (policy.Config, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg.Clone(), p.err
}

func (p *fakePolicy) Subscribe(_ string, fn func(policy.Config)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subs = append(p.subs, fn)
	return func() {}
}

func (p *fakePolicy) subscribed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs) > 0
}

func (p *fakePolicy) publish(cfg policy.Config) {
	p.mu.Lock()
	p.cfg = cfg
	subs := append([]func(policy.Config){}, p.subs...)
	p.mu.Unlock()
	for _, fn := range subs {
		fn(cfg.Clone())
	}
}

type outcomeRecord struct {
	site     string
	blocked  bool
	category string
}

// fakeStats records every call. A non-nil hold blocks calls until it is
// closed; err is returned from every call.
type fakeStats struct {
	hold chan struct{}
	err  error

	mu      sync.Mutex
	records []outcomeRecord
	ctxErrs []error
}

func (s *fakeStats) RecordOutcome(ctx context.Context, site string, blocked bool, category string, _ float64) error {
	if s.hold != nil {
		<-s.hold
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, outcomeRecord{site: site, blocked: blocked, category: category})
	s.ctxErrs = append(s.ctxErrs, ctx.Err())
	return s.err
}

func (s *fakeStats) contextErrors() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.ctxErrs...)
}

func (s *fakeStats) snapshot() []outcomeRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]outcomeRecord(nil), s.records...)
}

func startCoordinator(t *testing.T, markup string, ch protocol.Channel, opts Options) *Coordinator {
	t.Helper()
	page, err := ParsePage(strings.NewReader(markup), testOrigin)
	require.NoError(t, err)

	c := NewCoordinator(page, ch, opts)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-errc)
	})
	return c
}

func settle(t *testing.T, c *Coordinator) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.WaitSettled(ctx))
}

func snapshot(t *testing.T, c *Coordinator) []ElementStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	out, err := c.Snapshot(ctx)
	require.NoError(t, err)
	return out
}

// element returns the classes and attributes of the node with the given id.
func element(t *testing.T, c *Coordinator, elemID string) (classes []string, attrs map[string]string) {
	t.Helper()
	attrs = map[string]string{}
	c.Page().View(func(doc *goquery.Document) {
		sel := doc.Find("#" + elemID)
		require.Equal(t, 1, sel.Length(), "element %s", elemID)
		for _, a := range sel.Nodes[0].Attr {
			attrs[a.Key] = a.Val
		}
	})
	return strings.Fields(attrs["class"]), attrs
}

// headerOnlyPNG is a valid PNG signature and IHDR claiming w x h RGBA
// pixels, followed by an empty IDAT.
func headerOnlyPNG(w, h uint32) []byte {
	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	chunk := func(typ string, data []byte) {
		_ = binary.Write(&buf, binary.BigEndian, uint32(len(data)))
		crc := crc32.NewIEEE()
		buf.WriteString(typ)
		crc.Write([]byte(typ))
		buf.Write(data)
		crc.Write(data)
		_ = binary.Write(&buf, binary.BigEndian, crc.Sum32())
	}
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:], w)
	binary.BigEndian.PutUint32(ihdr[4:], h)
	ihdr[8] = 8 // bit depth
	ihdr[9] = 6 // RGBA
	chunk("IHDR", ihdr)
	chunk("IDAT", nil)
	chunk("IEND", nil)
	return buf.Bytes()
}
