package scan

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/GriffinCanCode/imgfirewall/internal/infrastructure/logging"
	"github.com/GriffinCanCode/imgfirewall/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/imgfirewall/internal/policy"
	"github.com/GriffinCanCode/imgfirewall/internal/protocol"
	"github.com/GriffinCanCode/imgfirewall/internal/shared/id"
)

var (
	ErrAlreadyRunning = errors.New("coordinator already running")
	ErrStopped        = errors.New("coordinator stopped")
	ErrNoSource       = errors.New("element has no image source")
)

const (
	DefaultInterval       = 2 * time.Second
	DefaultScrollDebounce = 300 * time.Millisecond
	settlePoll            = 10 * time.Millisecond
	// statsTimeout bounds one statistics write. Writes outlive the scan
	// context; Run waits for them before returning.
	statsTimeout = 5 * time.Second
	eventBuffer  = 64
)

// Options configures a Coordinator. Zero values select defaults.
type Options struct {
	Policy   PolicySource
	Stats    StatsRecorder
	Loader   ImageLoader
	Selector Selector
	Logger   *logging.Logger
	Metrics  *monitoring.Metrics

	MinSize        int
	Interval       time.Duration
	ScrollDebounce time.Duration
	// PendingTimeout reveals elements whose verdict has not arrived in time.
	// Zero waits forever.
	PendingTimeout time.Duration

	// OnDecided is called on the loop goroutine each time an element is
	// blocked or revealed.
	OnDecided func(ElementStatus)
}

// ElementStatus is a read-only view of one tracked element.
type ElementStatus struct {
	Src        string  `json:"src"`
	State      string  `json:"state"`
	Outcome    string  `json:"outcome,omitempty"`
	Category   string  `json:"category,omitempty"`
	Reason     string  `json:"reason,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Size       Size    `json:"size"`
	RequestID  int64   `json:"requestId,omitempty"`
}

// Coordinator discovers candidate images on a page, sends eligible ones to
// the sandbox and applies the verdicts. All of its state is owned by the
// goroutine running Run; other goroutines reach it through events.
type Coordinator struct {
	page    *Page
	ch      protocol.Channel
	opts    Options
	scanID  id.ScanID
	logger  *logging.Logger
	metrics *monitoring.Metrics
	now     func() time.Time

	events  chan func()
	done    chan struct{}
	running atomic.Bool

	// loop state
	ctx          context.Context
	wg           sync.WaitGroup
	tracked      map[*html.Node]*TrackedElement
	pending      *PendingTable
	nextID       int64
	policy       policy.Config
	policyLoaded bool
	sandboxReady bool
	modelLoaded  bool
	loading      int
}

// NewCoordinator creates a coordinator for page talking to the sandbox over
// ch. Call Run to start it.
func NewCoordinator(page *Page, ch protocol.Channel, opts Options) *Coordinator {
	if opts.Loader == nil {
		opts.Loader = NewHTTPImageLoader(HTTPImageLoaderConfig{StrictOrigin: true})
	}
	if opts.Selector == nil {
		opts.Selector, _ = CompileSelector(DefaultSelector)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.MinSize <= 0 {
		opts.MinSize = MinSize
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.ScrollDebounce <= 0 {
		opts.ScrollDebounce = DefaultScrollDebounce
	}

	scanID := id.NewScanID()
	return &Coordinator{
		page:    page,
		ch:      ch,
		opts:    opts,
		scanID:  scanID,
		logger:  opts.Logger.Named("scan").With(zap.String("scan", scanID.String()), zap.String("site", page.Site())),
		metrics: opts.Metrics,
		now:     time.Now,
		events:  make(chan func(), eventBuffer),
		done:    make(chan struct{}),
		tracked: make(map[*html.Node]*TrackedElement),
		pending: NewPendingTable(),
		nextID:  1,
	}
}

// ID returns the scan session id.
func (c *Coordinator) ID() id.ScanID {
	return c.scanID
}

// Page returns the page being scanned.
func (c *Coordinator) Page() *Page {
	return c.page
}

// Render serializes the page with its current annotations.
func (c *Coordinator) Render() (string, error) {
	return c.page.Render()
}

// Run drives the coordinator until ctx is cancelled. It returns nil on
// cancellation.
func (c *Coordinator) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(c.done)
	defer c.wg.Wait()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.ctx = ctx

	watch := c.page.Watch()
	defer watch.Stop()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.receive(ctx)
	}()

	c.loadPolicy()
	if c.opts.Policy != nil {
		unsubscribe := c.opts.Policy.Subscribe(c.page.Site(), func(cfg policy.Config) {
			c.post(ctx, func() { c.setPolicy(cfg) })
		})
		defer unsubscribe()
	}

	ticker := time.NewTicker(c.opts.Interval)
	defer ticker.Stop()

	var debounce *time.Timer
	var debounceC <-chan time.Time
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	c.logger.Debug("scan started", zap.String("selector", c.opts.Selector.String()))
	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("scan stopped", zap.Int("pending", c.pending.Len()))
			return nil
		case fn := <-c.events:
			fn()
		case <-ticker.C:
			c.expire()
			c.discover()
		case <-watch.Mutations():
			c.discover()
		case <-watch.Scrolls():
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.NewTimer(c.opts.ScrollDebounce)
			debounceC = debounce.C
		case <-debounceC:
			debounce, debounceC = nil, nil
			c.discover()
		}
	}
}

// Scan runs one discovery pass.
func (c *Coordinator) Scan(ctx context.Context) error {
	return c.call(ctx, c.discover)
}

// Invalidate returns a decided element to Unseen so the next pass
// classifies it again, e.g. after its source changed.
func (c *Coordinator) Invalidate(ctx context.Context, n *html.Node) error {
	return c.call(ctx, func() {
		el, ok := c.tracked[n]
		if !ok || !el.State.Decided() {
			return
		}
		*el = TrackedElement{Node: n, discoveredAt: c.now()}
		c.page.View(func(*goquery.Document) { clearMarks(n) })
		c.discover()
	})
}

// Snapshot returns the tracked elements in document order.
func (c *Coordinator) Snapshot(ctx context.Context) ([]ElementStatus, error) {
	var out []ElementStatus
	err := c.call(ctx, func() {
		out = []ElementStatus{}
		c.page.View(func(doc *goquery.Document) {
			for _, n := range c.opts.Selector.Select(doc.Nodes[0]) {
				el, ok := c.tracked[n]
				if !ok {
					continue
				}
				out = append(out, statusOf(el))
			}
		})
	})
	return out, err
}

func statusOf(el *TrackedElement) ElementStatus {
	return ElementStatus{
		Src:        attr(el.Node, "src"),
		State:      el.State.String(),
		Outcome:    el.Outcome,
		Category:   el.Category,
		Reason:     el.Reason,
		Confidence: el.Confidence,
		Size:       el.Size,
		RequestID:  el.RequestID,
	}
}

func (c *Coordinator) decided(el *TrackedElement) {
	if c.opts.OnDecided == nil {
		return
	}
	var st ElementStatus
	c.page.View(func(*goquery.Document) { st = statusOf(el) })
	c.opts.OnDecided(st)
}

// WaitSettled blocks until every candidate on the page is decided, or the
// site is disabled, or ctx ends.
func (c *Coordinator) WaitSettled(ctx context.Context) error {
	ticker := time.NewTicker(settlePoll)
	defer ticker.Stop()
	for {
		var settled bool
		if err := c.call(ctx, func() { settled = c.settled() }); err != nil {
			return err
		}
		if settled {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return ErrStopped
		case <-ticker.C:
		}
	}
}

// call runs fn on the loop and waits for it.
func (c *Coordinator) call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	select {
	case c.events <- func() { fn(); close(finished) }:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrStopped
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrStopped
	}
}

// post queues fn for the loop without waiting.
func (c *Coordinator) post(ctx context.Context, fn func()) {
	select {
	case c.events <- fn:
	case <-ctx.Done():
	}
}

// spawn runs fn on a goroutine tracked by Run.
func (c *Coordinator) spawn(fn func(ctx context.Context)) {
	ctx := c.ctx
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn(ctx)
	}()
}

func (c *Coordinator) receive(ctx context.Context) {
	for {
		msg, err := c.ch.Receive(ctx)
		if err != nil {
			if protocol.IsProtocolError(err) {
				c.logger.Debug("dropping malformed message", zap.Error(err))
				continue
			}
			if ctx.Err() == nil {
				c.logger.Warn("sandbox channel closed", zap.Error(err))
			}
			return
		}
		c.post(ctx, func() { c.handle(msg) })
	}
}

func (c *Coordinator) handle(msg protocol.Message) {
	switch m := msg.(type) {
	case protocol.SandboxReady:
		c.logger.Debug("sandbox ready", zap.String("instance", m.Instance))
		c.sandboxReady = true
		c.discover()
	case protocol.ModelLoaded:
		c.modelLoaded = true
		c.logger.Debug("model loaded", zap.Int("categories", len(m.Categories)))
	case protocol.Verdict:
		c.resolve(m)
	default:
		c.logger.Debug("ignoring message", zap.String("type", string(msg.Kind())))
	}
}

func (c *Coordinator) loadPolicy() {
	if c.opts.Policy == nil {
		c.setPolicy(policy.Config{Enabled: true})
		return
	}
	site := c.page.Site()
	c.spawn(func(ctx context.Context) {
		cfg, err := c.opts.Policy.PolicyConfig(ctx, site)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("policy unavailable, using defaults", zap.Error(err))
			cfg = policy.Config{Enabled: true}
		}
		c.post(ctx, func() { c.setPolicy(cfg) })
	})
}

func (c *Coordinator) setPolicy(cfg policy.Config) {
	wasReady := c.ready()
	c.policy = cfg
	c.policyLoaded = true
	if !wasReady && c.ready() {
		c.discover()
	}
}

func (c *Coordinator) ready() bool {
	return c.policyLoaded && c.policy.Enabled && c.sandboxReady
}

// discover examines every candidate that is not yet tracked or has been
// returned to Unseen.
func (c *Coordinator) discover() {
	if !c.ready() {
		return
	}

	var candidates []*html.Node
	c.page.View(func(doc *goquery.Document) {
		candidates = c.opts.Selector.Select(doc.Nodes[0])
	})

	seen := make(map[*html.Node]bool, len(candidates))
	for _, n := range candidates {
		seen[n] = true
		el, ok := c.tracked[n]
		if !ok {
			el = &TrackedElement{Node: n, discoveredAt: c.now()}
			c.tracked[n] = el
			c.metrics.IncDiscovered()
		}
		if el.State != Unseen || el.Loading {
			continue
		}
		c.examine(el)
	}

	for n, el := range c.tracked {
		if !seen[n] && !el.Loading && !c.page.Contains(n) {
			delete(c.tracked, n)
		}
	}
}

func (c *Coordinator) examine(el *TrackedElement) {
	var (
		rendered Size
		req      ImageRequest
		reqErr   error
	)
	c.page.View(func(*goquery.Document) {
		markScanned(el.Node)
		rendered = renderedSize(el.Node)
		req, reqErr = c.imageRequest(el.Node)
	})
	el.Size = rendered

	if o, ok := Assess(ElementMeta{Rendered: rendered, MinSize: c.opts.MinSize}).(TooSmall); ok {
		el.Size = o.Size
		c.reveal(el, OutcomeTooSmall, "")
		return
	}

	el.Loading = true
	c.loading++
	minSize := c.opts.MinSize
	c.spawn(func(ctx context.Context) {
		var img *LoadedImage
		err := reqErr
		if err == nil {
			img, err = c.opts.Loader.Load(ctx, req)
		}
		if ctx.Err() != nil {
			return
		}
		outcome := Assess(ElementMeta{
			Rendered: rendered,
			Loaded:   true,
			Image:    img,
			LoadErr:  err,
			MinSize:  minSize,
		})
		c.post(ctx, func() { c.assessed(el, img, outcome) })
	})
}

func (c *Coordinator) imageRequest(n *html.Node) (ImageRequest, error) {
	src := attr(n, "src")
	if src == "" {
		return ImageRequest{}, ErrNoSource
	}
	u, err := c.page.Resolve(src)
	if err != nil {
		return ImageRequest{}, err
	}
	req := ImageRequest{URL: u, PageOrigin: c.page.Origin()}
	for _, a := range n.Attr {
		if a.Key == "crossorigin" {
			req.HasCrossOrigin = true
			req.CrossOrigin = a.Val
		}
	}
	return req, nil
}

func (c *Coordinator) assessed(el *TrackedElement, img *LoadedImage, outcome Outcome) {
	el.Loading = false
	c.loading--
	if c.tracked[el.Node] != el {
		return
	}
	if !c.page.Contains(el.Node) {
		delete(c.tracked, el.Node)
		return
	}
	if img != nil && !el.Size.Known() {
		el.Size = effectiveSize(el.Size, img.Natural())
	}

	switch o := outcome.(type) {
	case TooSmall:
		el.Size = o.Size
		c.reveal(el, OutcomeTooSmall, "")
	case Unreadable:
		c.logger.Debug("image unreadable, revealing", zap.String("src", c.srcOf(el.Node)), zap.Error(o.Err))
		c.reveal(el, OutcomeUnreadable, o.Err.Error())
	case Eligible:
		if !c.ready() {
			el.State = Unseen
			c.page.View(func(*goquery.Document) { clearMarks(el.Node) })
			return
		}
		c.dispatch(el, o.Payload)
	default:
		c.reveal(el, OutcomeUnreadable, "")
	}
}

func (c *Coordinator) dispatch(el *TrackedElement, payload string) {
	reqID := c.nextID
	c.nextID++

	el.State = Pending
	el.RequestID = reqID
	c.pending.Add(PendingRequest{ID: reqID, Node: el.Node, SentAt: c.now()})
	c.metrics.AddPending(1)
	c.page.View(func(*goquery.Document) { markPending(el.Node) })

	msg := protocol.Classify{ID: reqID, Payload: payload, Settings: c.policy.Clone()}
	c.spawn(func(ctx context.Context) {
		if err := c.ch.Send(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.post(ctx, func() { c.sendFailed(reqID, err) })
		}
	})
}

func (c *Coordinator) sendFailed(reqID int64, err error) {
	r, ok := c.pending.Resolve(reqID)
	if !ok {
		return
	}
	c.metrics.AddPending(-1)
	c.logger.Warn("classify request not delivered, revealing", zap.Int64("id", reqID), zap.Error(err))
	if el, ok := c.tracked[r.Node]; ok && el.RequestID == reqID && c.page.Contains(r.Node) {
		c.reveal(el, OutcomeSendFailed, err.Error())
	}
}

func (c *Coordinator) resolve(v protocol.Verdict) {
	r, ok := c.pending.Resolve(v.ID)
	if !ok {
		c.metrics.IncVerdictIgnored("unknown")
		c.logger.Debug("ignoring verdict for unknown request", zap.Int64("id", v.ID))
		return
	}
	c.metrics.AddPending(-1)
	c.metrics.ObserveVerdict(c.now().Sub(r.SentAt))

	el, ok := c.tracked[r.Node]
	if !ok || el.RequestID != v.ID || !c.page.Contains(r.Node) {
		c.metrics.IncVerdictIgnored("detached")
		delete(c.tracked, r.Node)
		return
	}

	el.Confidence = v.Confidence
	if v.ShouldBlock {
		c.block(el, v.PrimaryCategory, v.Reason)
	} else {
		c.reveal(el, OutcomeRevealed, v.Reason)
	}
	c.recordStats(v)
}

func (c *Coordinator) block(el *TrackedElement, category, reason string) {
	el.State = Blocked
	el.Outcome = OutcomeBlocked
	el.Category = category
	el.Reason = reason
	c.page.View(func(*goquery.Document) { markBlocked(el.Node, category, reason) })
	c.metrics.RecordOutcome(OutcomeBlocked)
	c.logger.Debug("image blocked",
		zap.String("src", c.srcOf(el.Node)),
		zap.String("category", category),
		zap.Float64("confidence", el.Confidence))
	c.decided(el)
}

func (c *Coordinator) reveal(el *TrackedElement, outcome, reason string) {
	el.State = Revealed
	el.Outcome = outcome
	el.Reason = reason
	c.page.View(func(*goquery.Document) { markRevealed(el.Node) })
	c.metrics.RecordOutcome(outcome)
	c.decided(el)
}

func (c *Coordinator) recordStats(v protocol.Verdict) {
	if c.opts.Stats == nil {
		return
	}
	site := c.page.Site()
	c.spawn(func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statsTimeout)
		defer cancel()
		if err := c.opts.Stats.RecordOutcome(ctx, site, v.ShouldBlock, v.PrimaryCategory, v.Confidence); err != nil {
			c.metrics.IncStatsFailure()
			c.logger.Debug("failed to record statistics", zap.Error(err))
		}
	})
}

// expire reveals elements whose verdict is overdue. A verdict arriving
// later finds no pending entry and is ignored.
func (c *Coordinator) expire() {
	for _, r := range c.pending.Expired(c.now(), c.opts.PendingTimeout) {
		c.pending.Resolve(r.ID)
		c.metrics.AddPending(-1)
		el, ok := c.tracked[r.Node]
		if !ok || el.RequestID != r.ID || !c.page.Contains(r.Node) {
			continue
		}
		c.logger.Debug("verdict overdue, revealing", zap.Int64("id", r.ID))
		c.reveal(el, OutcomeTimeout, "")
	}
}

// settled reports whether the page has nothing left to decide. Finding an
// undiscovered candidate triggers a pass instead of waiting for the ticker.
func (c *Coordinator) settled() bool {
	if !c.policyLoaded {
		return false
	}
	if !c.policy.Enabled {
		return true
	}
	if !c.sandboxReady || c.loading > 0 || c.pending.Len() > 0 {
		return false
	}

	var candidates []*html.Node
	c.page.View(func(doc *goquery.Document) {
		candidates = c.opts.Selector.Select(doc.Nodes[0])
	})
	for _, n := range candidates {
		if el, ok := c.tracked[n]; !ok || el.State == Unseen {
			c.discover()
			return false
		}
	}
	return true
}

func (c *Coordinator) srcOf(n *html.Node) string {
	var src string
	c.page.View(func(*goquery.Document) { src = attr(n, "src") })
	if strings.HasPrefix(src, "data:") {
		return "data:..."
	}
	return src
}
