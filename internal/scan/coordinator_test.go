package scan

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/imgfirewall/internal/policy"
	"github.com/GriffinCanCode/imgfirewall/internal/protocol"
)

func mixedPage(t *testing.T) string {
	return fmt.Sprintf(`<html><body>
<img id="big" src="%s" width="120" height="120">
<img id="ok" src="%s" width="100" height="100">
<img id="tiny" src="%s" width="10" height="10">
<img id="natural-tiny" src="%s">
<img id="nosrc" width="100" height="100">
</body></html>`,
		pngDataURL(t, 240, 240), pngDataURL(t, 100, 100), pngDataURL(t, 10, 10), pngDataURL(t, 20, 20))
}

func TestCoordinatorAppliesVerdicts(t *testing.T) {
	sb, ch := newFakeSandbox(t, true, blockLarge())
	stats := &fakeStats{}
	c := startCoordinator(t, mixedPage(t), ch, Options{Stats: stats})

	settle(t, c)

	first, second := sb.next(t), sb.next(t)
	assert.ElementsMatch(t, []int64{1, 2}, []int64{first.ID, second.ID})
	assert.True(t, first.Settings.Enabled)
	sb.none(t, 50*time.Millisecond)

	classes, attrs := element(t, c, "big")
	assert.Contains(t, classes, ClassScanned)
	assert.Contains(t, classes, ClassBlocked)
	assert.NotContains(t, classes, ClassBlurred)
	assert.Equal(t, "weapons", attrs[AttrCategory])
	assert.Equal(t, "Blocked: content matched: weapons", attrs[AttrTitle])

	for _, elemID := range []string{"ok", "tiny", "natural-tiny", "nosrc"} {
		classes, attrs := element(t, c, elemID)
		assert.Contains(t, classes, ClassScanned, elemID)
		assert.Contains(t, classes, ClassRevealed, elemID)
		assert.NotContains(t, classes, ClassBlocked, elemID)
		assert.NotContains(t, classes, ClassBlurred, elemID)
		assert.NotContains(t, attrs, AttrCategory, elemID)
	}

	statuses := snapshot(t, c)
	require.Len(t, statuses, 5)
	outcomes := make([]string, len(statuses))
	for i, s := range statuses {
		outcomes[i] = s.Outcome
	}
	assert.Equal(t, []string{OutcomeBlocked, OutcomeRevealed, OutcomeTooSmall, OutcomeTooSmall, OutcomeUnreadable}, outcomes)
	assert.Equal(t, "weapons", statuses[0].Category)
	assert.InDelta(t, 0.9, statuses[0].Confidence, 1e-9)

	require.Eventually(t, func() bool { return len(stats.snapshot()) == 2 }, 2*time.Second, 10*time.Millisecond)
	blocked := 0
	for _, r := range stats.snapshot() {
		assert.Equal(t, "example.com", r.site)
		if r.blocked {
			blocked++
			assert.Equal(t, "weapons", r.category)
		}
	}
	assert.Equal(t, 1, blocked)

	out, err := c.Render()
	require.NoError(t, err)
	assert.Contains(t, out, `data-blocked-category="weapons"`)
}

func TestCoordinatorStatsFailureKeepsDecision(t *testing.T) {
	_, ch := newFakeSandbox(t, true, blockLarge())
	stats := &fakeStats{err: errors.New("database is locked")}
	c := startCoordinator(t, mixedPage(t), ch, Options{Stats: stats})

	settle(t, c)
	require.Eventually(t, func() bool { return len(stats.snapshot()) == 2 }, 2*time.Second, 10*time.Millisecond)

	classes, attrs := element(t, c, "big")
	assert.Contains(t, classes, ClassBlocked)
	assert.Equal(t, "weapons", attrs[AttrCategory])
	classes, _ = element(t, c, "ok")
	assert.Contains(t, classes, ClassRevealed)
	assert.NotContains(t, classes, ClassBlocked)
}

func TestCoordinatorStatsOutliveRun(t *testing.T) {
	_, ch := newFakeSandbox(t, true, blockLarge())
	stats := &fakeStats{hold: make(chan struct{})}
	page, err := ParsePage(strings.NewReader(mixedPage(t)), testOrigin)
	require.NoError(t, err)
	c := NewCoordinator(page, ch, Options{Stats: stats})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- c.Run(ctx) }()
	settle(t, c)
	cancel()

	select {
	case <-errc:
		require.FailNow(t, "Run returned before statistics were written")
	case <-time.After(50 * time.Millisecond):
	}
	close(stats.hold)
	require.NoError(t, <-errc)

	errs := stats.contextErrors()
	require.Len(t, errs, 2)
	for _, err := range errs {
		assert.NoError(t, err)
	}
}

func TestCoordinatorDoesNotResendWhilePending(t *testing.T) {
	sb, ch := newFakeSandbox(t, true, nil)
	markup := fmt.Sprintf(`<html><body><img id="big" src="%s" width="120" height="120"></body></html>`, pngDataURL(t, 120, 120))
	c := startCoordinator(t, markup, ch, Options{Interval: 10 * time.Millisecond})

	first := sb.next(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.Scan(ctx))
	require.NoError(t, c.Scan(ctx))
	sb.none(t, 200*time.Millisecond)

	classes, _ := element(t, c, "big")
	assert.Contains(t, classes, ClassBlurred)
	assert.NotContains(t, classes, ClassRevealed)
	assert.NotContains(t, classes, ClassBlocked)

	sb.reply(t, protocol.Verdict{ID: first.ID, Reason: policy.ReasonNotMatched})
	settle(t, c)
	classes, _ = element(t, c, "big")
	assert.Contains(t, classes, ClassRevealed)
}

func TestCoordinatorReportsDecisions(t *testing.T) {
	_, ch := newFakeSandbox(t, true, blockLarge())

	var (
		mu      sync.Mutex
		decided []ElementStatus
	)
	c := startCoordinator(t, mixedPage(t), ch, Options{OnDecided: func(st ElementStatus) {
		mu.Lock()
		decided = append(decided, st)
		mu.Unlock()
	}})
	settle(t, c)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, decided, 5)
	outcomes := map[string]int{}
	for _, st := range decided {
		outcomes[st.Outcome]++
		assert.NotEqual(t, Pending.String(), st.State)
	}
	assert.Equal(t, map[string]int{OutcomeBlocked: 1, OutcomeRevealed: 1, OutcomeTooSmall: 2, OutcomeUnreadable: 1}, outcomes)
}

func TestCoordinatorWaitsForSandbox(t *testing.T) {
	sb, ch := newFakeSandbox(t, false, revealAll)
	c := startCoordinator(t, mixedPage(t), ch, Options{})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.Scan(ctx))
	sb.none(t, 100*time.Millisecond)
	assert.Empty(t, snapshot(t, c))

	classes, _ := element(t, c, "big")
	assert.NotContains(t, classes, ClassScanned)

	sb.ready(t)
	sb.next(t)
	settle(t, c)
}

func TestCoordinatorSkipsDisabledSite(t *testing.T) {
	sb, ch := newFakeSandbox(t, true, revealAll)
	c := startCoordinator(t, mixedPage(t), ch, Options{Policy: StaticPolicy{Enabled: false}})

	settle(t, c)
	sb.none(t, 100*time.Millisecond)

	out, err := c.Render()
	require.NoError(t, err)
	assert.NotContains(t, out, ClassScanned)
}

func TestCoordinatorPolicyFailureFallsBack(t *testing.T) {
	sb, ch := newFakeSandbox(t, true, revealAll)
	src := &fakePolicy{err: errors.New("store offline")}
	c := startCoordinator(t, mixedPage(t), ch, Options{Policy: src})

	req := sb.next(t)
	assert.True(t, req.Settings.Enabled)
	settle(t, c)
}

func TestCoordinatorSnapshotsPolicyPerRequest(t *testing.T) {
	sb, ch := newFakeSandbox(t, true, revealAll)
	src := &fakePolicy{cfg: policy.Config{Enabled: true, GlobalThreshold: policy.Threshold(0.5)}}
	markup := fmt.Sprintf(`<html><body><img id="one" src="%s"></body></html>`, pngDataURL(t, 80, 80))
	c := startCoordinator(t, markup, ch, Options{Policy: src})

	first := sb.next(t)
	require.NotNil(t, first.Settings.GlobalThreshold)
	assert.InDelta(t, 0.5, *first.Settings.GlobalThreshold, 1e-9)
	settle(t, c)

	require.Eventually(t, src.subscribed, time.Second, 10*time.Millisecond)
	src.publish(policy.Config{Enabled: true, GlobalThreshold: policy.Threshold(0.9)})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	var node *goquery.Selection
	c.Page().View(func(doc *goquery.Document) { node = doc.Find("#one") })
	require.NoError(t, c.Invalidate(ctx, node.Nodes[0]))

	second := sb.next(t)
	assert.Equal(t, int64(2), second.ID)
	require.NotNil(t, second.Settings.GlobalThreshold)
	assert.InDelta(t, 0.9, *second.Settings.GlobalThreshold, 1e-9)
	settle(t, c)

	classes, _ := element(t, c, "one")
	assert.Contains(t, classes, ClassRevealed)
}

func TestCoordinatorIgnoresUnknownAndDuplicateVerdicts(t *testing.T) {
	sb, ch := newFakeSandbox(t, true, nil)
	stats := &fakeStats{}
	markup := fmt.Sprintf(`<html><body><img id="one" src="%s"></body></html>`, pngDataURL(t, 80, 80))
	c := startCoordinator(t, markup, ch, Options{Stats: stats})

	req := sb.next(t)
	sb.reply(t, protocol.Verdict{ID: req.ID + 100, ShouldBlock: true})
	sb.reply(t, protocol.Verdict{ID: req.ID, Reason: policy.ReasonNotMatched})
	sb.reply(t, protocol.Verdict{ID: req.ID, ShouldBlock: true, PrimaryCategory: "gore"})
	settle(t, c)

	require.Never(t, func() bool {
		classes, _ := element(t, c, "one")
		return contains(classes, ClassBlocked)
	}, 100*time.Millisecond, 10*time.Millisecond)

	classes, _ := element(t, c, "one")
	assert.Contains(t, classes, ClassRevealed)
	require.Eventually(t, func() bool { return len(stats.snapshot()) == 1 }, time.Second, 10*time.Millisecond)
	assert.False(t, stats.snapshot()[0].blocked)
}

func TestCoordinatorDropsVerdictForRemovedElement(t *testing.T) {
	sb, ch := newFakeSandbox(t, true, nil)
	stats := &fakeStats{}
	markup := fmt.Sprintf(`<html><body><img id="one" src="%s"></body></html>`, pngDataURL(t, 80, 80))
	c := startCoordinator(t, markup, ch, Options{Stats: stats})

	req := sb.next(t)
	var removed *goquery.Selection
	c.Page().Mutate(func(doc *goquery.Document) {
		removed = doc.Find("#one").Remove()
	})
	sb.reply(t, protocol.Verdict{ID: req.ID, ShouldBlock: true, PrimaryCategory: "weapons", Reason: "content matched: weapons"})
	settle(t, c)

	require.Never(t, func() bool { return len(stats.snapshot()) > 0 }, 100*time.Millisecond, 10*time.Millisecond)
	c.Page().View(func(*goquery.Document) {
		assert.False(t, removed.HasClass(ClassBlocked))
	})
	assert.Empty(t, snapshot(t, c))
}

func TestCoordinatorRevealsOnTimeout(t *testing.T) {
	sb, ch := newFakeSandbox(t, true, nil)
	markup := fmt.Sprintf(`<html><body><img id="one" src="%s"></body></html>`, pngDataURL(t, 80, 80))
	c := startCoordinator(t, markup, ch, Options{
		Interval:       20 * time.Millisecond,
		PendingTimeout: 200 * time.Millisecond,
	})

	req := sb.next(t)
	classes, _ := element(t, c, "one")
	assert.Contains(t, classes, ClassBlurred)

	settle(t, c)
	statuses := snapshot(t, c)
	require.Len(t, statuses, 1)
	assert.Equal(t, OutcomeTimeout, statuses[0].Outcome)

	sb.reply(t, protocol.Verdict{ID: req.ID, ShouldBlock: true})
	require.Never(t, func() bool {
		classes, _ := element(t, c, "one")
		return contains(classes, ClassBlocked)
	}, 100*time.Millisecond, 10*time.Millisecond)
}

type failingSend struct {
	protocol.Channel
}

func (failingSend) Send(context.Context, protocol.Message) error {
	return errors.New("link down")
}

func TestCoordinatorRevealsWhenSendFails(t *testing.T) {
	_, ch := newFakeSandbox(t, true, nil)
	markup := fmt.Sprintf(`<html><body><img id="one" src="%s"></body></html>`, pngDataURL(t, 80, 80))
	c := startCoordinator(t, markup, failingSend{ch}, Options{})

	settle(t, c)
	statuses := snapshot(t, c)
	require.Len(t, statuses, 1)
	assert.Equal(t, OutcomeSendFailed, statuses[0].Outcome)
	classes, _ := element(t, c, "one")
	assert.Contains(t, classes, ClassRevealed)
}

func TestCoordinatorPicksUpMutationsAndScrolls(t *testing.T) {
	sb, ch := newFakeSandbox(t, true, revealAll)
	c := startCoordinator(t, `<html><body><div id="feed"></div></body></html>`, ch, Options{
		Interval:       time.Hour,
		ScrollDebounce: 20 * time.Millisecond,
	})
	settle(t, c)

	src := pngDataURL(t, 80, 80)
	c.Page().Mutate(func(doc *goquery.Document) {
		doc.Find("#feed").AppendHtml(fmt.Sprintf(`<img id="late" src="%s">`, src))
	})
	assert.Equal(t, int64(1), sb.next(t).ID)

	c.Page().View(func(doc *goquery.Document) {
		doc.Find("#feed").AppendHtml(fmt.Sprintf(`<img id="lazy" src="%s">`, src))
	})
	sb.none(t, 50*time.Millisecond)
	c.Page().Scroll()
	c.Page().Scroll()
	assert.Equal(t, int64(2), sb.next(t).ID)
	settle(t, c)
}

func TestCoordinatorInvalidateIgnoresUndecided(t *testing.T) {
	sb, ch := newFakeSandbox(t, true, nil)
	markup := fmt.Sprintf(`<html><body><img id="one" src="%s"></body></html>`, pngDataURL(t, 80, 80))
	c := startCoordinator(t, markup, ch, Options{})

	req := sb.next(t)
	var node *goquery.Selection
	c.Page().View(func(doc *goquery.Document) { node = doc.Find("#one") })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.Invalidate(ctx, node.Nodes[0]))
	sb.none(t, 50*time.Millisecond)

	sb.reply(t, protocol.Verdict{ID: req.ID})
	settle(t, c)
}

func TestCoordinatorRunOnce(t *testing.T) {
	_, ch := newFakeSandbox(t, true, revealAll)
	c := startCoordinator(t, `<html><body></body></html>`, ch, Options{})
	settle(t, c)
	assert.ErrorIs(t, c.Run(context.Background()), ErrAlreadyRunning)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
