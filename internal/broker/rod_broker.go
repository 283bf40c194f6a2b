package broker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
)

// RodBroker is the reference Broker implementation: one shared go-rod
// *rod.Browser, one *rod.Page per issued TabID. Grounded on the
// reuse-a-long-lived-Chrome-process shape of a pooled browser manager, but
// simplified to a single browser process since the core's concurrency
// bound is per-tab locks, not per-browser-instance checkout.
type RodBroker struct {
	browser *rod.Browser
	headless bool

	reg   *registry
	pages map[TabID]*rod.Page
	ids   *idGen
}

// RodBrokerConfig controls how the underlying Chrome process is launched.
type RodBrokerConfig struct {
	Headless   bool
	BinPath    string        // optional explicit Chrome/Chromium binary
	EvalTimeout time.Duration // not applied by NewRodBroker or Eval; Eval is bounded only by its ctx
}

// NewRodBroker launches (or attaches to) a Chrome instance and returns a
// ready-to-use Broker.
func NewRodBroker(cfg RodBrokerConfig) (*RodBroker, error) {
	l := launcher.New().Headless(cfg.Headless)
	if cfg.BinPath != "" {
		l = l.Bin(cfg.BinPath)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("broker: launch chrome: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("broker: connect to chrome: %w", err)
	}

	return &RodBroker{
		browser:  browser,
		headless: cfg.Headless,
		reg:      newRegistry(),
		pages:    make(map[TabID]*rod.Page),
		ids:      newIDGen(),
	}, nil
}

func (b *RodBroker) CreateTab(ctx context.Context, owner Owner, url string) (TabID, error) {
	page, err := b.browser.Context(ctx).Page(emptyPageURL(url))
	if err != nil {
		return "", fmt.Errorf("broker: open tab: %w", err)
	}

	id := b.ids.next()
	b.pages[id] = page
	b.reg.put(id, owner, url)

	slog.Debug("broker: tab created", "tab_id", id, "owner", owner, "url", url)
	return id, nil
}

func (b *RodBroker) CloseTab(ctx context.Context, tabID TabID) error {
	page, ok := b.pages[tabID]
	if !ok {
		return nil // idempotent
	}

	if err := page.Close(); err != nil {
		slog.Warn("broker: close tab failed", "tab_id", tabID, "error", err)
	}

	delete(b.pages, tabID)
	b.reg.delete(tabID)
	return nil
}

func (b *RodBroker) Navigate(ctx context.Context, tabID TabID, url string) error {
	page, err := b.pageFor(tabID)
	if err != nil {
		return err
	}
	if err := page.Context(ctx).Navigate(url); err != nil {
		return fmt.Errorf("broker: navigate %s: %w", tabID, err)
	}
	_ = page.WaitLoad()
	return b.reg.setURL(tabID, url)
}

func (b *RodBroker) CurrentURL(ctx context.Context, tabID TabID) (string, error) {
	page, err := b.pageFor(tabID)
	if err != nil {
		return "", err
	}
	info, err := page.Context(ctx).Info()
	if err != nil {
		return "", fmt.Errorf("broker: read url %s: %w", tabID, err)
	}
	_ = b.reg.setURL(tabID, info.URL)
	return info.URL, nil
}

func (b *RodBroker) Eval(ctx context.Context, tabID TabID, script string) (any, error) {
	page, err := b.pageFor(tabID)
	if err != nil {
		return nil, err
	}

	type result struct {
		val any
		err error
	}
	done := make(chan result, 1)

	go func() {
		obj, err := page.Eval(script)
		if err != nil {
			done <- result{err: fmt.Errorf("broker: eval %s: %w", tabID, err)}
			return
		}
		done <- result{val: obj.Value}
	}()

	select {
	case r := <-done:
		return r.val, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s", ErrEvalTimeout, tabID)
	}
}

func (b *RodBroker) WaitURLChange(ctx context.Context, tabID TabID, fromURL string, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		cur, err := b.CurrentURL(ctx, tabID)
		if err != nil {
			return "", err
		}
		if cur != fromURL {
			return cur, nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(time.Second):
		}
	}

	return "", fmt.Errorf("%w: %s", ErrWaitTimeout, tabID)
}

func (b *RodBroker) UploadFile(ctx context.Context, tabID TabID, selector, filePath string) error {
	page, err := b.pageFor(tabID)
	if err != nil {
		return err
	}

	el, err := page.Context(ctx).Element(selector)
	if err != nil {
		return fmt.Errorf("broker: locate upload input %s on %s: %w", selector, tabID, err)
	}
	if err := el.SetFiles([]string{filePath}); err != nil {
		return fmt.Errorf("broker: stream upload %s on %s: %w", filePath, tabID, err)
	}
	return nil
}

func (b *RodBroker) Lock(tabID TabID) (Lock, bool) {
	return b.reg.lockOf(tabID)
}

func (b *RodBroker) TabExists(tabID TabID) bool {
	_, ok := b.pages[tabID]
	return ok
}

func (b *RodBroker) pageFor(tabID TabID) (*rod.Page, error) {
	page, ok := b.pages[tabID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTabNotFound, tabID)
	}
	return page, nil
}

func emptyPageURL(url string) string {
	if url == "" {
		return "about:blank"
	}
	return url
}

// idGen issues short monotonic tab IDs without reaching for time.Now/
// math/rand-backed uuid.New in a hot path; it is not cryptographically
// interesting, just unique within one broker's lifetime.
type idGen struct {
	n uint64
}

func newIDGen() *idGen { return &idGen{} }

func (g *idGen) next() TabID {
	g.n++
	return TabID(fmt.Sprintf("tab-%d", g.n))
}
