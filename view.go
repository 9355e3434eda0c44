package cartwatch

import (
	"context"
	"fmt"

	"github.com/PuerkitoBio/goquery"

	"github.com/lesshq/cartwatch/adapter"
	"github.com/lesshq/cartwatch/dispatch"
	"github.com/lesshq/cartwatch/report"
)

// PageView is the typed snapshot of one page handed to strategies on each
// dispatch: resolved buttons, labels, cart lines and buy-now offers. Every
// field is freshly computed; nothing in it survives to the next dispatch.
type PageView struct {
	Hostname string
	// Domain is the top-level domain the adapter was resolved under.
	Domain string
	// Supported reports whether a real adapter matched, for UI messaging
	// only; an unsupported page still carries a complete (empty) view.
	Supported bool

	Doc *goquery.Document

	CheckoutButtons   []*goquery.Selection
	PlaceOrderButtons []*goquery.Selection
	CheckoutLabels    []*goquery.Selection
	AddToCartButtons  []*goquery.Selection
	CartItems         []adapter.Item

	// HasOneClick reports the buy-now capability; Offers is empty
	// without it.
	HasOneClick bool
	Offers      []adapter.Offer
}

// Strategy is a downstream intervention: it runs once per dispatch with a
// fresh view and handle, and may return a cleanup invoked before its next
// run. Anything it attaches must honour the handle's cancellation.
type Strategy func(view *PageView, h *dispatch.Handle) (cleanup func())

// buildView runs every getter of the resolved bundle against doc,
// isolating each call: a panicking getter yields an empty result and a
// failure report, never a dead dispatch loop.
func (w *Watcher) buildView(ctx context.Context, doc *goquery.Document, host string) *PageView {
	bundle := w.registry.Resolve(host)
	v := &PageView{
		Hostname:  host,
		Domain:    adapter.TopLevelDomain(host),
		Supported: w.registry.Has(host),
		Doc:       doc,
	}
	root := doc.Selection

	v.CheckoutButtons = w.safeSelections(ctx, v.Domain, "checkout_buttons", bundle.CheckoutButtons, root)
	v.PlaceOrderButtons = w.safeSelections(ctx, v.Domain, "place_order_buttons", bundle.PlaceOrderButtons, root)
	v.CheckoutLabels = w.safeSelections(ctx, v.Domain, "checkout_labels", bundle.CheckoutButtonLabels, root)
	v.AddToCartButtons = w.safeSelections(ctx, v.Domain, "add_to_cart_buttons", bundle.AddToCartButtons, root)
	v.CartItems = w.safeItems(ctx, v.Domain, "cart_items", bundle.CartItems, root)

	if bundle.OneClick != nil {
		v.HasOneClick = true
		v.Offers = w.safeOffers(ctx, v.Domain, "one_click", bundle.OneClick.Offers, root)
	}

	if v.Supported {
		if err := w.catalog.RecordUse(ctx, v.Domain); err != nil {
			w.logger.Warn("cartwatch: use counter not recorded", "domain", v.Domain, "error", err)
		}
	}
	return v
}

func (w *Watcher) safeSelections(ctx context.Context, domain, area string,
	fn func(*goquery.Selection) []*goquery.Selection, root *goquery.Selection) (out []*goquery.Selection) {
	defer w.recoverGetter(ctx, domain, area)
	return fn(root)
}

func (w *Watcher) safeItems(ctx context.Context, domain, area string,
	fn func(*goquery.Selection) []adapter.Item, root *goquery.Selection) (out []adapter.Item) {
	defer w.recoverGetter(ctx, domain, area)
	return fn(root)
}

func (w *Watcher) safeOffers(ctx context.Context, domain, area string,
	fn func(*goquery.Selection) []adapter.Offer, root *goquery.Selection) (out []adapter.Offer) {
	defer w.recoverGetter(ctx, domain, area)
	return fn(root)
}

// recoverGetter converts a getter panic into a failure report. The caller
// returns its zero value, so the dispatch sees "no elements found".
func (w *Watcher) recoverGetter(ctx context.Context, domain, area string) {
	r := recover()
	if r == nil {
		return
	}
	msg := fmt.Sprintf("getter panic: %v", r)
	w.logger.Warn("cartwatch: adapter getter failed",
		"domain", domain, "area", area, "panic", r)

	f := report.NewFailure(domain, area, msg, "")
	if err := w.reporter.Report(ctx, f); err != nil {
		w.logger.Warn("cartwatch: failure not delivered", "error", err)
	}
	if err := w.catalog.ReportFailure(ctx, domain, area, msg); err != nil {
		w.logger.Warn("cartwatch: failure not stored", "error", err)
	}
}
