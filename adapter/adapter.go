// Package adapter maps the uncontrolled DOM of third-party storefronts into
// a small, stable, typed interface: where the checkout buttons are, what the
// cart contains, whether a buy-now path bypasses the cart.
//
// The unit of adaptation is a Bundle of query functions registered per
// top-level domain. Lookups that miss return a total fallback bundle whose
// every function yields an empty result, so downstream strategies never
// branch on "is this site supported".
//
// Usage:
//
//	r := adapter.New()
//	r.Register(bundle, "www.shop.example", "checkout.shop.example")
//	b := r.Resolve(pageHost)
//	items := b.CartItems(doc.Selection)
package adapter

import (
	"github.com/PuerkitoBio/goquery"
)

// Item is one cart line or buy-now offer: a value snapshot recomputed on
// every observation, never an entity with identity.
type Item struct {
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
	Currency string  `json:"currency"`
}

// Offer is a single buy-now instance. The button is the clickable hit-area,
// the label the visible text node (often distinct elements), and the item
// the implied single-line cart the offer carries.
type Offer struct {
	Button *goquery.Selection
	Label  *goquery.Selection
	Item   Item
}

// OneClick is the optional buy-now capability of a Bundle. A bundle either
// carries it or not; callers check the pointer once instead of probing for
// an optional method.
type OneClick struct {
	Offers func(root *goquery.Selection) []Offer
}

// Bundle is the set of query functions tailored to one storefront's markup.
// Every function is pure with respect to root: matched elements are
// identified by structural NodeKey, never by mutating the scanned tree.
//
// Functions may panic on unanticipated live markup; isolation is the
// dispatch layer's job, not the bundle's.
type Bundle struct {
	CheckoutButtons      func(root *goquery.Selection) []*goquery.Selection
	PlaceOrderButtons    func(root *goquery.Selection) []*goquery.Selection
	CheckoutButtonLabels func(root *goquery.Selection) []*goquery.Selection
	AddToCartButtons     func(root *goquery.Selection) []*goquery.Selection
	CartItems            func(root *goquery.Selection) []Item

	// OneClick is nil when the storefront has no buy-now path.
	OneClick *OneClick
}

func emptySelections(*goquery.Selection) []*goquery.Selection { return nil }
func emptyItems(*goquery.Selection) []Item                    { return nil }

// Fallback returns the total no-op bundle: every function is non-nil and
// returns an empty collection. OneClick stays nil; absence of the
// capability, not an empty implementation of it.
func Fallback() Bundle {
	return Bundle{
		CheckoutButtons:      emptySelections,
		PlaceOrderButtons:    emptySelections,
		CheckoutButtonLabels: emptySelections,
		AddToCartButtons:     emptySelections,
		CartItems:            emptyItems,
	}
}

// withFallback fills any nil query function from the fallback bundle so a
// resolved bundle is always total.
func withFallback(b Bundle) Bundle {
	if b.CheckoutButtons == nil {
		b.CheckoutButtons = emptySelections
	}
	if b.PlaceOrderButtons == nil {
		b.PlaceOrderButtons = emptySelections
	}
	if b.CheckoutButtonLabels == nil {
		b.CheckoutButtonLabels = emptySelections
	}
	if b.AddToCartButtons == nil {
		b.AddToCartButtons = emptySelections
	}
	if b.CartItems == nil {
		b.CartItems = emptyItems
	}
	return b
}
