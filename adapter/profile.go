package adapter

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"

	"github.com/lesshq/cartwatch/pricetext"
)

// Profile is a declarative selector bundle for one storefront: plain CSS
// selectors that compile into a Bundle at load time. Profiles are how
// site support ships as data: contributing one requires inspecting a page
// in devtools, no code.
type Profile struct {
	Domains   []string          `yaml:"domains" json:"domains"`
	Selectors Selectors         `yaml:"selectors" json:"selectors"`
	CartItem  *CartItemSelector `yaml:"cart_item,omitempty" json:"cart_item,omitempty"`
	BuyNow    *BuyNowSelector   `yaml:"buy_now,omitempty" json:"buy_now,omitempty"`
}

// Selectors names the button queries of a Profile. Empty fields compile
// to the fallback (empty-result) function.
type Selectors struct {
	Checkout       string `yaml:"checkout" json:"checkout"`
	PlaceOrder     string `yaml:"place_order" json:"place_order"`
	CheckoutLabels string `yaml:"checkout_labels" json:"checkout_labels"`
	AddToCart      string `yaml:"add_to_cart" json:"add_to_cart"`
}

// CartItemSelector locates cart lines: Row matches one element per line,
// Price and Quantity are resolved within each row and parsed with
// pricetext. An empty Quantity selector yields quantity 1 per line.
type CartItemSelector struct {
	Row      string `yaml:"row" json:"row"`
	Price    string `yaml:"price" json:"price"`
	Quantity string `yaml:"quantity,omitempty" json:"quantity,omitempty"`
}

// BuyNowSelector locates buy-now offers. Container matches one element per
// offer; Button, Label and Price are resolved within it.
type BuyNowSelector struct {
	Container string `yaml:"container" json:"container"`
	Button    string `yaml:"button" json:"button"`
	Label     string `yaml:"label,omitempty" json:"label,omitempty"`
	Price     string `yaml:"price,omitempty" json:"price,omitempty"`
}

// Validate checks that the profile names at least one domain and that every
// non-empty selector parses as CSS.
func (p *Profile) Validate() error {
	if len(p.Domains) == 0 {
		return fmt.Errorf("adapter: profile has no domains")
	}
	sels := map[string]string{
		"selectors.checkout":        p.Selectors.Checkout,
		"selectors.place_order":     p.Selectors.PlaceOrder,
		"selectors.checkout_labels": p.Selectors.CheckoutLabels,
		"selectors.add_to_cart":     p.Selectors.AddToCart,
	}
	if p.CartItem != nil {
		if p.CartItem.Row == "" {
			return fmt.Errorf("adapter: cart_item.row is required")
		}
		sels["cart_item.row"] = p.CartItem.Row
		sels["cart_item.price"] = p.CartItem.Price
		sels["cart_item.quantity"] = p.CartItem.Quantity
	}
	if p.BuyNow != nil {
		if p.BuyNow.Container == "" || p.BuyNow.Button == "" {
			return fmt.Errorf("adapter: buy_now needs container and button selectors")
		}
		sels["buy_now.container"] = p.BuyNow.Container
		sels["buy_now.button"] = p.BuyNow.Button
		sels["buy_now.label"] = p.BuyNow.Label
		sels["buy_now.price"] = p.BuyNow.Price
	}
	for field, s := range sels {
		if s == "" {
			continue
		}
		if _, err := cascadia.Compile(s); err != nil {
			return fmt.Errorf("adapter: %s: bad selector %q: %w", field, s, err)
		}
	}
	return nil
}

// Compile validates the profile and builds its Bundle. Selectors compile
// once here; the returned query functions only ever match.
func (p *Profile) Compile() (Bundle, error) {
	if err := p.Validate(); err != nil {
		return Bundle{}, err
	}

	b := Bundle{
		CheckoutButtons:      selectorFn(p.Selectors.Checkout),
		PlaceOrderButtons:    selectorFn(p.Selectors.PlaceOrder),
		CheckoutButtonLabels: selectorFn(p.Selectors.CheckoutLabels),
		AddToCartButtons:     selectorFn(p.Selectors.AddToCart),
	}

	if ci := p.CartItem; ci != nil {
		row := mustMatcher(ci.Row)
		price := matcherOrNil(ci.Price)
		qty := matcherOrNil(ci.Quantity)
		b.CartItems = func(root *goquery.Selection) []Item {
			var items []Item
			root.FindMatcher(row).Each(func(_ int, line *goquery.Selection) {
				items = append(items, parseItem(line, price, qty))
			})
			return items
		}
	}

	if bn := p.BuyNow; bn != nil {
		container := mustMatcher(bn.Container)
		button := mustMatcher(bn.Button)
		label := matcherOrNil(bn.Label)
		price := matcherOrNil(bn.Price)
		b.OneClick = &OneClick{
			Offers: func(root *goquery.Selection) []Offer {
				var offers []Offer
				root.FindMatcher(container).Each(func(_ int, c *goquery.Selection) {
					o := Offer{Button: c.FindMatcher(button)}
					if label != nil {
						o.Label = c.FindMatcher(label)
					}
					if price != nil {
						amt := pricetext.ParseAmount(c.FindMatcher(price).First().Text())
						o.Item = Item{
							Quantity: 1,
							Price:    amt.Value,
							Currency: pricetext.NormalizeCurrency(amt.Currency),
						}
					} else {
						o.Item = Item{Quantity: 1, Currency: "none"}
					}
					offers = append(offers, o)
				})
				return offers
			},
		}
	}

	return withFallback(b), nil
}

func parseItem(line *goquery.Selection, price, qty cascadia.Selector) Item {
	it := Item{Quantity: 1, Currency: "none"}
	if price != nil {
		amt := pricetext.ParseAmount(strings.TrimSpace(line.FindMatcher(price).First().Text()))
		it.Price = amt.Value
		it.Currency = pricetext.NormalizeCurrency(amt.Currency)
	}
	if qty != nil {
		it.Quantity = pricetext.ParseQuantity(strings.TrimSpace(line.FindMatcher(qty).First().Text()))
	}
	return it
}

// selectorFn compiles s into a query function. Empty selector means "this
// storefront has none of these", which is the fallback function.
func selectorFn(s string) func(*goquery.Selection) []*goquery.Selection {
	if s == "" {
		return emptySelections
	}
	m := mustMatcher(s)
	return func(root *goquery.Selection) []*goquery.Selection {
		var out []*goquery.Selection
		root.FindMatcher(m).Each(func(_ int, el *goquery.Selection) {
			out = append(out, el)
		})
		return out
	}
}

// mustMatcher compiles a selector already checked by Validate.
func mustMatcher(s string) cascadia.Selector {
	sel, err := cascadia.Compile(s)
	if err != nil {
		panic(fmt.Sprintf("adapter: selector %q failed to recompile: %v", s, err))
	}
	return sel
}

func matcherOrNil(s string) cascadia.Selector {
	if s == "" {
		return nil
	}
	return mustMatcher(s)
}
