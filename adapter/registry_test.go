package adapter

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
)

func parseDoc(t *testing.T, body string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		t.Fatalf("parse fixture: %v", err)
	}
	return doc
}

func TestTopLevelDomain(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"checkout.tula.com", "tula.com"},
		{"www.tula.com", "tula.com"},
		{"us.tula.com", "tula.com"},
		{"tula.com", "tula.com"},
		{"shop.eu.tula.com", "tula.com"},
		{"https://www.tula.com/cart", "tula.com"},
		{"WWW.Tula.COM", "tula.com"},
		{"tula.com.", "tula.com"},
		{"www.tula.com:8443", "tula.com"},
		{"localhost", "localhost"},
		{"", ""},
	}
	for _, c := range cases {
		if got := TopLevelDomain(c.in); got != c.want {
			t.Errorf("TopLevelDomain(%q): got %q, want %q", c.in, got, c.want)
		}
	}
}

func TestResolve_FallbackIsTotal(t *testing.T) {
	r := New()
	doc := parseDoc(t, `<html><body><button class="checkout">Go</button></body></html>`)

	b := r.Resolve("unregistered.example")

	if got := b.CheckoutButtons(doc.Selection); len(got) != 0 {
		t.Errorf("fallback CheckoutButtons: got %d elements, want 0", len(got))
	}
	if got := b.PlaceOrderButtons(doc.Selection); len(got) != 0 {
		t.Errorf("fallback PlaceOrderButtons: got %d elements, want 0", len(got))
	}
	if got := b.CheckoutButtonLabels(doc.Selection); len(got) != 0 {
		t.Errorf("fallback CheckoutButtonLabels: got %d elements, want 0", len(got))
	}
	if got := b.AddToCartButtons(doc.Selection); len(got) != 0 {
		t.Errorf("fallback AddToCartButtons: got %d elements, want 0", len(got))
	}
	if got := b.CartItems(doc.Selection); len(got) != 0 {
		t.Errorf("fallback CartItems: got %d items, want 0", len(got))
	}
	if b.OneClick != nil {
		t.Error("fallback OneClick: got capability, want nil")
	}
}

func TestRegister_CollapsesSubdomains(t *testing.T) {
	r := New()
	marker := func(root *goquery.Selection) []*goquery.Selection {
		return []*goquery.Selection{root}
	}
	r.Register(Bundle{CheckoutButtons: marker},
		"www.tula.com", "checkout.tula.com", "shop.tula.com")

	if got := len(r.Domains()); got != 1 {
		t.Fatalf("registered domains: got %d (%v), want 1", got, r.Domains())
	}
	for _, host := range []string{"www.tula.com", "checkout.tula.com", "us.tula.com", "tula.com"} {
		b := r.Resolve(host)
		if got := b.CheckoutButtons(nil); len(got) != 1 {
			t.Errorf("Resolve(%q) returned fallback, want registered bundle", host)
		}
	}
}

func TestRegister_LastRegistrationWins(t *testing.T) {
	r := New()
	b1 := Bundle{CheckoutButtons: func(*goquery.Selection) []*goquery.Selection {
		return make([]*goquery.Selection, 1)
	}}
	b2 := Bundle{CheckoutButtons: func(*goquery.Selection) []*goquery.Selection {
		return make([]*goquery.Selection, 2)
	}}

	r.Register(b1, "tula.com")
	r.Register(b2, "www.tula.com")

	if got := len(r.Resolve("tula.com").CheckoutButtons(nil)); got != 2 {
		t.Errorf("after overwrite: got bundle returning %d, want 2", got)
	}
}

func TestRegister_NilMembersFilled(t *testing.T) {
	r := New()
	r.Register(Bundle{}, "tula.com") // every query function nil

	b := r.Resolve("tula.com")
	doc := parseDoc(t, `<html><body></body></html>`)
	if got := b.CartItems(doc.Selection); len(got) != 0 {
		t.Errorf("nil CartItems not filled: got %d items", len(got))
	}
	if b.CheckoutButtons == nil {
		t.Error("nil CheckoutButtons not filled from fallback")
	}
}

func TestHas(t *testing.T) {
	r := New()
	r.Register(Bundle{}, "tula.com")

	if !r.Has("checkout.tula.com") {
		t.Error("Has(registered subdomain): got false")
	}
	if r.Has("other.example") {
		t.Error("Has(unregistered): got true")
	}
}

func TestReplace_Atomic(t *testing.T) {
	r := New()
	r.Register(Bundle{}, "old.example")

	r.Replace(map[string]Bundle{"www.new.example": {}})

	if r.Has("old.example") {
		t.Error("Replace kept stale domain")
	}
	if !r.Has("new.example") {
		t.Error("Replace did not key new bundle by top-level domain")
	}
}
