package domsource

import (
	"strings"
	"testing"
)

func TestHostFromURL(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"https://www.tula.com/cart?step=2", "www.tula.com"},
		{"http://checkout.tula.com", "checkout.tula.com"},
		{"shop.example/cart", "shop.example"},
		{"shop.example", "shop.example"},
		{"", ""},
	}
	for _, c := range cases {
		if got := HostFromURL(c.in); got != c.want {
			t.Errorf("HostFromURL(%q): got %q, want %q", c.in, got, c.want)
		}
	}
}

func TestObserverScript_Shape(t *testing.T) {
	// The script and the Go side agree on the binding name and on the
	// idempotence guard; drift here breaks observation silently.
	if !strings.Contains(observerJS, bindingName) {
		t.Errorf("observer.js does not reference binding %q", bindingName)
	}
	if !strings.Contains(observerJS, "__cartwatch_observing") {
		t.Error("observer.js missing re-injection guard")
	}
	if !strings.Contains(observerJS, "childList") {
		t.Error("observer.js does not watch childList mutations")
	}
}
