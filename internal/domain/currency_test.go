package domain

import "testing"

func TestParsePair(t *testing.T) {
	cases := []struct {
		in      string
		wantErr bool
		base    Currency
		quote   Currency
	}{
		{"BTC_ETH", false, BTC, ETH},
		{"XRP_NEO", false, XRP, NEO},
		{"BTC", true, "", ""},
		{"BTC_FOO", true, "", ""},
		{"FOO_BTC", true, "", ""},
		{"", true, "", ""},
	}

	for _, tc := range cases {
		pair, err := ParsePair(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParsePair(%q): expected error, got %v", tc.in, pair)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParsePair(%q): unexpected error: %v", tc.in, err)
		}
		if pair.Base != tc.base || pair.Quote != tc.quote {
			t.Errorf("ParsePair(%q) = %+v, want base=%s quote=%s", tc.in, pair, tc.base, tc.quote)
		}
	}
}

func TestPairString(t *testing.T) {
	p := Pair{Base: BTC, Quote: ETH}
	if p.String() != "BTC_ETH" {
		t.Errorf("got %q, want BTC_ETH", p.String())
	}
}

func TestCurrencyValid(t *testing.T) {
	if !BTC.Valid() {
		t.Error("BTC should be valid")
	}
	if Currency("DOGE").Valid() {
		t.Error("DOGE should not be valid")
	}
}
