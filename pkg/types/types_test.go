package types

import "testing"

func TestSideOpposite(t *testing.T) {
	t.Parallel()

	if SideYes.Opposite() != SideNo {
		t.Errorf("SideYes.Opposite() = %v, want %v", SideYes.Opposite(), SideNo)
	}
	if SideNo.Opposite() != SideYes {
		t.Errorf("SideNo.Opposite() = %v, want %v", SideNo.Opposite(), SideYes)
	}
}

func TestMarketInfoPriceAndTokenFor(t *testing.T) {
	t.Parallel()

	m := MarketInfo{
		YesPrice:   0.80,
		NoPrice:    0.20,
		YesTokenID: "tok-yes",
		NoTokenID:  "tok-no",
	}

	if got := m.PriceFor(SideYes); got != 0.80 {
		t.Errorf("PriceFor(yes) = %v, want 0.80", got)
	}
	if got := m.PriceFor(SideNo); got != 0.20 {
		t.Errorf("PriceFor(no) = %v, want 0.20", got)
	}
	if got := m.TokenFor(SideYes); got != "tok-yes" {
		t.Errorf("TokenFor(yes) = %q, want tok-yes", got)
	}
	if got := m.TokenFor(SideNo); got != "tok-no" {
		t.Errorf("TokenFor(no) = %q, want tok-no", got)
	}
}

func TestMarketInfoTradable(t *testing.T) {
	t.Parallel()

	m := MarketInfo{Active: true, AcceptingOrders: true, OrderBookEnabled: true}
	if !m.Tradable() {
		t.Error("expected tradable market")
	}

	closed := m
	closed.Closed = true
	if closed.Tradable() {
		t.Error("closed market should not be tradable")
	}

	noBook := m
	noBook.OrderBookEnabled = false
	if noBook.Tradable() {
		t.Error("market without order book should not be tradable")
	}
}

func TestBetRecordSettled(t *testing.T) {
	t.Parallel()

	b := BetRecord{Result: ResultPending}
	if b.Settled() {
		t.Error("pending bet should not be settled")
	}
	b.Result = ResultWon
	if !b.Settled() {
		t.Error("won bet should be settled")
	}
}
