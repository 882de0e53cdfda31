package gridcore

import "testing"

func baseParams() Params {
	return Params{
		BaseQty:             10,
		TakeProfitSpacing:   0.01,
		GridSpacing:         0.01,
		Leverage:            1,
		ThresholdMultiplier: 20,
		LimitMultiplier:     5,
		FeePct:              0,
	}
}

func TestDecideDeterministic(t *testing.T) {
	p := baseParams()
	d1, err1 := Decide(SideLong, 100, 10, 0, p)
	d2, err2 := Decide(SideLong, 100, 10, 0, p)
	if err1 != nil || err2 != nil {
		t.Fatalf("unexpected errors: %v %v", err1, err2)
	}
	if d1 != d2 {
		t.Fatalf("Decide is not deterministic: %+v != %+v", d1, d2)
	}
}

func TestDecideConfigurationInvalid(t *testing.T) {
	p := baseParams()
	cases := []Params{
		{BaseQty: 0, TakeProfitSpacing: 0.01, GridSpacing: 0.01},
		{BaseQty: 10, TakeProfitSpacing: 0, GridSpacing: 0.01},
		{BaseQty: 10, TakeProfitSpacing: 0.01, GridSpacing: 0},
		{BaseQty: -5, TakeProfitSpacing: 0.01, GridSpacing: 0.01},
	}
	for i, c := range cases {
		_, err := Decide(SideLong, 100, 0, 0, c)
		if err != ErrConfigurationInvalid {
			t.Fatalf("case %d (base=%+v): expected ErrConfigurationInvalid, got %v", i, p, err)
		}
	}
}

func TestDecideLongPrices(t *testing.T) {
	p := baseParams()
	d, err := Decide(SideLong, 100, 0, 0, p)
	if err != nil {
		t.Fatal(err)
	}
	if want := 101.0; d.TPPrice != want {
		t.Fatalf("TPPrice = %v, want %v", d.TPPrice, want)
	}
	if want := 99.0; d.EntryPrice != want {
		t.Fatalf("EntryPrice = %v, want %v", d.EntryPrice, want)
	}
}

func TestDecideShortPrices(t *testing.T) {
	p := baseParams()
	d, err := Decide(SideShort, 100, 0, 0, p)
	if err != nil {
		t.Fatal(err)
	}
	if want := 99.0; d.TPPrice != want {
		t.Fatalf("TPPrice = %v, want %v", d.TPPrice, want)
	}
	if want := 101.0; d.EntryPrice != want {
		t.Fatalf("EntryPrice = %v, want %v", d.EntryPrice, want)
	}
}

func TestDeadModeEngagesAboveThresholdAndAsymmetric(t *testing.T) {
	p := baseParams() // threshold = 10*20 = 200
	d, err := Decide(SideLong, 100, 200, 50, p)
	if err != nil {
		t.Fatal(err)
	}
	if !d.DeadMode || !d.EntryDisabled {
		t.Fatalf("expected dead mode engaged, got %+v", d)
	}
}

func TestDeadModeDoesNotEngageWhenSymmetric(t *testing.T) {
	p := baseParams()
	// my_position == opposite_position: the ">" clause means not dead.
	d, err := Decide(SideLong, 100, 200, 200, p)
	if err != nil {
		t.Fatal(err)
	}
	if d.DeadMode {
		t.Fatalf("expected dead mode NOT engaged on symmetric exposure, got %+v", d)
	}
}

func TestTPQtyDoublesAtLimit(t *testing.T) {
	p := Params{BaseQty: 10, TakeProfitSpacing: 0.01, GridSpacing: 0.01, Leverage: 1, ThresholdMultiplier: 20, LimitMultiplier: 3}
	// E3: after 4 entries exposure = 40 >= limit (30), tp_qty must be 20.
	d, err := Decide(SideLong, 100, 40, 0, p)
	if err != nil {
		t.Fatal(err)
	}
	if d.TPQty != 20 {
		t.Fatalf("TPQty = %v, want 20", d.TPQty)
	}
}

func TestTPQtyBaseBelowLimit(t *testing.T) {
	p := baseParams() // limit = 50
	d, err := Decide(SideLong, 100, 10, 0, p)
	if err != nil {
		t.Fatal(err)
	}
	if d.TPQty != p.BaseQty {
		t.Fatalf("TPQty = %v, want %v", d.TPQty, p.BaseQty)
	}
}

func TestEntryAndTakeProfitTriggers(t *testing.T) {
	p := baseParams()
	d, _ := Decide(SideLong, 100, 0, 0, p)
	if !EntryTriggered(SideLong, 99, d) {
		t.Fatalf("expected long entry to trigger at mark=99 (entry=%v)", d.EntryPrice)
	}
	if EntryTriggered(SideLong, 99.5, d) {
		t.Fatalf("did not expect long entry to trigger above entry price")
	}
	if !TakeProfitTriggered(SideLong, 101.01, d, 10) {
		t.Fatalf("expected long TP to trigger at mark=101.01 (tp=%v)", d.TPPrice)
	}
	if TakeProfitTriggered(SideLong, 101.01, d, 0) {
		t.Fatalf("TP must not trigger with zero exposure")
	}
}

func TestEntryDisabledInDeadMode(t *testing.T) {
	p := baseParams()
	d, _ := Decide(SideLong, 100, 250, 50, p)
	if EntryTriggered(SideLong, 50, d) {
		t.Fatalf("entry must never trigger while dead mode suppresses entry price")
	}
}
