package flow

import (
	"math"
	"testing"
)

func TestTableAddAndLookup(t *testing.T) {
	tbl := NewTable(2)
	if err := tbl.AddNumeric("a", []float64{1, 2}); err != nil {
		t.Fatalf("AddNumeric failed: %v", err)
	}
	if err := tbl.AddText("Label", []string{"x", "y"}); err != nil {
		t.Fatalf("AddText failed: %v", err)
	}

	if tbl.Len() != 2 || tbl.Width() != 2 {
		t.Fatalf("expected 2x2 table, got %dx%d", tbl.Len(), tbl.Width())
	}

	names := tbl.Names()
	if names[0] != "a" || names[1] != "Label" {
		t.Errorf("unexpected column order %v", names)
	}

	c, ok := tbl.Column("Label")
	if !ok || c.Kind != Text || c.Strings[1] != "y" {
		t.Errorf("Label lookup returned %+v, %v", c, ok)
	}
	if _, ok := tbl.Column("missing"); ok {
		t.Error("expected lookup of missing column to fail")
	}
}

func TestTableRejectsBadColumns(t *testing.T) {
	tbl := NewTable(2)
	if err := tbl.AddNumeric("a", []float64{1}); err == nil {
		t.Error("expected length mismatch error")
	}
	if err := tbl.AddNumeric("a", []float64{1, 2}); err != nil {
		t.Fatalf("AddNumeric failed: %v", err)
	}
	if err := tbl.AddNumeric("a", []float64{3, 4}); err == nil {
		t.Error("expected duplicate column error")
	}
}

func TestTableCloneIsDeep(t *testing.T) {
	tbl := NewTable(1)
	_ = tbl.AddNumeric("a", []float64{1})
	_ = tbl.AddText("b", []string{"x"})

	cp := tbl.Clone()
	a, _ := cp.Column("a")
	a.Numbers[0] = 42
	b, _ := cp.Column("b")
	b.Strings[0] = "changed"

	orig, _ := tbl.Column("a")
	if orig.Numbers[0] != 1 {
		t.Errorf("clone shares numeric storage: got %v", orig.Numbers[0])
	}
	origB, _ := tbl.Column("b")
	if origB.Strings[0] != "x" {
		t.Errorf("clone shares text storage: got %q", origB.Strings[0])
	}
}

func TestRowRendersNonFiniteAsNil(t *testing.T) {
	tbl := NewTable(1)
	_ = tbl.AddNumeric("nan", []float64{math.NaN()})
	_ = tbl.AddNumeric("inf", []float64{math.Inf(1)})
	_ = tbl.AddNumeric("ok", []float64{3.5})

	row := tbl.Row(0)
	if row["nan"] != nil || row["inf"] != nil {
		t.Errorf("expected nil for non-finite values, got %v / %v", row["nan"], row["inf"])
	}
	if row["ok"] != 3.5 {
		t.Errorf("expected 3.5, got %v", row["ok"])
	}
}
