package added

import (
	"reflect"
	"testing"
)

func TestSplitMarkers(t *testing.T) {
	v := New()
	if n := v.Add([]string{"[DATE]", "[TIME]", "[DATE]"}, 100, nil); n != 2 {
		t.Fatalf("added=%d", n)
	}
	got := v.Split("on [DATE] at [TIME][DATE]!")
	want := []Segment{
		{Text: "on ", ID: -1},
		{Text: "[DATE]", ID: 100},
		{Text: " at ", ID: -1},
		{Text: "[TIME]", ID: 101},
		{Text: "[DATE]", ID: 100},
		{Text: "!", ID: -1},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %#v", got)
	}
}

func TestSplitLongestFirst(t *testing.T) {
	v := New()
	v.Add([]string{"<m>", "<m>x"}, 5, nil)
	got := v.Split("a<m>xb")
	if len(got) != 3 || got[1].Text != "<m>x" || got[1].ID != 6 {
		t.Fatalf("got %#v", got)
	}
}

func TestAddKnown(t *testing.T) {
	v := New()
	known := func(s string) (int, bool) {
		if s == "[MASK]" {
			return 103, true
		}
		return 0, false
	}
	if n := v.Add([]string{"[MASK]", "[DATE]"}, 500, known); n != 1 {
		t.Fatalf("added=%d", n)
	}
	if id, _ := v.ID("[MASK]"); id != 103 {
		t.Fatalf("known id=%d", id)
	}
	if id, _ := v.ID("[DATE]"); id != 500 {
		t.Fatalf("new id=%d", id)
	}
	if !v.Has(500) || v.Has(7) || v.Len() != 2 {
		t.Fatalf("Has/Len 不正确")
	}
}

func TestSplitEmptyVocab(t *testing.T) {
	got := New().Split("plain")
	if len(got) != 1 || got[0].ID != -1 || got[0].Text != "plain" {
		t.Fatalf("got %#v", got)
	}
}
