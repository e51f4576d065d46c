package caltable

import (
	"strconv"
	"testing"
	"time"

	"golang.org/x/net/html"

	"github.com/hazyhaar/yadowatch/adapter/internal/htmlutil"
)

const calendarHTML = `<html><body>
<h3>Traditional Gassho style house (1 Night with 2 meals)</h3>
<table>
 <tr><th>Room type</th><th>8/26 (Tue)</th><th>8/27 (Wed)</th><th>8/28 (Thu)</th><th>8/29 (Fri)</th></tr>
 <tr><td>8 Japanese Tatami mats</td><td>calendar</td><td>-</td><td>○<br>JPY15,400</td><td>×</td><td></td></tr>
 <tr><td>10 Japanese Tatami mats</td><td>×</td><td>×</td><td>×</td><td>×</td></tr>
</table>
<table><tr><td>not a calendar</td></tr></table>
</body></html>`

func mustDoc(t *testing.T, src string) *html.Node {
	t.Helper()
	doc, err := htmlutil.Parse([]byte(src))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return doc
}

func TestFind(t *testing.T) {
	// WHY: booking pages mix calendars with layout tables; only tables with
	// day headers and markers may be treated as availability data.
	doc := mustDoc(t, calendarHTML)
	if got := len(Find(doc)); got != 1 {
		t.Fatalf("Find: got %d tables, want 1", got)
	}
}

func TestParse(t *testing.T) {
	doc := mustDoc(t, calendarHTML)
	tables := Find(doc)
	if len(tables) == 0 {
		t.Fatal("no calendar table found")
	}
	entries := Parse(tables[0])

	// The "calendar" link cell must not shift day alignment: the 8-mat row's
	// markers are -, ○JPY15,400, × on 26..28 with a trailing blank.
	want := map[string]Mark{
		"8 Japanese Tatami mats/8/26":  MarkClosed,
		"8 Japanese Tatami mats/8/27":  MarkOpen,
		"8 Japanese Tatami mats/8/28":  MarkFull,
		"10 Japanese Tatami mats/8/26": MarkFull,
		"10 Japanese Tatami mats/8/27": MarkFull,
		"10 Japanese Tatami mats/8/28": MarkFull,
		"10 Japanese Tatami mats/8/29": MarkFull,
	}
	got := make(map[string]Mark)
	for _, e := range entries {
		key := e.Unit + "/" + strconv.Itoa(int(e.Month)) + "/" + strconv.Itoa(e.Day)
		got[key] = e.Mark
		if e.Mark == MarkOpen && e.Price != "JPY15,400" {
			t.Errorf("open cell price: got %q, want JPY15,400", e.Price)
		}
		if e.Mark != MarkOpen && e.Price != "" {
			t.Errorf("non-open cell %s carries price %q", key, e.Price)
		}
		if e.Month != time.August {
			t.Errorf("month: got %v", e.Month)
		}
	}
	for key, mark := range want {
		if got[key] != mark {
			t.Errorf("%s: got %v, want %v", key, got[key], mark)
		}
	}
	if len(got) != len(want) {
		t.Errorf("entry count: got %d, want %d (%v)", len(got), len(want), got)
	}
}

func TestParse_Idempotent(t *testing.T) {
	// WHAT: the same fixture yields the identical entry set run after run.
	doc := mustDoc(t, calendarHTML)
	table := Find(doc)[0]
	a := Parse(table)
	b := Parse(table)
	if len(a) != len(b) {
		t.Fatalf("entry counts differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("entry %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestParse_NoHeader(t *testing.T) {
	doc := mustDoc(t, `<table><tr><td>Room</td><td>○</td></tr></table>`)
	tables := htmlutil.Query(doc, "table")
	if entries := Parse(tables[0]); entries != nil {
		t.Errorf("table without day header produced entries: %v", entries)
	}
}
