package htmlutil

import "testing"

const fixture = `<html><body>
<div class="item first">
  <a href="./4/"><img alt="Magoemon"></a>
  <h5><span class="txt">Magoemon</span></h5>
  <span class="cate_s">Gassho house</span>
</div>
<div class="item">
  <a href="/en/stay/29/">Yokichi</a>
  <h5><span class="txt">Yokichi</span></h5>
</div>
<table id="cal"><tr><td class="day ok">27</td><td class="day ng">28</td></tr></table>
<script>var hidden = "nope";</script>
</body></html>`

func TestQuery(t *testing.T) {
	doc, err := Parse([]byte(fixture))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if got := len(Query(doc, "div.item")); got != 2 {
		t.Errorf("div.item: got %d, want 2", got)
	}
	if got := len(Query(doc, ".item")); got != 2 {
		t.Errorf(".item: got %d, want 2", got)
	}
	if n := First(doc, "#cal"); n == nil || n.Data != "table" {
		t.Error("#cal did not match the table")
	}
	if got := len(Query(doc, "div.item a")); got != 2 {
		t.Errorf("descendant combinator: got %d, want 2", got)
	}
	if n := First(doc, "img[alt=Magoemon]"); n == nil {
		t.Error("attribute selector with value missed")
	}
	if got := len(Query(doc, "td[class]")); got != 2 {
		t.Errorf("bare attribute selector: got %d, want 2", got)
	}
	if Query(doc, "article") != nil {
		t.Error("nonexistent tag matched")
	}
}

func TestText_SkipsScripts(t *testing.T) {
	// WHAT: Text collection normalizes whitespace and ignores script/style.
	doc, _ := Parse([]byte(fixture))
	item := First(doc, "div.first")
	if got := Text(item); got != "Magoemon Gassho house" {
		t.Errorf("got %q", got)
	}
	body := Text(First(doc, "body"))
	if contains := "nope"; len(body) > 0 && stringContains(body, contains) {
		t.Errorf("script text leaked into %q", body)
	}
}

func stringContains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}

func TestAttrAndClosest(t *testing.T) {
	doc, _ := Parse([]byte(fixture))
	a := First(doc, "div.first a")
	if Attr(a, "href") != "./4/" {
		t.Errorf("href: got %q", Attr(a, "href"))
	}
	cell := First(doc, "td.ok")
	if tbl := Closest(cell, "table"); tbl == nil || Attr(tbl, "id") != "cal" {
		t.Error("Closest did not find the enclosing table")
	}
}

func TestAbsURL(t *testing.T) {
	cases := []struct{ base, href, want string }{
		{"https://shirakawa-go.gr.jp/en/stay/?page=1", "./4/", "https://shirakawa-go.gr.jp/en/stay/4/"},
		{"https://shirakawa-go.gr.jp/en/stay/", "/en/stay/29/", "https://shirakawa-go.gr.jp/en/stay/29/"},
		{"https://shirakawa-go.gr.jp/", "https://www2.489pro.com/asp/479/menu.asp?id=21450007", "https://www2.489pro.com/asp/479/menu.asp?id=21450007"},
		{"https://example.com/a/", "b#refine", "https://example.com/a/b"},
	}
	for _, tc := range cases {
		if got := AbsURL(tc.base, tc.href); got != tc.want {
			t.Errorf("AbsURL(%q, %q) = %q, want %q", tc.base, tc.href, got, tc.want)
		}
	}
}
