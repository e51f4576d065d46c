package stay

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"github.com/hazyhaar/yadowatch/adapter"
	"github.com/hazyhaar/yadowatch/adapter/internal/htmlutil"
)

// listItem is one accommodation found on the search-result pages.
type listItem struct {
	Name     string
	URL      string
	Category string
}

// listItems walks the paginated search results and collects every listed
// accommodation. An empty first page fails the whole run: the listing losing
// its item markup is a layout change, not an empty village.
func (a *Adapter) listItems(ctx context.Context) ([]listItem, error) {
	var items []listItem
	seen := make(map[string]bool)

	for page := 1; page <= maxListingPages; page++ {
		pageURL := listingPageURL(a.params.URL, page)

		var pageItems []listItem
		var hasNext bool
		err := adapter.Retry(ctx, a.params.Retries, func() error {
			res, err := a.env.Fetch.Get(ctx, pageURL)
			if err != nil {
				return err
			}
			doc, err := htmlutil.Parse(res.Body)
			if err != nil {
				return err
			}
			pageItems = extractItems(doc, pageURL, a.itemSelector)
			hasNext = hasNextPage(doc)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("stay: listing page %d: %w", page, err)
		}

		if len(pageItems) == 0 {
			if page == 1 {
				return nil, fmt.Errorf("stay: %s: no items on listing: %w", pageURL, adapter.ErrStructureChange)
			}
			break
		}
		for _, it := range pageItems {
			if !seen[it.URL] {
				seen[it.URL] = true
				items = append(items, it)
			}
		}
		if !hasNext {
			break
		}
	}
	return items, nil
}

// listingPageURL builds the URL of the nth result page: the raw entry URL
// for page 1, otherwise a page parameter appended after stripping any
// fragment.
func listingPageURL(root string, page int) string {
	if page == 1 {
		return root
	}
	base := root
	if i := strings.Index(base, "#"); i >= 0 {
		base = base[:i]
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%spage=%d", base, sep, page)
}

// extractItems reads the accommodation cards off one listing page. The name
// comes from the card's h5 heading (its span.txt when present), falling back
// to the image alt text.
func extractItems(doc *html.Node, pageURL, selector string) []listItem {
	var items []listItem
	for _, card := range htmlutil.Query(doc, selector) {
		anchor := htmlutil.First(card, "a")
		if anchor == nil {
			continue
		}
		href := htmlutil.Attr(anchor, "href")
		if href == "" {
			continue
		}

		name := ""
		if h5 := htmlutil.First(card, "h5"); h5 != nil {
			if span := htmlutil.First(h5, "span.txt"); span != nil {
				name = htmlutil.Text(span)
			} else {
				name = htmlutil.Text(h5)
			}
		}
		if name == "" {
			if img := htmlutil.First(card, "img"); img != nil {
				name = htmlutil.Attr(img, "alt")
			}
		}
		if name == "" {
			continue
		}

		category := ""
		if cat := htmlutil.First(card, "span.cate_s"); cat != nil {
			category = htmlutil.Text(cat)
		}
		items = append(items, listItem{
			Name:     name,
			URL:      htmlutil.AbsURL(pageURL, href),
			Category: category,
		})
	}
	return items
}

// hasNextPage reports whether the listing's pager advertises another page.
func hasNextPage(doc *html.Node) bool {
	pager := htmlutil.First(doc, "div.tmp_pager")
	if pager == nil {
		return false
	}
	return htmlutil.First(pager, "li.next") != nil
}
