package adapter

import "errors"

// ErrStructureChange marks a page whose expected markers are absent. Finding
// no items on a listing is suspicious, not silently "no availability" — the
// run for that source fails loudly so a layout change gets noticed.
var ErrStructureChange = errors.New("adapter: expected page structure not found")
