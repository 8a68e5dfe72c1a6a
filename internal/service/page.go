package service

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 100
)

// Page selects a window of a newest-first listing.
type Page struct {
	Skip  int
	Limit int
}

func NewPage(skip, limit int) Page {
	if limit <= 0 || limit > MaxPageLimit {
		limit = DefaultPageLimit
	}
	if skip < 0 {
		skip = 0
	}
	return Page{Skip: skip, Limit: limit}
}
