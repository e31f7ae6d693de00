package world

// SortOrder is the id ordering of a list call
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// ListParams are the pagination parameters accepted by every list call
type ListParams struct {
	Limit     int       `json:"limit,omitempty"`
	Cursor    string    `json:"cursor,omitempty"`
	SortOrder SortOrder `json:"sortOrder,omitempty"`
}

// Page is one page of a list result. Cursor is the id of the last entity
// in Data, or nil when Data is empty.
type Page[T any] struct {
	Data    []T     `json:"data"`
	Cursor  *string `json:"cursor"`
	HasMore bool    `json:"hasMore"`
}

// pageQuery resolves defaults and returns the look-ahead window: one row
// more than the page size so HasMore needs no count query.
func (p ListParams) pageQuery(defaultLimit, maxLimit int, defaultOrder SortOrder) (PageQuery, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if maxLimit > 0 && limit > maxLimit {
		limit = maxLimit
	}

	order := p.SortOrder
	switch order {
	case "":
		order = defaultOrder
	case SortAsc, SortDesc:
	default:
		return PageQuery{}, InvalidArgument("invalid sort order %q", p.SortOrder)
	}

	return PageQuery{Limit: limit + 1, Cursor: p.Cursor, Order: order}, nil
}

// paginate truncates a look-ahead fetch of q.Limit rows into a page
func paginate[T any](rows []T, q PageQuery, idOf func(T) string) Page[T] {
	limit := q.Limit - 1
	hasMore := len(rows) > limit
	if hasMore {
		rows = rows[:limit]
	}
	if rows == nil {
		rows = []T{}
	}

	page := Page[T]{Data: rows, HasMore: hasMore}
	if len(rows) > 0 {
		last := idOf(rows[len(rows)-1])
		page.Cursor = &last
	}
	return page
}
