package registrytest

import (
	"fmt"
	"net/http"
	"strconv"
)

// paginate selects the page of items following the query's "last" key,
// with at most "n" entries, and sets a Link header when more follow.
// items must already be in listing order.
func (r *Registry) paginate(w http.ResponseWriter, req *http.Request, n int, items []string) []string {
	q := req.URL.Query()

	start := 0
	if last := q.Get("last"); last != "" {
		start = len(items)
		found := false
		for i, item := range items {
			if item == last {
				start, found = i+1, true
				break
			}
		}
		// Unknown keys resume at the first item sorting above them.
		if !found {
			for i, item := range items {
				if item > last {
					start = i
					break
				}
			}
		}
	}

	end := min(start+n, len(items))
	page := items[start:end]
	if end < len(items) {
		q.Set("n", strconv.Itoa(n))
		q.Set("last", page[len(page)-1])
		w.Header().Set("Link", fmt.Sprintf(`<%s?%s>; rel="next"`, req.URL.Path, q.Encode()))
	}
	return page
}

// pageSize reads the "n" parameter, capped at the registry maximum.
func (r *Registry) pageSize(req *http.Request) (int, error) {
	raw := req.URL.Query().Get("n")
	if raw == "" {
		return r.maxPageSize, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid page size %q", raw)
	}
	if n == 0 || n > r.maxPageSize {
		return r.maxPageSize, nil
	}
	return n, nil
}
