package db

// pageBounds clamps list paging shared by every store: a negative skip reads
// from the start and limit <= 0 means no limit.
func pageBounds(skip, limit int) (int, int) {
	if skip < 0 {
		skip = 0
	}
	if limit < 0 {
		limit = 0
	}
	return skip, limit
}

// sqlLimit maps "no limit" to NULL, which Postgres treats as LIMIT ALL
func sqlLimit(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}
