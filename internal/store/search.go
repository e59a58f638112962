package store

// SearchMessages performs a full-text search on message bodies. When number
// is set, only messages sent from or to it are considered.
func (db *DB) SearchMessages(query, number string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 50
	}

	q := `
		SELECT m.id, m.sid, m.from_number, m.to_number, m.body, m.date_sent, m.status, m.error_code,
		       snippet(messages_fts, '<<', '>>', '...', 0, 32)
		FROM messages_fts f
		JOIN messages m ON m.id = f.docid
		WHERE messages_fts MATCH ?`

	args := []any{query}
	if number != "" {
		q += " AND (m.from_number = ? OR m.to_number = ?)"
		args = append(args, number, number)
	}
	q += " ORDER BY m.date_sent DESC, m.id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		var (
			r      SearchResult
			id     int64
			sentMs int64
		)
		if err := rows.Scan(
			&id, &r.Message.SID, &r.Message.From, &r.Message.To, &r.Message.Body,
			&sentMs, &r.Message.Status, &r.Message.ErrorCode, &r.Snippet,
		); err != nil {
			return nil, err
		}
		r.Message.DateSent = fromMillis(sentMs)
		results = append(results, r)
	}
	return results, rows.Err()
}
