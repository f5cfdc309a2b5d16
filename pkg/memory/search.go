package memory

import (
	"iter"
	"strings"
)

// Hit is one search match: the record plus the date of the log it came
// from.
type Hit struct {
	Date   string
	Record Record
}

// Search returns a lazy, restartable sequence of records whose text
// contains the query, case-insensitively. Matches are yielded ordered
// by date ascending, then by record order within the day (which is
// timestamp order). from/to bound the date range inclusively; empty
// strings leave the corresponding end open. The sequence is
// deterministic for identical store contents and arguments.
func (s *Store) Search(query, from, to string) iter.Seq2[Hit, error] {
	queryLower := strings.ToLower(query)
	return func(yield func(Hit, error) bool) {
		dates, err := s.logDates()
		if err != nil {
			yield(Hit{}, err)
			return
		}
		for _, date := range dates {
			if from != "" && date < from {
				continue
			}
			if to != "" && date > to {
				continue
			}
			records, err := s.ReadDailyLog(date)
			if err != nil {
				yield(Hit{}, err)
				return
			}
			for _, rec := range records {
				if !strings.Contains(strings.ToLower(rec.Text), queryLower) {
					continue
				}
				if !yield(Hit{Date: date, Record: rec}, nil) {
					return
				}
			}
		}
	}
}

// SearchLogs collects up to limit search hits into a slice. A limit of
// zero or less means no cap.
func (s *Store) SearchLogs(query, from, to string, limit int) ([]Hit, error) {
	var hits []Hit
	for hit, err := range s.Search(query, from, to) {
		if err != nil {
			return nil, err
		}
		hits = append(hits, hit)
		if limit > 0 && len(hits) >= limit {
			break
		}
	}
	return hits, nil
}
