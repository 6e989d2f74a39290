// Copyright (C) 2025 The Sleekd Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package db

import (
	"strings"

	"github.com/sleekd/sleekd/lib/share"
)

// SearchQuery is a tokenized search. Terms must all match, exclusions must
// none match.
type SearchQuery struct {
	Terms      []string
	Exclusions []string
}

// ParseSearchQuery splits free text on whitespace into a query. Tokens with
// a leading dash exclude, everything else includes.
func ParseSearchQuery(text string) SearchQuery {
	var q SearchQuery
	for _, tok := range strings.Fields(text) {
		if excl, ok := strings.CutPrefix(tok, "-"); ok {
			if excl != "" {
				q.Exclusions = append(q.Exclusions, excl)
			}
			continue
		}
		q.Terms = append(q.Terms, tok)
	}
	return q
}

// IsEmpty reports whether the query contains no included terms. Exclusions
// alone match nothing.
func (q SearchQuery) IsEmpty() bool {
	for _, t := range q.Terms {
		if sanitizeToken(t) != `""` {
			return false
		}
	}
	return true
}

func (q SearchQuery) matchExpr() string {
	terms := make([]string, 0, len(q.Terms))
	for _, t := range q.Terms {
		if s := sanitizeToken(t); s != `""` {
			terms = append(terms, s)
		}
	}
	excl := make([]string, 0, len(q.Exclusions))
	for _, e := range q.Exclusions {
		if s := sanitizeToken(e); s != `""` {
			excl = append(excl, s)
		}
	}

	expr := "(" + strings.Join(terms, " AND ") + ")"
	if len(excl) > 0 {
		expr += " NOT (" + strings.Join(excl, " OR ") + ")"
	}
	return expr
}

// sanitizeToken renders a token as a quoted FTS string. Path separators and
// other characters that carry meaning in match expressions are spaced out so
// user input can never escape the quotes.
func sanitizeToken(tok string) string {
	tok = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '"':
			return ' '
		}
		return r
	}, tok)
	tok = strings.ReplaceAll(tok, "'", "''")
	return `"` + strings.TrimSpace(tok) + `"`
}

// Search returns the files whose masked names match the query, ascending by
// masked name. Tokens match on word boundaries; exclusions additionally
// drop any substring hit.
func (i *Instance) Search(q SearchQuery) []share.File {
	if q.IsEmpty() {
		return nil
	}

	rows, err := i.db.Query(`
		SELECT `+fileColumnsQualified+` FROM filenames
		JOIN files ON files.maskedFilename = filenames.maskedFilename
		WHERE filenames MATCH ?
		ORDER BY files.maskedFilename`, q.matchExpr())
	observe("search", err)
	if err != nil {
		l.Infof("Search for %q failed: %v", q.Terms, err)
		return nil
	}
	defer rows.Close()

	files := collectFiles(rows)
	if len(q.Exclusions) == 0 {
		return files
	}

	// FTS matches whole tokens. A excluded word hidden inside a longer
	// token still disqualifies the file, so filter again on substrings.
	excl := make([]string, 0, len(q.Exclusions))
	for _, e := range q.Exclusions {
		if e = strings.ToLower(strings.TrimSpace(e)); e != "" {
			excl = append(excl, e)
		}
	}
	res := files[:0]
next:
	for _, f := range files {
		lower := strings.ToLower(f.MaskedFilename)
		for _, e := range excl {
			if strings.Contains(lower, e) {
				continue next
			}
		}
		res = append(res, f)
	}
	return res
}
