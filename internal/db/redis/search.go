package redis

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/redis/rueidis"

	"github.com/kailas-cloud/sightdex/internal/db"
)

const (
	defaultVectorField = "__vector"
	defaultTextField   = "__content"
	vectorScoreField   = "__vector_score"
)

// SearchKNN runs a KNN vector similarity search via FT.SEARCH.
// Scores are cosine similarities clamped to [0,1].
func (s *Store) SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
	if q.IndexName == "" {
		return nil, fmt.Errorf("index name is required")
	}
	if len(q.Vector) == 0 {
		return nil, fmt.Errorf("vector is required")
	}
	if q.K <= 0 {
		return nil, fmt.Errorf("k must be positive")
	}

	field := q.VectorField
	if field == "" {
		field = defaultVectorField
	}

	prefilter := "*"
	if f := buildFilter(q.Filters); f != "" {
		prefilter = "(" + f + ")"
	}
	queryStr := fmt.Sprintf("%s=>[KNN %d @%s $BLOB]", prefilter, q.K, field)

	args := []string{q.IndexName, queryStr}
	args = appendReturn(args, q.ReturnFields, vectorScoreField)
	args = append(args,
		"SORTBY", vectorScoreField,
		"LIMIT", "0", strconv.Itoa(q.K),
		"PARAMS", "2", "BLOB", vectorToBytes(q.Vector),
		"DIALECT", "2",
	)

	cmd := s.b().Arbitrary("FT.SEARCH").Args(args...).Build()
	raw, err := s.do(ctx, cmd).ToArray()
	if err != nil {
		return nil, &db.Error{Op: db.OpSearch, Err: err}
	}
	return parseKNNResult(raw)
}

// SearchBM25 runs a BM25 text search via FT.SEARCH. Scores are raw BM25.
func (s *Store) SearchBM25(ctx context.Context, q *db.TextQuery) (*db.SearchResult, error) {
	if q.IndexName == "" {
		return nil, fmt.Errorf("index name is required")
	}
	if strings.TrimSpace(q.Query) == "" {
		return nil, fmt.Errorf("query is required")
	}
	if q.TopK <= 0 {
		return nil, fmt.Errorf("topK must be positive")
	}

	field := q.TextField
	if field == "" {
		field = defaultTextField
	}

	// terms are OR-ed so partial matches still score
	terms := strings.Fields(q.Query)
	for i, t := range terms {
		terms[i] = escapeQuery(t)
	}
	queryStr := fmt.Sprintf("@%s:(%s)", field, strings.Join(terms, "|"))
	if f := buildFilter(q.Filters); f != "" {
		queryStr = f + " " + queryStr
	}

	args := []string{q.IndexName, queryStr}
	args = appendReturn(args, q.ReturnFields)
	args = append(args,
		"WITHSCORES",
		"SCORER", "BM25",
		"LIMIT", "0", strconv.Itoa(q.TopK),
		"DIALECT", "2",
	)

	cmd := s.b().Arbitrary("FT.SEARCH").Args(args...).Build()
	raw, err := s.do(ctx, cmd).ToArray()
	if err != nil {
		return nil, &db.Error{Op: db.OpSearch, Err: err}
	}
	return parseBM25Result(raw)
}

func appendReturn(args, fields []string, extra ...string) []string {
	if len(fields) == 0 {
		return args
	}
	all := append(append([]string{}, fields...), extra...)
	args = append(args, "RETURN", strconv.Itoa(len(all)))
	return append(args, all...)
}

// --- Result parsing ---

// parseKNNResult reads the 2-stride reply: [total, key1, fields1, key2, fields2, ...].
func parseKNNResult(raw []rueidis.RedisMessage) (*db.SearchResult, error) {
	total, ok, err := parseTotal(raw)
	if err != nil || !ok {
		return &db.SearchResult{}, err
	}

	entries := make([]db.SearchEntry, 0, (len(raw)-1)/2)
	for i := 1; i+1 < len(raw); i += 2 {
		key, err := raw[i].ToString()
		if err != nil {
			continue
		}
		fields, err := raw[i+1].ToArray()
		if err != nil {
			continue
		}

		entry := db.SearchEntry{Key: key, Fields: parseFieldPairs(fields)}
		if dist, ok := entry.Fields[vectorScoreField]; ok {
			if d, err := strconv.ParseFloat(dist, 64); err == nil {
				entry.Score = max(0, 1.0-d) // cosine distance → similarity
			}
			delete(entry.Fields, vectorScoreField)
		}
		entries = append(entries, entry)
	}
	return &db.SearchResult{Total: total, Entries: entries}, nil
}

// parseBM25Result reads the 3-stride reply: [total, key1, score1, fields1, ...].
func parseBM25Result(raw []rueidis.RedisMessage) (*db.SearchResult, error) {
	total, ok, err := parseTotal(raw)
	if err != nil || !ok {
		return &db.SearchResult{}, err
	}

	entries := make([]db.SearchEntry, 0, (len(raw)-1)/3)
	for i := 1; i+2 < len(raw); i += 3 {
		key, err := raw[i].ToString()
		if err != nil {
			continue
		}
		scoreStr, err := raw[i+1].ToString()
		if err != nil {
			continue
		}
		score, err := strconv.ParseFloat(scoreStr, 64)
		if err != nil {
			continue
		}
		fields, err := raw[i+2].ToArray()
		if err != nil {
			continue
		}
		entries = append(entries, db.SearchEntry{Key: key, Score: score, Fields: parseFieldPairs(fields)})
	}
	return &db.SearchResult{Total: total, Entries: entries}, nil
}

func parseTotal(raw []rueidis.RedisMessage) (int, bool, error) {
	if len(raw) == 0 {
		return 0, false, nil
	}
	total, err := raw[0].AsInt64()
	if err != nil {
		return 0, false, fmt.Errorf("parse total: %w", err)
	}
	return int(total), total > 0, nil
}

func parseFieldPairs(fields []rueidis.RedisMessage) map[string]string {
	m := make(map[string]string, len(fields)/2)
	for j := 0; j+1 < len(fields); j += 2 {
		name, err := fields[j].ToString()
		if err != nil {
			continue
		}
		value, err := fields[j+1].ToString()
		if err != nil {
			continue
		}
		m[name] = value
	}
	return m
}

// --- Filter building ---

// buildFilter AND-s tag filters; values within one filter are OR-ed.
func buildFilter(filters []db.TagFilter) string {
	parts := make([]string, 0, len(filters))
	for _, f := range filters {
		if f.Field == "" || len(f.Values) == 0 {
			continue
		}
		vals := make([]string, len(f.Values))
		for i, v := range f.Values {
			vals[i] = tagEscaper.Replace(v)
		}
		parts = append(parts, fmt.Sprintf("@%s:{%s}", f.Field, strings.Join(vals, " | ")))
	}
	return strings.Join(parts, " ")
}

var tagEscaper = strings.NewReplacer(
	",", "\\,", ".", "\\.", "<", "\\<", ">", "\\>",
	"{", "\\{", "}", "\\}", "\"", "\\\"", "'", "\\'",
	":", "\\:", ";", "\\;", "!", "\\!", "@", "\\@",
	"#", "\\#", "$", "\\$", "%", "\\%", "^", "\\^",
	"&", "\\&", "*", "\\*", "(", "\\(", ")", "\\)",
	"-", "\\-", "+", "\\+", "=", "\\=", "~", "\\~",
	"|", "\\|", " ", "\\ ",
)

func escapeQuery(s string) string {
	return queryEscaper.Replace(s)
}

var queryEscaper = strings.NewReplacer(
	`\`, `\\`, `'`, `\'`, `"`, `\"`, `@`, `\@`,
	`{`, `\{`, `}`, `\}`, `(`, `\(`, `)`, `\)`,
	`|`, `\|`, `-`, `\-`, `~`, `\~`, `*`, `\*`,
	`[`, `\[`, `]`, `\]`, `!`, `\!`, `%`, `\%`,
	`^`, `\^`, `$`, `\$`, `<`, `\<`, `>`, `\>`,
	`=`, `\=`, `;`, `\;`, `+`, `\+`, `,`, `\,`,
	`.`, `\.`, `:`, `\:`,
)

// vectorToBytes encodes a vector as little-endian FLOAT32 for PARAMS BLOB.
func vectorToBytes(v []float32) string {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return string(buf)
}
