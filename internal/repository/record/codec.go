package record

import (
	"encoding/binary"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/kailas-cloud/sightdex/internal/domain"
	"github.com/kailas-cloud/sightdex/internal/domain/record"
	"github.com/kailas-cloud/sightdex/internal/domain/search/candidate"
)

// IndexName is the FT index over record hashes.
const IndexName = domain.KeyPrefix + "records"

const keyPrefix = domain.KeyPrefix + "record:"

// Hash field names.
const (
	FieldTitle       = "title"
	FieldBody        = "body"
	FieldContent     = "__content"
	FieldCategory    = "category"
	FieldTags        = "tags"
	FieldLocation    = "location"
	FieldLat         = "lat"
	FieldLng         = "lng"
	FieldOccurredAt  = "occurred_at"
	FieldCreatedAt   = "created_at"
	FieldVector      = "__vector"
	FieldNoExtract   = "extraction_unavailable"
	tagSeparator     = ","
	flagTrue         = "1"
)

// Key returns the hash key of a record.
func Key(id string) string { return keyPrefix + id }

// IDFromKey strips the record key prefix.
func IDFromKey(key string) string { return strings.TrimPrefix(key, keyPrefix) }

// ReturnFields lists the hash fields a search needs to build a candidate.
// The vector is left out to keep replies small.
func ReturnFields() []string {
	return []string{
		FieldTitle, FieldBody, FieldCategory, FieldTags, FieldLocation,
		FieldLat, FieldLng, FieldOccurredAt, FieldCreatedAt,
	}
}

func encode(r *record.Record) map[string]string {
	f := map[string]string{
		FieldTitle:     r.Title,
		FieldBody:      r.Body,
		FieldContent:   strings.TrimSpace(r.Title + "\n" + r.Body),
		FieldCategory:  r.CategorySlug,
		FieldTags:      strings.Join(r.Tags, tagSeparator),
		FieldLocation:  r.LocationText,
		FieldCreatedAt: strconv.FormatInt(r.CreatedAt.UnixMilli(), 10),
	}
	if r.Coordinates != nil {
		f[FieldLat] = strconv.FormatFloat(r.Coordinates.Lat, 'f', -1, 64)
		f[FieldLng] = strconv.FormatFloat(r.Coordinates.Lng, 'f', -1, 64)
	}
	if r.OccurredAt != nil {
		f[FieldOccurredAt] = strconv.FormatInt(r.OccurredAt.UnixMilli(), 10)
	}
	if len(r.Vector) > 0 {
		f[FieldVector] = EncodeVector(r.Vector)
	}
	if r.ExtractionUnavailable {
		f[FieldNoExtract] = flagTrue
	}
	return f
}

func decode(id string, f map[string]string) record.Record {
	c := DecodeCandidate(id, f)
	rec := record.Record{
		ID:                    id,
		Title:                 c.Title,
		Body:                  c.BodyText,
		CategorySlug:          c.CategorySlug,
		Tags:                  c.Tags,
		LocationText:          c.LocationText,
		Coordinates:           c.Coordinates,
		OccurredAt:            c.OccurredAt,
		CreatedAt:             c.CreatedAt,
		ExtractionUnavailable: f[FieldNoExtract] == flagTrue,
	}
	if raw, ok := f[FieldVector]; ok {
		rec.Vector = DecodeVector(raw)
	}
	return rec
}

// DecodeCandidate builds a candidate from hash fields. Malformed optional
// fields are treated as absent.
func DecodeCandidate(id string, f map[string]string) candidate.Candidate {
	c := candidate.Candidate{
		ID:           id,
		Title:        f[FieldTitle],
		BodyText:     f[FieldBody],
		CategorySlug: f[FieldCategory],
		LocationText: f[FieldLocation],
	}
	if tags := f[FieldTags]; tags != "" {
		c.Tags = strings.Split(tags, tagSeparator)
	}
	if ms, ok := parseMillis(f[FieldCreatedAt]); ok {
		c.CreatedAt = ms
	}
	if ms, ok := parseMillis(f[FieldOccurredAt]); ok {
		c.OccurredAt = &ms
	}
	lat, errLat := strconv.ParseFloat(f[FieldLat], 64)
	lng, errLng := strconv.ParseFloat(f[FieldLng], 64)
	if errLat == nil && errLng == nil {
		c.Coordinates = &candidate.Coordinates{Lat: lat, Lng: lng}
	}
	return c
}

func parseMillis(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms).UTC(), true
}

// EncodeVector serializes a vector as little-endian FLOAT32 bytes.
func EncodeVector(v []float32) string {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return string(buf)
}

// DecodeVector deserializes a binary string to []float32. Returns nil on a torn value.
func DecodeVector(s string) []float32 {
	b := []byte(s)
	if len(b) == 0 || len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
