// Package store is the storage-agnostic persistence layer over the four
// collections. A Backend stores raw JSON documents; Repo gives typed access.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"scrap-pickup-api/models"
)

type Collection string

const (
	ScrapTypes Collection = "scrapTypes"
	Dealers    Collection = "dealers"
	Requests   Collection = "requests"
	Users      Collection = "users"
)

// Collections in file order.
var Collections = []Collection{ScrapTypes, Dealers, Requests, Users}

// Fields that can be queried with a Filter.
const (
	FieldPhone    = "phone"
	FieldDealerID = "dealerId"
	FieldToken    = "token"
)

// Document is one stored record. ID is zero when the record has no usable id.
type Document struct {
	ID   int64
	Data json.RawMessage
}

// Filter is an equality match on one indexed field.
type Filter struct {
	Field string
	Value string
}

// Eq builds a Filter.
func Eq(field, value string) *Filter {
	return &Filter{Field: field, Value: value}
}

// ByDealer filters on dealerId.
func ByDealer(id models.ID) *Filter {
	return Eq(FieldDealerID, id.String())
}

func (f *Filter) validate() error {
	if f == nil {
		return nil
	}
	switch f.Field {
	case FieldPhone, FieldDealerID, FieldToken:
		return nil
	default:
		return fmt.Errorf("%w: cannot filter on %q", models.ErrInvalidInput, f.Field)
	}
}

func (f *Filter) matches(ix docIndex) bool {
	if f == nil {
		return true
	}
	return ix.value(f.Field) == f.Value
}

// Backend is implemented by the remote document store and the local file store.
type Backend interface {
	Name() string
	// Probe performs a single read to check the backend is usable.
	Probe(ctx context.Context) error
	List(ctx context.Context, c Collection, f *Filter) ([]Document, error)
	Get(ctx context.Context, c Collection, id int64) (Document, error)
	// Put inserts or replaces the document with doc.ID.
	Put(ctx context.Context, c Collection, doc Document) error
	Delete(ctx context.Context, c Collection, id int64) error
	// NextID returns a fresh id, strictly greater than any it returned before.
	NextID(ctx context.Context, c Collection) (int64, error)
	// AssignMissingIDs gives a fresh id to every document stored without one
	// and to every later document repeating an earlier document's id.
	AssignMissingIDs(ctx context.Context, c Collection) (int, error)
	Close() error
}

// docIndex holds the fields backends index or filter on.
type docIndex struct {
	ID       models.ID    `json:"id"`
	Phone    models.Phone `json:"phone"`
	DealerID *models.ID   `json:"dealerId"`
	Token    string       `json:"token"`
}

func indexOf(data []byte) (docIndex, error) {
	var ix docIndex
	if err := json.Unmarshal(data, &ix); err != nil {
		return docIndex{}, fmt.Errorf("decode document index: %w", err)
	}
	return ix, nil
}

func (ix docIndex) value(field string) string {
	switch field {
	case FieldPhone:
		return string(ix.Phone)
	case FieldDealerID:
		if ix.DealerID == nil {
			return ""
		}
		return strconv.FormatInt(int64(*ix.DealerID), 10)
	case FieldToken:
		return ix.Token
	}
	return ""
}

// withID rewrites the id field of a raw document.
func withID(data json.RawMessage, id int64) (json.RawMessage, error) {
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	fields["id"] = json.RawMessage(strconv.FormatInt(id, 10))
	out, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return out, nil
}
