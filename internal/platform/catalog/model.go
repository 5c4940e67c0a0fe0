// Package catalog keeps the products and stands cached on the device, so
// receipts can carry stand names while offline.
package catalog

import (
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/zeebo/blake3"

	"github.com/kislikjeka/festpay/pkg/codec"
)

// Stand is a point of sale at the festival
type Stand struct {
	ID   string `json:"id" cbor:"id"`
	Name string `json:"name" cbor:"name"`
}

// Product is something a stand sells
type Product struct {
	ID      string          `json:"id" cbor:"id"`
	StandID string          `json:"stand_id" cbor:"stand_id"`
	Name    string          `json:"name" cbor:"name"`
	Price   decimal.Decimal `json:"price" cbor:"price"`
}

// Snapshot is one version of the catalog
type Snapshot struct {
	Stands    []Stand   `json:"stands" cbor:"stands"`
	Products  []Product `json:"products" cbor:"products"`
	Digest    string    `json:"digest" cbor:"digest"`
	FetchedAt time.Time `json:"fetched_at" cbor:"fetched_at"`
}

// content is the hashed part of a snapshot
type content struct {
	Stands   []Stand   `cbor:"stands"`
	Products []Product `cbor:"products"`
}

// NewSnapshot sorts stands and products by ID and computes the digest
func NewSnapshot(stands []Stand, products []Product, fetchedAt time.Time) (*Snapshot, error) {
	s := &Snapshot{
		Stands:    append([]Stand(nil), stands...),
		Products:  append([]Product(nil), products...),
		FetchedAt: fetchedAt.UTC(),
	}
	sort.Slice(s.Stands, func(i, j int) bool { return s.Stands[i].ID < s.Stands[j].ID })
	sort.Slice(s.Products, func(i, j int) bool { return s.Products[i].ID < s.Products[j].ID })

	digest, err := Digest(s.Stands, s.Products)
	if err != nil {
		return nil, err
	}
	s.Digest = digest
	return s, nil
}

// Digest is the hex blake3 hash of the deterministic CBOR encoding of the catalog content
func Digest(stands []Stand, products []Product) (string, error) {
	data, err := codec.Marshal(content{Stands: stands, Products: products})
	if err != nil {
		return "", fmt.Errorf("failed to encode catalog: %w", err)
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Stand looks up a stand by ID
func (s *Snapshot) Stand(id string) (Stand, bool) {
	i := sort.Search(len(s.Stands), func(i int) bool { return s.Stands[i].ID >= id })
	if i < len(s.Stands) && s.Stands[i].ID == id {
		return s.Stands[i], true
	}
	return Stand{}, false
}

// Product looks up a product by ID
func (s *Snapshot) Product(id string) (Product, bool) {
	i := sort.Search(len(s.Products), func(i int) bool { return s.Products[i].ID >= id })
	if i < len(s.Products) && s.Products[i].ID == id {
		return s.Products[i], true
	}
	return Product{}, false
}
