package memstore

import (
	"github.com/ariefcatur/go-bookstore-checkout/internal/checkout"
	"github.com/shopspring/decimal"
)

// SeedDemo loads a small catalog and three accounts so the API is usable
// without Postgres.
func (s *Store) SeedDemo() {
	books := []checkout.Item{
		{ID: "book-go", Title: "The Go Programming Language", Author: "Donovan & Kernighan", Price: decimal.RequireFromString("39.99"), Stock: 5},
		{ID: "book-ddia", Title: "Designing Data-Intensive Applications", Author: "Martin Kleppmann", Price: decimal.RequireFromString("45.50"), Stock: 3},
		{ID: "book-sre", Title: "Site Reliability Engineering", Author: "Beyer et al.", Price: decimal.RequireFromString("29.00"), Stock: 1},
	}
	for _, b := range books {
		s.PutItem(b)
	}
	s.PutAccount(checkout.Account{ID: "user-active", Status: checkout.AccountActive, AvailableCredit: decimal.NewFromInt(200)})
	s.PutAccount(checkout.Account{ID: "user-pending", Status: checkout.AccountPending, AvailableCredit: decimal.NewFromInt(200)})
	s.PutAccount(checkout.Account{ID: "user-broke", Status: checkout.AccountActive, AvailableCredit: decimal.NewFromInt(5)})
}
