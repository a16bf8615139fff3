// Package inmemdb implements the domain repositories in memory; used by tests and local runs without postgres.
package inmemdb

import (
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/trezcool/enrolla/core"
	"github.com/trezcool/enrolla/core/archive"
	"github.com/trezcool/enrolla/core/course"
	"github.com/trezcool/enrolla/core/document"
	"github.com/trezcool/enrolla/core/partner"
	"github.com/trezcool/enrolla/core/payment"
	"github.com/trezcool/enrolla/core/registration"
	"github.com/trezcool/enrolla/core/user"
)

// DB holds every table; the repositories of a DB see each other's rows.
type DB struct {
	mutex sync.RWMutex

	users         map[string]*user.User
	courses       map[string]*course.Course
	companies     map[string]*partner.Company
	offers        map[string]*partner.Offer
	registrations map[string]*registration.Registration
	deadlines     map[string]*payment.Deadline
	documents     map[string]*document.Document
	archive       map[string]*archive.Record
}

func NewDB() *DB {
	return &DB{
		users:         make(map[string]*user.User),
		courses:       make(map[string]*course.Course),
		companies:     make(map[string]*partner.Company),
		offers:        make(map[string]*partner.Offer),
		registrations: make(map[string]*registration.Registration),
		deadlines:     make(map[string]*payment.Deadline),
		documents:     make(map[string]*document.Document),
		archive:       make(map[string]*archive.Record),
	}
}

// TxRunner returns the runner to use with the repositories of db.
func (db *DB) TxRunner() core.TxRunner { return core.NoTx{} }

func newID() string { return uuid.New().String() }

func contains(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

// values copies the rows of a table.
func values[T any](table map[string]*T) []T {
	rows := make([]T, 0, len(table))
	for _, row := range table {
		rows = append(rows, *row)
	}
	return rows
}

// comparator returns -1, 0 or 1.
type comparator[T any] func(a, b T) int

func compareStrings(a, b string) int { return strings.Compare(a, b) }

func compareBools(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	}
	return 1
}

// orderRows sorts rows by ordering, falling back to fallback for an empty or unknown ordering.
func orderRows[T any](rows []T, ordering []core.DBOrdering, fields map[string]comparator[T], fallback ...core.DBOrdering) {
	if len(ordering) == 0 {
		ordering = fallback
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for _, ord := range ordering {
			cmp, ok := fields[ord.Field]
			if !ok {
				continue
			}
			c := cmp(rows[i], rows[j])
			if c == 0 {
				continue
			}
			if ord.Ascending {
				return c < 0
			}
			return c > 0
		}
		return false
	})
}
