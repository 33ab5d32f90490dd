package mirror

import (
	"fmt"
	"reflect"
	"sort"

	memdb "github.com/hashicorp/go-memdb"
	"github.com/pkg/errors"
)

const (
	memdbTable = "categories"
)

var (
	ErrCategoryConflict = errors.New("category is already bound to another state type")
	ErrEmptyCategory    = errors.New("category name is empty")
	ErrCategoryNotFound = errors.New("category not found")
)

// Category is a strongly typed event category: the name scopes messages on
// the transport, the type parameter pins the state exchanged under it.
type Category[T any] struct {
	name string
}

func (c Category[T]) Name() string {
	return c.name
}
func (c Category[T]) String() string {
	return c.name
}

type categoryRecord struct {
	Name string
	Type string
}

// Registry records which state type each category name is bound to.
type Registry struct {
	db *memdb.MemDB
}

var DefaultRegistry = NewRegistry()

func NewRegistry() *Registry {
	db, err := memdb.NewMemDB(&memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			memdbTable: {
				Name: memdbTable,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name: "id",
						Indexer: &memdb.StringFieldIndex{
							Field: "Name",
						},
						Unique:       true,
						AllowMissing: false,
					},
					"type": {
						Name: "type",
						Indexer: &memdb.StringFieldIndex{
							Field: "Type",
						},
						Unique:       false,
						AllowMissing: false,
					},
				},
			},
		},
	})
	if err != nil {
		panic(err)
	}
	return &Registry{db: db}
}

func typeName[T any]() string {
	t := reflect.TypeOf((*T)(nil)).Elem()
	if t.Name() != "" && t.PkgPath() != "" {
		return fmt.Sprintf("%s.%s", t.PkgPath(), t.Name())
	}
	return t.String()
}

// Define binds name to T in r. Defining the same name again with the same
// type returns the same category.
func Define[T any](r *Registry, name string) (Category[T], error) {
	if name == "" {
		return Category[T]{}, ErrEmptyCategory
	}
	kind := typeName[T]()
	tx := r.db.Txn(true)
	defer tx.Abort()
	existing, err := tx.First(memdbTable, "id", name)
	if err != nil {
		return Category[T]{}, err
	}
	if existing != nil {
		if existing.(*categoryRecord).Type != kind {
			return Category[T]{}, errors.Wrapf(ErrCategoryConflict, "%s is bound to %s", name, existing.(*categoryRecord).Type)
		}
		return Category[T]{name: name}, nil
	}
	if err := tx.Insert(memdbTable, &categoryRecord{Name: name, Type: kind}); err != nil {
		return Category[T]{}, err
	}
	tx.Commit()
	return Category[T]{name: name}, nil
}

// MustCategory defines name in the default registry and panics on conflict.
func MustCategory[T any](name string) Category[T] {
	c, err := Define[T](DefaultRegistry, name)
	if err != nil {
		panic(err)
	}
	return c
}

// TypeOf returns the state type name bound to a category.
func (r *Registry) TypeOf(name string) (string, error) {
	tx := r.db.Txn(false)
	defer tx.Abort()
	record, err := tx.First(memdbTable, "id", name)
	if err != nil {
		return "", err
	}
	if record == nil {
		return "", ErrCategoryNotFound
	}
	return record.(*categoryRecord).Type, nil
}

// Categories returns every category name, sorted.
func (r *Registry) Categories() []string {
	tx := r.db.Txn(false)
	defer tx.Abort()
	out := []string{}
	iterator, err := tx.Get(memdbTable, "id")
	if err != nil || iterator == nil {
		return out
	}
	for {
		payload := iterator.Next()
		if payload == nil {
			break
		}
		out = append(out, payload.(*categoryRecord).Name)
	}
	sort.Strings(out)
	return out
}
