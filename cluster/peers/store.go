// Package peers keeps track of which cluster members answer pulls for which
// category.
package peers

import (
	"errors"
	"sort"

	memdb "github.com/hashicorp/go-memdb"
)

const (
	peerTable = "peers"
)

var (
	ErrPeerNotFound = errors.New("peer not found")
)

type Peer struct {
	ID         string
	Categories []string
	// Wildcard peers did not publish a complete category list and may host
	// any category.
	Wildcard bool
}

// Hosts reports whether p may answer pulls for category.
func (p Peer) Hosts(category string) bool {
	if p.Wildcard {
		return true
	}
	for _, c := range p.Categories {
		if c == category {
			return true
		}
	}
	return false
}

type Directory struct {
	db *memdb.MemDB
}

func NewDirectory() *Directory {
	db, err := memdb.NewMemDB(&memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			peerTable: {
				Name: peerTable,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name: "id",
						Indexer: &memdb.StringFieldIndex{
							Field: "ID",
						},
						Unique:       true,
						AllowMissing: false,
					},
					"categories": {
						Name: "categories",
						Indexer: &memdb.StringSliceFieldIndex{
							Field: "Categories",
						},
						Unique:       false,
						AllowMissing: true,
					},
				},
			},
		},
	})
	if err != nil {
		panic(err)
	}
	return &Directory{db: db}
}

func (d *Directory) all(tx *memdb.Txn, index string, value ...interface{}) ([]Peer, error) {
	out := []Peer{}
	iterator, err := tx.Get(peerTable, index, value...)
	if err != nil {
		return out, err
	}
	for {
		data := iterator.Next()
		if data == nil {
			return out, nil
		}
		out = append(out, *data.(*Peer))
	}
}

func (d *Directory) ByID(id string) (Peer, error) {
	var peer Peer
	return peer, d.read(func(tx *memdb.Txn) error {
		data, err := tx.First(peerTable, "id", id)
		if err != nil {
			return err
		}
		if data == nil {
			return ErrPeerNotFound
		}
		peer = *data.(*Peer)
		return nil
	})
}

func (d *Directory) All() ([]Peer, error) {
	var set []Peer
	return set, d.read(func(tx *memdb.Txn) (err error) {
		set, err = d.all(tx, "id")
		return
	})
}

// ByCategory returns the peers that may answer pulls for category, sorted
// by id.
func (d *Directory) ByCategory(category string) ([]Peer, error) {
	var set []Peer
	err := d.read(func(tx *memdb.Txn) error {
		hosting, err := d.all(tx, "categories", category)
		if err != nil {
			return err
		}
		everyone, err := d.all(tx, "id")
		if err != nil {
			return err
		}
		set = hosting
		for _, peer := range everyone {
			if peer.Wildcard {
				set = append(set, peer)
			}
		}
		return nil
	})
	sort.Slice(set, func(i, j int) bool { return set[i].ID < set[j].ID })
	return set, err
}

func (d *Directory) Upsert(p Peer) error {
	if p.ID == "" {
		return errors.New("peer id is empty")
	}
	if p.Wildcard {
		p.Categories = nil
	} else {
		categories := make([]string, len(p.Categories))
		copy(categories, p.Categories)
		p.Categories = categories
	}
	return d.write(func(tx *memdb.Txn) error {
		return tx.Insert(peerTable, &p)
	})
}

func (d *Directory) Delete(id string) error {
	return d.write(func(tx *memdb.Txn) error {
		data, err := tx.First(peerTable, "id", id)
		if err != nil {
			return err
		}
		if data == nil {
			return ErrPeerNotFound
		}
		return tx.Delete(peerTable, data)
	})
}

func (d *Directory) read(statement func(tx *memdb.Txn) error) error {
	tx := d.db.Txn(false)
	return d.run(tx, statement)
}
func (d *Directory) write(statement func(tx *memdb.Txn) error) error {
	tx := d.db.Txn(true)
	return d.run(tx, statement)
}
func (d *Directory) run(tx *memdb.Txn, statement func(tx *memdb.Txn) error) error {
	defer tx.Abort()
	err := statement(tx)
	if err != nil {
		return err
	}
	tx.Commit()
	return nil
}
