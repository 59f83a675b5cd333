// Package models defines the rows, tables and queue entries shared by the
// local store, the remote adapters and the sync engine.
package models

import (
	"fmt"

	"github.com/dmitrijs2005/estisync/internal/common"
)

// Table names of the mirrored entities.
const (
	TableCustomers     = "customers"
	TableEstimates     = "estimates"
	TableEstimateItems = "estimate_items"
	TablePhotos        = "photos"
	TableSavedItems    = "saved_items"
)

// Column names with a dedicated SQL column. Everything else a row carries
// lives in the data JSON column.
const (
	ColUserID      = "user_id"
	ColCustomerID  = "customer_id"
	ColEstimateID  = "estimate_id"
	ColURI         = "uri"
	ColLocalURI    = "local_uri"
	ColDescription = "description"
)

// Table describes one mirrored entity table.
type Table struct {
	Name string
	// Columns are the typed text columns, in schema order.
	Columns []string
	// Parent is the column referencing the owning row, if any.
	Parent string
	// ParentTable is the table Parent points to.
	ParentTable string
	// LocalOnly columns are never pushed and survive remote overwrites.
	LocalOnly []string
}

// HasColumn reports whether name is a typed column of t.
func (t Table) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// IsLocalOnly reports whether name is a device-only column of t.
func (t Table) IsLocalOnly(name string) bool {
	for _, c := range t.LocalOnly {
		if c == name {
			return true
		}
	}
	return false
}

// Tables lists every mirrored table, parents before children.
var Tables = []Table{
	{
		Name:    TableCustomers,
		Columns: []string{ColUserID},
	},
	{
		Name:        TableEstimates,
		Columns:     []string{ColUserID, ColCustomerID},
		Parent:      ColCustomerID,
		ParentTable: TableCustomers,
	},
	{
		Name:        TableEstimateItems,
		Columns:     []string{ColUserID, ColEstimateID},
		Parent:      ColEstimateID,
		ParentTable: TableEstimates,
	},
	{
		Name:        TablePhotos,
		Columns:     []string{ColUserID, ColEstimateID, ColURI, ColLocalURI, ColDescription},
		Parent:      ColEstimateID,
		ParentTable: TableEstimates,
		LocalOnly:   []string{ColLocalURI},
	},
	{
		Name:    TableSavedItems,
		Columns: []string{ColUserID},
	},
}

// LookupTable returns the descriptor for name or common.ErrUnknownTable.
func LookupTable(name string) (Table, error) {
	for _, t := range Tables {
		if t.Name == name {
			return t, nil
		}
	}
	return Table{}, fmt.Errorf("%w: %q", common.ErrUnknownTable, name)
}

// ChildrenOf returns the tables whose rows reference rows of parent.
func ChildrenOf(parent string) []Table {
	var out []Table
	for _, t := range Tables {
		if t.ParentTable == parent {
			out = append(out, t)
		}
	}
	return out
}
