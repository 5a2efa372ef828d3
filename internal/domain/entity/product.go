package entity

import (
	"github.com/shopspring/decimal"
)

// Product datos maestros que el ledger lee (el catálogo lo administra otro módulo).
// Density es masa por unidad de volumen (kg/L); nil cuando no está configurada.
type Product struct {
	ID           string
	SKU          string
	Name         string
	Unit         string
	Density      *decimal.Decimal
	SalePrice    decimal.Decimal
	ReorderPoint decimal.Decimal
}

// HasDensity indica densidad configurada y positiva.
func (p *Product) HasDensity() bool {
	return p.Density != nil && p.Density.GreaterThan(decimal.Zero)
}

// Branch sucursal o bodega; el stock no es fungible entre sucursales.
type Branch struct {
	ID   string
	Name string
}
