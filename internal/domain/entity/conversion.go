package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// ConversionKind tipo de conversión aplicada en un traslado entre productos.
type ConversionKind string

const (
	ConversionMassToVolume ConversionKind = "mass_to_volume"
	ConversionVolumeToMass ConversionKind = "volume_to_mass"
	ConversionSameUnit     ConversionKind = "same_unit"
)

// ConversionTransfer traslado con conversión de unidad entre dos productos de una sucursal
// (ej. granel vertido en unidades de venta). Genera una salida en origen y una entrada en destino.
type ConversionTransfer struct {
	ID              string
	SourceProductID string
	TargetProductID string
	BranchID        string
	Date            time.Time
	InputQuantity   decimal.Decimal
	InputUnit       string
	OutputQuantity  decimal.Decimal
	OutputUnit      string
	DensityFactor   decimal.Decimal
	Kind            ConversionKind
	InboundUnitCost decimal.Decimal
	CostOfGoods     decimal.Decimal
	Note            string
	CreatedAt       time.Time
}

// OutboundRef referencia de la pierna de salida.
func (t *ConversionTransfer) OutboundRef() SourceRef {
	return SourceRef{Type: SourceTransfer, ID: t.ID, Line: "out"}
}

// InboundRef referencia de la pierna de entrada.
func (t *ConversionTransfer) InboundRef() SourceRef {
	return SourceRef{Type: SourceTransfer, ID: t.ID, Line: "in"}
}
