// Package source define los eventos tipados que los flujos externos (compras, producción,
// ventas, consignación, conteo físico y traslados) entregan al ledger. El núcleo del ledger
// nunca recibe datos sin tipar: todo payload pasa por Decode + Validate.
package source

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jhoicas/Inventario-ledger/internal/domain"
	"github.com/jhoicas/Inventario-ledger/internal/domain/entity"
	"github.com/shopspring/decimal"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if dec, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := dec.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	return v
}

// Direction efecto de un evento sobre el ledger.
type Direction int

const (
	DirectionNone Direction = iota
	DirectionInbound
	DirectionOutbound
)

// Event variante etiquetada de un evento de origen confirmado.
type Event interface {
	Reference() entity.SourceRef
	Validate() error
	// Movement intención de movimiento que el evento produce (dirección + datos).
	Movement() Intent
}

// Intent datos normalizados que el ledger traduce a RecordInbound/RecordOutbound.
type Intent struct {
	Direction Direction
	ProductID string
	BranchID  string
	Date      time.Time
	Quantity  decimal.Decimal
	UnitCost  decimal.Decimal
	SalePrice decimal.Decimal
	Note      string
	Source    entity.SourceRef
	// TransferID enlaza piernas de un traslado con conversión.
	TransferID string
}

func check(ev interface{}) error {
	if err := validate.Struct(ev); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	return nil
}

// PurchaseReceipt recepción de compra confirmada → entrada.
type PurchaseReceipt struct {
	ReceiptID string          `json:"receipt_id" validate:"required"`
	Line      string          `json:"line"`
	ProductID string          `json:"product_id" validate:"required"`
	BranchID  string          `json:"branch_id" validate:"required"`
	Date      time.Time       `json:"date" validate:"required"`
	Quantity  decimal.Decimal `json:"quantity" validate:"gt=0"`
	UnitCost  decimal.Decimal `json:"unit_cost" validate:"gte=0"`
	SalePrice decimal.Decimal `json:"sale_price" validate:"gte=0"`
	Note      string          `json:"note"`
}

func (e PurchaseReceipt) Reference() entity.SourceRef {
	return entity.SourceRef{Type: entity.SourcePurchase, ID: e.ReceiptID, Line: e.Line}
}

func (e PurchaseReceipt) Validate() error { return check(e) }

func (e PurchaseReceipt) Movement() Intent {
	return Intent{
		Direction: DirectionInbound, ProductID: e.ProductID, BranchID: e.BranchID, Date: e.Date,
		Quantity: e.Quantity, UnitCost: e.UnitCost, SalePrice: e.SalePrice, Note: e.Note, Source: e.Reference(),
	}
}

// ProductionOutput producto terminado de una orden de producción → entrada.
type ProductionOutput struct {
	ProductionID string          `json:"production_id" validate:"required"`
	ProductID    string          `json:"product_id" validate:"required"`
	BranchID     string          `json:"branch_id" validate:"required"`
	Date         time.Time       `json:"date" validate:"required"`
	Quantity     decimal.Decimal `json:"quantity" validate:"gt=0"`
	UnitCost     decimal.Decimal `json:"unit_cost" validate:"gte=0"`
	Note         string          `json:"note"`
}

func (e ProductionOutput) Reference() entity.SourceRef {
	return entity.SourceRef{Type: entity.SourceProduction, ID: e.ProductionID}
}

func (e ProductionOutput) Validate() error { return check(e) }

func (e ProductionOutput) Movement() Intent {
	return Intent{
		Direction: DirectionInbound, ProductID: e.ProductID, BranchID: e.BranchID, Date: e.Date,
		Quantity: e.Quantity, UnitCost: e.UnitCost, Note: e.Note, Source: e.Reference(),
	}
}

// ProductionMaterial materia prima consumida por una orden de producción → salida.
type ProductionMaterial struct {
	ProductionID string          `json:"production_id" validate:"required"`
	Line         string          `json:"line" validate:"required"`
	ProductID    string          `json:"product_id" validate:"required"`
	BranchID     string          `json:"branch_id" validate:"required"`
	Date         time.Time       `json:"date" validate:"required"`
	Quantity     decimal.Decimal `json:"quantity" validate:"gt=0"`
	Note         string          `json:"note"`
}

func (e ProductionMaterial) Reference() entity.SourceRef {
	return entity.SourceRef{Type: entity.SourceProductionMaterial, ID: e.ProductionID, Line: e.Line}
}

func (e ProductionMaterial) Validate() error { return check(e) }

func (e ProductionMaterial) Movement() Intent {
	return Intent{
		Direction: DirectionOutbound, ProductID: e.ProductID, BranchID: e.BranchID, Date: e.Date,
		Quantity: e.Quantity, Note: e.Note, Source: e.Reference(),
	}
}

// SaleLine línea de venta facturada → salida.
type SaleLine struct {
	SaleID    string          `json:"sale_id" validate:"required"`
	Line      string          `json:"line" validate:"required"`
	ProductID string          `json:"product_id" validate:"required"`
	BranchID  string          `json:"branch_id" validate:"required"`
	Date      time.Time       `json:"date" validate:"required"`
	Quantity  decimal.Decimal `json:"quantity" validate:"gt=0"`
	UnitPrice decimal.Decimal `json:"unit_price" validate:"gte=0"`
	Note      string          `json:"note"`
}

func (e SaleLine) Reference() entity.SourceRef {
	return entity.SourceRef{Type: entity.SourceSale, ID: e.SaleID, Line: e.Line}
}

func (e SaleLine) Validate() error { return check(e) }

func (e SaleLine) Movement() Intent {
	return Intent{
		Direction: DirectionOutbound, ProductID: e.ProductID, BranchID: e.BranchID, Date: e.Date,
		Quantity: e.Quantity, SalePrice: e.UnitPrice, Note: e.Note, Source: e.Reference(),
	}
}

// ConsignmentSale línea de venta en consignación finalizada → salida.
type ConsignmentSale struct {
	ConsignmentID string          `json:"consignment_id" validate:"required"`
	Line          string          `json:"line" validate:"required"`
	ProductID     string          `json:"product_id" validate:"required"`
	BranchID      string          `json:"branch_id" validate:"required"`
	Date          time.Time       `json:"date" validate:"required"`
	Quantity      decimal.Decimal `json:"quantity" validate:"gt=0"`
	UnitPrice     decimal.Decimal `json:"unit_price" validate:"gte=0"`
	Note          string          `json:"note"`
}

func (e ConsignmentSale) Reference() entity.SourceRef {
	return entity.SourceRef{Type: entity.SourceConsignment, ID: e.ConsignmentID, Line: e.Line}
}

func (e ConsignmentSale) Validate() error { return check(e) }

func (e ConsignmentSale) Movement() Intent {
	return Intent{
		Direction: DirectionOutbound, ProductID: e.ProductID, BranchID: e.BranchID, Date: e.Date,
		Quantity: e.Quantity, SalePrice: e.UnitPrice, Note: e.Note, Source: e.Reference(),
	}
}

// OpnameAdjustment ajuste por conteo físico. Difference = contado - sistema al momento del
// conteo: positiva genera entrada, negativa salida, cero no genera movimiento.
type OpnameAdjustment struct {
	OpnameID   string          `json:"opname_id" validate:"required"`
	ProductID  string          `json:"product_id" validate:"required"`
	BranchID   string          `json:"branch_id" validate:"required"`
	Date       time.Time       `json:"date" validate:"required"`
	Counted    decimal.Decimal `json:"counted" validate:"gte=0"`
	System     decimal.Decimal `json:"system"`
	Difference decimal.Decimal `json:"difference"`
	UnitCost   decimal.Decimal `json:"unit_cost" validate:"gte=0"`
	Note       string          `json:"note"`
}

func (e OpnameAdjustment) Reference() entity.SourceRef {
	return entity.SourceRef{Type: entity.SourceOpname, ID: e.OpnameID, Line: e.ProductID}
}

func (e OpnameAdjustment) Validate() error {
	if err := check(e); err != nil {
		return err
	}
	if !e.Counted.Sub(e.System).Equal(e.Difference) {
		return fmt.Errorf("%w: diferencia %s no coincide con contado-sistema", domain.ErrInvalidInput, e.Difference)
	}
	return nil
}

func (e OpnameAdjustment) Movement() Intent {
	in := Intent{
		ProductID: e.ProductID, BranchID: e.BranchID, Date: e.Date,
		UnitCost: e.UnitCost, Note: e.Note, Source: e.Reference(),
	}
	switch {
	case e.Difference.GreaterThan(decimal.Zero):
		in.Direction = DirectionInbound
		in.Quantity = e.Difference
	case e.Difference.LessThan(decimal.Zero):
		in.Direction = DirectionOutbound
		in.Quantity = e.Difference.Neg()
	default:
		in.Direction = DirectionNone
	}
	return in
}

// ManualAdjustment movimiento manual (entrada, salida o ajuste) registrado por un usuario.
// Quantity con signo: positiva entrada, negativa salida.
type ManualAdjustment struct {
	AdjustmentID string          `json:"adjustment_id" validate:"required"`
	ProductID    string          `json:"product_id" validate:"required"`
	BranchID     string          `json:"branch_id" validate:"required"`
	Date         time.Time       `json:"date" validate:"required"`
	Quantity     decimal.Decimal `json:"quantity"`
	UnitCost     decimal.Decimal `json:"unit_cost" validate:"gte=0"`
	SalePrice    decimal.Decimal `json:"sale_price" validate:"gte=0"`
	Note         string          `json:"note"`
}

func (e ManualAdjustment) Reference() entity.SourceRef {
	return entity.SourceRef{Type: entity.SourceManual, ID: e.AdjustmentID}
}

func (e ManualAdjustment) Validate() error {
	if err := check(e); err != nil {
		return err
	}
	if e.Quantity.IsZero() {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, domain.ErrInvalidQuantity)
	}
	return nil
}

func (e ManualAdjustment) Movement() Intent {
	in := Intent{
		Direction: DirectionInbound, ProductID: e.ProductID, BranchID: e.BranchID, Date: e.Date,
		Quantity: e.Quantity, UnitCost: e.UnitCost, SalePrice: e.SalePrice, Note: e.Note, Source: e.Reference(),
	}
	if e.Quantity.LessThan(decimal.Zero) {
		in.Direction = DirectionOutbound
		in.Quantity = e.Quantity.Neg()
		in.UnitCost = decimal.Zero
	}
	return in
}

// ManualFromMovement reconstruye el ajuste manual a partir de su movimiento en el ledger.
func ManualFromMovement(m *entity.MovementRecord) ManualAdjustment {
	return ManualAdjustment{
		AdjustmentID: m.Source.ID, ProductID: m.ProductID, BranchID: m.BranchID, Date: m.Date,
		Quantity: m.Signed(), UnitCost: m.UnitCost, SalePrice: m.SalePrice, Note: m.Note,
	}
}

// TransferLeg pierna persistida de un traslado con conversión; usada por la reconstrucción.
type TransferLeg struct {
	TransferID string          `json:"transfer_id" validate:"required"`
	Outbound   bool            `json:"outbound"`
	ProductID  string          `json:"product_id" validate:"required"`
	BranchID   string          `json:"branch_id" validate:"required"`
	Date       time.Time       `json:"date" validate:"required"`
	Quantity   decimal.Decimal `json:"quantity" validate:"gt=0"`
	UnitCost   decimal.Decimal `json:"unit_cost" validate:"gte=0"`
	Note       string          `json:"note"`
}

func (e TransferLeg) Reference() entity.SourceRef {
	line := "in"
	if e.Outbound {
		line = "out"
	}
	return entity.SourceRef{Type: entity.SourceTransfer, ID: e.TransferID, Line: line}
}

func (e TransferLeg) Validate() error { return check(e) }

func (e TransferLeg) Movement() Intent {
	in := Intent{
		Direction: DirectionInbound, ProductID: e.ProductID, BranchID: e.BranchID, Date: e.Date,
		Quantity: e.Quantity, UnitCost: e.UnitCost, Note: e.Note, Source: e.Reference(), TransferID: e.TransferID,
	}
	if e.Outbound {
		in.Direction = DirectionOutbound
		in.UnitCost = decimal.Zero
	}
	return in
}

// LegsOf piernas de replay de un traslado persistido (salida primero).
func LegsOf(t *entity.ConversionTransfer) []Event {
	return []Event{
		TransferLeg{TransferID: t.ID, Outbound: true, ProductID: t.SourceProductID, BranchID: t.BranchID,
			Date: t.Date, Quantity: t.InputQuantity, Note: t.Note},
		TransferLeg{TransferID: t.ID, ProductID: t.TargetProductID, BranchID: t.BranchID,
			Date: t.Date, Quantity: t.OutputQuantity, UnitCost: t.InboundUnitCost, Note: t.Note},
	}
}

// Kinds nombres de variante aceptados por Decode.
const (
	KindPurchaseReceipt    = "purchase_receipt"
	KindProductionOutput   = "production_output"
	KindProductionMaterial = "production_material"
	KindSaleLine           = "sale_line"
	KindConsignmentSale    = "consignment_sale"
	KindOpnameAdjustment   = "opname_adjustment"
	KindManualAdjustment   = "manual_adjustment"
)

// ErrUnknownKind variante no reconocida.
var ErrUnknownKind = errors.New("tipo de evento desconocido")

// Decode convierte un payload JSON suelto en la variante tipada y la valida.
func Decode(kind string, payload json.RawMessage) (Event, error) {
	var ev Event
	var err error
	switch kind {
	case KindPurchaseReceipt:
		var e PurchaseReceipt
		err = json.Unmarshal(payload, &e)
		ev = e
	case KindProductionOutput:
		var e ProductionOutput
		err = json.Unmarshal(payload, &e)
		ev = e
	case KindProductionMaterial:
		var e ProductionMaterial
		err = json.Unmarshal(payload, &e)
		ev = e
	case KindSaleLine:
		var e SaleLine
		err = json.Unmarshal(payload, &e)
		ev = e
	case KindConsignmentSale:
		var e ConsignmentSale
		err = json.Unmarshal(payload, &e)
		ev = e
	case KindOpnameAdjustment:
		var e OpnameAdjustment
		err = json.Unmarshal(payload, &e)
		ev = e
	case KindManualAdjustment:
		var e ManualAdjustment
		err = json.Unmarshal(payload, &e)
		ev = e
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return ev, nil
}
