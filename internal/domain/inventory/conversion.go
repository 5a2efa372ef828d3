package inventory

import (
	"strings"

	"github.com/jhoicas/Inventario-ledger/internal/domain"
	"github.com/jhoicas/Inventario-ledger/internal/domain/entity"
	"github.com/shopspring/decimal"
)

// QuantityPlaces precisión con la que se guardan cantidades convertidas.
const QuantityPlaces = 6

type unitClass int

const (
	unitUnknown unitClass = iota
	unitMass              // canónica: kg
	unitVolume            // canónica: mL
)

var thousand = decimal.NewFromInt(1000)

// unitTable factor hacia la unidad canónica de su clase.
var unitTable = map[string]struct {
	class  unitClass
	factor decimal.Decimal
}{
	"kg":         {unitMass, decimal.NewFromInt(1)},
	"kilo":       {unitMass, decimal.NewFromInt(1)},
	"kilogram":   {unitMass, decimal.NewFromInt(1)},
	"kilogramo":  {unitMass, decimal.NewFromInt(1)},
	"g":          {unitMass, decimal.New(1, -3)},
	"gr":         {unitMass, decimal.New(1, -3)},
	"gram":       {unitMass, decimal.New(1, -3)},
	"gramo":      {unitMass, decimal.New(1, -3)},
	"ml":         {unitVolume, decimal.NewFromInt(1)},
	"mililiter":  {unitVolume, decimal.NewFromInt(1)},
	"milliliter": {unitVolume, decimal.NewFromInt(1)},
	"mililitro":  {unitVolume, decimal.NewFromInt(1)},
	"cc":         {unitVolume, decimal.NewFromInt(1)},
	"l":          {unitVolume, thousand},
	"lt":         {unitVolume, thousand},
	"liter":      {unitVolume, thousand},
	"litre":      {unitVolume, thousand},
	"litro":      {unitVolume, thousand},
}

// NormalizeUnit minúsculas y sin espacios.
func NormalizeUnit(unit string) string {
	return strings.ToLower(strings.TrimSpace(unit))
}

// Conversion resultado de convertir una cantidad entre unidades físicas.
type Conversion struct {
	Kind    entity.ConversionKind
	Input   decimal.Decimal
	Output  decimal.Decimal
	Density decimal.Decimal
}

// Convert aplica la conversión por densidad:
//
//	masa → volumen: salida = entrada / densidad × 1000   (kg → mL)
//	volumen → masa: salida = entrada / 1000 × densidad   (mL → kg)
//	misma unidad:   salida = entrada
//
// Unidades distintas siempre exigen densidad > 0, aunque sean de la misma clase.
// Las unidades de masa y volumen (g, L) se normalizan a kg / mL antes y después; un
// cambio dentro de la misma clase o con unidades desconocidas no es soportado.
func Convert(input decimal.Decimal, inputUnit, outputUnit string, density *decimal.Decimal) (Conversion, error) {
	if input.LessThanOrEqual(decimal.Zero) {
		return Conversion{}, domain.ErrInvalidQuantity
	}
	in, out := NormalizeUnit(inputUnit), NormalizeUnit(outputUnit)
	if in == out {
		return Conversion{Kind: entity.ConversionSameUnit, Input: input, Output: input, Density: decimal.Zero}, nil
	}
	if density == nil || density.LessThanOrEqual(decimal.Zero) {
		return Conversion{}, domain.ErrDensityNotConfigured
	}
	src, okSrc := unitTable[in]
	dst, okDst := unitTable[out]
	if !okSrc || !okDst || src.class == dst.class {
		return Conversion{}, domain.ErrUnsupportedConversion
	}
	canonical := input.Mul(src.factor)
	var kind entity.ConversionKind
	var converted decimal.Decimal
	if src.class == unitMass {
		kind = entity.ConversionMassToVolume
		converted = canonical.Div(*density).Mul(thousand)
	} else {
		kind = entity.ConversionVolumeToMass
		converted = canonical.Div(thousand).Mul(*density)
	}
	output := converted.Div(dst.factor).Round(QuantityPlaces)
	return Conversion{Kind: kind, Input: input, Output: output, Density: *density}, nil
}
