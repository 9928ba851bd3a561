package models

import (
	"fmt"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Money is a decimal amount in the canteen's currency. It is stored as BSON
// Decimal128 so sums never pick up binary floating point error.
type Money struct {
	decimal.Decimal
}

func NewMoney(d decimal.Decimal) Money { return Money{d} }

func MoneyFromInt(v int64) Money { return Money{decimal.NewFromInt(v)} }

// ParseMoney parses a decimal string such as "49.50".
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("parse money %q: %w", s, err)
	}
	return Money{d}, nil
}

func (m Money) Add(o Money) Money { return Money{m.Decimal.Add(o.Decimal)} }

func (m Money) Times(qty int) Money { return Money{m.Decimal.Mul(decimal.NewFromInt(int64(qty)))} }

func (m Money) Equal(o Money) bool { return m.Decimal.Equal(o.Decimal) }

func (m Money) MarshalBSONValue() (bsontype.Type, []byte, error) {
	d, err := primitive.ParseDecimal128(m.Decimal.String())
	if err != nil {
		return 0, nil, fmt.Errorf("money to decimal128: %w", err)
	}
	return bson.MarshalValue(d)
}

func (m *Money) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	switch t {
	case bsontype.Decimal128:
		var d primitive.Decimal128
		if err := (bson.RawValue{Type: t, Value: data}).Unmarshal(&d); err != nil {
			return err
		}
		parsed, err := decimal.NewFromString(d.String())
		if err != nil {
			return fmt.Errorf("decimal128 to money: %w", err)
		}
		m.Decimal = parsed
	case bsontype.Double:
		var f float64
		if err := (bson.RawValue{Type: t, Value: data}).Unmarshal(&f); err != nil {
			return err
		}
		m.Decimal = decimal.NewFromFloat(f)
	case bsontype.Int32, bsontype.Int64:
		var i int64
		if err := (bson.RawValue{Type: t, Value: data}).Unmarshal(&i); err != nil {
			return err
		}
		m.Decimal = decimal.NewFromInt(i)
	case bsontype.Null:
		m.Decimal = decimal.Zero
	default:
		return fmt.Errorf("cannot decode money from bson %s", t)
	}
	return nil
}
