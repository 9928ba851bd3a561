package models

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

func TestMoneyStoredAsDecimal128(t *testing.T) {
	price, err := ParseMoney("49.95")
	require.NoError(t, err)

	raw, err := bson.Marshal(OrderItem{DishID: "d1", Quantity: 3, Price: price})
	require.NoError(t, err)
	assert.Equal(t, bsontype.Decimal128, bson.Raw(raw).Lookup("price").Type)

	var back OrderItem
	require.NoError(t, bson.Unmarshal(raw, &back))
	assert.True(t, back.Price.Equal(price))
	assert.Equal(t, "149.85", back.Price.Times(3).String())
}

func TestMoneyDecodesLegacyDoubles(t *testing.T) {
	raw, err := bson.Marshal(bson.M{"dish": "d1", "quantity": 1, "price": 50.0})
	require.NoError(t, err)

	var item OrderItem
	require.NoError(t, bson.Unmarshal(raw, &item))
	assert.True(t, item.Price.Equal(MoneyFromInt(50)))
}

func TestDishIDsAreDistinct(t *testing.T) {
	o := Order{Items: []OrderItem{{DishID: "a"}, {DishID: "b"}, {DishID: "a"}}}
	assert.Equal(t, []string{"a", "b"}, o.DishIDs())
}

func TestCloneIsDeep(t *testing.T) {
	rating := 4
	o := &Order{Items: []OrderItem{{DishID: "a", Quantity: 1}}, Rating: &rating}
	c := o.Clone()
	c.Items[0].Quantity = 9
	*c.Rating = 1

	assert.Equal(t, 1, o.Items[0].Quantity)
	assert.Equal(t, 4, *o.Rating)
}

func TestCanteenHasStaff(t *testing.T) {
	c := Canteen{OwnerID: "owner", Staff: []string{"cook"}}
	assert.True(t, c.HasStaff("owner"))
	assert.True(t, c.HasStaff("cook"))
	assert.False(t, c.HasStaff("student"))
	assert.False(t, c.HasStaff(""))
}

func TestPopularityBumpDecays(t *testing.T) {
	lambda := DecayRate(time.Hour)
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	p, ok := Popularity{}.Bump("e1", t0, lambda)
	require.True(t, ok)
	assert.Equal(t, int64(1), p.OrderCount)
	assert.InDelta(t, 1.0, p.Score, 1e-12)

	p, ok = p.Bump("e2", t0.Add(time.Hour), lambda)
	require.True(t, ok)
	assert.Equal(t, int64(2), p.OrderCount)
	assert.InDelta(t, 1.5, p.Score, 1e-9)

	again, ok := p.Bump("e2", t0.Add(2*time.Hour), lambda)
	assert.False(t, ok)
	assert.Equal(t, p, again)
}

func TestPopularityBumpOutOfOrderEvent(t *testing.T) {
	lambda := DecayRate(time.Hour)
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	p, _ := Popularity{}.Bump("late", t0, lambda)
	p, _ = p.Bump("early", t0.Add(-time.Hour), lambda)

	assert.InDelta(t, 2.0, p.Score, 1e-12)
	assert.Equal(t, t0, p.ScoreAt)
}

func TestPopularityAppliedWindow(t *testing.T) {
	var p Popularity
	for i := 0; i < AppliedWindow+5; i++ {
		p, _ = p.Bump(fmt.Sprint("e", i), time.Unix(int64(i), 0), 0)
	}
	assert.Len(t, p.Applied, AppliedWindow)
	assert.Equal(t, "e5", p.Applied[0])
	assert.Equal(t, int64(AppliedWindow+5), p.OrderCount)
}

func TestDecayRate(t *testing.T) {
	assert.Zero(t, DecayRate(0))
	assert.InDelta(t, math.Ln2/3600, DecayRate(time.Hour), 1e-15)
}
