package db

import (
	"testing"
	"time"

	"canteenhub/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestTargetFilterExcludesDishReviewsFromCanteen(t *testing.T) {
	assert.Equal(t, bson.M{"dish": "d1"}, targetFilter(models.Target{Type: models.TargetDish, ID: "d1"}))
	assert.Equal(t,
		bson.M{"canteen": "c1", "dish": bson.M{"$exists": false}},
		targetFilter(models.Target{Type: models.TargetCanteen, ID: "c1"}))
}

func TestReviewSortFallsBackToNewest(t *testing.T) {
	assert.Equal(t, bson.D{{Key: "createdAt", Value: -1}}, reviewSort(""))
	assert.Equal(t, "helpful", reviewSort(models.SortHelpful)[0].Key)
	assert.Equal(t, bson.E{Key: "rating", Value: 1}, reviewSort(models.SortRatingLow)[0])
}

func TestCompletionPipelineSetsEveryField(t *testing.T) {
	p := completionPipeline("e1", time.Unix(100, 0), 0.5)
	require.Len(t, p, 1)
	stage := p[0]
	require.Equal(t, "$set", stage[0].Key)

	set := stage[0].Value.(bson.M)
	for _, field := range []string{"popularity.orderCount", "popularity.score", "popularity.scoreAt", "popularity.applied"} {
		assert.Contains(t, set, field)
	}

	// the stage must marshal, or the driver rejects the update
	_, err := bson.Marshal(stage)
	assert.NoError(t, err)
}

func TestTargetCollectionRejectsUnknownType(t *testing.T) {
	s := NewStore(&Collections{})
	_, err := s.targetCollection(models.Target{Type: "menu", ID: "x"})
	assert.Error(t, err)
}
