package mongo

import (
	"regexp"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/stokaro/behave/core/store"
)

func TestFilter(t *testing.T) {
	tests := []struct {
		name string
		cond *store.Condition
		want bson.M
	}{
		{
			name: "nil",
			cond: nil,
			want: bson.M{},
		},
		{
			name: "eq widens ints",
			cond: store.Field("lvl").Eq(2),
			want: bson.M{"lvl": int64(2)},
		},
		{
			name: "range",
			cond: store.Field("lft").Gt(1).And(store.Field("rgt").Lte(8)),
			want: bson.M{"$and": []bson.M{
				{"lft": bson.M{"$gt": int64(1)}},
				{"rgt": bson.M{"$lte": int64(8)}},
			}},
		},
		{
			name: "nil or in",
			cond: store.Field("team").Nil().Or(store.Field("team").In("a", "b")),
			want: bson.M{"$or": []bson.M{
				{"team": bson.M{"$eq": nil}},
				{"team": bson.M{"$in": bson.A{"a", "b"}}},
			}},
		},
		{
			name: "not",
			cond: store.Field("id").Eq("x").Not(),
			want: bson.M{"$nor": []bson.M{{"$and": []bson.M{{"id": "x"}}}}},
		},
		{
			name: "prefix is quoted",
			cond: store.Field("path").Prefix("a.b|"),
			want: bson.M{"path": primitive.Regex{Pattern: `^a\.b\|`}},
		},
		{
			name: "like",
			cond: store.Field("slug").Like("news-%"),
			want: bson.M{"slug": primitive.Regex{Pattern: `^news-.*$`}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := qt.New(t)
			c.Assert(filter(tt.cond), qt.DeepEquals, tt.want)
		})
	}
}

func TestLikePattern(t *testing.T) {
	c := qt.New(t)
	re := regexp.MustCompile(likePattern("a_c%"))
	c.Assert(re.MatchString("abc"), qt.IsTrue)
	c.Assert(re.MatchString("abcdef"), qt.IsTrue)
	c.Assert(re.MatchString("ac"), qt.IsFalse)
	c.Assert(regexp.MustCompile(likePattern("1+1")).MatchString("1+1"), qt.IsTrue)
}

func TestRecord(t *testing.T) {
	c := qt.New(t)
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rec := record(bson.M{
		"_id":   primitive.NewObjectID(),
		"id":    "n1",
		"lvl":   int32(3),
		"at":    primitive.NewDateTimeFromTime(at),
		"tags":  primitive.A{"x", int32(1)},
		"extra": bson.M{"n": int32(2)},
	})
	c.Assert(rec, qt.DeepEquals, store.Record{
		"id":    "n1",
		"lvl":   int64(3),
		"at":    at,
		"tags":  []any{"x", int64(1)},
		"extra": map[string]any{"n": int64(2)},
	})
}

func TestDocument(t *testing.T) {
	c := qt.New(t)
	doc := document(store.Record{"id": "n1", "rank": 4, "parent": nil})
	c.Assert(doc, qt.DeepEquals, bson.M{"id": "n1", "rank": int64(4), "parent": nil})
}
