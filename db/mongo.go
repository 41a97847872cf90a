package db

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// mongoStore implements Store on a MongoDB database. Field mutations map
// straight onto update operators, so every Update call is a single atomic
// document write; UpdateAll runs inside a session transaction.
type mongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

func NewMongoStore(client *mongo.Client, database string) Store {
	return &mongoStore{client: client, db: client.Database(database)}
}

func (s *mongoStore) Get(ctx context.Context, ref DocRef, out interface{}) error {
	err := s.db.Collection(ref.Collection).FindOne(ctx, bson.M{"_id": ref.ID}).Decode(out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	if err != nil {
		return mapMongoErr(err)
	}
	return nil
}

func (s *mongoStore) Insert(ctx context.Context, collection, id string, doc interface{}) error {
	if _, err := s.db.Collection(collection).InsertOne(ctx, doc); err != nil {
		return mapMongoErr(err)
	}
	return nil
}

func (s *mongoStore) Update(ctx context.Context, ref DocRef, ops ...Op) error {
	update, err := opsToUpdate(ops)
	if err != nil {
		return err
	}
	res, err := s.db.Collection(ref.Collection).UpdateOne(ctx, bson.M{"_id": ref.ID}, update)
	if err != nil {
		return mapMongoErr(err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *mongoStore) UpdateAll(ctx context.Context, updates ...DocUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	session, err := s.client.StartSession()
	if err != nil {
		return mapMongoErr(err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		for _, u := range updates {
			if err := s.Update(sc, u.Ref, u.Ops...); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

func (s *mongoStore) Delete(ctx context.Context, ref DocRef) error {
	// Zero deletions is fine: the document already being gone is the
	// desired end state.
	if _, err := s.db.Collection(ref.Collection).DeleteOne(ctx, bson.M{"_id": ref.ID}); err != nil {
		return mapMongoErr(err)
	}
	return nil
}

func (s *mongoStore) FindByIDs(ctx context.Context, collection string, ids []string, out interface{}) error {
	if len(ids) == 0 {
		return nil
	}
	cursor, err := s.db.Collection(collection).Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return mapMongoErr(err)
	}
	if err := cursor.All(ctx, out); err != nil {
		return mapMongoErr(err)
	}
	return nil
}

func (s *mongoStore) Find(ctx context.Context, collection string, filter map[string]interface{}, out interface{}) error {
	cursor, err := s.db.Collection(collection).Find(ctx, bson.M(filter))
	if err != nil {
		return mapMongoErr(err)
	}
	if err := cursor.All(ctx, out); err != nil {
		return mapMongoErr(err)
	}
	return nil
}

func opsToUpdate(ops []Op) (bson.M, error) {
	update := bson.M{}
	add := func(operator, field string, value interface{}) {
		doc, ok := update[operator].(bson.M)
		if !ok {
			doc = bson.M{}
			update[operator] = doc
		}
		doc[field] = value
	}
	for _, op := range ops {
		switch op.Kind {
		case OpAddToSet:
			add("$addToSet", op.Field, op.Value)
		case OpPull:
			add("$pull", op.Field, op.Value)
		case OpPush:
			add("$push", op.Field, op.Value)
		case OpInc:
			add("$inc", op.Field, op.Value)
		case OpSet:
			add("$set", op.Field, op.Value)
		case OpUnset:
			add("$unset", op.Field, "")
		default:
			return nil, fmt.Errorf("unknown op kind %d", op.Kind)
		}
	}
	return update, nil
}

func mapMongoErr(err error) error {
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) && cmdErr.Code == 13 {
		return ErrPermissionDenied
	}
	return Transient(err)
}
