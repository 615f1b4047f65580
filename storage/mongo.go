package storage

import (
	"context"
	"errors"
	"time"

	"ATX/utils"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// MongoStore keeps accounts in MongoDB. Lock transitions use single
// FindOneAndUpdate calls whose filters restate the lock-slot predicate, which
// is atomic per document.
type MongoStore struct {
	ctx      context.Context
	client   *mongo.Client
	accounts *mongo.Collection
}

type accountDoc struct {
	AccountID    string               `bson:"_id"`
	OwnerID      string               `bson:"owner_id"`
	Balance      primitive.Decimal128 `bson:"balance"`
	LockHolder   *string              `bson:"lock_holder"`
	PendingDelta primitive.Decimal128 `bson:"pending_delta"`
	CreatedAt    time.Time            `bson:"created_at"`
	UpdatedAt    time.Time            `bson:"updated_at"`
}

func toDec128(v decimal.Decimal) primitive.Decimal128 {
	d, err := primitive.ParseDecimal128(Money(v).String())
	if err != nil {
		panic(err)
	}
	return d
}

func fromDec128(v primitive.Decimal128) decimal.Decimal {
	d, err := decimal.NewFromString(v.String())
	if err != nil {
		panic(err)
	}
	return d
}

func (c *accountDoc) toAccount() *Account {
	acct := &Account{
		AccountID:    c.AccountID,
		OwnerID:      c.OwnerID,
		Balance:      fromDec128(c.Balance),
		PendingDelta: fromDec128(c.PendingDelta),
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
	if c.LockHolder != nil {
		acct.LockHolder = *c.LockHolder
	}
	return acct
}

func NewMongoStore(ctx context.Context, dsn string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(dsn))
	if err != nil {
		return nil, err
	}
	if err = client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, err
	}
	c := &MongoStore{
		ctx:      ctx,
		client:   client,
		accounts: client.Database("atx").Collection("accounts"),
	}
	_, err = c.accounts.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "lock_holder", Value: 1}},
		Options: options.Index().SetSparse(true),
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (c *MongoStore) CreateAccount(ctx context.Context, ownerID string, opening decimal.Decimal) (*Account, error) {
	if opening.IsNegative() {
		return nil, utils.ErrInvalidAmount
	}
	now := time.Now().UTC()
	doc := accountDoc{
		AccountID:    uuid.New().String(),
		OwnerID:      ownerID,
		Balance:      toDec128(opening),
		LockHolder:   nil,
		PendingDelta: toDec128(decimal.Zero),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if _, err := c.accounts.InsertOne(ctx, doc); err != nil {
		return nil, err
	}
	return doc.toAccount(), nil
}

func (c *MongoStore) GetAccount(ctx context.Context, accountID string) (*Account, error) {
	doc := accountDoc{}
	err := c.accounts.FindOne(ctx, bson.M{"_id": accountID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, utils.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc.toAccount(), nil
}

func (c *MongoStore) PrepareLock(ctx context.Context, tid string, accountID string, delta decimal.Decimal) error {
	filter := bson.M{"_id": accountID, "lock_holder": nil}
	if delta.IsNegative() {
		filter["balance"] = bson.M{"$gte": toDec128(delta.Neg())}
	}
	err := c.accounts.FindOneAndUpdate(ctx, filter, bson.M{"$set": bson.M{
		"lock_holder":   tid,
		"pending_delta": toDec128(delta),
		"updated_at":    time.Now().UTC(),
	}}).Err()
	if err == nil {
		return nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return err
	}
	// Filter missed; read the document back to name the reason.
	acct, gerr := c.GetAccount(ctx, accountID)
	if gerr != nil {
		return gerr
	}
	if acct.Locked() {
		return utils.ErrLockConflict
	}
	return utils.ErrInsufficientFunds
}

func (c *MongoStore) CommitApply(ctx context.Context, tid string, accountID string) (decimal.Decimal, error) {
	pipeline := bson.A{bson.M{"$set": bson.M{
		"balance":       bson.M{"$add": bson.A{"$balance", "$pending_delta"}},
		"lock_holder":   nil,
		"pending_delta": toDec128(decimal.Zero),
		"updated_at":    time.Now().UTC(),
	}}}
	doc := accountDoc{}
	err := c.accounts.FindOneAndUpdate(ctx, bson.M{"_id": accountID, "lock_holder": tid},
		pipeline, options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		if _, gerr := c.GetAccount(ctx, accountID); gerr != nil {
			return decimal.Zero, gerr
		}
		return decimal.Zero, utils.ErrLockConflict
	}
	if err != nil {
		return decimal.Zero, err
	}
	return fromDec128(doc.Balance), nil
}

func (c *MongoStore) AbortRelease(ctx context.Context, tid string, accountID string) (bool, error) {
	res, err := c.accounts.UpdateOne(ctx, bson.M{"_id": accountID, "lock_holder": tid},
		bson.M{"$set": bson.M{
			"lock_holder":   nil,
			"pending_delta": toDec128(decimal.Zero),
			"updated_at":    time.Now().UTC(),
		}})
	if err != nil {
		return false, err
	}
	return res.ModifiedCount == 1, nil
}

func (c *MongoStore) FindLock(ctx context.Context, tid string) (*Account, bool, error) {
	doc := accountDoc{}
	err := c.accounts.FindOne(ctx, bson.M{"lock_holder": tid}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return doc.toAccount(), true, nil
}

func (c *MongoStore) Close() {
	_ = c.client.Disconnect(c.ctx)
}
