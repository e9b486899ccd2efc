// Package mongo implements the interface for MongoDB.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	mgo "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"

	"github.com/tarancss/chatrelay/lib/store"
)

// DatabaseDefault is used when the uri does not name a database.
const DatabaseDefault = "chatrelay"

// collection names
const (
	colUsers      = "users"
	colGroups     = "groups"
	colMessages   = "messages"
	colProvisions = "provisions"
	colAnalytics  = "analytics"
)

const dupKeyCode = 11000

// Mongo implements a connection to a MongoDB database.
type Mongo struct {
	c  *mgo.Client
	db *mgo.Database
}

// New returns a Mongo client connection to the specified MongoDB database uri and makes sure the unique indexes
// exist.
func New(uri string) (*Mongo, error) {
	cs, err := connstring.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("invalid mongo uri %s: %w", uri, err)
	}

	name := cs.Database
	if name == "" {
		name = DatabaseDefault
	}

	// get a client
	c, err := mgo.NewClient(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("cannot connect to mongo DB in %s: %w", uri, err)
	}
	// connect client
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second) //nolint:gomnd // 5 seconds timeout
	defer cancel()

	if err = c.Connect(ctx); err != nil {
		return nil, fmt.Errorf("error connecting to mongo DB: %w", err)
	}

	m := &Mongo{c: c, db: c.Database(name)}
	if err = m.ensureIndexes(ctx); err != nil {
		_ = c.Disconnect(context.Background())

		return nil, fmt.Errorf("cannot create indexes: %w", err)
	}

	return m, nil
}

func unique(key string) mgo.IndexModel {
	return mgo.IndexModel{Keys: bson.D{{Key: key, Value: 1}}, Options: options.Index().SetUnique(true)}
}

func (m *Mongo) ensureIndexes(ctx context.Context) error {
	if _, err := m.db.Collection(colUsers).Indexes().CreateMany(ctx, []mgo.IndexModel{
		unique("username"), unique("meta_account"), unique("xion_address"),
	}); err != nil {
		return err
	}

	if _, err := m.db.Collection(colGroups).Indexes().CreateMany(ctx, []mgo.IndexModel{
		unique("group_name"), {Keys: bson.D{{Key: "members.xion_address", Value: 1}}},
	}); err != nil {
		return err
	}

	_, err := m.db.Collection(colMessages).Indexes().CreateOne(ctx, mgo.IndexModel{
		Keys: bson.D{{Key: "from", Value: 1}, {Key: "to", Value: 1}, {Key: "timestamp", Value: 1}},
	})

	return err
}

// CloseMongo will close a database connection. Must be called at termination time.
func (m *Mongo) CloseMongo() error {
	return m.c.Disconnect(context.Background())
}

// isDup reports a unique index violation.
func isDup(err error) bool {
	var we mgo.WriteException
	if errors.As(err, &we) {
		for _, e := range we.WriteErrors {
			if e.Code == dupKeyCode {
				return true
			}
		}
	}

	return false
}

func notFound(err error) error {
	if errors.Is(err, mgo.ErrNoDocuments) {
		return store.ErrNotFound
	}

	return err
}

// AddIdentity inserts a user document.
func (m *Mongo) AddIdentity(ctx context.Context, id store.Identity) error {
	_, err := m.db.Collection(colUsers).InsertOne(ctx, id)
	if isDup(err) {
		return store.ErrDuplicate
	}

	if err != nil {
		return fmt.Errorf("could not insert user in db: %w", err)
	}

	return nil
}

func (m *Mongo) identity(ctx context.Context, filter bson.M) (id store.Identity, err error) {
	err = notFound(m.db.Collection(colUsers).FindOne(ctx, filter).Decode(&id))

	return
}

// IdentityByUsername returns the user with username.
func (m *Mongo) IdentityByUsername(ctx context.Context, username string) (store.Identity, error) {
	return m.identity(ctx, bson.M{"username": username})
}

// IdentityByMetaAccount returns the user with the meta account.
func (m *Mongo) IdentityByMetaAccount(ctx context.Context, meta string) (store.Identity, error) {
	return m.identity(ctx, bson.M{"meta_account": meta})
}

// IdentityByAddress returns the user owning addr.
func (m *Mongo) IdentityByAddress(ctx context.Context, addr string) (store.Identity, error) {
	return m.identity(ctx, bson.M{"xion_address": addr})
}

// AddGroup inserts a group document.
func (m *Mongo) AddGroup(ctx context.Context, g store.Group) error {
	if g.Members == nil {
		g.Members = []store.Member{}
	}

	_, err := m.db.Collection(colGroups).InsertOne(ctx, g)
	if isDup(err) {
		return store.ErrDuplicate
	}

	if err != nil {
		return fmt.Errorf("could not insert group in db: %w", err)
	}

	return nil
}

// GetGroup returns the group called name.
func (m *Mongo) GetGroup(ctx context.Context, name string) (g store.Group, err error) {
	err = notFound(m.db.Collection(colGroups).FindOne(ctx, bson.M{"group_name": name}).Decode(&g))

	return
}

// AddMember pushes mb unless a member with the same address exists, in a single update.
func (m *Mongo) AddMember(ctx context.Context, group string, mb store.Member) error {
	res, err := m.db.Collection(colGroups).UpdateOne(ctx,
		bson.M{"group_name": group, "members.xion_address": bson.M{"$ne": mb.Address}},
		bson.M{"$push": bson.M{"members": mb}})
	if err != nil {
		return fmt.Errorf("could not add member: %w", err)
	}

	if res.MatchedCount == 0 {
		if _, err = m.GetGroup(ctx, group); err != nil {
			return err
		}

		return store.ErrDuplicate
	}

	return nil
}

// SetRole sets the role of the member with address addr.
func (m *Mongo) SetRole(ctx context.Context, group, addr string, role store.Role) error {
	res, err := m.db.Collection(colGroups).UpdateOne(ctx,
		bson.M{"group_name": group, "members.xion_address": addr},
		bson.M{"$set": bson.M{"members.$.role": role}})
	if err != nil {
		return fmt.Errorf("could not set role: %w", err)
	}

	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}

	return nil
}

// DeleteGroup removes the group called name.
func (m *Mongo) DeleteGroup(ctx context.Context, name string) error {
	res, err := m.db.Collection(colGroups).DeleteOne(ctx, bson.M{"group_name": name})
	if err == nil && res.DeletedCount != 1 {
		err = store.ErrNotFound
	}

	return err
}

// GroupsByMember returns the groups addr belongs to.
func (m *Mongo) GroupsByMember(ctx context.Context, addr string) ([]store.Group, error) {
	cur, err := m.db.Collection(colGroups).Find(ctx, bson.M{"members.xion_address": addr},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("error getting groups: %w", err)
	}

	gs := []store.Group{}
	if err = cur.All(ctx, &gs); err != nil {
		return nil, err
	}

	return gs, nil
}

// AddMessage inserts msg.
func (m *Mongo) AddMessage(ctx context.Context, msg store.ChatMessage) error {
	_, err := m.db.Collection(colMessages).InsertOne(ctx, msg)

	return err
}

// Conversation returns the messages exchanged between a and b, oldest first.
func (m *Mongo) Conversation(ctx context.Context, a, b string) ([]store.ChatMessage, error) {
	cur, err := m.db.Collection(colMessages).Find(ctx,
		bson.M{"$or": bson.A{bson.M{"from": a, "to": b}, bson.M{"from": b, "to": a}}},
		options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("error getting messages: %w", err)
	}

	msgs := []store.ChatMessage{}
	if err = cur.All(ctx, &msgs); err != nil {
		return nil, err
	}

	return msgs, nil
}

// SaveProvision upserts the journal record.
func (m *Mongo) SaveProvision(ctx context.Context, p store.ProvisionRecord) error {
	_, err := m.db.Collection(colProvisions).ReplaceOne(ctx, bson.M{"_id": p.ID}, p,
		options.Replace().SetUpsert(true))

	return err
}

// AddAnalytics inserts e.
func (m *Mongo) AddAnalytics(ctx context.Context, e store.AnalyticsEvent) error {
	_, err := m.db.Collection(colAnalytics).InsertOne(ctx, e)

	return err
}
