package db

import (
	"context"
	"fmt"
	"time"

	"github.com/ukydev/parts-workflow/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoAuditStore persists audit-log commits so restore points survive a restart.
type MongoAuditStore struct {
	Collection *mongo.Collection
}

// NewMongoAuditStore binds the commits collection of database.
func NewMongoAuditStore(database *mongo.Database) *MongoAuditStore {
	return &MongoAuditStore{Collection: database.Collection("commits")}
}

// snapshotRecord is a record as stored inside a commit. Unlike the records
// collection, commits keep the reminder on the record itself.
type snapshotRecord struct {
	models.Record `bson:",inline"`
	Reminder      *models.Reminder `bson:"reminder,omitempty"`
}

// commitDocument is the stored shape of a commit.
type commitDocument struct {
	ID              string                            `bson:"_id"`
	ActionName      string                            `bson:"action_name"`
	Timestamp       time.Time                         `bson:"timestamp"`
	Stages          map[models.Stage][]snapshotRecord `bson:"stages"`
	BookingStatuses []models.BookingStatusDef         `bson:"booking_statuses"`
}

func toCommitDocument(commit models.Commit) commitDocument {
	doc := commitDocument{
		ID:              commit.ID,
		ActionName:      commit.ActionName,
		Timestamp:       commit.Timestamp,
		Stages:          make(map[models.Stage][]snapshotRecord, len(commit.Snapshot.Stages)),
		BookingStatuses: commit.Snapshot.BookingStatuses,
	}
	for stage, recs := range commit.Snapshot.Stages {
		rows := make([]snapshotRecord, len(recs))
		for i, r := range recs {
			rows[i] = snapshotRecord{Record: r, Reminder: r.Reminder}
		}
		doc.Stages[stage] = rows
	}
	return doc
}

func (d commitDocument) commit() models.Commit {
	snap := models.NewSnapshot()
	for stage, rows := range d.Stages {
		recs := make([]models.Record, len(rows))
		for i, row := range rows {
			recs[i] = row.Record
			recs[i].Reminder = row.Reminder
		}
		snap.Stages[stage] = recs
	}
	snap.BookingStatuses = d.BookingStatuses
	return models.Commit{ID: d.ID, ActionName: d.ActionName, Timestamp: d.Timestamp, Snapshot: snap}
}

// InsertCommit stores one commit.
func (c *MongoAuditStore) InsertCommit(ctx context.Context, commit models.Commit) error {
	if c.Collection == nil {
		return fmt.Errorf("mongo collection is nil")
	}
	_, err := c.Collection.InsertOne(ctx, toCommitDocument(commit))
	return err
}

// FindCommitsSince returns commits newer than since, oldest first.
func (c *MongoAuditStore) FindCommitsSince(ctx context.Context, since time.Time) ([]models.Commit, error) {
	if c.Collection == nil {
		return nil, fmt.Errorf("mongo collection is nil")
	}
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}})
	cursor, err := c.Collection.Find(ctx, bson.M{"timestamp": bson.M{"$gte": since}}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []commitDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	commits := make([]models.Commit, len(docs))
	for i, d := range docs {
		commits[i] = d.commit()
	}
	return commits, nil
}

// DeleteCommitsBefore prunes commits older than cutoff.
func (c *MongoAuditStore) DeleteCommitsBefore(ctx context.Context, cutoff time.Time) error {
	if c.Collection == nil {
		return fmt.Errorf("mongo collection is nil")
	}
	_, err := c.Collection.DeleteMany(ctx, bson.M{"timestamp": bson.M{"$lt": cutoff}})
	return err
}

// DeleteCommit removes one commit by id.
func (c *MongoAuditStore) DeleteCommit(ctx context.Context, id string) error {
	if c.Collection == nil {
		return fmt.Errorf("mongo collection is nil")
	}
	_, err := c.Collection.DeleteOne(ctx, bson.M{"_id": id})
	return err
}
