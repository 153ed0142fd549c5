package etl

import (
	"context"
	"fmt"
	"iter"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/BartekS5/ack/internal/partition"
	"github.com/BartekS5/ack/internal/stream"
	"github.com/BartekS5/ack/pkg/database"
	"github.com/BartekS5/ack/pkg/etlerr"
	"github.com/BartekS5/ack/pkg/logger"
	"github.com/BartekS5/ack/pkg/models"
	"github.com/BartekS5/ack/pkg/utils"
)

// PartitionField holds the partition key on rows and documents written by
// the database writers, so that rewriting a key replaces exactly its rows.
const PartitionField = "_partition"

type MongoReaderOptions struct {
	Database   string `mapstructure:"database" validate:"required"`
	Collection string `mapstructure:"collection"`
	// Filter and Sort are MongoDB extended JSON documents.
	Filter    string `mapstructure:"filter"`
	Sort      string `mapstructure:"sort"`
	BatchSize int32  `mapstructure:"batch_size" validate:"gte=0"`
}

// MongoReader streams the documents of one collection through a cursor.
type MongoReader struct {
	name   string
	client *mongo.Client
	coll   *mongo.Collection
	filter bson.D
	find   *options.FindOptions
}

func newMongoReader(_ context.Context, name string, o *MongoReaderOptions, d Deps) (Reader, error) {
	conn := d.env().MongoConnString
	if err := requireEnv("MONGO_CONNECTION_STRING", conn); err != nil {
		return nil, err
	}
	client, err := database.ConnectMongo(conn)
	if err != nil {
		return nil, &etlerr.SourceError{Source: name, Err: err}
	}
	r, err := NewMongoReader(name, client, *o)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func NewMongoReader(name string, client *mongo.Client, o MongoReaderOptions) (*MongoReader, error) {
	if o.Collection == "" {
		o.Collection = name
	}
	filter := bson.D{}
	if o.Filter != "" {
		if err := bson.UnmarshalExtJSON([]byte(o.Filter), false, &filter); err != nil {
			return nil, &etlerr.ConfigurationError{Field: "mongo.filter", Reason: "invalid extended JSON", Err: err}
		}
	}
	find := options.Find()
	if o.Sort != "" {
		var sort bson.D
		if err := bson.UnmarshalExtJSON([]byte(o.Sort), false, &sort); err != nil {
			return nil, &etlerr.ConfigurationError{Field: "mongo.sort", Reason: "invalid extended JSON", Err: err}
		}
		find.SetSort(sort)
	}
	if o.BatchSize > 0 {
		find.SetBatchSize(o.BatchSize)
	}
	return &MongoReader{
		name:   name,
		client: client,
		coll:   client.Database(o.Database).Collection(o.Collection),
		filter: filter,
		find:   find,
	}, nil
}

func (m *MongoReader) Type() string { return "mongo" }

func (m *MongoReader) Close(ctx context.Context) error { return m.client.Disconnect(ctx) }

func (m *MongoReader) Produce(ctx context.Context) iter.Seq2[models.Mapping, error] {
	return func(yield func(models.Mapping, error) bool) {
		cursor, err := m.coll.Find(ctx, m.filter, m.find)
		if err != nil {
			yield(nil, m.fail(err))
			return
		}
		defer func() {
			if err := cursor.Close(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("closing cursor failed", "source", m.name, "err", err)
			}
		}()

		for cursor.Next(ctx) {
			var doc bson.D
			if err := cursor.Decode(&doc); err != nil {
				yield(nil, m.fail(fmt.Errorf("decode document: %w", err)))
				return
			}
			rec, err := utils.FromDocument(doc)
			if err != nil {
				yield(nil, m.fail(err))
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
		if err := cursor.Err(); err != nil {
			yield(nil, m.fail(err))
		}
	}
}

func (m *MongoReader) fail(err error) error {
	return &etlerr.SourceError{Source: m.name, Err: err}
}

type MongoWriterOptions struct {
	Database string `mapstructure:"database" validate:"required"`
	// Collection defaults to the stream name.
	Collection string        `mapstructure:"collection"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// MongoLoader replaces the documents of one partition key with the chunk's
// records in a single ordered bulk write.
type MongoLoader struct {
	Client  *mongo.Client
	opts    MongoWriterOptions
	timeout time.Duration
}

func newMongoWriter(_ context.Context, o *MongoWriterOptions, d Deps) (Writer, error) {
	conn := d.env().MongoConnString
	if err := requireEnv("MONGO_CONNECTION_STRING", conn); err != nil {
		return nil, err
	}
	client, err := database.ConnectMongo(conn)
	if err != nil {
		return nil, err
	}
	return NewMongoLoader(client, *o), nil
}

func NewMongoLoader(client *mongo.Client, o MongoWriterOptions) *MongoLoader {
	timeout := o.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &MongoLoader{Client: client, opts: o, timeout: timeout}
}

func (m *MongoLoader) Type() string { return "mongo" }

func (m *MongoLoader) Close(ctx context.Context) error { return m.Client.Disconnect(ctx) }

func (m *MongoLoader) Write(ctx context.Context, chunk *stream.Chunk, key partition.Key) error {
	name := m.opts.Collection
	if name == "" {
		name = chunk.Stream
	}
	coll := m.Client.Database(m.opts.Database).Collection(name)

	writes := ChunkWriteModels(chunk, key)
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	res, err := coll.BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(true))
	if err != nil {
		return err
	}
	logger.Infof("Mongo BulkWrite %s: deleted %d, inserted %d", key, res.DeletedCount, res.InsertedCount)
	return nil
}

// ChunkWriteModels builds the delete-then-insert sequence for one chunk.
func ChunkWriteModels(chunk *stream.Chunk, key partition.Key) []mongo.WriteModel {
	writes := make([]mongo.WriteModel, 0, chunk.Len()+1)
	writes = append(writes, mongo.NewDeleteManyModel().SetFilter(bson.D{{Key: PartitionField, Value: string(key)}}))
	for _, rec := range chunk.Records {
		doc := make(bson.D, 0, rec.Len()+1)
		for _, f := range rec.Fields {
			doc = append(doc, bson.E{Key: f.Path, Value: f.Value})
		}
		doc = append(doc, bson.E{Key: PartitionField, Value: string(key)})
		writes = append(writes, mongo.NewInsertOneModel().SetDocument(doc))
	}
	return writes
}
