package history

import (
	"context"
	"fmt"
	"time"

	"github.com/tsinghua-fib-lab/agentsociety-signal/entity"
	"github.com/tsinghua-fib-lab/agentsociety-signal/utils/config"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	mongoTimeout = 5 * time.Second // 单次写入的超时
)

// document MongoDB中的一条历史记录
type document struct {
	Lane      string    `bson:"lane"`
	Allocated float64   `bson:"allocated"`
	Timestamp time.Time `bson:"timestamp"`
	CycleID   string    `bson:"cycle_id,omitempty"`
}

func toDocument(r entity.Record) document {
	return document{
		Lane:      r.Lane,
		Allocated: r.Allocated,
		Timestamp: r.Timestamp.UTC(),
		CycleID:   r.CycleID,
	}
}

func (d document) record() entity.Record {
	return entity.Record{
		Lane:      d.Lane,
		Allocated: d.Allocated,
		Timestamp: d.Timestamp,
		CycleID:   d.CycleID,
	}
}

// Mongo MongoDB历史输出
// 功能：每条记录插入为集合中的一个文档
type Mongo struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// NewMongo 连接MongoDB
// 参数：path-连接字符串、数据库名与集合名
func NewMongo(ctx context.Context, path config.MongoPath) (*Mongo, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(path.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	log.Infof("append history to mongo %s.%s", path.DB, path.Col)
	return &Mongo{
		client: client,
		coll:   client.Database(path.DB).Collection(path.Col),
	}, nil
}

// Append 插入一条记录
func (m *Mongo) Append(ctx context.Context, r entity.Record) error {
	ctx, cancel := context.WithTimeout(ctx, mongoTimeout)
	defer cancel()
	if _, err := m.coll.InsertOne(ctx, toDocument(r)); err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	return nil
}

// Load 按时间顺序读取集合中的记录
// 参数：limit-只读取最近的limit条，不大于0表示全部
func (m *Mongo) Load(ctx context.Context, limit int64) ([]entity.Record, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}
	cur, err := m.coll.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("find history: %w", err)
	}
	var docs []document
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	records := make([]entity.Record, len(docs))
	for i, d := range docs {
		records[len(docs)-1-i] = d.record()
	}
	return records, nil
}

// Close 断开连接
func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
