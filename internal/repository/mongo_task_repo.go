package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/hitoshi/taskmanager/internal/database"
	"github.com/hitoshi/taskmanager/internal/model"
)

// attachmentDocument はタスクに埋め込まれる添付ファイル。
type attachmentDocument struct {
	Name string `bson:"name"`
	URL  string `bson:"url"`
	Type string `bson:"type,omitempty"`
	Size int64  `bson:"size,omitempty"`
}

// taskDocument はtasksコレクションのドキュメント。
type taskDocument struct {
	ID          primitive.ObjectID   `bson:"_id,omitempty"`
	UserID      primitive.ObjectID   `bson:"userId"`
	Title       string               `bson:"title"`
	Description string               `bson:"description"`
	DueDate     time.Time            `bson:"dueDate"`
	Priority    string               `bson:"priority"`
	IsCompleted bool                 `bson:"isCompleted"`
	CompletedAt *time.Time           `bson:"completedAt,omitempty"`
	Category    string               `bson:"category"`
	Tags        []string             `bson:"tags"`
	Attachments []attachmentDocument `bson:"attachments"`
	Notes       string               `bson:"notes"`
	CreatedAt   time.Time            `bson:"createdAt"`
	UpdatedAt   time.Time            `bson:"updatedAt"`
}

func (d *taskDocument) toModel() *model.Task {
	t := &model.Task{
		ID:          d.ID.Hex(),
		UserID:      d.UserID.Hex(),
		Title:       d.Title,
		Description: d.Description,
		DueDate:     d.DueDate.UTC(),
		Priority:    model.Priority(d.Priority),
		IsCompleted: d.IsCompleted,
		Category:    d.Category,
		Tags:        d.Tags,
		Notes:       d.Notes,
		CreatedAt:   d.CreatedAt.UTC(),
		UpdatedAt:   d.UpdatedAt.UTC(),
	}
	if d.CompletedAt != nil {
		at := d.CompletedAt.UTC()
		t.CompletedAt = &at
	}
	for _, a := range d.Attachments {
		t.Attachments = append(t.Attachments, model.Attachment(a))
	}
	return t
}

func attachmentDocuments(attachments []model.Attachment) []attachmentDocument {
	docs := make([]attachmentDocument, 0, len(attachments))
	for _, a := range attachments {
		docs = append(docs, attachmentDocument(a))
	}
	return docs
}

// MongoTaskRepo はMongoDBを使用したタスクリポジトリ。
type MongoTaskRepo struct {
	tasks *mongo.Collection
}

// NewMongoTaskRepo はMongoTaskRepoを生成する。
func NewMongoTaskRepo(db *mongo.Database) *MongoTaskRepo {
	return &MongoTaskRepo{tasks: db.Collection(database.TasksCollection)}
}

// ownerIDs はタスクIDと所有者IDをObjectIDに変換する。どちらかが不正ならokはfalse。
func ownerIDs(userID, id string) (uid, oid primitive.ObjectID, ok bool) {
	uid, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return uid, oid, false
	}
	oid, err = primitive.ObjectIDFromHex(id)
	if err != nil {
		return uid, oid, false
	}
	return uid, oid, true
}

func (r *MongoTaskRepo) decodeAll(ctx context.Context, cur *mongo.Cursor) ([]*model.Task, error) {
	defer cur.Close(ctx)
	var tasks []*model.Task
	for cur.Next(ctx) {
		var doc taskDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode task: %w", err)
		}
		tasks = append(tasks, doc.toModel())
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tasks: %w", err)
	}
	return tasks, nil
}

// ValidID はIDがObjectID形式かどうかを返す。
func (r *MongoTaskRepo) ValidID(id string) bool {
	return primitive.IsValidObjectID(id)
}

// Create はタスクを作成し、ObjectIDを採番する。
func (r *MongoTaskRepo) Create(ctx context.Context, task *model.Task) error {
	uid, err := primitive.ObjectIDFromHex(task.UserID)
	if err != nil {
		return fmt.Errorf("invalid user ID: %q", task.UserID)
	}
	tags := task.Tags
	if tags == nil {
		tags = []string{}
	}
	doc := taskDocument{
		ID:          primitive.NewObjectID(),
		UserID:      uid,
		Title:       task.Title,
		Description: task.Description,
		DueDate:     task.DueDate,
		Priority:    string(task.Priority),
		IsCompleted: task.IsCompleted,
		CompletedAt: task.CompletedAt,
		Category:    task.Category,
		Tags:        tags,
		Attachments: attachmentDocuments(task.Attachments),
		Notes:       task.Notes,
		CreatedAt:   task.CreatedAt,
		UpdatedAt:   task.UpdatedAt,
	}
	if _, err := r.tasks.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}
	task.ID = doc.ID.Hex()
	return nil
}

// FindByID は所有者のタスクを取得する。見つからない場合はnilを返す。
func (r *MongoTaskRepo) FindByID(ctx context.Context, userID, id string) (*model.Task, error) {
	uid, oid, ok := ownerIDs(userID, id)
	if !ok {
		return nil, nil
	}
	var doc taskDocument
	err := r.tasks.FindOne(ctx, bson.D{{Key: "_id", Value: oid}, {Key: "userId", Value: uid}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find task: %w", err)
	}
	return doc.toModel(), nil
}

// buildTaskFilter は一覧検索のフィルタを構築する。
func buildTaskFilter(uid primitive.ObjectID, f TaskFilter) bson.D {
	filter := bson.D{{Key: "userId", Value: uid}}
	if f.IsCompleted != nil {
		filter = append(filter, bson.E{Key: "isCompleted", Value: *f.IsCompleted})
	}
	if f.Priority != nil {
		filter = append(filter, bson.E{Key: "priority", Value: string(*f.Priority)})
	}
	if f.Category != nil {
		filter = append(filter, bson.E{Key: "category", Value: *f.Category})
	}
	return filter
}

// buildTaskListPipeline は一覧検索の集計パイプラインを構築する。
// 優先度ソート時は順位フィールドを付与してから並べる。同値の場合は_idで順序を確定させる。
func buildTaskListPipeline(filter bson.D, q TaskListQuery) mongo.Pipeline {
	dir := 1
	if q.Descending {
		dir = -1
	}

	pipeline := mongo.Pipeline{{{Key: "$match", Value: filter}}}

	var sortKey string
	switch q.SortBy {
	case SortByPriority:
		pipeline = append(pipeline, bson.D{{Key: "$addFields", Value: bson.D{{
			Key: "priorityRank",
			Value: bson.D{{Key: "$indexOfArray", Value: bson.A{
				bson.A{string(model.PriorityLow), string(model.PriorityMedium), string(model.PriorityHigh)},
				"$priority",
			}}},
		}}}})
		sortKey = "priorityRank"
	case SortByUpdatedAt, SortByDueDate, SortByTitle, SortByCreatedAt:
		sortKey = string(q.SortBy)
	default:
		sortKey = string(SortByCreatedAt)
	}

	pipeline = append(pipeline,
		bson.D{{Key: "$sort", Value: bson.D{{Key: sortKey, Value: dir}, {Key: "_id", Value: dir}}}},
		bson.D{{Key: "$skip", Value: int64(q.Offset)}},
		bson.D{{Key: "$limit", Value: int64(q.Limit)}},
	)
	if q.SortBy == SortByPriority {
		pipeline = append(pipeline, bson.D{{Key: "$project", Value: bson.D{{Key: "priorityRank", Value: 0}}}})
	}
	return pipeline
}

// List は条件に一致するタスクのページと総件数を返す。
func (r *MongoTaskRepo) List(ctx context.Context, userID string, q TaskListQuery) ([]*model.Task, int64, error) {
	uid, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return nil, 0, nil
	}
	filter := buildTaskFilter(uid, q.Filter)

	total, err := r.tasks.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count tasks: %w", err)
	}

	cur, err := r.tasks.Aggregate(ctx, buildTaskListPipeline(filter, q))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list tasks: %w", err)
	}
	tasks, err := r.decodeAll(ctx, cur)
	if err != nil {
		return nil, 0, err
	}
	return tasks, total, nil
}

// buildTaskUpdate は部分更新の更新ドキュメントを構築する。
// 完了解除時はcompletedAtを削除する。
func buildTaskUpdate(u model.TaskUpdate) bson.D {
	set := bson.D{}
	unset := bson.D{}
	if u.Title != nil {
		set = append(set, bson.E{Key: "title", Value: *u.Title})
	}
	if u.Description != nil {
		set = append(set, bson.E{Key: "description", Value: *u.Description})
	}
	if u.DueDate != nil {
		set = append(set, bson.E{Key: "dueDate", Value: *u.DueDate})
	}
	if u.Priority != nil {
		set = append(set, bson.E{Key: "priority", Value: string(*u.Priority)})
	}
	if u.IsCompleted != nil {
		set = append(set, bson.E{Key: "isCompleted", Value: *u.IsCompleted})
		if *u.IsCompleted {
			set = append(set, bson.E{Key: "completedAt", Value: u.UpdatedAt})
		} else {
			unset = append(unset, bson.E{Key: "completedAt", Value: ""})
		}
	}
	if u.Category != nil {
		set = append(set, bson.E{Key: "category", Value: *u.Category})
	}
	if u.Tags != nil {
		tags := *u.Tags
		if tags == nil {
			tags = []string{}
		}
		set = append(set, bson.E{Key: "tags", Value: tags})
	}
	if u.Attachments != nil {
		set = append(set, bson.E{Key: "attachments", Value: attachmentDocuments(*u.Attachments)})
	}
	if u.Notes != nil {
		set = append(set, bson.E{Key: "notes", Value: *u.Notes})
	}
	set = append(set, bson.E{Key: "updatedAt", Value: u.UpdatedAt})

	update := bson.D{{Key: "$set", Value: set}}
	if len(unset) > 0 {
		update = append(update, bson.E{Key: "$unset", Value: unset})
	}
	return update
}

func (r *MongoTaskRepo) findOneAndUpdate(ctx context.Context, filter, update any) (*model.Task, error) {
	var doc taskDocument
	err := r.tasks.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc.toModel(), nil
}

// Update は部分更新を1回のfindOneAndUpdateで適用する。
func (r *MongoTaskRepo) Update(ctx context.Context, userID, id string, u model.TaskUpdate) (*model.Task, error) {
	uid, oid, ok := ownerIDs(userID, id)
	if !ok {
		return nil, nil
	}
	task, err := r.findOneAndUpdate(ctx, bson.D{{Key: "_id", Value: oid}, {Key: "userId", Value: uid}}, buildTaskUpdate(u))
	if err != nil {
		return nil, fmt.Errorf("failed to update task: %w", err)
	}
	return task, nil
}

// togglePipeline は完了状態を反転するパイプライン更新。
// 同一$setステージ内の"$isCompleted"は更新前の値を参照する。
func togglePipeline(at time.Time) mongo.Pipeline {
	return mongo.Pipeline{{{Key: "$set", Value: bson.D{
		{Key: "isCompleted", Value: bson.D{{Key: "$not", Value: bson.A{"$isCompleted"}}}},
		{Key: "completedAt", Value: bson.D{{Key: "$cond", Value: bson.A{"$isCompleted", "$$REMOVE", at}}}},
		{Key: "updatedAt", Value: at},
	}}}}
}

// ToggleCompletion は完了状態をアトミックに反転する。
func (r *MongoTaskRepo) ToggleCompletion(ctx context.Context, userID, id string, at time.Time) (*model.Task, error) {
	uid, oid, ok := ownerIDs(userID, id)
	if !ok {
		return nil, nil
	}
	task, err := r.findOneAndUpdate(ctx, bson.D{{Key: "_id", Value: oid}, {Key: "userId", Value: uid}}, togglePipeline(at))
	if err != nil {
		return nil, fmt.Errorf("failed to toggle task: %w", err)
	}
	return task, nil
}

// Delete は所有者のタスクを削除する。
func (r *MongoTaskRepo) Delete(ctx context.Context, userID, id string) (bool, error) {
	uid, oid, ok := ownerIDs(userID, id)
	if !ok {
		return false, nil
	}
	res, err := r.tasks.DeleteOne(ctx, bson.D{{Key: "_id", Value: oid}, {Key: "userId", Value: uid}})
	if err != nil {
		return false, fmt.Errorf("failed to delete task: %w", err)
	}
	return res.DeletedCount > 0, nil
}

func (r *MongoTaskRepo) findSortedByDue(ctx context.Context, filter bson.D) ([]*model.Task, error) {
	cur, err := r.tasks.Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "dueDate", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	return r.decodeAll(ctx, cur)
}

// ListOverdue は期限切れの未完了タスクを期限昇順で返す。
func (r *MongoTaskRepo) ListOverdue(ctx context.Context, userID string, now time.Time) ([]*model.Task, error) {
	uid, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return nil, nil
	}
	tasks, err := r.findSortedByDue(ctx, bson.D{
		{Key: "userId", Value: uid},
		{Key: "isCompleted", Value: false},
		{Key: "dueDate", Value: bson.D{{Key: "$lt", Value: now}}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list overdue tasks: %w", err)
	}
	return tasks, nil
}

// ListDueBetween は期限がfrom〜toの未完了タスクを期限昇順で返す。
func (r *MongoTaskRepo) ListDueBetween(ctx context.Context, userID string, from, to time.Time) ([]*model.Task, error) {
	uid, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return nil, nil
	}
	tasks, err := r.findSortedByDue(ctx, bson.D{
		{Key: "userId", Value: uid},
		{Key: "isCompleted", Value: false},
		{Key: "dueDate", Value: bson.D{{Key: "$gte", Value: from}, {Key: "$lte", Value: to}}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list upcoming tasks: %w", err)
	}
	return tasks, nil
}

// countsPipeline は総数・完了数・期限切れ数を1回の集計で求めるパイプライン。
func countsPipeline(match bson.D, now time.Time) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "total", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "completed", Value: bson.D{{Key: "$sum", Value: bson.D{{Key: "$cond", Value: bson.A{"$isCompleted", 1, 0}}}}}},
			{Key: "overdue", Value: bson.D{{Key: "$sum", Value: bson.D{{Key: "$cond", Value: bson.A{
				bson.D{{Key: "$and", Value: bson.A{
					bson.D{{Key: "$eq", Value: bson.A{"$isCompleted", false}}},
					bson.D{{Key: "$lt", Value: bson.A{"$dueDate", now}}},
				}}},
				1, 0,
			}}}}}},
		}}},
	}
}

func (r *MongoTaskRepo) aggregateCounts(ctx context.Context, match bson.D, now time.Time) (model.TaskCounts, error) {
	var c model.TaskCounts
	cur, err := r.tasks.Aggregate(ctx, countsPipeline(match, now))
	if err != nil {
		return c, err
	}
	defer cur.Close(ctx)

	var row struct {
		Total     int64 `bson:"total"`
		Completed int64 `bson:"completed"`
		Overdue   int64 `bson:"overdue"`
	}
	if cur.Next(ctx) {
		if err := cur.Decode(&row); err != nil {
			return c, err
		}
	}
	if err := cur.Err(); err != nil {
		return c, err
	}
	return model.TaskCounts{Total: row.Total, Completed: row.Completed, Overdue: row.Overdue}, nil
}

// Counts は所有者のタスク件数を集計する。
func (r *MongoTaskRepo) Counts(ctx context.Context, userID string, now time.Time) (model.TaskCounts, error) {
	uid, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return model.TaskCounts{}, nil
	}
	c, err := r.aggregateCounts(ctx, bson.D{{Key: "userId", Value: uid}}, now)
	if err != nil {
		return c, fmt.Errorf("failed to count tasks: %w", err)
	}
	return c, nil
}

// GlobalCounts は全ユーザーのタスク件数を集計する。
func (r *MongoTaskRepo) GlobalCounts(ctx context.Context, now time.Time) (model.TaskCounts, error) {
	c, err := r.aggregateCounts(ctx, bson.D{}, now)
	if err != nil {
		return c, fmt.Errorf("failed to count all tasks: %w", err)
	}
	return c, nil
}

func (r *MongoTaskRepo) groupCounts(ctx context.Context, match bson.D, field string) ([]model.GroupCount, error) {
	cur, err := r.tasks.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$group", Value: bson.D{{Key: "_id", Value: "$" + field}, {Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}}}}},
	})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var groups []model.GroupCount
	for cur.Next(ctx) {
		var row struct {
			Key   string `bson:"_id"`
			Count int64  `bson:"count"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, err
		}
		groups = append(groups, model.GroupCount{Key: row.Key, Count: row.Count})
	}
	return groups, cur.Err()
}

// CountByPriority は優先度ごとの件数を返す。
func (r *MongoTaskRepo) CountByPriority(ctx context.Context, userID string) ([]model.GroupCount, error) {
	uid, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return nil, nil
	}
	groups, err := r.groupCounts(ctx, bson.D{{Key: "userId", Value: uid}}, "priority")
	if err != nil {
		return nil, fmt.Errorf("failed to count tasks by priority: %w", err)
	}
	return groups, nil
}

// CountByCategory は空でないカテゴリごとの件数を返す。
func (r *MongoTaskRepo) CountByCategory(ctx context.Context, userID string) ([]model.GroupCount, error) {
	uid, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return nil, nil
	}
	groups, err := r.groupCounts(ctx, bson.D{
		{Key: "userId", Value: uid},
		{Key: "category", Value: bson.D{{Key: "$nin", Value: bson.A{"", nil}}}},
	}, "category")
	if err != nil {
		return nil, fmt.Errorf("failed to count tasks by category: %w", err)
	}
	return groups, nil
}

// CountCreatedSince はsince以降に作成されたタスク数を返す。
func (r *MongoTaskRepo) CountCreatedSince(ctx context.Context, userID string, since time.Time) (int64, error) {
	uid, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return 0, nil
	}
	n, err := r.tasks.CountDocuments(ctx, bson.D{
		{Key: "userId", Value: uid},
		{Key: "createdAt", Value: bson.D{{Key: "$gte", Value: since}}},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count recent tasks: %w", err)
	}
	return n, nil
}

// DailyCreated はsince以降に作成されたタスクをUTC日付ごとに集計する。
func (r *MongoTaskRepo) DailyCreated(ctx context.Context, userID string, since time.Time) ([]model.DailyCount, error) {
	uid, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return nil, nil
	}
	cur, err := r.tasks.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: bson.D{
			{Key: "userId", Value: uid},
			{Key: "createdAt", Value: bson.D{{Key: "$gte", Value: since}}},
		}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: bson.D{{Key: "$dateToString", Value: bson.D{
				{Key: "format", Value: "%Y-%m-%d"},
				{Key: "date", Value: "$createdAt"},
			}}}},
			{Key: "created", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "completed", Value: bson.D{{Key: "$sum", Value: bson.D{{Key: "$cond", Value: bson.A{"$isCompleted", 1, 0}}}}}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "_id", Value: 1}}}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate daily tasks: %w", err)
	}
	defer cur.Close(ctx)

	var days []model.DailyCount
	for cur.Next(ctx) {
		var row struct {
			Date      string `bson:"_id"`
			Created   int64  `bson:"created"`
			Completed int64  `bson:"completed"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, fmt.Errorf("failed to decode daily row: %w", err)
		}
		days = append(days, model.DailyCount{Date: row.Date, Created: row.Created, Completed: row.Completed})
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate daily rows: %w", err)
	}
	return days, nil
}

// RecentActivity はsince以降に作成・更新されたタスクを新しい順に返す。
func (r *MongoTaskRepo) RecentActivity(ctx context.Context, userID string, since time.Time, limit int) ([]model.Activity, error) {
	uid, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return nil, nil
	}
	cur, err := r.tasks.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: bson.D{
			{Key: "userId", Value: uid},
			{Key: "$or", Value: bson.A{
				bson.D{{Key: "createdAt", Value: bson.D{{Key: "$gte", Value: since}}}},
				bson.D{{Key: "updatedAt", Value: bson.D{{Key: "$gte", Value: since}}}},
			}},
		}}},
		{{Key: "$addFields", Value: bson.D{{Key: "activityDate", Value: bson.D{{Key: "$max", Value: bson.A{"$createdAt", "$updatedAt"}}}}}}},
		{{Key: "$sort", Value: bson.D{{Key: "activityDate", Value: -1}, {Key: "_id", Value: -1}}}},
		{{Key: "$limit", Value: int64(limit)}},
		{{Key: "$project", Value: bson.D{{Key: "title", Value: 1}, {Key: "createdAt", Value: 1}, {Key: "updatedAt", Value: 1}}}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list recent activity: %w", err)
	}
	defer cur.Close(ctx)

	var activities []model.Activity
	for cur.Next(ctx) {
		var row struct {
			ID        primitive.ObjectID `bson:"_id"`
			Title     string             `bson:"title"`
			CreatedAt time.Time          `bson:"createdAt"`
			UpdatedAt time.Time          `bson:"updatedAt"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, fmt.Errorf("failed to decode activity row: %w", err)
		}
		activities = append(activities, model.NewActivity(row.ID.Hex(), row.Title, row.CreatedAt.UTC(), row.UpdatedAt.UTC()))
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate activity rows: %w", err)
	}
	return activities, nil
}

// ownedIDsFilter はids中の所有タスクに一致するフィルタを構築する。不正な形式のIDは除外する。
func ownedIDsFilter(userID string, ids []string) (bson.D, bool) {
	uid, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return nil, false
	}
	oids := make([]primitive.ObjectID, 0, len(ids))
	for _, id := range ids {
		if oid, err := primitive.ObjectIDFromHex(id); err == nil {
			oids = append(oids, oid)
		}
	}
	if len(oids) == 0 {
		return nil, false
	}
	return bson.D{
		{Key: "_id", Value: bson.D{{Key: "$in", Value: oids}}},
		{Key: "userId", Value: uid},
	}, true
}

// BulkUpdate はids中の所有タスクに更新を適用する。
func (r *MongoTaskRepo) BulkUpdate(ctx context.Context, userID string, ids []string, u model.TaskUpdate) (int64, error) {
	filter, ok := ownedIDsFilter(userID, ids)
	if !ok {
		return 0, nil
	}
	res, err := r.tasks.UpdateMany(ctx, filter, buildTaskUpdate(u))
	if err != nil {
		return 0, fmt.Errorf("failed to bulk update tasks: %w", err)
	}
	return res.ModifiedCount, nil
}

// BulkDelete はids中の所有タスクを削除する。
func (r *MongoTaskRepo) BulkDelete(ctx context.Context, userID string, ids []string) (int64, error) {
	filter, ok := ownedIDsFilter(userID, ids)
	if !ok {
		return 0, nil
	}
	res, err := r.tasks.DeleteMany(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to bulk delete tasks: %w", err)
	}
	return res.DeletedCount, nil
}

// compile-time interface check
var _ TaskRepository = (*MongoTaskRepo)(nil)
