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
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/hitoshi/taskmanager/internal/database"
	"github.com/hitoshi/taskmanager/internal/model"
)

// mongoIllegalOperation はスタンドアロン構成でトランザクションを開始した場合のエラーコード。
const mongoIllegalOperation = 20

// userDocument はusersコレクションのドキュメント。
type userDocument struct {
	ID          primitive.ObjectID `bson:"_id,omitempty"`
	Email       string             `bson:"email"`
	Password    string             `bson:"password"`
	GoogleID    string             `bson:"googleId,omitempty"`
	DisplayName string             `bson:"displayName"`
	Avatar      string             `bson:"avatar"`
	IsActive    bool               `bson:"isActive"`
	LastLogin   *time.Time         `bson:"lastLogin,omitempty"`
	CreatedAt   time.Time          `bson:"createdAt"`
	UpdatedAt   time.Time          `bson:"updatedAt"`
}

func (d *userDocument) toModel() *model.User {
	u := &model.User{
		ID:           d.ID.Hex(),
		Email:        d.Email,
		PasswordHash: d.Password,
		GoogleID:     d.GoogleID,
		DisplayName:  d.DisplayName,
		Avatar:       d.Avatar,
		IsActive:     d.IsActive,
		CreatedAt:    d.CreatedAt.UTC(),
		UpdatedAt:    d.UpdatedAt.UTC(),
	}
	if d.LastLogin != nil {
		t := d.LastLogin.UTC()
		u.LastLogin = &t
	}
	return u
}

// MongoUserRepo はMongoDBを使用したユーザーリポジトリ。
type MongoUserRepo struct {
	db    *mongo.Database
	users *mongo.Collection
	tasks *mongo.Collection
}

// NewMongoUserRepo はMongoUserRepoを生成する。
func NewMongoUserRepo(db *mongo.Database) *MongoUserRepo {
	return &MongoUserRepo{
		db:    db,
		users: db.Collection(database.UsersCollection),
		tasks: db.Collection(database.TasksCollection),
	}
}

func (r *MongoUserRepo) findOne(ctx context.Context, filter bson.D) (*model.User, error) {
	var doc userDocument
	err := r.users.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc.toModel(), nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *MongoUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, nil
	}
	user, err := r.findOne(ctx, bson.D{{Key: "_id", Value: oid}})
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByEmail はメールアドレスでユーザーを検索する。
func (r *MongoUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := r.findOne(ctx, bson.D{{Key: "email", Value: email}})
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return user, nil
}

// FindByGoogleID はGoogleアカウントIDでユーザーを検索する。
func (r *MongoUserRepo) FindByGoogleID(ctx context.Context, googleID string) (*model.User, error) {
	user, err := r.findOne(ctx, bson.D{{Key: "googleId", Value: googleID}})
	if err != nil {
		return nil, fmt.Errorf("failed to find user by google ID: %w", err)
	}
	return user, nil
}

// Create はユーザーを作成し、ObjectIDを採番する。
func (r *MongoUserRepo) Create(ctx context.Context, user *model.User) error {
	doc := userDocument{
		ID:          primitive.NewObjectID(),
		Email:       user.Email,
		Password:    user.PasswordHash,
		GoogleID:    user.GoogleID,
		DisplayName: user.DisplayName,
		Avatar:      user.Avatar,
		IsActive:    user.IsActive,
		LastLogin:   user.LastLogin,
		CreatedAt:   user.CreatedAt,
		UpdatedAt:   user.UpdatedAt,
	}
	if _, err := r.users.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	user.ID = doc.ID.Hex()
	return nil
}

// Update はユーザーのパスワード以外の可変フィールドを保存する。
func (r *MongoUserRepo) Update(ctx context.Context, user *model.User) error {
	oid, err := primitive.ObjectIDFromHex(user.ID)
	if err != nil {
		return fmt.Errorf("invalid user ID: %q", user.ID)
	}

	set := bson.D{
		{Key: "email", Value: user.Email},
		{Key: "displayName", Value: user.DisplayName},
		{Key: "avatar", Value: user.Avatar},
		{Key: "isActive", Value: user.IsActive},
		{Key: "updatedAt", Value: user.UpdatedAt},
	}
	if user.LastLogin != nil {
		set = append(set, bson.E{Key: "lastLogin", Value: *user.LastLogin})
	}
	update := bson.D{}
	if user.GoogleID != "" {
		set = append(set, bson.E{Key: "googleId", Value: user.GoogleID})
	} else {
		update = append(update, bson.E{Key: "$unset", Value: bson.D{{Key: "googleId", Value: ""}}})
	}
	update = append(update, bson.E{Key: "$set", Value: set})

	if _, err := r.users.UpdateByID(ctx, oid, update); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("failed to update user: %w", err)
	}
	return nil
}

// LinkGoogle はGoogle連携で補完するフィールドとlastLoginのみを$setする。
func (r *MongoUserRepo) LinkGoogle(ctx context.Context, id string, link model.GoogleLink, at time.Time) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("invalid user ID: %q", id)
	}

	set := bson.D{
		{Key: "lastLogin", Value: at},
		{Key: "updatedAt", Value: at},
	}
	if link.GoogleID != "" {
		set = append(set, bson.E{Key: "googleId", Value: link.GoogleID})
	}
	if link.DisplayName != "" {
		set = append(set, bson.E{Key: "displayName", Value: link.DisplayName})
	}
	if link.Avatar != "" {
		set = append(set, bson.E{Key: "avatar", Value: link.Avatar})
	}

	if _, err := r.users.UpdateByID(ctx, oid, bson.D{{Key: "$set", Value: set}}); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("failed to link google account: %w", err)
	}
	return nil
}

// UpdateProfile は表示名とアバターを部分更新し、更新後のユーザーを返す。
func (r *MongoUserRepo) UpdateProfile(ctx context.Context, id string, patch model.ProfilePatch, updatedAt time.Time) (*model.User, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, nil
	}

	set := bson.D{{Key: "updatedAt", Value: updatedAt}}
	if patch.DisplayName != nil {
		set = append(set, bson.E{Key: "displayName", Value: *patch.DisplayName})
	}
	if patch.Avatar != nil {
		set = append(set, bson.E{Key: "avatar", Value: *patch.Avatar})
	}

	var doc userDocument
	err = r.users.FindOneAndUpdate(ctx,
		bson.D{{Key: "_id", Value: oid}},
		bson.D{{Key: "$set", Value: set}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update user profile: %w", err)
	}
	return doc.toModel(), nil
}

// UpdatePassword はパスワードハッシュを置き換える。
func (r *MongoUserRepo) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("invalid user ID: %q", id)
	}
	_, err = r.users.UpdateByID(ctx, oid, bson.D{{Key: "$set", Value: bson.D{
		{Key: "password", Value: passwordHash},
		{Key: "updatedAt", Value: updatedAt},
	}}})
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	return nil
}

// UpdateLastLogin は最終ログイン日時を更新する。
func (r *MongoUserRepo) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("invalid user ID: %q", id)
	}
	_, err = r.users.UpdateByID(ctx, oid, bson.D{{Key: "$set", Value: bson.D{{Key: "lastLogin", Value: at}}}})
	if err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	return nil
}

// Count は全ユーザー数を返す。
func (r *MongoUserRepo) Count(ctx context.Context) (int64, error) {
	n, err := r.users.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return n, nil
}

// Ping はプライマリへの疎通を確認する。
func (r *MongoUserRepo) Ping(ctx context.Context) error {
	return r.db.Client().Ping(ctx, readpref.Primary())
}

// DeleteAccount はユーザーのタスクとユーザー自身をトランザクション内で削除する。
// レプリカセットでないサーバーではトランザクションが使えないため、タスク、ユーザーの順に逐次削除する。
func (r *MongoUserRepo) DeleteAccount(ctx context.Context, userID string) (int64, error) {
	oid, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return 0, nil
	}

	session, err := r.db.Client().StartSession()
	if err != nil {
		return 0, fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	result, err := session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return r.deleteUserData(sc, oid)
	})
	if isTransactionUnsupported(err) {
		return r.deleteUserData(ctx, oid)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to delete account: %w", err)
	}
	return result.(int64), nil
}

func (r *MongoUserRepo) deleteUserData(ctx context.Context, oid primitive.ObjectID) (int64, error) {
	tasks, err := r.tasks.DeleteMany(ctx, bson.D{{Key: "userId", Value: oid}})
	if err != nil {
		return 0, fmt.Errorf("failed to delete tasks: %w", err)
	}
	if _, err := r.users.DeleteOne(ctx, bson.D{{Key: "_id", Value: oid}}); err != nil {
		return 0, fmt.Errorf("failed to delete user: %w", err)
	}
	return tasks.DeletedCount, nil
}

// isTransactionUnsupported はスタンドアロン構成によるトランザクション拒否かどうかを返す。
func isTransactionUnsupported(err error) bool {
	var cmdErr mongo.CommandError
	return errors.As(err, &cmdErr) && cmdErr.Code == mongoIllegalOperation
}

// compile-time interface check
var (
	_ UserRepository    = (*MongoUserRepo)(nil)
	_ AccountRepository = (*MongoUserRepo)(nil)
	_ Pinger            = (*MongoUserRepo)(nil)
)
