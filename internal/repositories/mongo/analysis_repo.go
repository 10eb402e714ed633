package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/yoockh/deepfake-detector/internal/models"
	"github.com/yoockh/deepfake-detector/internal/utils"
)

const (
	collectionName   = "analysis_sessions"
	DefaultListLimit = 10
	maxListLimit     = 100
)

type AnalysisRepository interface {
	Create(ctx context.Context, s *models.AnalysisSession) error
	GetBySessionID(ctx context.Context, sessionID string) (*models.AnalysisSession, error)
	ListRecent(ctx context.Context, userID string, limit int64) ([]models.AnalysisSession, error)
	Complete(ctx context.Context, sessionID string, result *models.AnalysisResult, completedAt time.Time) error
	Fail(ctx context.Context, sessionID, reason string, completedAt time.Time) error
}

type analysisRepo struct {
	col *mongo.Collection
}

func NewAnalysisRepo(db *mongo.Database) AnalysisRepository {
	return &analysisRepo{col: db.Collection(collectionName)}
}

func (r *analysisRepo) Create(ctx context.Context, s *models.AnalysisSession) error {
	const op = "AnalysisRepository.Create"

	if s == nil || s.SessionID == "" {
		return utils.E(utils.CodeInvalidArgument, op, "session_id is required", nil)
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	_, err := r.col.InsertOne(ctx, s)
	if mongo.IsDuplicateKeyError(err) {
		return utils.E(utils.CodeConflict, op, "analysis already recorded", err)
	}
	return err
}

func (r *analysisRepo) GetBySessionID(ctx context.Context, sessionID string) (*models.AnalysisSession, error) {
	var s models.AnalysisSession
	err := r.col.FindOne(ctx, bson.M{"session_id": sessionID}).Decode(&s)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, utils.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListRecent returns the newest analyses first. An empty userID lists across
// all users.
func (r *analysisRepo) ListRecent(ctx context.Context, userID string, limit int64) ([]models.AnalysisSession, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	filter := bson.M{}
	if userID != "" {
		filter["user_id"] = userID
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(limit)

	cur, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := make([]models.AnalysisSession, 0, limit)
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *analysisRepo) Complete(ctx context.Context, sessionID string, result *models.AnalysisResult, completedAt time.Time) error {
	return r.finish(ctx, sessionID, bson.M{
		"status":       models.StatusCompleted,
		"result":       result,
		"completed_at": completedAt.UTC(),
	})
}

func (r *analysisRepo) Fail(ctx context.Context, sessionID, reason string, completedAt time.Time) error {
	return r.finish(ctx, sessionID, bson.M{
		"status":       models.StatusFailed,
		"error":        reason,
		"completed_at": completedAt.UTC(),
	})
}

func (r *analysisRepo) finish(ctx context.Context, sessionID string, set bson.M) error {
	res, err := r.col.UpdateOne(ctx, bson.M{"session_id": sessionID}, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return utils.ErrNotFound
	}
	return nil
}
