package mongodb

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/kanisahub/giving-backend/internal/models"
	repo "github.com/kanisahub/giving-backend/internal/repository"
)

// campaignDoc is the stored shape; the _id is an ObjectID while the rest
// of the system passes campaign ids around as hex strings.
type campaignDoc struct {
	ID            primitive.ObjectID    `bson:"_id,omitempty"`
	Title         string                `bson:"title"`
	Description   string                `bson:"description,omitempty"`
	GoalAmount    int64                 `bson:"goal_amount"`
	CurrentAmount int64                 `bson:"current_amount"`
	Status        models.CampaignStatus `bson:"status"`
	StartsAt      *time.Time            `bson:"starts_at,omitempty"`
	EndsAt        *time.Time            `bson:"ends_at,omitempty"`
	CreatedAt     time.Time             `bson:"created_at"`
	UpdatedAt     time.Time             `bson:"updated_at"`
}

func (d campaignDoc) toModel() models.Campaign {
	return models.Campaign{
		ID:            d.ID.Hex(),
		Title:         d.Title,
		Description:   d.Description,
		GoalAmount:    d.GoalAmount,
		CurrentAmount: d.CurrentAmount,
		Status:        d.Status,
		StartsAt:      d.StartsAt,
		EndsAt:        d.EndsAt,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}

type CampaignsRepo struct {
	col *mongo.Collection
}

func NewCampaignsRepo(db *mongo.Database) *CampaignsRepo {
	return &CampaignsRepo{col: db.Collection("campaigns")}
}

func (r *CampaignsRepo) Create(ctx context.Context, c models.Campaign) (models.Campaign, error) {
	now := time.Now().UTC()
	doc := campaignDoc{
		ID:          primitive.NewObjectID(),
		Title:       c.Title,
		Description: c.Description,
		GoalAmount:  c.GoalAmount,
		Status:      c.Status,
		StartsAt:    c.StartsAt,
		EndsAt:      c.EndsAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if doc.Status == "" {
		doc.Status = models.CampaignDraft
	}
	if _, err := r.col.InsertOne(ctx, doc); err != nil {
		return models.Campaign{}, err
	}
	return doc.toModel(), nil
}

func (r *CampaignsRepo) GetByID(ctx context.Context, id string) (models.Campaign, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return models.Campaign{}, repo.ErrNotFound
	}
	var doc campaignDoc
	err = r.col.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.Campaign{}, repo.ErrNotFound
	}
	if err != nil {
		return models.Campaign{}, err
	}
	return doc.toModel(), nil
}

func (r *CampaignsRepo) List(ctx context.Context) ([]models.Campaign, error) {
	cursor, err := r.col.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []models.Campaign
	for cursor.Next(ctx) {
		var doc campaignDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.toModel())
	}
	return out, cursor.Err()
}

func (r *CampaignsRepo) ListIDs(ctx context.Context) ([]string, error) {
	cursor, err := r.col.Find(ctx, bson.M{}, nil)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []string
	for cursor.Next(ctx) {
		var doc struct {
			ID primitive.ObjectID `bson:"_id"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.ID.Hex())
	}
	return out, cursor.Err()
}

func (r *CampaignsRepo) UpdateStatus(ctx context.Context, id string, status models.CampaignStatus) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return repo.ErrNotFound
	}
	res, err := r.col.UpdateOne(ctx, bson.M{"_id": oid},
		bson.M{"$set": bson.M{"status": status, "updated_at": time.Now().UTC()}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (r *CampaignsRepo) SetCurrentAmount(ctx context.Context, id string, amount int64) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return repo.ErrNotFound
	}
	res, err := r.col.UpdateOne(ctx, bson.M{"_id": oid},
		bson.M{"$set": bson.M{"current_amount": amount, "updated_at": time.Now().UTC()}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return repo.ErrNotFound
	}
	return nil
}
