package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/vishnandaman/road-assist/internal/roadside/domain"
)

// MongoStore persists the domain in MongoDB and answers the proximity
// queries natively through $geoNear over 2dsphere indexes, so it serves
// as both the repositories and the Matcher.
type MongoStore struct {
	users    *mongo.Collection
	profiles *mongo.Collection
	requests *mongo.Collection
	reviews  *mongo.Collection
	limit    int
}

// NewMongoStore wires the collections and ensures the geospatial indexes.
func NewMongoStore(ctx context.Context, db *mongo.Database, limit int) (*MongoStore, error) {
	if limit <= 0 {
		limit = 50
	}
	s := &MongoStore{
		users:    db.Collection("users"),
		profiles: db.Collection("mechanics"),
		requests: db.Collection("requests"),
		reviews:  db.Collection("reviews"),
		limit:    limit,
	}
	geoIndex := mongo.IndexModel{Keys: bson.D{{Key: "location", Value: "2dsphere"}}}
	if _, err := s.users.Indexes().CreateOne(ctx, geoIndex); err != nil {
		return nil, fmt.Errorf("users geo index: %w", err)
	}
	if _, err := s.requests.Indexes().CreateOne(ctx, geoIndex); err != nil {
		return nil, fmt.Errorf("requests geo index: %w", err)
	}
	emailIndex := mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := s.users.Indexes().CreateOne(ctx, emailIndex); err != nil {
		return nil, fmt.Errorf("users email index: %w", err)
	}
	return s, nil
}

type geoJSON struct {
	Type        string     `bson:"type"`
	Coordinates [2]float64 `bson:"coordinates"` // lng, lat
}

func toGeoJSON(p domain.GeoPoint) geoJSON {
	return geoJSON{Type: "Point", Coordinates: [2]float64{p.Lng, p.Lat}}
}

func (g geoJSON) point() domain.GeoPoint {
	return domain.GeoPoint{Lng: g.Coordinates[0], Lat: g.Coordinates[1]}
}

type userDoc struct {
	ID           string    `bson:"_id"`
	Name         string    `bson:"name"`
	Email        string    `bson:"email"`
	Phone        string    `bson:"phone,omitempty"`
	Role         string    `bson:"role"`
	Location     geoJSON   `bson:"location"`
	PasswordHash string    `bson:"password"`
	CreatedAt    time.Time `bson:"created_at"`
}

func toUserDoc(u domain.User) userDoc {
	return userDoc{
		ID:           u.ID.String(),
		Name:         u.Name,
		Email:        strings.ToLower(u.Email),
		Phone:        u.Phone,
		Role:         string(u.Role),
		Location:     toGeoJSON(u.Location),
		PasswordHash: u.PasswordHash,
		CreatedAt:    u.CreatedAt,
	}
}

func (d userDoc) user() (domain.User, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return domain.User{}, fmt.Errorf("parse user id: %w", err)
	}
	return domain.User{
		ID:           id,
		Name:         d.Name,
		Email:        d.Email,
		Phone:        d.Phone,
		Role:         domain.Role(d.Role),
		Location:     d.Location.point(),
		PasswordHash: d.PasswordHash,
		CreatedAt:    d.CreatedAt,
	}, nil
}

type profileDoc struct {
	UserID         string   `bson:"_id"`
	Specialties    []string `bson:"specialties,omitempty"`
	Certification  string   `bson:"certification,omitempty"`
	Rating         float64  `bson:"rating"`
	ReviewsCount   int      `bson:"reviews_count"`
	Availability   bool     `bson:"availability"`
	CurrentRequest *string  `bson:"current_request,omitempty"`
	PricePerKm     float64  `bson:"price_per_km"`
	BasePrice      float64  `bson:"base_price"`
	Location       geoJSON  `bson:"location"`
}

func (d profileDoc) profile() (domain.MechanicProfile, error) {
	userID, err := uuid.Parse(d.UserID)
	if err != nil {
		return domain.MechanicProfile{}, fmt.Errorf("parse profile id: %w", err)
	}
	specialties := make([]domain.ServiceType, 0, len(d.Specialties))
	for _, s := range d.Specialties {
		specialties = append(specialties, domain.ServiceType(s))
	}
	var current *uuid.UUID
	if d.CurrentRequest != nil {
		id, err := uuid.Parse(*d.CurrentRequest)
		if err != nil {
			return domain.MechanicProfile{}, fmt.Errorf("parse current request: %w", err)
		}
		current = &id
	}
	return domain.MechanicProfile{
		UserID:         userID,
		Specialties:    specialties,
		Certification:  d.Certification,
		Rating:         d.Rating,
		ReviewsCount:   d.ReviewsCount,
		Availability:   d.Availability,
		CurrentRequest: current,
		PricePerKm:     d.PricePerKm,
		BasePrice:      d.BasePrice,
		Location:       d.Location.point(),
	}, nil
}

type requestDoc struct {
	ID            string     `bson:"_id"`
	UserID        string     `bson:"user"`
	MechanicID    *string    `bson:"mechanic,omitempty"`
	ServiceType   string     `bson:"service_type"`
	VehicleType   string     `bson:"vehicle_type"`
	Description   string     `bson:"description,omitempty"`
	Location      geoJSON    `bson:"location"`
	Status        string     `bson:"status"`
	Price         float64    `bson:"price,omitempty"`
	EstimatedTime int        `bson:"estimated_time,omitempty"`
	CreatedAt     time.Time  `bson:"created_at"`
	AcceptedAt    *time.Time `bson:"accepted_at,omitempty"`
	CompletedAt   *time.Time `bson:"completed_at,omitempty"`
	CancelledAt   *time.Time `bson:"cancelled_at,omitempty"`
}

func toRequestDoc(r domain.Request) requestDoc {
	doc := requestDoc{
		ID:            r.ID.String(),
		UserID:        r.UserID.String(),
		ServiceType:   string(r.ServiceType),
		VehicleType:   r.VehicleType,
		Description:   r.Description,
		Location:      toGeoJSON(r.Location),
		Status:        string(r.Status),
		Price:         r.Price,
		EstimatedTime: r.EstimatedTime,
		CreatedAt:     r.CreatedAt,
		AcceptedAt:    r.AcceptedAt,
		CompletedAt:   r.CompletedAt,
		CancelledAt:   r.CancelledAt,
	}
	if r.MechanicID != nil {
		id := r.MechanicID.String()
		doc.MechanicID = &id
	}
	return doc
}

func (d requestDoc) request() (domain.Request, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return domain.Request{}, fmt.Errorf("parse request id: %w", err)
	}
	userID, err := uuid.Parse(d.UserID)
	if err != nil {
		return domain.Request{}, fmt.Errorf("parse request user: %w", err)
	}
	var mechanicID *uuid.UUID
	if d.MechanicID != nil {
		mid, err := uuid.Parse(*d.MechanicID)
		if err != nil {
			return domain.Request{}, fmt.Errorf("parse request mechanic: %w", err)
		}
		mechanicID = &mid
	}
	return domain.Request{
		ID:            id,
		UserID:        userID,
		MechanicID:    mechanicID,
		ServiceType:   domain.ServiceType(d.ServiceType),
		VehicleType:   d.VehicleType,
		Description:   d.Description,
		Location:      d.Location.point(),
		Status:        domain.RequestStatus(d.Status),
		Price:         d.Price,
		EstimatedTime: d.EstimatedTime,
		CreatedAt:     d.CreatedAt,
		AcceptedAt:    d.AcceptedAt,
		CompletedAt:   d.CompletedAt,
		CancelledAt:   d.CancelledAt,
	}, nil
}

func (s *MongoStore) CreateUser(ctx context.Context, user domain.User) (domain.User, error) {
	if _, err := s.users.InsertOne(ctx, toUserDoc(user)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.User{}, domain.ErrConflict
		}
		return domain.User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *MongoStore) GetUserByID(ctx context.Context, id uuid.UUID) (domain.User, error) {
	var doc userDoc
	err := s.users.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.User{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("find user: %w", err)
	}
	return doc.user()
}

func (s *MongoStore) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	var doc userDoc
	err := s.users.FindOne(ctx, bson.M{"email": strings.ToLower(email)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.User{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("find user by email: %w", err)
	}
	return doc.user()
}

func (s *MongoStore) ListUsers(ctx context.Context) ([]domain.User, error) {
	cursor, err := s.users.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	var docs []userDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode users: %w", err)
	}
	users := make([]domain.User, 0, len(docs))
	for _, doc := range docs {
		user, err := doc.user()
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, nil
}

func (s *MongoStore) UpdateUserLocation(ctx context.Context, id uuid.UUID, point domain.GeoPoint) (domain.User, error) {
	var doc userDoc
	err := s.users.FindOneAndUpdate(ctx,
		bson.M{"_id": id.String()},
		bson.M{"$set": bson.M{"location": toGeoJSON(point)}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.User{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("update user location: %w", err)
	}
	return doc.user()
}

func (s *MongoStore) UpsertProfile(ctx context.Context, profile domain.MechanicProfile) (domain.MechanicProfile, error) {
	specialties := make([]string, 0, len(profile.Specialties))
	for _, sp := range profile.Specialties {
		specialties = append(specialties, string(sp))
	}
	perKm := profile.PricePerKm
	if perKm <= 0 {
		perKm = 1.5
	}
	base := profile.BasePrice
	if base <= 0 {
		base = 20
	}
	var doc profileDoc
	err := s.profiles.FindOneAndUpdate(ctx,
		bson.M{"_id": profile.UserID.String()},
		bson.M{
			"$set": bson.M{
				"specialties":   specialties,
				"certification": profile.Certification,
				"price_per_km":  perKm,
				"base_price":    base,
				"location":      toGeoJSON(profile.Location),
			},
			"$setOnInsert": bson.M{
				"availability":  true,
				"rating":        0.0,
				"reviews_count": 0,
			},
		},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return domain.MechanicProfile{}, fmt.Errorf("upsert profile: %w", err)
	}
	return doc.profile()
}

func (s *MongoStore) GetProfile(ctx context.Context, userID uuid.UUID) (domain.MechanicProfile, error) {
	var doc profileDoc
	err := s.profiles.FindOne(ctx, bson.M{"_id": userID.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.MechanicProfile{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.MechanicProfile{}, fmt.Errorf("find profile: %w", err)
	}
	return doc.profile()
}

func (s *MongoStore) SetAvailability(ctx context.Context, userID uuid.UUID, available bool) (domain.MechanicProfile, error) {
	filter := bson.M{"_id": userID.String()}
	if available {
		// Going available while a request is assigned breaks the invariant.
		filter["current_request"] = nil
	}
	var doc profileDoc
	err := s.profiles.FindOneAndUpdate(ctx,
		filter,
		bson.M{"$set": bson.M{"availability": available}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.MechanicProfile{}, s.profileMissOrConflict(ctx, userID)
	}
	if err != nil {
		return domain.MechanicProfile{}, fmt.Errorf("set availability: %w", err)
	}
	return doc.profile()
}

func (s *MongoStore) AssignRequest(ctx context.Context, userID, requestID uuid.UUID) (domain.MechanicProfile, error) {
	var doc profileDoc
	err := s.profiles.FindOneAndUpdate(ctx,
		bson.M{"_id": userID.String(), "availability": true, "current_request": nil},
		bson.M{"$set": bson.M{"availability": false, "current_request": requestID.String()}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.MechanicProfile{}, s.profileMissOrConflict(ctx, userID)
	}
	if err != nil {
		return domain.MechanicProfile{}, fmt.Errorf("assign request: %w", err)
	}
	return doc.profile()
}

func (s *MongoStore) ClearRequest(ctx context.Context, userID uuid.UUID) (domain.MechanicProfile, error) {
	var doc profileDoc
	err := s.profiles.FindOneAndUpdate(ctx,
		bson.M{"_id": userID.String()},
		bson.M{"$set": bson.M{"availability": true, "current_request": nil}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.MechanicProfile{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.MechanicProfile{}, fmt.Errorf("clear request: %w", err)
	}
	return doc.profile()
}

func (s *MongoStore) UpdateRating(ctx context.Context, userID uuid.UUID, rating float64, reviews int) (domain.MechanicProfile, error) {
	var doc profileDoc
	err := s.profiles.FindOneAndUpdate(ctx,
		bson.M{"_id": userID.String()},
		bson.M{"$set": bson.M{"rating": rating, "reviews_count": reviews}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.MechanicProfile{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.MechanicProfile{}, fmt.Errorf("update rating: %w", err)
	}
	return doc.profile()
}

// profileMissOrConflict distinguishes a missing profile from a filter miss
// on an existing one.
func (s *MongoStore) profileMissOrConflict(ctx context.Context, userID uuid.UUID) error {
	count, err := s.profiles.CountDocuments(ctx, bson.M{"_id": userID.String()})
	if err != nil {
		return fmt.Errorf("check profile: %w", err)
	}
	if count == 0 {
		return domain.ErrNotFound
	}
	return domain.ErrConflict
}

func (s *MongoStore) CreateRequest(ctx context.Context, request domain.Request) (domain.Request, error) {
	if _, err := s.requests.InsertOne(ctx, toRequestDoc(request)); err != nil {
		return domain.Request{}, fmt.Errorf("insert request: %w", err)
	}
	return request, nil
}

func (s *MongoStore) GetRequestByID(ctx context.Context, id uuid.UUID) (domain.Request, error) {
	var doc requestDoc
	err := s.requests.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.Request{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Request{}, fmt.Errorf("find request: %w", err)
	}
	return doc.request()
}

// AcceptPending is the concurrency boundary: the status filter makes the
// pending→accepted move a single atomic document update.
func (s *MongoStore) AcceptPending(ctx context.Context, params domain.AcceptParams) (domain.Request, error) {
	var doc requestDoc
	err := s.requests.FindOneAndUpdate(ctx,
		bson.M{"_id": params.RequestID.String(), "status": string(domain.StatusPending)},
		bson.M{"$set": bson.M{
			"status":         string(domain.StatusAccepted),
			"mechanic":       params.MechanicID.String(),
			"price":          params.Price,
			"estimated_time": params.EstimatedTime,
			"accepted_at":    params.At,
		}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.Request{}, s.requestMissOrConflict(ctx, params.RequestID)
	}
	if err != nil {
		return domain.Request{}, fmt.Errorf("accept request: %w", err)
	}
	return doc.request()
}

func (s *MongoStore) RevertAccept(ctx context.Context, id uuid.UUID) (domain.Request, error) {
	var doc requestDoc
	err := s.requests.FindOneAndUpdate(ctx,
		bson.M{"_id": id.String(), "status": string(domain.StatusAccepted)},
		bson.M{
			"$set":   bson.M{"status": string(domain.StatusPending)},
			"$unset": bson.M{"mechanic": "", "price": "", "estimated_time": "", "accepted_at": ""},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.Request{}, s.requestMissOrConflict(ctx, id)
	}
	if err != nil {
		return domain.Request{}, fmt.Errorf("revert accept: %w", err)
	}
	return doc.request()
}

func (s *MongoStore) CompleteActive(ctx context.Context, id uuid.UUID, at time.Time) (domain.Request, error) {
	var doc requestDoc
	err := s.requests.FindOneAndUpdate(ctx,
		bson.M{"_id": id.String(), "status": bson.M{"$in": []string{
			string(domain.StatusAccepted), string(domain.StatusInProgress),
		}}},
		bson.M{"$set": bson.M{
			"status":       string(domain.StatusCompleted),
			"completed_at": at,
		}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		missErr := s.requestMissOrConflict(ctx, id)
		if errors.Is(missErr, domain.ErrConflict) {
			missErr = domain.ErrInvalidTransition
		}
		return domain.Request{}, missErr
	}
	if err != nil {
		return domain.Request{}, fmt.Errorf("complete request: %w", err)
	}
	return doc.request()
}

func (s *MongoStore) requestMissOrConflict(ctx context.Context, id uuid.UUID) error {
	count, err := s.requests.CountDocuments(ctx, bson.M{"_id": id.String()})
	if err != nil {
		return fmt.Errorf("check request: %w", err)
	}
	if count == 0 {
		return domain.ErrNotFound
	}
	return domain.ErrConflict
}

func (s *MongoStore) CreateReview(ctx context.Context, review domain.Review) (domain.Review, error) {
	doc := bson.M{
		"_id":        review.ID.String(),
		"request":    review.RequestID.String(),
		"user":       review.UserID.String(),
		"mechanic":   review.MechanicID.String(),
		"rating":     review.Rating,
		"comment":    review.Comment,
		"created_at": review.CreatedAt,
	}
	if _, err := s.reviews.InsertOne(ctx, doc); err != nil {
		return domain.Review{}, fmt.Errorf("insert review: %w", err)
	}
	return review, nil
}

func (s *MongoStore) ListByMechanic(ctx context.Context, mechanicID uuid.UUID) ([]domain.Review, error) {
	cursor, err := s.reviews.Find(ctx, bson.M{"mechanic": mechanicID.String()})
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	var docs []struct {
		ID        string    `bson:"_id"`
		Request   string    `bson:"request"`
		User      string    `bson:"user"`
		Mechanic  string    `bson:"mechanic"`
		Rating    int       `bson:"rating"`
		Comment   string    `bson:"comment"`
		CreatedAt time.Time `bson:"created_at"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode reviews: %w", err)
	}
	reviews := make([]domain.Review, 0, len(docs))
	for _, d := range docs {
		id, err := uuid.Parse(d.ID)
		if err != nil {
			return nil, fmt.Errorf("parse review id: %w", err)
		}
		requestID, err := uuid.Parse(d.Request)
		if err != nil {
			return nil, fmt.Errorf("parse review request: %w", err)
		}
		userID, err := uuid.Parse(d.User)
		if err != nil {
			return nil, fmt.Errorf("parse review user: %w", err)
		}
		mechID, err := uuid.Parse(d.Mechanic)
		if err != nil {
			return nil, fmt.Errorf("parse review mechanic: %w", err)
		}
		reviews = append(reviews, domain.Review{
			ID:         id,
			RequestID:  requestID,
			UserID:     userID,
			MechanicID: mechID,
			Rating:     d.Rating,
			Comment:    d.Comment,
			CreatedAt:  d.CreatedAt,
		})
	}
	return reviews, nil
}
