package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/vishnandaman/road-assist/internal/roadside/domain"
)

// FindNearbyMechanics runs the $geoNear/$lookup/$match pipeline over the
// users collection: spherical distance, role filter in the geo stage, and
// the availability filter applied after joining the profile.
func (s *MongoStore) FindNearbyMechanics(ctx context.Context, point domain.GeoPoint, maxMeters float64) ([]domain.MechanicMatch, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$geoNear", Value: bson.D{
			{Key: "near", Value: toGeoJSON(point)},
			{Key: "distanceField", Value: "distance"},
			{Key: "maxDistance", Value: maxMeters},
			{Key: "spherical", Value: true},
			{Key: "query", Value: bson.D{{Key: "role", Value: string(domain.RoleMechanic)}}},
		}}},
		{{Key: "$lookup", Value: bson.D{
			{Key: "from", Value: "mechanics"},
			{Key: "localField", Value: "_id"},
			{Key: "foreignField", Value: "_id"},
			{Key: "as", Value: "profile"},
		}}},
		{{Key: "$unwind", Value: "$profile"}},
		{{Key: "$match", Value: bson.D{{Key: "profile.availability", Value: true}}}},
		{{Key: "$limit", Value: s.limit}},
	}

	cursor, err := s.users.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("geonear mechanics: %w", err)
	}
	var docs []struct {
		userDoc  `bson:",inline"`
		Distance float64    `bson:"distance"`
		Profile  profileDoc `bson:"profile"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode mechanic matches: %w", err)
	}

	matches := make([]domain.MechanicMatch, 0, len(docs))
	for _, doc := range docs {
		user, err := doc.user()
		if err != nil {
			return nil, err
		}
		profile, err := doc.Profile.profile()
		if err != nil {
			return nil, err
		}
		matches = append(matches, domain.MechanicMatch{
			Mechanic:       user,
			Profile:        profile,
			DistanceMeters: doc.Distance,
		})
	}
	return matches, nil
}

// FindNearbyRequests runs $geoNear over the requests collection with the
// pending filter applied inside the geo stage.
func (s *MongoStore) FindNearbyRequests(ctx context.Context, point domain.GeoPoint, maxMeters float64) ([]domain.RequestMatch, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$geoNear", Value: bson.D{
			{Key: "near", Value: toGeoJSON(point)},
			{Key: "distanceField", Value: "distance"},
			{Key: "maxDistance", Value: maxMeters},
			{Key: "spherical", Value: true},
			{Key: "query", Value: bson.D{{Key: "status", Value: string(domain.StatusPending)}}},
		}}},
		{{Key: "$limit", Value: s.limit}},
	}

	cursor, err := s.requests.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("geonear requests: %w", err)
	}
	var docs []struct {
		requestDoc `bson:",inline"`
		Distance   float64 `bson:"distance"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode request matches: %w", err)
	}

	matches := make([]domain.RequestMatch, 0, len(docs))
	for _, doc := range docs {
		request, err := doc.request()
		if err != nil {
			return nil, err
		}
		matches = append(matches, domain.RequestMatch{
			Request:        request,
			DistanceMeters: doc.Distance,
		})
	}
	return matches, nil
}

// The store indexes locations natively through 2dsphere, so the matcher
// mutators have nothing to maintain.

func (s *MongoStore) IndexRequest(context.Context, uuid.UUID, domain.GeoPoint) error { return nil }

func (s *MongoStore) RemoveRequest(context.Context, uuid.UUID) error { return nil }

func (s *MongoStore) UpsertMechanic(context.Context, uuid.UUID, domain.GeoPoint) error { return nil }

func (s *MongoStore) RemoveMechanic(context.Context, uuid.UUID) error { return nil }
