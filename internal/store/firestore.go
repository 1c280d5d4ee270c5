package store

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"golang.org/x/oauth2"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/meteolv/meteo-sync/internal/meteo"
)

// DefaultCollection is the Firestore collection holding metric documents.
const DefaultCollection = "meteorological_operational_data"

// FirestoreStore keeps one document per metric abbreviation in a single
// Firestore collection. Writes replace the whole document (no merge).
type FirestoreStore struct {
	client     *firestore.Client
	collection string
}

// NewFirestoreStore builds a Firestore-backed store using tokens from the
// given source. The quota project is attached so user-credential requests
// are billed to the right project.
func NewFirestoreStore(ctx context.Context, project, collection string, ts oauth2.TokenSource) (*FirestoreStore, error) {
	if project == "" {
		return nil, errors.New("firestore: project id must be provided")
	}
	if collection == "" {
		collection = DefaultCollection
	}
	client, err := firestore.NewClient(ctx, project,
		option.WithTokenSource(ts),
		option.WithQuotaProject(project),
	)
	if err != nil {
		return nil, fmt.Errorf("create firestore client: %w", err)
	}
	return &FirestoreStore{client: client, collection: collection}, nil
}

// Close releases the underlying client.
func (s *FirestoreStore) Close() error {
	return s.client.Close()
}

func (s *FirestoreStore) Get(ctx context.Context, abbr string) (*meteo.MetricDocument, error) {
	snap, err := s.client.Collection(s.collection).Doc(abbr).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("%w: %s/%s", meteo.ErrNotFound, s.collection, abbr)
		}
		return nil, fmt.Errorf("get %s/%s: %w", s.collection, abbr, err)
	}

	var doc meteo.MetricDocument
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", s.collection, abbr, err)
	}
	if doc.Abbreviation == "" {
		doc.Abbreviation = abbr
	}
	return &doc, nil
}

func (s *FirestoreStore) Set(ctx context.Context, abbr string, doc *meteo.MetricDocument) error {
	if _, err := s.client.Collection(s.collection).Doc(abbr).Set(ctx, doc); err != nil {
		return fmt.Errorf("set %s/%s: %w", s.collection, abbr, err)
	}
	return nil
}

func (s *FirestoreStore) List(ctx context.Context) ([]*meteo.MetricDocument, error) {
	iter := s.client.Collection(s.collection).Documents(ctx)
	defer iter.Stop()

	var out []*meteo.MetricDocument
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", s.collection, err)
		}
		var doc meteo.MetricDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", s.collection, snap.Ref.ID, err)
		}
		if doc.Abbreviation == "" {
			doc.Abbreviation = snap.Ref.ID
		}
		out = append(out, &doc)
	}
	return out, nil
}
