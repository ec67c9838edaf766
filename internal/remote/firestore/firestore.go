// Package firestore implements the remote gateway on Cloud Firestore.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"signalsync/internal/remote"

	"cloud.google.com/go/firestore"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// UpdatedAtField is the document field the change feed filters on.
const UpdatedAtField = "updatedAt"

var scopes = []string{
	"https://www.googleapis.com/auth/datastore",
	"https://www.googleapis.com/auth/cloud-platform",
}

type Gateway struct {
	client *firestore.Client
}

// New connects to projectID. An empty credentialsFile falls back to
// application default credentials.
func New(ctx context.Context, projectID, credentialsFile string) (*Gateway, error) {
	if projectID == "" {
		return nil, errors.New("firestore project id is required")
	}

	var opts []option.ClientOption
	if credentialsFile != "" {
		data, err := os.ReadFile(credentialsFile)
		if err != nil {
			return nil, fmt.Errorf("unable to read credentials file: %w", err)
		}
		creds, err := google.CredentialsFromJSON(ctx, data, scopes...)
		if err != nil {
			return nil, fmt.Errorf("unable to parse credentials: %w", err)
		}
		opts = append(opts, option.WithCredentials(creds))
	}

	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create firestore client: %w", err)
	}
	return &Gateway{client: client}, nil
}

func (g *Gateway) Close() error {
	return g.client.Close()
}

func (g *Gateway) Upsert(ctx context.Context, collection, key string, fields remote.Fields) (string, error) {
	col := g.client.Collection(collection)
	ref := col.NewDoc()
	if key != "" {
		ref = col.Doc(key)
	}
	if _, err := ref.Set(ctx, map[string]interface{}(fields)); err != nil {
		return "", fmt.Errorf("set %s/%s: %w", collection, ref.ID, mapError(err))
	}
	return ref.ID, nil
}

func (g *Gateway) FetchAll(ctx context.Context, collection string) ([]remote.Document, error) {
	return collect(collection, g.client.Collection(collection).Documents(ctx))
}

func (g *Gateway) FetchSince(ctx context.Context, collection string, since time.Time) ([]remote.Document, error) {
	q := g.client.Collection(collection).Where(UpdatedAtField, ">", since)
	return collect(collection, q.Documents(ctx))
}

func (g *Gateway) Delete(ctx context.Context, collection, key string) error {
	if key == "" {
		return fmt.Errorf("delete %s: empty key: %w", collection, remote.ErrRejected)
	}
	if _, err := g.client.Collection(collection).Doc(key).Delete(ctx); err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, key, mapError(err))
	}
	return nil
}

func collect(collection string, iter *firestore.DocumentIterator) ([]remote.Document, error) {
	defer iter.Stop()

	var docs []remote.Document
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", collection, mapError(err))
		}
		docs = append(docs, remote.Document{Key: snap.Ref.ID, Fields: remote.Fields(snap.Data())})
	}
	return docs, nil
}

// mapError translates gRPC status codes into the remote error taxonomy.
func mapError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", remote.ErrTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	switch status.Code(err) {
	case codes.DeadlineExceeded:
		return fmt.Errorf("%w: %v", remote.ErrTimeout, err)
	case codes.Unavailable, codes.Unauthenticated, codes.PermissionDenied:
		return fmt.Errorf("%w: %v", remote.ErrUnavailable, err)
	case codes.ResourceExhausted, codes.Aborted, codes.Internal, codes.Unknown:
		return fmt.Errorf("%w: %v", remote.ErrTransient, err)
	case codes.AlreadyExists:
		return fmt.Errorf("%w: %v", remote.ErrConflict, err)
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange, codes.NotFound:
		return fmt.Errorf("%w: %v", remote.ErrRejected, err)
	default:
		return fmt.Errorf("%w: %v", remote.ErrTransient, err)
	}
}
