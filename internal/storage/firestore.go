package storage

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/dgellow/ebo-bff/internal/crypto"
	"github.com/dgellow/ebo-bff/internal/log"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var _ SessionStore = (*FirestoreStorage)(nil)

// FirestoreStorage persists sessions in a Firestore collection, one document
// per session id. Access and refresh tokens are encrypted before they are
// written.
type FirestoreStorage struct {
	client     *firestore.Client
	collection string
	encryptor  crypto.Encryptor
	ttl        time.Duration
	now        func() time.Time
}

// SessionDoc is the Firestore document layout.
type SessionDoc struct {
	Provider             string    `firestore:"provider,omitempty"`
	AccessToken          string    `firestore:"access_token,omitempty"`
	RefreshToken         string    `firestore:"refresh_token,omitempty"`
	AccessTokenExpiresAt int64     `firestore:"access_token_expires_at,omitempty"`
	Subject              string    `firestore:"subject,omitempty"`
	CreatedAt            int64     `firestore:"created_at"`
	UpdatedAt            time.Time `firestore:"updated_at"`
}

// NewFirestoreStorage connects to Firestore. database may be empty or
// "(default)" for the project's default database.
func NewFirestoreStorage(ctx context.Context, projectID, database, collection string, encryptor crypto.Encryptor, ttl time.Duration) (*FirestoreStorage, error) {
	if encryptor == nil {
		return nil, fmt.Errorf("encryptor is required")
	}
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required")
	}
	if collection == "" {
		return nil, fmt.Errorf("collection is required")
	}

	var client *firestore.Client
	var err error
	if database != "" && database != "(default)" {
		client, err = firestore.NewClientWithDatabase(ctx, projectID, database)
	} else {
		client, err = firestore.NewClient(ctx, projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	log.LogInfoWithFields("firestore", "Connected to session store", map[string]any{
		"project":    projectID,
		"database":   database,
		"collection": collection,
	})

	return &FirestoreStorage{
		client:     client,
		collection: collection,
		encryptor:  encryptor,
		ttl:        ttl,
		now:        time.Now,
	}, nil
}

// Close closes the Firestore client.
func (s *FirestoreStorage) Close() error {
	return s.client.Close()
}

func (s *FirestoreStorage) GetSession(ctx context.Context, id string) (*Session, error) {
	doc, err := s.client.Collection(s.collection).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var d SessionDoc
	if err := doc.DataTo(&d); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return s.fromDoc(&d)
}

func (s *FirestoreStorage) PutSession(ctx context.Context, id string, sess *Session) error {
	d, err := s.toDoc(sess)
	if err != nil {
		return err
	}
	if _, err := s.client.Collection(s.collection).Doc(id).Set(ctx, d); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

func (s *FirestoreStorage) DeleteSession(ctx context.Context, id string) error {
	_, err := s.client.Collection(s.collection).Doc(id).Delete(ctx)
	if err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// CleanupExpiredSessions deletes documents whose updated_at is older than the
// configured TTL.
func (s *FirestoreStorage) CleanupExpiredSessions(ctx context.Context) (int, error) {
	if s.ttl <= 0 {
		return 0, nil
	}

	cutoff := s.now().Add(-s.ttl)
	iter := s.client.Collection(s.collection).
		Where("updated_at", "<=", cutoff).
		Documents(ctx)
	defer iter.Stop()

	count := 0
	batch := s.client.Batch()
	batchSize := 0
	const maxBatchSize = 500 // Firestore batch write limit

	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return count, fmt.Errorf("failed to iterate expired sessions: %w", err)
		}

		batch.Delete(doc.Ref)
		batchSize++
		count++

		if batchSize >= maxBatchSize {
			if _, err := batch.Commit(ctx); err != nil {
				return count, fmt.Errorf("failed to commit batch: %w", err)
			}
			batch = s.client.Batch()
			batchSize = 0
		}
	}

	if batchSize > 0 {
		if _, err := batch.Commit(ctx); err != nil {
			return count, fmt.Errorf("failed to commit final batch: %w", err)
		}
	}

	return count, nil
}

func (s *FirestoreStorage) toDoc(sess *Session) (*SessionDoc, error) {
	access, err := s.encrypt(sess.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt access token: %w", err)
	}
	refresh, err := s.encrypt(sess.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt refresh token: %w", err)
	}
	return &SessionDoc{
		Provider:             sess.Provider,
		AccessToken:          access,
		RefreshToken:         refresh,
		AccessTokenExpiresAt: sess.AccessTokenExpiresAt,
		Subject:              sess.Subject,
		CreatedAt:            sess.CreatedAt,
		UpdatedAt:            s.now(),
	}, nil
}

func (s *FirestoreStorage) fromDoc(d *SessionDoc) (*Session, error) {
	access, err := s.decrypt(d.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt access token: %w", err)
	}
	refresh, err := s.decrypt(d.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt refresh token: %w", err)
	}
	return &Session{
		Provider:             d.Provider,
		AccessToken:          access,
		RefreshToken:         refresh,
		AccessTokenExpiresAt: d.AccessTokenExpiresAt,
		Subject:              d.Subject,
		CreatedAt:            d.CreatedAt,
	}, nil
}

func (s *FirestoreStorage) encrypt(v string) (string, error) {
	if v == "" {
		return "", nil
	}
	return s.encryptor.Encrypt(v)
}

func (s *FirestoreStorage) decrypt(v string) (string, error) {
	if v == "" {
		return "", nil
	}
	return s.encryptor.Decrypt(v)
}
