// Package firestore stores device tokens in Google Cloud Firestore under
// users/{user}/devices/{sha256(token)}.
package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
	"github.com/tinywideclouds/go-streetart-push/pkg/push"
)

const (
	userCollectionID   = "users"
	deviceCollectionID = "devices"
)

// FirestoreStore implements dispatch.TokenStore using Google Cloud Firestore.
type FirestoreStore struct {
	client *firestore.Client
}

func NewFirestoreStore(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{client: client}
}

// deviceRecord is the internal DB representation.
type deviceRecord struct {
	UserID    string    `firestore:"user_id"`
	Platform  string    `firestore:"platform"`
	Token     string    `firestore:"token"`
	Active    bool      `firestore:"active"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

// RegisterToken upserts the token under its owner and re-activates it. Copies of
// the same token still active under another user are deactivated first.
func (s *FirestoreStore) RegisterToken(ctx context.Context, token push.DeviceToken) error {
	owner := token.UserID
	err := s.deactivateWhere(ctx, token.Token, func(ref *firestore.DocumentRef) bool {
		return ref.Parent.Parent.ID != owner
	})
	if err != nil {
		return err
	}

	record := deviceRecord{
		UserID:    owner,
		Platform:  token.Platform,
		Token:     token.Token,
		Active:    true,
		UpdatedAt: time.Now().UTC(),
	}
	// Use hash of token as Doc ID to prevent duplicates and hot-spotting
	ref := s.client.Collection(userCollectionID).Doc(owner).Collection(deviceCollectionID).Doc(hashToken(token.Token))
	if _, err := ref.Set(ctx, record); err != nil {
		return fmt.Errorf("failed to register device token: %w", err)
	}
	return nil
}

func (s *FirestoreStore) ListActiveTokens(ctx context.Context, user urn.URN, platform string) ([]push.DeviceToken, error) {
	iter := s.devicesCollection(user).
		Where("platform", "==", platform).
		Where("active", "==", true).
		Documents(ctx)
	defer iter.Stop()

	tokens := make([]push.DeviceToken, 0)
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore iteration failed: %w", err)
		}

		var record deviceRecord
		if err := doc.DataTo(&record); err != nil {
			// Usually safe to skip corrupt rows.
			continue
		}
		tokens = append(tokens, push.DeviceToken{
			UserID:    record.UserID,
			Token:     record.Token,
			Platform:  record.Platform,
			Active:    record.Active,
			UpdatedAt: record.UpdatedAt,
		})
	}
	return tokens, nil
}

// Deactivate soft-deletes the token wherever it is stored. Unknown or already
// inactive tokens are a no-op.
func (s *FirestoreStore) Deactivate(ctx context.Context, token string) error {
	return s.deactivateWhere(ctx, token, func(*firestore.DocumentRef) bool { return true })
}

func (s *FirestoreStore) deactivateWhere(ctx context.Context, token string, match func(*firestore.DocumentRef) bool) error {
	iter := s.client.CollectionGroup(deviceCollectionID).
		Where("token", "==", token).
		Where("active", "==", true).
		Documents(ctx)
	defer iter.Stop()

	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("firestore iteration failed: %w", err)
		}
		if !match(doc.Ref) {
			continue
		}
		_, err = doc.Ref.Update(ctx, []firestore.Update{
			{Path: "active", Value: false},
			{Path: "updated_at", Value: time.Now().UTC()},
		})
		if err != nil {
			return fmt.Errorf("failed to deactivate device token: %w", err)
		}
	}
}

// --- Helpers ---

// devicesCollection: users/{userID}/devices
func (s *FirestoreStore) devicesCollection(user urn.URN) *firestore.CollectionRef {
	return s.client.Collection(userCollectionID).Doc(user.String()).Collection(deviceCollectionID)
}

func hashToken(t string) string {
	sum := sha256.Sum256([]byte(t))
	return hex.EncodeToString(sum[:])
}
