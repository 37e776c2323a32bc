package payload_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-streetart-push/internal/payload"
	"github.com/tinywideclouds/go-streetart-push/pkg/push"
)

func newBuilder(t *testing.T) *payload.Builder {
	t.Helper()
	b, err := payload.NewBuilder(payload.Config{
		BaseURL:     "https://streetart.example/",
		DefaultIcon: "https://streetart.example/icon-192.png",
	})
	require.NoError(t, err)
	return b
}

func TestBuild_EventTypes(t *testing.T) {
	b := newBuilder(t)
	eventID := uuid.NewString()

	testCases := []struct {
		name        string
		event       payload.Event
		expectTitle string
		expectBody  string
		expectLink  string
	}{
		{
			name:        "Artwork liked",
			event:       payload.Event{Type: payload.EventArtworkLiked, ActorName: "Mira", SubjectID: "7", SubjectTitle: "Blue Fox"},
			expectTitle: "New like",
			expectBody:  `Mira liked your artwork "Blue Fox"`,
			expectLink:  "https://streetart.example/artworks/7",
		},
		{
			name:        "Post liked without actor",
			event:       payload.Event{Type: payload.EventPostLiked, SubjectID: "p1"},
			expectTitle: "New like",
			expectBody:  "Someone liked your post",
			expectLink:  "https://streetart.example/posts/p1",
		},
		{
			name:        "Artwork commented with excerpt",
			event:       payload.Event{Type: payload.EventArtworkCommented, ActorName: "Juno", SubjectID: "9", SubjectTitle: "Rust Belt", Excerpt: "love the colours"},
			expectTitle: "New comment",
			expectBody:  `Juno commented on "Rust Belt": love the colours`,
			expectLink:  "https://streetart.example/artworks/9",
		},
		{
			name:        "Post commented",
			event:       payload.Event{Type: payload.EventPostCommented, ActorName: "Ivy", SubjectID: "3"},
			expectTitle: "New comment",
			expectBody:  "Ivy commented on your post",
			expectLink:  "https://streetart.example/posts/3",
		},
		{
			name:        "User followed",
			event:       payload.Event{Type: payload.EventUserFollowed, ActorName: "Rex", SubjectID: "rex"},
			expectTitle: "New follower",
			expectBody:  "Rex started following you",
			expectLink:  "https://streetart.example/users/rex",
		},
		{
			name:        "Artwork published",
			event:       payload.Event{Type: payload.EventArtworkPublished, ActorName: "Banksy", SubjectID: "11", SubjectTitle: "Balloon"},
			expectTitle: "New artwork",
			expectBody:  `Banksy published "Balloon"`,
			expectLink:  "https://streetart.example/artworks/11",
		},
		{
			name:        "Wall published",
			event:       payload.Event{Type: payload.EventWallPublished, ActorName: "Os Gemeos", SubjectID: "w2"},
			expectTitle: "New wall",
			expectBody:  "Os Gemeos shared a new wall",
			expectLink:  "https://streetart.example/walls/w2",
		},
		{
			name:        "Custom",
			event:       payload.Event{Type: payload.EventCustom, Title: "Festival", Body: "Paint jam this Saturday", ClickAction: "/events/jam"},
			expectTitle: "Festival",
			expectBody:  "Paint jam this Saturday",
			expectLink:  "/events/jam",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ev := tc.event
			ev.ID = eventID
			ev.RecipientID = "urn:sm:user:owner"

			n, err := b.Build(ev)

			require.NoError(t, err)
			assert.Equal(t, tc.expectTitle, n.Title)
			assert.Equal(t, tc.expectBody, n.Body)
			assert.Equal(t, tc.expectLink, n.ClickAction)
			assert.Equal(t, "https://streetart.example/icon-192.png", n.Icon)
			assert.Equal(t, ev.Type, n.Data["type"])
			assert.Equal(t, eventID, n.Data["event_id"])
		})
	}
}

func TestBuild_DataAndOverrides(t *testing.T) {
	b := newBuilder(t)

	n, err := b.Build(payload.Event{
		Type:        payload.EventArtworkLiked,
		RecipientID: "urn:sm:user:owner",
		ActorName:   "Mira",
		SubjectID:   "7",
		Title:       "Your piece is popular",
		Icon:        "/avatars/mira.png",
		Sound:       "chime",
		Data:        map[string]any{"likes": 100},
	})

	require.NoError(t, err)
	assert.Equal(t, "Your piece is popular", n.Title)
	assert.Equal(t, "Mira liked your artwork", n.Body)
	assert.Equal(t, "/avatars/mira.png", n.Icon)
	assert.Equal(t, "chime", n.Sound)
	assert.Equal(t, map[string]any{
		"likes":      100,
		"type":       payload.EventArtworkLiked,
		"subject_id": "7",
	}, n.Data)
}

func TestBuild_TruncatesExcerpt(t *testing.T) {
	b := newBuilder(t)
	long := ""
	for i := 0; i < 30; i++ {
		long += "wow "
	}

	n, err := b.Build(payload.Event{Type: payload.EventPostCommented, RecipientID: "urn:sm:user:owner", ActorName: "Ivy", Excerpt: long})

	require.NoError(t, err)
	assert.True(t, len(n.Body) < len("Ivy commented on your post: ")+len(long))
	assert.Contains(t, n.Body, "...")
}

func TestBuild_Errors(t *testing.T) {
	b := newBuilder(t)

	_, err := b.Build(payload.Event{Type: "artwork_sold", RecipientID: "urn:sm:user:owner"})
	assert.ErrorIs(t, err, payload.ErrUnknownEvent)

	_, err = b.Build(payload.Event{Type: payload.EventCustom, RecipientID: "urn:sm:user:owner", Title: "only a title"})
	assert.ErrorIs(t, err, push.ErrInvalidNotification)

	_, err = b.Build(payload.Event{Type: payload.EventPostLiked})
	assert.ErrorIs(t, err, push.ErrMissingRecipient)
}

func TestBuild_RelativeLinksWithoutBaseURL(t *testing.T) {
	b, err := payload.NewBuilder(payload.Config{})
	require.NoError(t, err)

	n, err := b.Build(payload.Event{Type: payload.EventUserFollowed, RecipientID: "urn:sm:user:owner", SubjectID: "rex"})

	require.NoError(t, err)
	assert.Equal(t, "/users/rex", n.ClickAction)
	assert.Empty(t, n.Icon)
}
