// Package payload renders platform domain events into push notifications.
package payload

import (
	"errors"
	"fmt"
	"maps"
	"net/url"
	"strings"
	"text/template"

	"github.com/tinywideclouds/go-streetart-push/pkg/push"
)

// Event types emitted by the platform.
const (
	EventArtworkLiked     = "artwork_liked"
	EventPostLiked        = "post_liked"
	EventArtworkCommented = "artwork_commented"
	EventPostCommented    = "post_commented"
	EventUserFollowed     = "user_followed"
	EventArtworkPublished = "artwork_published"
	EventWallPublished    = "wall_published"
	EventCustom           = "custom"
)

const maxExcerpt = 80

var ErrUnknownEvent = errors.New("unknown event type")

// Event is a social interaction that should reach the recipient's devices.
type Event struct {
	ID           string         `json:"event_id"`
	Type         string         `json:"type"`
	RecipientID  string         `json:"recipient_id"`
	ActorName    string         `json:"actor_name,omitempty"`
	SubjectID    string         `json:"subject_id,omitempty"`
	SubjectTitle string         `json:"subject_title,omitempty"`
	Excerpt      string         `json:"excerpt,omitempty"`
	Title        string         `json:"title,omitempty"`
	Body         string         `json:"body,omitempty"`
	Icon         string         `json:"icon,omitempty"`
	ClickAction  string         `json:"click_action,omitempty"`
	Sound        string         `json:"sound,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
	// Platforms restricts delivery to these channels; empty means all.
	Platforms []string `json:"platforms,omitempty"`
}

type Config struct {
	// BaseURL is the web app origin click actions are resolved against.
	BaseURL     string
	DefaultIcon string
}

type eventTemplate struct {
	title   *template.Template
	body    *template.Template
	section string
}

// Builder turns events into notifications using one title/body template pair per type.
type Builder struct {
	cfg       Config
	templates map[string]eventTemplate
}

var defaultTemplates = map[string]struct{ title, body, section string }{
	EventArtworkLiked: {
		title:   "New like",
		body:    `{{or .ActorName "Someone"}} liked your artwork{{with .SubjectTitle}} "{{.}}"{{end}}`,
		section: "artworks",
	},
	EventPostLiked: {
		title:   "New like",
		body:    `{{or .ActorName "Someone"}} liked your post`,
		section: "posts",
	},
	EventArtworkCommented: {
		title:   "New comment",
		body:    `{{or .ActorName "Someone"}} commented on{{with .SubjectTitle}} "{{.}}"{{else}} your artwork{{end}}{{with .Excerpt}}: {{.}}{{end}}`,
		section: "artworks",
	},
	EventPostCommented: {
		title:   "New comment",
		body:    `{{or .ActorName "Someone"}} commented on your post{{with .Excerpt}}: {{.}}{{end}}`,
		section: "posts",
	},
	EventUserFollowed: {
		title:   "New follower",
		body:    `{{or .ActorName "Someone"}} started following you`,
		section: "users",
	},
	EventArtworkPublished: {
		title:   "New artwork",
		body:    `{{or .ActorName "An artist you follow"}} published{{with .SubjectTitle}} "{{.}}"{{else}} a new piece{{end}}`,
		section: "artworks",
	},
	EventWallPublished: {
		title:   "New wall",
		body:    `{{or .ActorName "An artist you follow"}} shared a new wall{{with .SubjectTitle}} "{{.}}"{{end}}`,
		section: "walls",
	},
}

func NewBuilder(cfg Config) (*Builder, error) {
	b := &Builder{
		cfg:       Config{BaseURL: strings.TrimRight(cfg.BaseURL, "/"), DefaultIcon: cfg.DefaultIcon},
		templates: make(map[string]eventTemplate, len(defaultTemplates)),
	}
	for name, def := range defaultTemplates {
		title, err := template.New(name + ".title").Parse(def.title)
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}
		body, err := template.New(name + ".body").Parse(def.body)
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}
		b.templates[name] = eventTemplate{title: title, body: body, section: def.section}
	}
	return b, nil
}

// Build renders ev. Title and body given on the event take precedence over the templates.
func (b *Builder) Build(ev Event) (push.Notification, error) {
	if ev.RecipientID == "" {
		return push.Notification{}, push.ErrMissingRecipient
	}

	n := push.Notification{
		Title:       ev.Title,
		Body:        ev.Body,
		Icon:        ev.Icon,
		ClickAction: ev.ClickAction,
		Sound:       ev.Sound,
	}

	if ev.Type != EventCustom {
		tmpl, ok := b.templates[ev.Type]
		if !ok {
			return push.Notification{}, fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Type)
		}
		ev.Excerpt = truncate(ev.Excerpt, maxExcerpt)
		if n.Title == "" {
			title, err := render(tmpl.title, ev)
			if err != nil {
				return push.Notification{}, err
			}
			n.Title = title
		}
		if n.Body == "" {
			body, err := render(tmpl.body, ev)
			if err != nil {
				return push.Notification{}, err
			}
			n.Body = body
		}
		if n.ClickAction == "" && ev.SubjectID != "" {
			link, err := b.link(tmpl.section, ev.SubjectID)
			if err != nil {
				return push.Notification{}, err
			}
			n.ClickAction = link
		}
	}

	if n.Icon == "" {
		n.Icon = b.cfg.DefaultIcon
	}

	data := make(map[string]any, len(ev.Data)+3)
	maps.Copy(data, ev.Data)
	data["type"] = ev.Type
	if ev.ID != "" {
		data["event_id"] = ev.ID
	}
	if ev.SubjectID != "" {
		data["subject_id"] = ev.SubjectID
	}
	n.Data = data

	if err := n.Validate(); err != nil {
		return push.Notification{}, err
	}
	return n, nil
}

func (b *Builder) link(section, id string) (string, error) {
	if b.cfg.BaseURL == "" {
		return "/" + section + "/" + url.PathEscape(id), nil
	}
	link, err := url.JoinPath(b.cfg.BaseURL, section, id)
	if err != nil {
		return "", fmt.Errorf("build click action: %w", err)
	}
	return link, nil
}

func render(tmpl *template.Template, ev Event) (string, error) {
	var out strings.Builder
	if err := tmpl.Execute(&out, ev); err != nil {
		return "", fmt.Errorf("render template %s: %w", tmpl.Name(), err)
	}
	return out.String(), nil
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return strings.TrimSpace(string(r[:limit])) + "..."
}
