// Package users resolves dashboard user handles to contact details.
package users

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/mcnijman/go-emailaddress"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"runningnotes/internal/notify"
)

// defaultsDoc holds site-wide defaults and is not a user.
const defaultsDoc = "genstat_defaults"

// user is a document in the users collection, keyed by e-mail address.
type user struct {
	Email                   string `bson:"_id"`
	Name                    string `bson:"name,omitempty"`
	NotificationPreferences string `bson:"notification_preferences,omitempty"`
}

// Directory looks users up by handle, the local part of their e-mail address.
type Directory struct {
	coll *mongo.Collection
}

func NewDirectory(db *mongo.Database, collection string) *Directory {
	return &Directory{coll: db.Collection(collection)}
}

// Lookup returns the user whose address starts with "handle@", or nil if there is none.
func (d *Directory) Lookup(ctx context.Context, handle string) (*notify.Recipient, error) {
	if handle == "" || handle == defaultsDoc {
		return nil, nil
	}

	filter := bson.M{"_id": primitive.Regex{Pattern: "^" + regexp.QuoteMeta(handle) + "@"}}
	var u user
	err := d.coll.FindOne(ctx, filter).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find user %s: %w", handle, err)
	}

	addr, err := emailaddress.Parse(u.Email)
	if err != nil || addr.LocalPart != handle {
		return nil, nil
	}

	return &notify.Recipient{
		Handle:     handle,
		Email:      u.Email,
		Preference: preference(u.NotificationPreferences),
	}, nil
}

func preference(s string) notify.Preference {
	switch p := notify.Preference(s); p {
	case notify.PreferSlack, notify.PreferEmail, notify.PreferBoth:
		return p
	default:
		return notify.PreferBoth
	}
}
