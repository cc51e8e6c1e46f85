// Package directory resolves usernames to participants and offers prefix
// search over every registered username.
package directory

import (
	"atme/domain"
	"atme/errors"
	"atme/repositories"
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/blugelabs/bluge"
	"github.com/samber/lo"
)

const (
	usernameField = "username"
	searchField   = "search"
)

// Directory keeps a bluge index of usernames next to the user repository,
// which stays the source of truth.
type Directory struct {
	log    *slog.Logger
	writer *bluge.Writer
	users  repositories.IUserRepository
	limit  int
}

func NewDirectory(log *slog.Logger, writer *bluge.Writer, users repositories.IUserRepository, limit int) *Directory {
	return &Directory{log: log, writer: writer, users: users, limit: limit}
}

// Rebuild indexes every username of the repository, used at startup.
func (d *Directory) Rebuild(_ context.Context) error {
	usernames, err := d.users.ListUsernames()
	if err != nil {
		return err
	}
	batch := bluge.NewBatch()
	for username, uid := range usernames {
		doc := document(uid, username)
		batch.Update(doc.ID(), doc)
	}
	if err = d.writer.Batch(batch); err != nil {
		return fmt.Errorf("index rebuild failed: %w", err)
	}
	d.log.Info("Directory index rebuilt", "usernames", len(usernames))
	return nil
}

// Register indexes a freshly set username.
func (d *Directory) Register(_ context.Context, uid domain.ParticipantID, username string) error {
	doc := document(string(uid), username)
	return d.writer.Update(doc.ID(), doc)
}

// Search returns up to limit profiles whose username starts with term,
// sorted by username. The caller never shows up in its own results.
func (d *Directory) Search(ctx context.Context, term string, self domain.ParticipantID) ([]domain.Profile, error) {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return nil, nil
	}
	reader, err := d.writer.Reader()
	if err != nil {
		return nil, err
	}
	defer func() { _ = reader.Close() }()

	query := bluge.NewPrefixQuery(term).SetField(searchField)
	request := bluge.NewTopNSearch(d.limit+1, query).SortBy([]string{usernameField})
	matches, err := reader.Search(ctx, request)
	if err != nil {
		return nil, err
	}

	var profiles []domain.Profile
	match, err := matches.Next()
	for err == nil && match != nil {
		var profile domain.Profile
		err = match.VisitStoredFields(func(field string, value []byte) bool {
			switch field {
			case "_id":
				profile.UID = domain.ParticipantID(value)
			case usernameField:
				profile.Username = string(value)
			}
			return true
		})
		if err != nil {
			return nil, err
		}
		if profile.UID != self {
			profiles = append(profiles, profile)
		}
		match, err = matches.Next()
	}
	if err != nil {
		return nil, err
	}
	if len(profiles) > d.limit {
		profiles = profiles[:d.limit]
	}
	return d.withNames(profiles), nil
}

func (d *Directory) UsernameExists(_ context.Context, username string) (bool, error) {
	_, err := d.users.ResolveUsername(username)
	if stderrors.Is(err, errors.ErrUserNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (d *Directory) Resolve(_ context.Context, username string) (domain.Profile, error) {
	uid, err := d.users.ResolveUsername(username)
	if err != nil {
		return domain.Profile{}, err
	}
	user, err := d.users.GetUser(uid)
	if err != nil {
		return domain.Profile{}, err
	}
	return toProfile(user), nil
}

// Details loads the profiles of uids, skipping accounts that no longer exist.
func (d *Directory) Details(_ context.Context, uids []domain.ParticipantID) ([]domain.Profile, error) {
	var profiles []domain.Profile
	for _, uid := range lo.Uniq(uids) {
		user, err := d.users.GetUser(string(uid))
		if stderrors.Is(err, errors.ErrUserNotFound) {
			d.log.Debug("Profile not found", "uid", uid)
			continue
		}
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, toProfile(user))
	}
	return profiles, nil
}

func (d *Directory) withNames(profiles []domain.Profile) []domain.Profile {
	return lo.Map(profiles, func(profile domain.Profile, _ int) domain.Profile {
		if user, err := d.users.GetUser(string(profile.UID)); err == nil {
			profile.Name = user.Name()
		}
		return profile
	})
}

func document(uid, username string) *bluge.Document {
	return bluge.NewDocument(uid).
		AddField(bluge.NewKeywordField(usernameField, username).StoreValue().Sortable()).
		AddField(bluge.NewKeywordField(searchField, strings.ToLower(username)))
}

func toProfile(user repositories.User) domain.Profile {
	return domain.Profile{UID: domain.ParticipantID(user.ID), Username: user.Username, Name: user.Name()}
}
