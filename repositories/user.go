//go:generate go run go.uber.org/mock/mockgen -source=user.go -destination=../mocks/mock_user_repository.go -package=mocks
package repositories

import (
	"atme/errors"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

type IUserRepository interface {
	CreateUser(email, hashedPassword, firstName, lastName string) (string, error)
	GetUser(uid string) (User, error)
	GetUserByEmail(email string) (User, error)
	SetUsername(uid, username string) error
	ResolveUsername(username string) (string, error)
	ListUsernames() (map[string]string, error)
	UpdateUser(uid string, update func(*User)) (User, error)
}

// UserRepository keeps user information records and two unique indexes:
//
//	user:{uid}            -> user information
//	email:{email}         -> uid
//	username:{username}   -> uid
type UserRepository struct {
	db *badger.DB
}

func NewUserRepository(db *badger.DB) *UserRepository {
	return &UserRepository{db: db}
}

// User is the repository representation of an account.
type User struct {
	ID                string
	Email             string
	PasswordHash      string
	FirstName         string
	LastName          string
	Username          string
	DisplayPicture    string
	NotificationToken *string
	Roles             []string
	CreatedAt         time.Time
}

func (u User) Name() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

func userKey(uid string) []byte          { return []byte("user:" + uid) }
func emailKey(email string) []byte       { return []byte("email:" + normalizeEmail(email)) }
func usernameKey(username string) []byte { return []byte("username:" + username) }
func normalizeEmail(email string) string { return strings.ToLower(strings.TrimSpace(email)) }

// CreateUser persists a new account and returns its generated id.
func (u *UserRepository) CreateUser(email, hashedPassword, firstName, lastName string) (string, error) {
	user := User{
		ID:           uuid.NewString(),
		Email:        normalizeEmail(email),
		PasswordHash: hashedPassword,
		FirstName:    firstName,
		LastName:     lastName,
		Roles:        []string{"user"},
		CreatedAt:    time.Now().UTC(),
	}
	data, err := encodeUser(user)
	if err != nil {
		return "", fmt.Errorf("marshal failed: %w", err)
	}
	err = u.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(emailKey(email)); err == nil {
			return errors.ErrUserAlreadyExists
		}
		if err := txn.Set(emailKey(email), []byte(user.ID)); err != nil {
			return err
		}
		return txn.Set(userKey(user.ID), data)
	})
	if err != nil {
		return "", err
	}
	return user.ID, nil
}

func (u *UserRepository) GetUser(uid string) (User, error) {
	var user User
	err := u.db.View(func(txn *badger.Txn) error {
		var err error
		user, err = getUser(txn, uid)
		return err
	})
	return user, err
}

func (u *UserRepository) GetUserByEmail(email string) (User, error) {
	var user User
	err := u.db.View(func(txn *badger.Txn) error {
		uid, err := getIndex(txn, emailKey(email))
		if err != nil {
			return err
		}
		user, err = getUser(txn, uid)
		return err
	})
	return user, err
}

// SetUsername registers a username once. It can not be changed afterwards.
func (u *UserRepository) SetUsername(uid, username string) error {
	return u.db.Update(func(txn *badger.Txn) error {
		user, err := getUser(txn, uid)
		if err != nil {
			return err
		}
		if user.Username != "" {
			return errors.ErrUsernameAlreadySet
		}
		if _, err = txn.Get(usernameKey(username)); err == nil {
			return errors.ErrUsernameTaken
		}
		user.Username = username
		data, err := encodeUser(user)
		if err != nil {
			return err
		}
		if err = txn.Set(usernameKey(username), []byte(uid)); err != nil {
			return err
		}
		return txn.Set(userKey(uid), data)
	})
}

func (u *UserRepository) ResolveUsername(username string) (string, error) {
	var uid string
	err := u.db.View(func(txn *badger.Txn) error {
		var err error
		uid, err = getIndex(txn, usernameKey(username))
		return err
	})
	return uid, err
}

// ListUsernames returns every registered username with its uid.
func (u *UserRepository) ListUsernames() (map[string]string, error) {
	usernames := make(map[string]string)
	err := u.db.View(func(txn *badger.Txn) error {
		prefix := []byte("username:")
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			uid, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			usernames[string(item.Key()[len(prefix):])] = string(uid)
		}
		return nil
	})
	return usernames, err
}

// UpdateUser applies update to the stored record. Changing the email moves
// the email index; ID, Username and CreatedAt are kept as stored.
func (u *UserRepository) UpdateUser(uid string, update func(*User)) (User, error) {
	var updated User
	err := u.db.Update(func(txn *badger.Txn) error {
		current, err := getUser(txn, uid)
		if err != nil {
			return err
		}
		updated = current
		update(&updated)
		updated.ID, updated.Username, updated.CreatedAt = current.ID, current.Username, current.CreatedAt
		updated.Email = normalizeEmail(updated.Email)

		if updated.Email != current.Email {
			if _, err = txn.Get(emailKey(updated.Email)); err == nil {
				return errors.ErrUserAlreadyExists
			}
			if err = txn.Delete(emailKey(current.Email)); err != nil {
				return err
			}
			if err = txn.Set(emailKey(updated.Email), []byte(uid)); err != nil {
				return err
			}
		}
		data, err := encodeUser(updated)
		if err != nil {
			return err
		}
		return txn.Set(userKey(uid), data)
	})
	if err != nil {
		return User{}, err
	}
	return updated, nil
}

func getIndex(txn *badger.Txn, key []byte) (string, error) {
	item, err := txn.Get(key)
	if stderrors.Is(err, badger.ErrKeyNotFound) {
		return "", errors.ErrUserNotFound
	}
	if err != nil {
		return "", err
	}
	value, err := item.ValueCopy(nil)
	return string(value), err
}

func getUser(txn *badger.Txn, uid string) (User, error) {
	item, err := txn.Get(userKey(uid))
	if stderrors.Is(err, badger.ErrKeyNotFound) {
		return User{}, errors.ErrUserNotFound
	}
	if err != nil {
		return User{}, err
	}
	var record structpb.Struct
	err = item.Value(func(value []byte) error {
		return proto.Unmarshal(value, &record)
	})
	if err != nil {
		return User{}, err
	}
	return decodeUser(uid, &record), nil
}

func encodeUser(user User) ([]byte, error) {
	fields := map[string]any{
		"email":        user.Email,
		"passwordHash": user.PasswordHash,
		"firstName":    user.FirstName,
		"lastName":     user.LastName,
		"roles":        lo.Map(user.Roles, func(role string, _ int) any { return role }),
		"createdAt":    float64(user.CreatedAt.Unix()),
	}
	if user.Username != "" {
		fields["username"] = user.Username
	}
	if user.DisplayPicture != "" {
		fields["displayPicture"] = user.DisplayPicture
	}
	if token := lo.FromPtr(user.NotificationToken); token != "" {
		fields["notificationID"] = token
	}
	record, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(record)
}

func decodeUser(uid string, record *structpb.Struct) User {
	fields := record.GetFields()
	user := User{
		ID:             uid,
		Email:          fields["email"].GetStringValue(),
		PasswordHash:   fields["passwordHash"].GetStringValue(),
		FirstName:      fields["firstName"].GetStringValue(),
		LastName:       fields["lastName"].GetStringValue(),
		Username:       fields["username"].GetStringValue(),
		DisplayPicture: fields["displayPicture"].GetStringValue(),
		Roles: lo.Map(fields["roles"].GetListValue().GetValues(), func(v *structpb.Value, _ int) string {
			return v.GetStringValue()
		}),
		CreatedAt: time.Unix(int64(fields["createdAt"].GetNumberValue()), 0).UTC(),
	}
	if token := fields["notificationID"].GetStringValue(); token != "" {
		user.NotificationToken = lo.ToPtr(token)
	}
	return user
}
