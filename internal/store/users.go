package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// User is the durable user record. PasswordHash never leaves this package
// through the API layer; handlers serialize the Public view instead.
type User struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"passwordHash"`
	Avatar       string     `json:"avatar"`
	Online       bool       `json:"online"`
	LastSeen     *time.Time `json:"lastSeen,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// PublicUser is the wire representation of a user, without credentials.
type PublicUser struct {
	ID       string     `json:"id"`
	Username string     `json:"username"`
	Email    string     `json:"email"`
	Avatar   string     `json:"avatar"`
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

// Public strips credential fields from a user record.
func (u User) Public() PublicUser {
	return PublicUser{
		ID:       u.ID,
		Username: u.Username,
		Email:    u.Email,
		Avatar:   u.Avatar,
		Online:   u.Online,
		LastSeen: u.LastSeen,
	}
}

// Users is the user directory backed by Badger.
//
// Key layout:
//
//	user:id:{id}       -> JSON user record
//	user:email:{email} -> id (login lookup and uniqueness)
//	user:name:{name}   -> id (uniqueness)
type Users struct {
	db  *badger.DB
	log *slog.Logger
}

func NewUsers(db *badger.DB, log *slog.Logger) *Users {
	return &Users{db: db, log: log}
}

func userKey(id string) []byte { return []byte("user:id:" + id) }

func emailKey(email string) []byte {
	return []byte("user:email:" + strings.ToLower(email))
}

func nameKey(name string) []byte { return []byte("user:name:" + strings.ToLower(name)) }

// Create persists a new user. Email and username uniqueness are enforced
// inside a single transaction so concurrent registrations cannot both win.
func (u *Users) Create(username, email, passwordHash string) (User, error) {
	user := User{
		ID:           uuid.New().String(),
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		Avatar:       "https://ui-avatars.com/api/?name=" + url.QueryEscape(username) + "&background=random",
		CreatedAt:    time.Now().UTC(),
	}

	data, err := json.Marshal(user)
	if err != nil {
		return User{}, fmt.Errorf("marshal user: %w", err)
	}

	err = u.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(emailKey(email)); err == nil {
			return ErrUserExists
		}
		if _, err := txn.Get(nameKey(username)); err == nil {
			return ErrUserExists
		}
		if err := txn.Set(userKey(user.ID), data); err != nil {
			return err
		}
		if err := txn.Set(emailKey(email), []byte(user.ID)); err != nil {
			return err
		}
		return txn.Set(nameKey(username), []byte(user.ID))
	})
	if err != nil {
		return User{}, err
	}

	u.log.Info("user created", "user", user.ID, "username", username)
	return user, nil
}

// ByID looks up a user record by its identifier.
func (u *Users) ByID(id string) (User, error) {
	var user User
	err := u.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, userKey(id), &user)
	})
	return user, err
}

// ByEmail resolves the email index and returns the full record.
func (u *Users) ByEmail(email string) (User, error) {
	var user User
	err := u.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(emailKey(email))
		if err != nil {
			return translateErr(err)
		}
		return item.Value(func(id []byte) error {
			return getJSON(txn, userKey(string(id)), &user)
		})
	})
	return user, err
}

// ListOthers returns every user except excludeID, online users first and
// alphabetical by username within each group.
func (u *Users) ListOthers(excludeID string) ([]PublicUser, error) {
	var users []PublicUser
	prefix := []byte("user:id:")

	err := u.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var user User
				if err := json.Unmarshal(val, &user); err != nil {
					return err
				}
				if user.ID != excludeID {
					users = append(users, user.Public())
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(users, func(i, j int) bool {
		if users[i].Online != users[j].Online {
			return users[i].Online
		}
		return users[i].Username < users[j].Username
	})
	return users, nil
}

// SetOnline updates a user's online flag; lastSeen is recorded only when
// provided (the offline transition).
func (u *Users) SetOnline(id string, online bool, lastSeen *time.Time) error {
	return u.db.Update(func(txn *badger.Txn) error {
		var user User
		if err := getJSON(txn, userKey(id), &user); err != nil {
			return err
		}
		user.Online = online
		if lastSeen != nil {
			t := lastSeen.UTC()
			user.LastSeen = &t
		}
		data, err := json.Marshal(user)
		if err != nil {
			return err
		}
		return txn.Set(userKey(id), data)
	})
}

func getJSON(txn *badger.Txn, key []byte, dst any) error {
	item, err := txn.Get(key)
	if err != nil {
		return translateErr(err)
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, dst)
	})
}

func translateErr(err error) error {
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	return err
}
