package services

import (
	"atme/auth"
	"atme/domain"
	"atme/errors"
	"atme/mocks"
	"atme/repositories"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type accountFixture struct {
	users   *mocks.MockIUserRepository
	rosters *mocks.MockIRosterManager
	index   *mocks.MockIUsernameIndex
	issuer  *auth.TokenIssuer
	svc     *AccountService
}

func newAccountFixture(ctrl *gomock.Controller) accountFixture {
	f := accountFixture{
		users:   mocks.NewMockIUserRepository(ctrl),
		rosters: mocks.NewMockIRosterManager(ctrl),
		index:   mocks.NewMockIUsernameIndex(ctrl),
		issuer:  auth.NewTokenIssuer("a-long-enough-test-secret", 24*time.Hour),
	}
	f.svc = NewAccountService(slog.Default(), f.users, f.rosters, f.index, f.issuer)
	return f
}

// applyUpdate makes UpdateUser behave like the repository on a copy of user.
func applyUpdate(user repositories.User) func(string, func(*repositories.User)) (repositories.User, error) {
	return func(_ string, update func(*repositories.User)) (repositories.User, error) {
		update(&user)
		return user, nil
	}
}

func TestAccountService_Register(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	f := newAccountFixture(ctrl)
	ctx := context.Background()

	t.Run("should register successfully when input is valid", func(t *testing.T) {
		req := require.New(t)

		// Expect CreateUser to be called with a hashed password, not the plain one
		f.users.EXPECT().
			CreateUser("test@example.com", gomock.Not("ComplexPass123!"), "Ada", "Lovelace").
			Return("u1", nil).
			Times(1)

		uid, err := f.svc.Register(ctx, "test@example.com", "ComplexPass123!", "Ada", "Lovelace")

		req.NoError(err)
		req.Equal(domain.ParticipantID("u1"), uid)
	})

	t.Run("should fail when password complexity is not met", func(t *testing.T) {
		req := require.New(t)

		// Repository should never be called
		f.users.EXPECT().CreateUser(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

		uid, err := f.svc.Register(ctx, "test@example.com", "simplepassword", "Ada", "Lovelace")

		req.ErrorIs(err, errors.ErrInvalidPassword)
		req.Empty(uid)
	})

	t.Run("should fail when user already exists in repository", func(t *testing.T) {
		req := require.New(t)

		f.users.EXPECT().
			CreateUser("duplicate@example.com", gomock.Any(), "Ada", "").
			Return("", errors.ErrUserAlreadyExists).
			Times(1)

		_, err := f.svc.Register(ctx, "duplicate@example.com", "ComplexPass123!", "Ada", "")

		req.ErrorIs(err, errors.ErrUserAlreadyExists)
	})
}

func TestAccountService_SetUsername(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	f := newAccountFixture(ctrl)
	ctx := context.Background()

	t.Run("should index a valid username", func(t *testing.T) {
		req := require.New(t)
		f.users.EXPECT().SetUsername("u1", "alice").Return(nil).Times(1)
		f.index.EXPECT().Register(gomock.Any(), domain.ParticipantID("u1"), "alice").Return(nil).Times(1)

		req.NoError(f.svc.SetUsername(ctx, "u1", "alice"))
	})

	t.Run("should refuse an invalid username before any write", func(t *testing.T) {
		req := require.New(t)
		req.ErrorIs(f.svc.SetUsername(ctx, "u1", "Not Valid"), errors.ErrInvalidUsername)
	})

	t.Run("should not index a taken username", func(t *testing.T) {
		req := require.New(t)
		f.users.EXPECT().SetUsername("u2", "alice").Return(errors.ErrUsernameTaken).Times(1)

		req.ErrorIs(f.svc.SetUsername(ctx, "u2", "alice"), errors.ErrUsernameTaken)
	})
}

func TestAccountService_SignIn(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	f := newAccountFixture(ctrl)
	ctx := context.Background()
	password := "ComplexPass123!"
	hash, err := auth.HashPassword(password)
	require.NoError(t, err)
	alice := repositories.User{ID: "u1", Email: "alice@example.com", PasswordHash: hash, FirstName: "Alice",
		Username: "alice", NotificationToken: lo.ToPtr("old"), Roles: []string{"user"}}

	t.Run("should refresh the device token everywhere", func(t *testing.T) {
		req := require.New(t)
		f.users.EXPECT().GetUserByEmail("alice@example.com").Return(alice, nil).Times(1)
		f.users.EXPECT().UpdateUser("u1", gomock.Any()).DoAndReturn(applyUpdate(alice)).Times(1)
		f.rosters.EXPECT().SetToken(gomock.Any(), domain.ParticipantID("u1"), lo.ToPtr("new")).Return(nil).Times(1)

		identity, token, err := f.svc.SignIn(ctx, "alice@example.com", password, lo.ToPtr("new"))

		req.NoError(err)
		req.Equal(domain.Identity{ID: "u1", Username: "alice", DisplayName: "Alice", NotificationToken: lo.ToPtr("new")}, identity)
		claims, err := f.issuer.Validate(token.String())
		req.NoError(err)
		req.Equal("u1", claims.UserID)
	})

	t.Run("should keep an unchanged token", func(t *testing.T) {
		req := require.New(t)
		f.users.EXPECT().GetUserByEmail("alice@example.com").Return(alice, nil).Times(1)

		identity, _, err := f.svc.SignIn(ctx, "alice@example.com", password, lo.ToPtr("old"))

		req.NoError(err)
		req.Equal(lo.ToPtr("old"), identity.NotificationToken)
	})

	t.Run("should fail with a wrong password", func(t *testing.T) {
		req := require.New(t)
		f.users.EXPECT().GetUserByEmail("alice@example.com").Return(alice, nil).Times(1)

		_, _, err := f.svc.SignIn(ctx, "alice@example.com", "WrongPass123!", nil)

		req.ErrorIs(err, errors.ErrInvalidCredentials)
	})

	t.Run("should fail the same way for an unknown email", func(t *testing.T) {
		req := require.New(t)
		f.users.EXPECT().GetUserByEmail("ghost@example.com").Return(repositories.User{}, errors.ErrUserNotFound).Times(1)

		_, _, err := f.svc.SignIn(ctx, "ghost@example.com", password, nil)

		req.ErrorIs(err, errors.ErrInvalidCredentials)
	})

	t.Run("should require a username", func(t *testing.T) {
		req := require.New(t)
		incomplete := alice
		incomplete.Username = ""
		f.users.EXPECT().GetUserByEmail("alice@example.com").Return(incomplete, nil).Times(1)

		_, _, err := f.svc.SignIn(ctx, "alice@example.com", password, nil)

		req.ErrorIs(err, errors.ErrIncompleteProfile)
	})
}

func TestAccountService_Authenticate(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	f := newAccountFixture(ctrl)
	ctx := context.Background()
	hash, err := auth.HashPassword("ComplexPass123!")
	require.NoError(t, err)
	// No username yet
	bob := repositories.User{ID: "u2", Email: "bob@example.com", PasswordHash: hash}

	t.Run("should accept an incomplete profile", func(t *testing.T) {
		req := require.New(t)
		f.users.EXPECT().GetUserByEmail("bob@example.com").Return(bob, nil).Times(1)

		uid, err := f.svc.Authenticate(ctx, "bob@example.com", "ComplexPass123!")

		req.NoError(err)
		req.Equal(domain.ParticipantID("u2"), uid)
	})

	t.Run("should reject a wrong password", func(t *testing.T) {
		req := require.New(t)
		f.users.EXPECT().GetUserByEmail("bob@example.com").Return(bob, nil).Times(1)

		_, err := f.svc.Authenticate(ctx, "bob@example.com", "WrongPass123!")

		req.ErrorIs(err, errors.ErrInvalidCredentials)
	})
}

func TestAccountService_SignOut(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	f := newAccountFixture(ctrl)
	cache := mocks.NewMockICache(ctrl)
	f.svc.WithCaches(cache)
	identity := domain.Identity{ID: "u1", Username: "alice", NotificationToken: lo.ToPtr("tokA")}

	// Then the token is cleared from the account and from every roster
	f.users.EXPECT().UpdateUser("u1", gomock.Any()).
		DoAndReturn(func(_ string, update func(*repositories.User)) (repositories.User, error) {
			user := repositories.User{ID: "u1", NotificationToken: lo.ToPtr("tokA")}
			update(&user)
			req.Nil(user.NotificationToken)
			return user, nil
		}).Times(1)
	f.rosters.EXPECT().SetToken(gomock.Any(), domain.ParticipantID("u1"), gomock.Nil()).Return(nil).Times(1)
	cache.EXPECT().Clear().Times(1)

	req.NoError(f.svc.SignOut(context.Background(), identity))
	req.ErrorIs(f.svc.SignOut(context.Background(), domain.Identity{}), errors.ErrUnauthenticated)
}

func TestAccountService_ChangePassword(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	f := newAccountFixture(ctrl)
	ctx := context.Background()
	hash, err := auth.HashPassword("ComplexPass123!")
	req.NoError(err)
	user := repositories.User{ID: "u1", PasswordHash: hash}

	f.users.EXPECT().GetUser("u1").Return(user, nil).Times(3)
	f.users.EXPECT().UpdateUser("u1", gomock.Any()).DoAndReturn(applyUpdate(user)).Times(1)

	req.ErrorIs(f.svc.ChangePassword(ctx, "u1", "WrongPass123!", "AnotherPass456?"), errors.ErrInvalidCredentials)
	req.ErrorIs(f.svc.ChangePassword(ctx, "u1", "ComplexPass123!", "weak"), errors.ErrInvalidPassword)
	req.NoError(f.svc.ChangePassword(ctx, "u1", "ComplexPass123!", "AnotherPass456?"))
}

func TestAccountService_ChangeEmail(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	f := newAccountFixture(ctrl)
	ctx := context.Background()

	f.users.EXPECT().UpdateUser("u1", gomock.Any()).
		DoAndReturn(applyUpdate(repositories.User{ID: "u1", Email: "old@example.com"})).Times(1)

	req.NoError(f.svc.ChangeEmail(ctx, "u1", "new@example.com"))
	req.ErrorIs(f.svc.ChangeEmail(ctx, "u1", "not-an-email"), errors.ErrInvalidCredentials)
}

func TestAccountService_SetDisplayPicture(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	f := newAccountFixture(ctrl)
	pictures := mocks.NewMockIAttachmentStore(ctrl)
	f.svc.WithPictures(pictures)
	png := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

	pictures.EXPECT().Put(gomock.Any(), "users/u1/profile.png", png).Return(nil).Times(1)
	f.users.EXPECT().UpdateUser("u1", gomock.Any()).DoAndReturn(applyUpdate(repositories.User{ID: "u1"})).Times(1)

	path, err := f.svc.SetDisplayPicture(context.Background(), "u1", png)

	req.NoError(err)
	req.Equal("users/u1/profile.png", path)

	_, err = f.svc.SetDisplayPicture(context.Background(), "u1", []byte("hello"))
	req.ErrorIs(err, errors.ErrUnsupportedAttachment)
}
