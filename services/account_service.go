package services

import (
	"atme/attachment"
	"atme/auth"
	"atme/contract"
	"atme/domain"
	"atme/errors"
	"atme/repositories"
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"

	"github.com/samber/lo"
)

type IAccountService interface {
	Register(ctx context.Context, email, password, firstName, lastName string) (domain.ParticipantID, error)
	SetUsername(ctx context.Context, uid domain.ParticipantID, username string) error
	Authenticate(ctx context.Context, email, password string) (domain.ParticipantID, error)
	SignIn(ctx context.Context, email, password string, deviceToken *string) (domain.Identity, Token, error)
	SignOut(ctx context.Context, identity domain.Identity) error
	ChangeEmail(ctx context.Context, uid domain.ParticipantID, email string) error
	ChangePassword(ctx context.Context, uid domain.ParticipantID, current, next string) error
	SetDisplayPicture(ctx context.Context, uid domain.ParticipantID, data []byte) (string, error)
}

type Token string

func (t Token) String() string {
	return string(t)
}

type AccountService struct {
	log            *slog.Logger
	userRepository repositories.IUserRepository
	rosters        contract.IRosterManager
	index          contract.IUsernameIndex
	issuer         *auth.TokenIssuer
	pictures       contract.IAttachmentStore
	caches         []contract.ICache
}

func NewAccountService(log *slog.Logger, userRepository repositories.IUserRepository, rosters contract.IRosterManager,
	index contract.IUsernameIndex, issuer *auth.TokenIssuer) *AccountService {
	return &AccountService{
		log:            log,
		userRepository: userRepository,
		rosters:        rosters,
		index:          index,
		issuer:         issuer,
	}
}

// WithPictures enables display pictures.
func (s *AccountService) WithPictures(store contract.IAttachmentStore) *AccountService {
	s.pictures = store
	return s
}

// WithCaches registers caches emptied on sign out.
func (s *AccountService) WithCaches(caches ...contract.ICache) *AccountService {
	s.caches = append(s.caches, caches...)
	return s
}

// Register creates an account. The username is chosen in a second step,
// until then the account can not sign in.
func (s *AccountService) Register(_ context.Context, email, password, firstName, lastName string) (domain.ParticipantID, error) {
	// Validated before any expensive hashing
	err := auth.ValidateRegister(auth.RegisterRequest{Email: email, Password: password, FirstName: firstName, LastName: lastName})
	if err != nil {
		if stderrors.Is(err, errors.ErrInvalidPassword) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", errors.ErrInvalidCredentials, err)
	}

	hashedPassword, err := auth.HashPassword(password)
	if err != nil {
		return "", fmt.Errorf("hashing failed: %w", err)
	}
	uid, err := s.userRepository.CreateUser(email, hashedPassword, firstName, lastName)
	if err != nil {
		return "", err
	}
	s.log.Info("Account registered", "uid", uid)
	return domain.ParticipantID(uid), nil
}

// SetUsername assigns the unique, immutable username of uid.
func (s *AccountService) SetUsername(ctx context.Context, uid domain.ParticipantID, username string) error {
	if err := auth.ValidateUsername(username); err != nil {
		return err
	}
	if err := s.userRepository.SetUsername(string(uid), username); err != nil {
		return err
	}
	if err := s.index.Register(ctx, uid, username); err != nil {
		// The repository is the source of truth, the index is rebuilt at startup
		s.log.Warn("Username not indexed", "uid", uid, "error", err)
	}
	return nil
}

// SignIn checks credentials and establishes the identity used by sessions.
// When the device has a notification token it replaces the stored one,
// everywhere the participant is a member.
func (s *AccountService) SignIn(ctx context.Context, email, password string, deviceToken *string) (domain.Identity, Token, error) {
	user, err := s.checkCredentials(email, password)
	if err != nil {
		return domain.Identity{}, "", err
	}
	if user.Username == "" {
		return domain.Identity{}, "", errors.ErrIncompleteProfile
	}

	if token := lo.FromPtr(deviceToken); token != "" && token != lo.FromPtr(user.NotificationToken) {
		user, err = s.refreshToken(ctx, user.ID, deviceToken)
		if err != nil {
			return domain.Identity{}, "", err
		}
	}

	identity := domain.Identity{
		ID:                domain.ParticipantID(user.ID),
		Username:          user.Username,
		DisplayName:       user.Name(),
		NotificationToken: user.NotificationToken,
	}
	signed, err := s.issuer.Generate(identity, user.Roles)
	if err != nil {
		return domain.Identity{}, "", err
	}
	s.log.Info("Signed in", "uid", user.ID, "username", user.Username)
	return identity, Token(signed), nil
}

// Authenticate checks credentials without requiring a complete profile,
// so that an account can pick its username.
func (s *AccountService) Authenticate(_ context.Context, email, password string) (domain.ParticipantID, error) {
	user, err := s.checkCredentials(email, password)
	if err != nil {
		return "", err
	}
	return domain.ParticipantID(user.ID), nil
}

// SignOut unsubscribes the participant from notifications in every
// conversation and drops cached data.
func (s *AccountService) SignOut(ctx context.Context, identity domain.Identity) error {
	if !identity.Authenticated() {
		return errors.ErrUnauthenticated
	}
	if _, err := s.refreshToken(ctx, string(identity.ID), nil); err != nil {
		return err
	}
	for _, cache := range s.caches {
		cache.Clear()
	}
	s.log.Info("Signed out", "uid", identity.ID)
	return nil
}

func (s *AccountService) ChangeEmail(_ context.Context, uid domain.ParticipantID, email string) error {
	if err := auth.ValidateEmail(email); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidCredentials, err)
	}
	_, err := s.userRepository.UpdateUser(string(uid), func(user *repositories.User) {
		user.Email = email
	})
	return err
}

func (s *AccountService) ChangePassword(_ context.Context, uid domain.ParticipantID, current, next string) error {
	user, err := s.userRepository.GetUser(string(uid))
	if err != nil {
		return err
	}
	match, err := auth.ComparePassword(current, user.PasswordHash)
	if err != nil || !match {
		return errors.ErrInvalidCredentials
	}
	if err = auth.ValidatePassword(next); err != nil {
		return err
	}
	hashedPassword, err := auth.HashPassword(next)
	if err != nil {
		return fmt.Errorf("hashing failed: %w", err)
	}
	_, err = s.userRepository.UpdateUser(string(uid), func(user *repositories.User) {
		user.PasswordHash = hashedPassword
	})
	return err
}

// SetDisplayPicture stores an image as the profile picture of uid and
// returns its storage path.
func (s *AccountService) SetDisplayPicture(ctx context.Context, uid domain.ParticipantID, data []byte) (string, error) {
	if s.pictures == nil {
		return "", fmt.Errorf("%w: no picture store", errors.ErrWriteFailure)
	}
	path, err := attachment.ProfilePicturePath(uid, data)
	if err != nil {
		return "", err
	}
	if err = s.pictures.Put(ctx, path, data); err != nil {
		return "", fmt.Errorf("%w: upload: %v", errors.ErrWriteFailure, err)
	}
	_, err = s.userRepository.UpdateUser(string(uid), func(user *repositories.User) {
		user.DisplayPicture = path
	})
	return path, err
}

func (s *AccountService) checkCredentials(email, password string) (repositories.User, error) {
	user, err := s.userRepository.GetUserByEmail(email)
	if err != nil {
		// Same error as a wrong password, to prevent user enumeration
		return repositories.User{}, errors.ErrInvalidCredentials
	}
	match, err := auth.ComparePassword(password, user.PasswordHash)
	if err != nil || !match {
		return repositories.User{}, errors.ErrInvalidCredentials
	}
	return user, nil
}

func (s *AccountService) refreshToken(ctx context.Context, uid string, token *string) (repositories.User, error) {
	user, err := s.userRepository.UpdateUser(uid, func(user *repositories.User) {
		user.NotificationToken = token
	})
	if err != nil {
		return repositories.User{}, err
	}
	if err = s.rosters.SetToken(ctx, domain.ParticipantID(uid), token); err != nil {
		return repositories.User{}, err
	}
	return user, nil
}
