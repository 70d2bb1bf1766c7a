package auth

import (
	"context"
	"log/slog"

	"giglink/internal/content"
	"giglink/internal/models"
	"giglink/internal/rest"
	"giglink/internal/session"
)

// Service drives the client-side authentication flows: login, registration,
// logout and profile retrieval. The refresh-on-401 path lives in the REST
// client itself; this service only seeds and clears the session store.
type Service struct {
	client  *rest.Client
	session *session.Store
}

func NewService(client *rest.Client, sess *session.Store) *Service {
	return &Service{client: client, session: sess}
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	Username string   `json:"username"`
	Email    string   `json:"email"`
	Password string   `json:"password"`
	Bio      string   `json:"bio,omitempty"`
	Skills   []string `json:"skills,omitempty"`
}

// tokenResponse tolerates both field names the API has used for the
// access token.
type tokenResponse struct {
	Token       string `json:"token"`
	AccessToken string `json:"accessToken"`
}

func (r tokenResponse) value() string {
	if r.AccessToken != "" {
		return r.AccessToken
	}
	return r.Token
}

type Profile struct {
	ID               int64    `json:"id"`
	Username         string   `json:"username"`
	Email            string   `json:"email"`
	Bio              string   `json:"bio,omitempty"`
	Skills           []string `json:"skills"`
	ReputationPoints int      `json:"reputationPoints"`
	IsVerified       bool     `json:"isVerified"`
}

func (s *Service) Login(ctx context.Context, username, password string) (models.Session, error) {
	var resp tokenResponse
	err := s.client.Post(ctx, "/auth/login", LoginRequest{Email: username, Password: password}, &resp)
	if err != nil {
		return models.Session{}, err
	}

	s.session.SetToken(resp.value())
	sess, ok := s.session.Current()
	if !ok {
		// Identity claims missing from the token: fall back to the profile.
		profile, err := s.Profile(ctx)
		if err != nil {
			s.session.Clear()
			return models.Session{}, err
		}
		sess = models.Session{
			UserID:      profile.ID,
			Username:    profile.Username,
			AccessToken: resp.value(),
		}
	}

	return sess, nil
}

func (s *Service) Register(ctx context.Context, req RegisterRequest) (models.Session, error) {
	if err := content.ValidateUsername(req.Username); err != nil {
		return models.Session{}, err
	}

	var resp tokenResponse
	if err := s.client.Post(ctx, "/auth/register", req, &resp); err != nil {
		return models.Session{}, err
	}

	s.session.SetToken(resp.value())
	sess, _ := s.session.Current()
	return sess, nil
}

// Logout tells the server to drop the refresh token, then clears local
// state regardless of the outcome.
func (s *Service) Logout(ctx context.Context) {
	if err := s.client.Post(ctx, "/auth/logout", nil, nil); err != nil {
		slog.Warn("logout request failed", "error", err)
	}
	s.session.Clear()
}

func (s *Service) Profile(ctx context.Context) (Profile, error) {
	var profile Profile
	if err := s.client.Get(ctx, "/auth/profile", &profile); err != nil {
		return Profile{}, err
	}
	return profile, nil
}
