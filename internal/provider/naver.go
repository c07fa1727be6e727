package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/oauth2"

	"medihan/internal/models"
)

const (
	naverAuthURL     = "https://nid.naver.com/oauth2.0/authorize"
	naverTokenURL    = "https://nid.naver.com/oauth2.0/token"
	naverUserInfoURL = "https://openapi.naver.com/v1/nid/me"

	naverResultOK = "00"
)

type Naver struct {
	oauth       *oauth2.Config
	userInfoURL string
	cfg         Config
}

func NewNaver(cfg Config) *Naver {
	return &Naver{
		oauth:       cfg.oauth2Config(naverAuthURL, naverTokenURL),
		userInfoURL: cfg.userInfoURL(naverUserInfoURL),
		cfg:         cfg,
	}
}

func (n *Naver) Name() models.Provider { return models.ProviderNaver }

func (n *Naver) AuthCodeURL(state string) string {
	return n.oauth.AuthCodeURL(state)
}

type naverProfile struct {
	ResultCode string `json:"resultcode"`
	Message    string `json:"message"`
	Response   struct {
		ID           string `json:"id"`
		Email        string `json:"email"`
		Nickname     string `json:"nickname"`
		ProfileImage string `json:"profile_image"`
		Age          string `json:"age"`
		Gender       string `json:"gender"`
	} `json:"response"`
}

func (n *Naver) Exchange(ctx context.Context, code string) (*Identity, error) {
	body, err := exchange(ctx, n.oauth, n.cfg.HTTPClient, code, n.userInfoURL)
	if err != nil {
		return nil, err
	}

	var p naverProfile
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: decoding naver profile: %v", ErrProfileFailed, err)
	}
	if p.ResultCode != naverResultOK {
		return nil, fmt.Errorf("%w: naver resultcode %q: %s", ErrProfileFailed, p.ResultCode, p.Message)
	}
	if p.Response.ID == "" {
		return nil, fmt.Errorf("%w: naver profile has no id", ErrProfileFailed)
	}

	email := p.Response.Email
	return &Identity{
		Provider:     models.ProviderNaver,
		ProviderID:   p.Response.ID,
		Email:        email,
		Nickname:     firstNonEmpty(emailLocalPart(email), p.Response.Nickname, defaultNickname),
		ProfileImage: p.Response.ProfileImage,
		AgeGroup:     p.Response.Age,
		Gender:       strings.ToLower(p.Response.Gender),
		RawProfile:   body,
	}, nil
}
