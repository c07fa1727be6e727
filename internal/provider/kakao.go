package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"golang.org/x/oauth2"

	"medihan/internal/models"
)

const (
	kakaoAuthURL     = "https://kauth.kakao.com/oauth/authorize"
	kakaoTokenURL    = "https://kauth.kakao.com/oauth/token"
	kakaoUserInfoURL = "https://kapi.kakao.com/v2/user/me"
)

type Kakao struct {
	oauth       *oauth2.Config
	userInfoURL string
	cfg         Config
}

func NewKakao(cfg Config) *Kakao {
	return &Kakao{
		oauth:       cfg.oauth2Config(kakaoAuthURL, kakaoTokenURL),
		userInfoURL: cfg.userInfoURL(kakaoUserInfoURL),
		cfg:         cfg,
	}
}

func (k *Kakao) Name() models.Provider { return models.ProviderKakao }

func (k *Kakao) AuthCodeURL(state string) string {
	return k.oauth.AuthCodeURL(state)
}

type kakaoProfile struct {
	ID         int64 `json:"id"`
	Properties struct {
		Nickname     string `json:"nickname"`
		ProfileImage string `json:"profile_image"`
	} `json:"properties"`
	Account struct {
		Email   string `json:"email"`
		Profile struct {
			Nickname        string `json:"nickname"`
			ProfileImageURL string `json:"profile_image_url"`
		} `json:"profile"`
		AgeRange string `json:"age_range"`
		Gender   string `json:"gender"`
	} `json:"kakao_account"`
}

func (k *Kakao) Exchange(ctx context.Context, code string) (*Identity, error) {
	body, err := exchange(ctx, k.oauth, k.cfg.HTTPClient, code, k.userInfoURL)
	if err != nil {
		return nil, err
	}

	var p kakaoProfile
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: decoding kakao profile: %v", ErrProfileFailed, err)
	}
	if p.ID == 0 {
		return nil, fmt.Errorf("%w: kakao profile has no id", ErrProfileFailed)
	}

	email := p.Account.Email
	return &Identity{
		Provider:     models.ProviderKakao,
		ProviderID:   strconv.FormatInt(p.ID, 10),
		Email:        email,
		Nickname:     firstNonEmpty(p.Account.Profile.Nickname, p.Properties.Nickname, emailLocalPart(email), defaultNickname),
		ProfileImage: firstNonEmpty(p.Account.Profile.ProfileImageURL, p.Properties.ProfileImage),
		AgeGroup:     p.Account.AgeRange,
		Gender:       p.Account.Gender,
		RawProfile:   body,
	}, nil
}
