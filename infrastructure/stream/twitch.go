package stream

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"race-lab/clock"
	"race-lab/contract"
	"race-lab/domain"
	"race-lab/errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	TwitchTokenURL = "https://id.twitch.tv/oauth2/token"
	TwitchAPIURL   = "https://api.twitch.tv/helix"
	// TwitchBatch is the most user ids one streams call accepts.
	TwitchBatch = 100
	// TokenRefreshMargin renews the app token this long before it expires.
	TokenRefreshMargin = 5 * time.Minute
)

var _ contract.StreamProbe = (*Twitch)(nil)

type TwitchConfig struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	APIURL       string
	Client       *http.Client
	Limiter      *rate.Limiter
}

// Twitch reports live streams through the Helix API with an app access
// token obtained by the client credentials grant.
type Twitch struct {
	log     *slog.Logger
	cfg     TwitchConfig
	clock   clock.Clock
	mu      sync.Mutex
	token   string
	expires time.Time
}

func NewTwitch(log *slog.Logger, cfg TwitchConfig, clk clock.Clock) *Twitch {
	if cfg.TokenURL == "" {
		cfg.TokenURL = TwitchTokenURL
	}
	if cfg.APIURL == "" {
		cfg.APIURL = TwitchAPIURL
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: DefaultRequestTimeout}
	}
	if cfg.Limiter == nil {
		cfg.Limiter = rate.NewLimiter(DefaultRate, DefaultBurst)
	}
	return &Twitch{log: log, cfg: cfg, clock: clk}
}

func (t *Twitch) Name() string { return domain.StreamTwitch }

type twitchToken struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

type twitchStreams struct {
	Data []struct {
		UserID   string `json:"user_id"`
		UserName string `json:"user_name"`
		Type     string `json:"type"`
	} `json:"data"`
}

// EnsureToken fetches a new app token when none is held or the current
// one is about to expire.
func (t *Twitch) EnsureToken(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock.Now()
	if t.token != "" && now.Add(TokenRefreshMargin).Before(t.expires) {
		return t.token, nil
	}

	form := url.Values{
		"client_id":     {t.cfg.ClientID},
		"client_secret": {t.cfg.ClientSecret},
		"grant_type":    {"client_credentials"},
	}
	req, err := http.NewRequest(http.MethodPost, t.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", errors.Fatal(err, "bad twitch token url")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var tok twitchToken
	if _, err := getJSON(ctx, t.cfg.Client, t.cfg.Limiter, req, &tok); err != nil {
		return "", err
	}
	if tok.AccessToken == "" {
		return "", errors.Transient(nil, "twitch returned an empty token")
	}
	t.token = tok.AccessToken
	t.expires = now.Add(time.Duration(tok.ExpiresIn) * time.Second)
	t.log.Info("Twitch app token refreshed", "expires", t.expires)
	return t.token, nil
}

func (t *Twitch) invalidate() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.token = ""
}

// Live asks Helix about accountIDs in batches. Accounts that are not
// streaming are reported offline; any failed batch fails the whole call.
func (t *Twitch) Live(ctx context.Context, accountIDs []string) (map[string]contract.StreamStatus, error) {
	out := make(map[string]contract.StreamStatus, len(accountIDs))
	if len(accountIDs) == 0 {
		return out, nil
	}
	token, err := t.EnsureToken(ctx)
	if err != nil {
		return nil, err
	}
	for _, id := range accountIDs {
		out[id] = contract.StreamStatus{}
	}

	for _, batch := range chunks(accountIDs, TwitchBatch) {
		q := url.Values{"first": {"100"}}
		for _, id := range batch {
			q.Add("user_id", id)
		}
		req, err := http.NewRequest(http.MethodGet, t.cfg.APIURL+"/streams?"+q.Encode(), nil)
		if err != nil {
			return nil, errors.Fatal(err, "bad twitch api url")
		}
		req.Header.Set("Client-ID", t.cfg.ClientID)
		req.Header.Set("Authorization", "Bearer "+token)

		var streams twitchStreams
		status, err := getJSON(ctx, t.cfg.Client, t.cfg.Limiter, req, &streams)
		if status == http.StatusUnauthorized {
			t.invalidate()
		}
		if err != nil {
			return nil, err
		}
		for _, s := range streams.Data {
			if s.Type == "live" {
				out[s.UserID] = contract.StreamStatus{Live: true, DisplayName: s.UserName}
			}
		}
	}
	return out, nil
}
