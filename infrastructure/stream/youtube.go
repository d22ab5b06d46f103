package stream

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"race-lab/contract"
	"race-lab/domain"
	"race-lab/errors"

	"golang.org/x/time/rate"
)

const YoutubeAPIURL = "https://www.googleapis.com/youtube/v3"

var _ contract.StreamProbe = (*Youtube)(nil)

type YoutubeConfig struct {
	APIKey  string
	APIURL  string
	Client  *http.Client
	Limiter *rate.Limiter
}

// Youtube looks for a live broadcast on each channel. The search endpoint
// takes one channel per call, so calls are paced by the limiter.
type Youtube struct {
	log *slog.Logger
	cfg YoutubeConfig
}

func NewYoutube(log *slog.Logger, cfg YoutubeConfig) *Youtube {
	if cfg.APIURL == "" {
		cfg.APIURL = YoutubeAPIURL
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: DefaultRequestTimeout}
	}
	if cfg.Limiter == nil {
		cfg.Limiter = rate.NewLimiter(DefaultRate, DefaultBurst)
	}
	return &Youtube{log: log, cfg: cfg}
}

func (y *Youtube) Name() string { return domain.StreamYoutube }

type youtubeSearch struct {
	Items []struct {
		Snippet struct {
			ChannelID            string `json:"channelId"`
			ChannelTitle         string `json:"channelTitle"`
			LiveBroadcastContent string `json:"liveBroadcastContent"`
		} `json:"snippet"`
	} `json:"items"`
}

func (y *Youtube) Live(ctx context.Context, accountIDs []string) (map[string]contract.StreamStatus, error) {
	out := make(map[string]contract.StreamStatus, len(accountIDs))
	for _, channel := range accountIDs {
		q := url.Values{
			"part":       {"snippet"},
			"channelId":  {channel},
			"eventType":  {"live"},
			"type":       {"video"},
			"maxResults": {"1"},
			"key":        {y.cfg.APIKey},
		}
		req, err := http.NewRequest(http.MethodGet, y.cfg.APIURL+"/search?"+q.Encode(), nil)
		if err != nil {
			return nil, errors.Fatal(err, "bad youtube api url")
		}
		var search youtubeSearch
		if _, err := getJSON(ctx, y.cfg.Client, y.cfg.Limiter, req, &search); err != nil {
			return nil, err
		}
		status := contract.StreamStatus{}
		for _, item := range search.Items {
			if item.Snippet.LiveBroadcastContent == "live" {
				status = contract.StreamStatus{Live: true, DisplayName: item.Snippet.ChannelTitle}
				break
			}
		}
		out[channel] = status
	}
	return out, nil
}
