// Package stream asks streaming providers which entrant accounts are live.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"race-lab/errors"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultRequestTimeout = 10 * time.Second
	// DefaultRate paces provider calls well under their published quotas.
	DefaultRate  = rate.Limit(5)
	DefaultBurst = 5
)

// getJSON paces, sends req and decodes a 2xx JSON body into out. Any
// failure is transient: the supervisor retries on its next poll.
func getJSON(ctx context.Context, client *http.Client, limiter *rate.Limiter, req *http.Request, out any) (int, error) {
	if err := limiter.Wait(ctx); err != nil {
		return 0, errors.Transient(err, "stream provider call cancelled")
	}
	resp, err := client.Do(req.WithContext(ctx))
	if err != nil {
		return 0, errors.Transient(err, "stream provider unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resp.StatusCode, errors.Transient(fmt.Errorf("status %d: %s", resp.StatusCode, body), "stream provider refused the call")
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, errors.Transient(err, "stream provider sent an unreadable answer")
	}
	return resp.StatusCode, nil
}

func chunks(ids []string, size int) [][]string {
	var out [][]string
	for len(ids) > size {
		out = append(out, ids[:size])
		ids = ids[size:]
	}
	if len(ids) > 0 {
		out = append(out, ids)
	}
	return out
}
