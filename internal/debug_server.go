package internal

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const (
	InspectEndpoint = "/debug/inspect"
	DefaultPrefix   = "race:"
	inspectLimit    = 500
)

type InspectRow struct {
	Key       string `json:"key"`
	Namespace string `json:"namespace"`
	Size      int64  `json:"size"`
	ExpiresAt string `json:"expires_at,omitempty"`
}

type StatsProvider func() map[string]any

type PageData struct {
	Prefix    string         `json:"prefix"`
	Items     []InspectRow   `json:"items"`
	Truncated bool           `json:"truncated"`
	Stats     map[string]any `json:"stats"`
}

// DebugHandler lists the badger keys under ?prefix= along with live
// process stats. It is mounted only when debug logging is on.
func DebugHandler(db *badger.DB, statsProvider StatsProvider) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+InspectEndpoint, func(w http.ResponseWriter, r *http.Request) {
		prefix := r.URL.Query().Get("prefix")
		if prefix == "" {
			prefix = DefaultPrefix
		}
		data := PageData{Prefix: prefix, Items: []InspectRow{}, Stats: map[string]any{}}
		if statsProvider != nil {
			data.Stats = statsProvider()
		}

		err := db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false
			it := txn.NewIterator(opts)
			defer it.Close()
			for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
				if len(data.Items) == inspectLimit {
					data.Truncated = true
					return nil
				}
				data.Items = append(data.Items, row(it.Item()))
			}
			return nil
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(data)
	})
	return mux
}

func row(item *badger.Item) InspectRow {
	key := string(item.KeyCopy(nil))
	r := InspectRow{Key: key, Namespace: "default", Size: item.ValueSize()}
	if ns, _, ok := strings.Cut(key, ":"); ok {
		r.Namespace = ns
	}
	if exp := item.ExpiresAt(); exp > 0 {
		r.ExpiresAt = time.Unix(int64(exp), 0).UTC().Format(time.RFC3339)
	}
	return r
}

// DebugAddress is where the inspector listens.
func DebugAddress(host string, port int) string {
	return host + ":" + strconv.Itoa(port)
}
