package service

import (
	"context"
	"sync"
	"time"

	"ticket_desk/internal/backend"
	"ticket_desk/internal/repository"
)

// Preference keys. The update-check keys get the running version
// appended so an upgrade starts with a clean update state.
const (
	keyAPIURL                = "pretix_api_url"
	keyAPIKey                = "pretix_api_key"
	keyShowInfo              = "show_info"
	keyPlaySound             = "play_sound"
	keyAllowSearch           = "allow_search"
	keyAPIVersion            = "pretix_api_version"
	keyAsyncMode             = "async"
	keyLastSync              = "last_sync"
	keyLastFailedSync        = "last_failed_sync"
	keyLastFailedSyncMessage = "last_failed_sync_msg"
	keyLastDownload          = "last_download"
	keyLastUpdateCheck       = "last_update_check_"
	keyUpdateCheckNewer      = "update_check_newer_version_"

	blobLastStatusData = "last_status_data"
)

// EventConfig is everything needed to attach the terminal to one event.
type EventConfig struct {
	APIURL      string `json:"api_url"`
	APIKey      string `json:"api_key"`
	APIVersion  int    `json:"api_version"`
	ShowInfo    bool   `json:"show_info"`
	AllowSearch bool   `json:"allow_search"`
}

// ConfigStore holds event credentials, display preferences and sync
// bookkeeping. Every setter is durable when it returns nil.
//
// SetEventConfig and ResetEventConfig hold mu exclusively; single-field
// setters and getters share it, so nobody observes half of a composite
// change. Both bump gen, which retires the writes of sync passes started
// for the previous configuration.
type ConfigStore struct {
	mu         sync.RWMutex
	kv         repository.DurableKV
	blobs      repository.BlobStore
	appVersion string
	gen        uint64
}

func NewConfigStore(kv repository.DurableKV, blobs repository.BlobStore, appVersion string) *ConfigStore {
	return &ConfigStore{kv: kv, blobs: blobs, appVersion: appVersion}
}

func (c *ConfigStore) IsConfigured() bool {
	return c.APIURL() != ""
}

// Generation identifies the current event configuration.
func (c *ConfigStore) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gen
}

// Credentials returns the backend credentials together with their
// generation, read under one lock.
func (c *ConfigStore) Credentials() (backend.Credentials, uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return backend.Credentials{
		APIURL:     string(c.kv.GetBytes(keyAPIURL, nil)),
		APIKey:     string(c.kv.GetBytes(keyAPIKey, nil)),
		APIVersion: c.kv.GetInt(keyAPIVersion, backend.SupportedAPIVersion),
	}, c.gen
}

// WithinGeneration runs fn while gen is current. SetEventConfig and
// ResetEventConfig wait for fn to return. fn must not call back into
// the store.
func (c *ConfigStore) WithinGeneration(gen uint64, fn func() error) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if gen != c.gen {
		return ErrConfigChanged
	}
	return fn()
}

// SetEventConfig stores new credentials and forgets all sync state of the
// previous event. On error the caller must retry the whole call.
func (c *ConfigStore) SetEventConfig(ctx context.Context, cfg EventConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.kv.PutBytes(keyAPIURL, []byte(cfg.APIURL))
	c.kv.PutBytes(keyAPIKey, []byte(cfg.APIKey))
	c.kv.PutBool(keyAllowSearch, cfg.AllowSearch)
	c.kv.PutBool(keyShowInfo, cfg.ShowInfo)
	c.kv.PutInt(keyAPIVersion, cfg.APIVersion)
	c.clearSyncStateLocked()
	c.gen++

	return c.commitLocked(ctx, "set event config")
}

// ResetEventConfig returns the store to the unconfigured state.
func (c *ConfigStore) ResetEventConfig(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, k := range []string{keyAPIURL, keyAPIKey, keyShowInfo, keyAllowSearch, keyAPIVersion} {
		c.kv.Remove(k)
	}
	c.clearSyncStateLocked()
	c.gen++

	return c.commitLocked(ctx, "reset event config")
}

func (c *ConfigStore) clearSyncStateLocked() {
	c.kv.Remove(keyLastDownload)
	c.kv.Remove(keyLastSync)
	c.kv.Remove(keyLastFailedSync)
	c.kv.Remove(keyLastFailedSyncMessage)
}

// commitLocked flushes the scalar store and drops the status side file.
func (c *ConfigStore) commitLocked(ctx context.Context, op string) error {
	if err := c.blobs.Remove(blobLastStatusData); err != nil {
		return &PersistenceError{Op: op, Err: err}
	}
	if err := c.kv.Flush(ctx); err != nil {
		return &PersistenceError{Op: op, Err: err}
	}
	return nil
}

// set runs put under the shared lock and flushes.
func (c *ConfigStore) set(ctx context.Context, key string, put func()) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.putLocked(ctx, key, put)
}

// setFor is set for a writer bound to configuration gen.
func (c *ConfigStore) setFor(ctx context.Context, gen uint64, key string, put func()) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if gen != c.gen {
		return ErrConfigChanged
	}
	return c.putLocked(ctx, key, put)
}

func (c *ConfigStore) putLocked(ctx context.Context, key string, put func()) error {
	put()
	if err := c.kv.Flush(ctx); err != nil {
		return &PersistenceError{Op: "set " + key, Err: err}
	}
	return nil
}

func (c *ConfigStore) getString(key string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return string(c.kv.GetBytes(key, nil))
}

func (c *ConfigStore) getBool(key string, def bool) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.kv.GetBool(key, def)
}

// getTime reads a unix-millisecond value; 0 is the zero time.
func (c *ConfigStore) getTime(key string) time.Time {
	c.mu.RLock()
	ms := c.kv.GetLong(key, 0)
	c.mu.RUnlock()
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func (c *ConfigStore) setTime(ctx context.Context, key string, t time.Time) error {
	return c.set(ctx, key, func() {
		if t.IsZero() {
			c.kv.Remove(key)
			return
		}
		c.kv.PutLong(key, t.UnixMilli())
	})
}

func (c *ConfigStore) APIURL() string { return c.getString(keyAPIURL) }
func (c *ConfigStore) APIKey() string { return c.getString(keyAPIKey) }

func (c *ConfigStore) APIVersion() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.kv.GetInt(keyAPIVersion, backend.SupportedAPIVersion)
}

func (c *ConfigStore) SetAPIVersion(ctx context.Context, v int) error {
	return c.set(ctx, keyAPIVersion, func() { c.kv.PutInt(keyAPIVersion, v) })
}

func (c *ConfigStore) ShowInfo() bool { return c.getBool(keyShowInfo, true) }

func (c *ConfigStore) SetShowInfo(ctx context.Context, v bool) error {
	return c.set(ctx, keyShowInfo, func() { c.kv.PutBool(keyShowInfo, v) })
}

func (c *ConfigStore) AllowSearch() bool { return c.getBool(keyAllowSearch, true) }

func (c *ConfigStore) SetAllowSearch(ctx context.Context, v bool) error {
	return c.set(ctx, keyAllowSearch, func() { c.kv.PutBool(keyAllowSearch, v) })
}

func (c *ConfigStore) PlaySound() bool { return c.getBool(keyPlaySound, true) }

func (c *ConfigStore) SetPlaySound(ctx context.Context, v bool) error {
	return c.set(ctx, keyPlaySound, func() { c.kv.PutBool(keyPlaySound, v) })
}

func (c *ConfigStore) AsyncModeEnabled() bool { return c.getBool(keyAsyncMode, false) }

func (c *ConfigStore) SetAsyncModeEnabled(ctx context.Context, v bool) error {
	return c.set(ctx, keyAsyncMode, func() { c.kv.PutBool(keyAsyncMode, v) })
}

func (c *ConfigStore) LastSync() time.Time { return c.getTime(keyLastSync) }

func (c *ConfigStore) SetLastSync(ctx context.Context, t time.Time) error {
	return c.setTime(ctx, keyLastSync, t)
}

func (c *ConfigStore) LastFailedSync() time.Time { return c.getTime(keyLastFailedSync) }

func (c *ConfigStore) SetLastFailedSync(ctx context.Context, t time.Time) error {
	return c.setTime(ctx, keyLastFailedSync, t)
}

func (c *ConfigStore) LastFailedSyncMessage() string { return c.getString(keyLastFailedSyncMessage) }

func (c *ConfigStore) SetLastFailedSyncMessage(ctx context.Context, msg string) error {
	return c.set(ctx, keyLastFailedSyncMessage, func() {
		c.kv.PutBytes(keyLastFailedSyncMessage, []byte(msg))
	})
}

// RecordSyncSuccess sets lastSync and clears both failed-sync fields
// with a single flush. It returns ErrConfigChanged, and writes nothing,
// if the pass ran for an older configuration than the current one.
func (c *ConfigStore) RecordSyncSuccess(ctx context.Context, gen uint64, at time.Time) error {
	return c.setFor(ctx, gen, keyLastSync, func() {
		c.kv.PutLong(keyLastSync, at.UnixMilli())
		c.kv.Remove(keyLastFailedSync)
		c.kv.Remove(keyLastFailedSyncMessage)
	})
}

// RecordSyncFailure sets lastFailedSync and its message with a single
// flush, under the same generation rule as RecordSyncSuccess.
func (c *ConfigStore) RecordSyncFailure(ctx context.Context, gen uint64, at time.Time, msg string) error {
	return c.setFor(ctx, gen, keyLastFailedSync, func() {
		c.kv.PutLong(keyLastFailedSync, at.UnixMilli())
		c.kv.PutBytes(keyLastFailedSyncMessage, []byte(msg))
	})
}

func (c *ConfigStore) LastDownload() time.Time { return c.getTime(keyLastDownload) }

func (c *ConfigStore) SetLastDownload(ctx context.Context, t time.Time) error {
	return c.setTime(ctx, keyLastDownload, t)
}

// SetLastDownloadFor is SetLastDownload for a sync pass of configuration gen.
func (c *ConfigStore) SetLastDownloadFor(ctx context.Context, gen uint64, t time.Time) error {
	return c.setFor(ctx, gen, keyLastDownload, func() { c.kv.PutLong(keyLastDownload, t.UnixMilli()) })
}

func (c *ConfigStore) LastUpdateCheck() time.Time {
	return c.getTime(keyLastUpdateCheck + c.appVersion)
}

func (c *ConfigStore) SetLastUpdateCheck(ctx context.Context, t time.Time) error {
	return c.setTime(ctx, keyLastUpdateCheck+c.appVersion, t)
}

func (c *ConfigStore) UpdateCheckNewerVersion() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.kv.Get(keyUpdateCheckNewer+c.appVersion, "")
}

func (c *ConfigStore) SetUpdateCheckNewerVersion(ctx context.Context, v string) error {
	key := keyUpdateCheckNewer + c.appVersion
	return c.set(ctx, key, func() { c.kv.Put(key, v) })
}

// LastStatusData returns the cached status document, "" if there is none.
func (c *ConfigStore) LastStatusData() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.blobs.Read(blobLastStatusData)
}

// SetLastStatusData replaces the cached status document. An empty value
// still writes the file.
func (c *ConfigStore) SetLastStatusData(value string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.writeStatusLocked(value)
}

// SetLastStatusDataFor is SetLastStatusData for a sync pass of
// configuration gen. The side file is left alone once gen is stale.
func (c *ConfigStore) SetLastStatusDataFor(gen uint64, value string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if gen != c.gen {
		return ErrConfigChanged
	}
	return c.writeStatusLocked(value)
}

func (c *ConfigStore) writeStatusLocked(value string) error {
	if err := c.blobs.Write(blobLastStatusData, value); err != nil {
		return &PersistenceError{Op: "set " + blobLastStatusData, Err: err}
	}
	return nil
}

// SettingsView is a read-only snapshot for the settings screen. The API key
// is never included.
type SettingsView struct {
	Configured       bool      `json:"configured"`
	APIURL           string    `json:"api_url"`
	APIVersion       int       `json:"api_version"`
	ShowInfo         bool      `json:"show_info"`
	AllowSearch      bool      `json:"allow_search"`
	PlaySound        bool      `json:"play_sound"`
	AsyncModeEnabled bool      `json:"async_mode"`
	LastSync         time.Time `json:"last_sync"`
	LastFailedSync   time.Time `json:"last_failed_sync"`
	LastFailedMsg    string    `json:"last_failed_sync_msg"`
	LastDownload     time.Time `json:"last_download"`
}

func (c *ConfigStore) Snapshot() SettingsView {
	return SettingsView{
		Configured:       c.IsConfigured(),
		APIURL:           c.APIURL(),
		APIVersion:       c.APIVersion(),
		ShowInfo:         c.ShowInfo(),
		AllowSearch:      c.AllowSearch(),
		PlaySound:        c.PlaySound(),
		AsyncModeEnabled: c.AsyncModeEnabled(),
		LastSync:         c.LastSync(),
		LastFailedSync:   c.LastFailedSync(),
		LastFailedMsg:    c.LastFailedSyncMessage(),
		LastDownload:     c.LastDownload(),
	}
}
