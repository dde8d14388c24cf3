package backend

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"ticket_desk/internal/clock"
	"ticket_desk/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSettings struct {
	mu           sync.Mutex
	url, key     string
	gen          uint64
	lastDownload time.Time
	status       string
}

func (f *fakeSettings) Credentials() (Credentials, uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Credentials{APIURL: f.url, APIKey: f.key, APIVersion: SupportedAPIVersion}, f.gen
}

// replace switches to another event the way the settings screen does.
func (f *fakeSettings) replace(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.url, f.gen = url, f.gen+1
	f.lastDownload, f.status = time.Time{}, ""
}

func (f *fakeSettings) current(gen uint64) error {
	if gen != f.gen {
		return ErrEventChanged
	}
	return nil
}

func (f *fakeSettings) SetLastDownloadFor(_ context.Context, gen uint64, t time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.current(gen); err != nil {
		return err
	}
	f.lastDownload = t
	return nil
}

func (f *fakeSettings) SetLastStatusDataFor(gen uint64, v string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.current(gen); err != nil {
		return err
	}
	f.status = v
	return nil
}

func (f *fakeSettings) WithinGeneration(gen uint64, fn func() error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.current(gen); err != nil {
		return err
	}
	return fn()
}

type fakeTickets struct {
	mu       sync.Mutex
	pending  []models.QueuedCheckin
	uploaded []string
	replaced []models.Ticket
}

func (f *fakeTickets) ReplaceAll(_ context.Context, t []models.Ticket) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replaced = t
	return nil
}
func (f *fakeTickets) GetBySecret(context.Context, string) (*models.Ticket, error) { return nil, nil }
func (f *fakeTickets) Redeem(context.Context, models.QueuedCheckin) error        { return nil }
func (f *fakeTickets) PendingCheckins(_ context.Context, limit int) ([]models.QueuedCheckin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.QueuedCheckin
	for _, c := range f.pending {
		if c.UploadedAt.IsZero() {
			out = append(out, c)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}
func (f *fakeTickets) MarkUploaded(_ context.Context, nonce string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.pending {
		if f.pending[i].Nonce == nonce {
			f.pending[i].UploadedAt = at
		}
	}
	f.uploaded = append(f.uploaded, nonce)
	return nil
}
func (f *fakeTickets) Count(context.Context) (int, error) { return len(f.replaced), nil }
func (f *fakeTickets) Clear(context.Context) error        { return nil }

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestClient(t *testing.T, h http.Handler) (*Client, *fakeSettings, *fakeTickets) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	settings := &fakeSettings{url: srv.URL + "/api/event/", key: "abc"}
	tickets := &fakeTickets{}
	return NewClient(srv.Client(), settings, tickets, clock.Fake(t0), nil), settings, tickets
}

func TestClient_Check_MapsResponses(t *testing.T) {
	cases := []struct {
		body string
		want models.ResultType
		msg  string
	}{
		{`{"status":"ok","data":{"item":"Day pass","attendee_name":"Jane Doe","order":"ABC12"}}`, models.ResultValid, ""},
		{`{"status":"error","reason":"already_redeemed"}`, models.ResultUsed, ""},
		{`{"status":"error","reason":"unknown_ticket"}`, models.ResultInvalid, ""},
		{`{"status":"error","reason":"unpaid"}`, models.ResultUnpaid, ""},
		{`{"status":"error","reason":"product"}`, models.ResultProduct, ""},
		{`{"status":"error","reason":"something new"}`, models.ResultError, "something new"},
	}

	for _, tc := range cases {
		t.Run(string(tc.want)+tc.msg, func(t *testing.T) {
			var gotAuth, gotSecret string
			client, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotAuth = r.Header.Get("Authorization")
				_ = r.ParseForm()
				gotSecret = r.PostForm.Get("secret")
				assert.Equal(t, "/api/event/redeem/", r.URL.Path)
				_, _ = w.Write([]byte(tc.body))
			}))

			res, err := client.Check(context.Background(), "TICKET-1")
			require.NoError(t, err)
			assert.Equal(t, tc.want, res.Type)
			assert.Equal(t, tc.msg, res.Message)
			assert.Equal(t, "Token abc", gotAuth)
			assert.Equal(t, "TICKET-1", gotSecret)
			assert.True(t, client.Online())
		})
	}
}

func TestClient_Check_ValidCarriesDisplayFields(t *testing.T) {
	client, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok","data":{"item":"Day pass","variation":"Student","attendee_name":"Jane Doe","order":"ABC12","checkin_attention":true}}`))
	}))

	res, err := client.Check(context.Background(), "TICKET-1")
	require.NoError(t, err)
	assert.Equal(t, models.CheckResult{
		Type:             models.ResultValid,
		Ticket:           "Day pass",
		Variation:        "Student",
		AttendeeName:     "Jane Doe",
		OrderCode:        "ABC12",
		RequireAttention: true,
	}, res)
}

func TestClient_Check_ServerErrorIsError(t *testing.T) {
	client, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	_, err := client.Check(context.Background(), "TICKET-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestClient_TransportErrorMarksOffline(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := NewClient(nil, &fakeSettings{url: url}, &fakeTickets{}, clock.Fake(t0), nil)
	client.online.Store(true)

	_, err := client.Check(context.Background(), "x")
	require.Error(t, err)
	assert.False(t, client.Online())
}

func TestClient_NotConfigured(t *testing.T) {
	client := NewClient(nil, &fakeSettings{}, &fakeTickets{}, clock.Fake(t0), nil)

	err := client.RunSyncPass(context.Background(), 0)
	require.ErrorIs(t, err, errNotConfigured)
}

func TestClient_RunSyncPass(t *testing.T) {
	var uploadedNonces []string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/event/redeem/", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		uploadedNonces = append(uploadedNonces, r.PostForm.Get("nonce"))
		assert.NotEmpty(t, r.PostForm.Get("datetime"))
		if r.PostForm.Get("secret") == "s2" {
			_, _ = w.Write([]byte(`{"status":"error","reason":"already_redeemed"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("/api/event/download/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[{"secret":"s1","order":"ABC12","item":"Day pass","paid":true},{"secret":"s3","order":"ABC14","item":"Day pass","paid":false}]}`))
	})
	mux.HandleFunc("/api/event/status/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"checkins":12,"total":40}`))
	})

	client, settings, tickets := newTestClient(t, mux)
	tickets.pending = []models.QueuedCheckin{
		{Nonce: "n1", Secret: "s1", DateTime: t0.Add(-time.Hour)},
		{Nonce: "n2", Secret: "s2", DateTime: t0.Add(-time.Minute)},
	}

	require.NoError(t, client.RunSyncPass(context.Background(), 0))

	assert.Equal(t, []string{"n1", "n2"}, uploadedNonces)
	assert.Equal(t, []string{"n1", "n2"}, tickets.uploaded)
	require.Len(t, tickets.replaced, 2)
	assert.Equal(t, "ABC14", tickets.replaced[1].OrderCode)
	assert.False(t, tickets.replaced[1].Paid)
	assert.Equal(t, t0, settings.lastDownload)
	assert.JSONEq(t, `{"checkins":12,"total":40}`, settings.status)
}

func TestClient_RunSyncPass_StopsOnDownloadFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/event/download/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	client, settings, _ := newTestClient(t, mux)

	err := client.RunSyncPass(context.Background(), 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "download tickets")
	assert.True(t, settings.lastDownload.IsZero())
	assert.Empty(t, settings.status)
}

func TestClient_RunSyncPass_StaleGeneration(t *testing.T) {
	client, _, _ := newTestClient(t, http.NotFoundHandler())

	err := client.RunSyncPass(context.Background(), 7)
	require.ErrorIs(t, err, ErrEventChanged)
}

func TestClient_RunSyncPass_EventChangedMidPass(t *testing.T) {
	var settings *fakeSettings
	var statusCalls int

	mux := http.NewServeMux()
	mux.HandleFunc("/api/event/download/", func(w http.ResponseWriter, r *http.Request) {
		// the operator switches events while the download is in flight
		settings.replace("https://other.example/api/")
		_, _ = w.Write([]byte(`{"results":[{"secret":"old-event","paid":true}]}`))
	})
	mux.HandleFunc("/api/event/status/", func(w http.ResponseWriter, r *http.Request) {
		statusCalls++
		_, _ = w.Write([]byte(`{"checkins":1}`))
	})
	client, settings, tickets := newTestClient(t, mux)

	err := client.RunSyncPass(context.Background(), 0)
	require.ErrorIs(t, err, ErrEventChanged)
	assert.Nil(t, tickets.replaced, "old event's tickets must not replace the cache")
	assert.True(t, settings.lastDownload.IsZero())
	assert.Empty(t, settings.status)
	assert.Zero(t, statusCalls)
}
