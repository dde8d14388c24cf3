// Package backend talks to the ticketing server: online checks, the
// periodic sync pass and connectivity tracking.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"ticket_desk/internal/clock"
	"ticket_desk/internal/logger"
	"ticket_desk/internal/models"
	"ticket_desk/internal/repository"

	"github.com/google/uuid"
)

// SupportedAPIVersion is the protocol version used when none was
// negotiated for the event.
const SupportedAPIVersion = 4

const (
	uploadBatchSize = 50
	maxBodyBytes    = 32 << 20
)

var errNotConfigured = errors.New("terminal is not configured")

// ErrEventChanged is returned for writes of a sync pass that started
// before the event configuration was replaced or reset.
var ErrEventChanged = errors.New("event configuration changed during sync")

// Credentials address the backend of one event.
type Credentials struct {
	APIURL     string
	APIKey     string
	APIVersion int
}

// Settings is the part of the terminal configuration the client reads
// and updates. Every generation identifies one event configuration; the
// *For writes fail with ErrEventChanged once it is gone.
type Settings interface {
	// Credentials returns the current credentials and their generation.
	Credentials() (Credentials, uint64)
	SetLastDownloadFor(ctx context.Context, gen uint64, t time.Time) error
	SetLastStatusDataFor(gen uint64, value string) error
	// WithinGeneration runs fn while gen is current and holds off
	// configuration changes until fn returns.
	WithinGeneration(gen uint64, fn func() error) error
}

type Client struct {
	http     *http.Client
	settings Settings
	tickets  repository.TicketRepo
	clock    clock.Clock
	log      *logger.Logger

	online atomic.Bool
}

func NewClient(httpClient *http.Client, settings Settings, tickets repository.TicketRepo, clk clock.Clock, log *logger.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Client{
		http:     httpClient,
		settings: settings,
		tickets:  tickets,
		clock:    clk,
		log:      logger.OrNop(log).Named("backend"),
	}
}

// Online reports whether the last request reached the server.
func (c *Client) Online() bool { return c.online.Load() }

type ticketData struct {
	Secret           string `json:"secret"`
	Order            string `json:"order"`
	Item             string `json:"item"`
	Variation        string `json:"variation"`
	AttendeeName     string `json:"attendee_name"`
	Paid             bool   `json:"paid"`
	Redeemed         bool   `json:"redeemed"`
	CheckinAttention bool   `json:"checkin_attention"`
}

type redeemResponse struct {
	Status string     `json:"status"`
	Reason string     `json:"reason"`
	Data   ticketData `json:"data"`
}

type downloadResponse struct {
	Results []ticketData `json:"results"`
}

// Check redeems code online.
func (c *Client) Check(ctx context.Context, code string) (models.CheckResult, error) {
	form := url.Values{}
	form.Set("secret", code)
	form.Set("nonce", uuid.NewString())

	creds, _ := c.settings.Credentials()
	var resp redeemResponse
	if err := c.do(ctx, creds, http.MethodPost, "redeem/", form, &resp); err != nil {
		return models.CheckResult{}, err
	}
	return resp.result(), nil
}

func (r redeemResponse) result() models.CheckResult {
	res := models.CheckResult{
		Ticket:           r.Data.Item,
		Variation:        r.Data.Variation,
		AttendeeName:     r.Data.AttendeeName,
		OrderCode:        r.Data.Order,
		RequireAttention: r.Data.CheckinAttention,
	}
	switch r.Status {
	case "ok":
		res.Type = models.ResultValid
		return res
	case "error":
	default:
		res.Type = models.ResultError
		res.Message = "unexpected status " + strconv.Quote(r.Status)
		return res
	}

	switch r.Reason {
	case "already_redeemed":
		res.Type = models.ResultUsed
	case "unknown_ticket":
		res.Type = models.ResultInvalid
	case "unpaid":
		res.Type = models.ResultUnpaid
	case "product":
		res.Type = models.ResultProduct
	default:
		res.Type = models.ResultError
		res.Message = r.Reason
	}
	return res
}

// syncPass is one RunSyncPass call, bound to the configuration
// generation it started with.
type syncPass struct {
	creds Credentials
	gen   uint64
}

// RunSyncPass uploads queued offline check-ins, refreshes the ticket
// cache and stores the latest status document for configuration gen.
// Nothing is written once gen is no longer current.
func (c *Client) RunSyncPass(ctx context.Context, gen uint64) error {
	creds, cur := c.settings.Credentials()
	if cur != gen {
		return ErrEventChanged
	}
	p := syncPass{creds: creds, gen: gen}

	if err := c.uploadCheckins(ctx, p); err != nil {
		return fmt.Errorf("upload checkins: %w", err)
	}
	if err := c.downloadTickets(ctx, p); err != nil {
		return fmt.Errorf("download tickets: %w", err)
	}
	if err := c.fetchStatus(ctx, p); err != nil {
		return fmt.Errorf("fetch status: %w", err)
	}
	return nil
}

func (c *Client) current(p syncPass) error {
	if _, cur := c.settings.Credentials(); cur != p.gen {
		return ErrEventChanged
	}
	return nil
}

func (c *Client) uploadCheckins(ctx context.Context, p syncPass) error {
	for {
		// queued check-ins of a newer event must not go out with old credentials
		if err := c.current(p); err != nil {
			return err
		}
		pending, err := c.tickets.PendingCheckins(ctx, uploadBatchSize)
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			return nil
		}

		for _, ci := range pending {
			form := url.Values{}
			form.Set("secret", ci.Secret)
			form.Set("nonce", ci.Nonce)
			form.Set("datetime", ci.DateTime.UTC().Format(time.RFC3339))

			var resp redeemResponse
			if err := c.do(ctx, p.creds, http.MethodPost, "redeem/", form, &resp); err != nil {
				return err
			}
			// A ticket redeemed elsewhere in the meantime is still done.
			if resp.Status != "ok" && resp.Reason != "already_redeemed" {
				c.log.Infow("checkin_rejected", "nonce", ci.Nonce, "reason", resp.Reason)
			}
			if err := c.tickets.MarkUploaded(ctx, ci.Nonce, c.clock.Now()); err != nil {
				return err
			}
		}

		if len(pending) < uploadBatchSize {
			return nil
		}
	}
}

func (c *Client) downloadTickets(ctx context.Context, p syncPass) error {
	var resp downloadResponse
	if err := c.do(ctx, p.creds, http.MethodGet, "download/", nil, &resp); err != nil {
		return err
	}

	tickets := make([]models.Ticket, 0, len(resp.Results))
	for _, t := range resp.Results {
		tickets = append(tickets, models.Ticket{
			Secret:           t.Secret,
			OrderCode:        t.Order,
			AttendeeName:     t.AttendeeName,
			Item:             t.Item,
			Variation:        t.Variation,
			Paid:             t.Paid,
			Redeemed:         t.Redeemed,
			RequireAttention: t.CheckinAttention,
		})
	}
	err := c.settings.WithinGeneration(p.gen, func() error {
		return c.tickets.ReplaceAll(ctx, tickets)
	})
	if err != nil {
		return err
	}
	c.log.Debugw("tickets_downloaded", "count", len(tickets))
	return c.settings.SetLastDownloadFor(ctx, p.gen, c.clock.Now())
}

func (c *Client) fetchStatus(ctx context.Context, p syncPass) error {
	var raw json.RawMessage
	if err := c.do(ctx, p.creds, http.MethodGet, "status/", nil, &raw); err != nil {
		return err
	}
	return c.settings.SetLastStatusDataFor(p.gen, string(raw))
}

// do sends one request to <apiUrl>/<path> and decodes the JSON reply
// into out. GET requests carry form as the query string.
func (c *Client) do(ctx context.Context, creds Credentials, method, path string, form url.Values, out any) error {
	base := strings.TrimSpace(creds.APIURL)
	if base == "" {
		return errNotConfigured
	}
	endpoint := strings.TrimRight(base, "/") + "/" + path

	var body io.Reader
	if method == http.MethodGet {
		if len(form) > 0 {
			endpoint += "?" + form.Encode()
		}
	} else if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+creds.APIKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Api-Version", strconv.Itoa(creds.APIVersion))
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.setOnline(false)
		return err
	}
	defer resp.Body.Close()
	c.setOnline(true)

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: server returned %d", method, path, resp.StatusCode)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) setOnline(v bool) {
	if c.online.Swap(v) != v {
		c.log.Infow("connectivity_changed", "online", v)
	}
}
