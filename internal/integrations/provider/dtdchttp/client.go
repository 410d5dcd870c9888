package dtdchttp

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/parcelops/trackdesk/internal/apperr"
	"github.com/parcelops/trackdesk/internal/integrations/provider"
	"github.com/pkg/errors"
)

const (
	defaultBaseURL = "https://blktracksvc.dtdc.com/dtdc-api/rest/JSONCnTrk/getTrackDetails"
	defaultTimeout = 10 * time.Second

	// Read limit for provider bodies kept for diagnostics.
	maxBodyBytes = 1 << 20
)

type Client struct {
	trackURL string
	tokens   *TokenSource
	httpc    *http.Client
}

func New(trackURL string, tokens *TokenSource, timeout time.Duration) *Client {
	if trackURL == "" {
		trackURL = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		trackURL: trackURL,
		tokens:   tokens,
		httpc: &http.Client{
			Timeout: timeout,
		},
	}
}

type trackRequest struct {
	TrkType        string `json:"trkType"`
	Strcnno        string `json:"strcnno"`
	AdditionalDtl  string `json:"addtnlDtl"`
}

func (c *Client) GetTracking(ctx context.Context, awb string) (provider.RawTrackResponse, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return provider.RawTrackResponse{}, err
	}

	body, err := json.Marshal(trackRequest{TrkType: "cnno", Strcnno: awb, AdditionalDtl: "Y"})
	if err != nil {
		return provider.RawTrackResponse{}, errors.Wrap(err, "marshal track request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.trackURL, bytes.NewReader(body))
	if err != nil {
		return provider.RawTrackResponse{}, errors.Wrap(err, "new request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Access-Token", token)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return provider.RawTrackResponse{}, errors.Wrapf(apperr.ErrTransport, "do request: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return provider.RawTrackResponse{}, errors.Wrapf(apperr.ErrTransport, "read body: %v", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		// Token may have expired upstream: drop it so the next call re-authenticates.
		c.tokens.Invalidate(ctx)
		return provider.RawTrackResponse{}, errors.Wrapf(apperr.ErrTransport, "dtdc http %d", resp.StatusCode)
	}
	if resp.StatusCode/100 != 2 {
		return provider.RawTrackResponse{}, errors.Wrapf(apperr.ErrTransport, "dtdc http %d", resp.StatusCode)
	}

	var r provider.RawTrackResponse
	if err := json.Unmarshal(raw, &r); err != nil {
		return provider.RawTrackResponse{Raw: raw}, errors.Wrapf(apperr.ErrParse, "decode: %v", err)
	}
	r.Raw = raw
	return r, nil
}
