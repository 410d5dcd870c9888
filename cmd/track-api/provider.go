package main

import (
	"time"

	"github.com/parcelops/trackdesk/config"
	"github.com/parcelops/trackdesk/internal/cache"
	"github.com/parcelops/trackdesk/internal/integrations/provider"
	"github.com/parcelops/trackdesk/internal/integrations/provider/dtdchttp"
	"github.com/parcelops/trackdesk/internal/integrations/provider/fake"
)

// newProvider picks the tracking backend: the real DTDC API or the
// deterministic local emulator for development.
func newProvider(cfg *config.Config, c cache.BytesCache) provider.Client {
	if cfg.TrackDesk.ProviderMode == "fake" {
		return fake.New()
	}

	timeout := time.Duration(cfg.TrackDesk.ProviderRequestTimeoutSeconds) * time.Second

	var tokens *dtdchttp.TokenSource
	if cfg.TrackDesk.ProviderStaticToken != "" {
		tokens = dtdchttp.NewStaticTokenSource(cfg.TrackDesk.ProviderStaticToken)
	} else {
		tokens = dtdchttp.NewTokenSource(
			cfg.TrackDesk.ProviderAuthURL,
			cfg.TrackDesk.ProviderUsername,
			cfg.TrackDesk.ProviderPassword,
			c,
			time.Duration(cfg.TrackDesk.ProviderTokenTTLSeconds)*time.Second,
			timeout,
		)
	}

	return dtdchttp.New(cfg.TrackDesk.ProviderTrackURL, tokens, timeout)
}
