package main

import (
	"log/slog"

	"github.com/fieldsync/anchor/internal/config"
	"github.com/fieldsync/anchor/internal/locate"
	"github.com/fieldsync/anchor/pkg/core"
)

// buildAcquirer wires the configured position source into the two-tier
// acquisition policy.
func buildAcquirer(cfg config.LocateConfig, logger *slog.Logger) (*locate.Acquirer, error) {
	var src locate.Source
	switch cfg.Source {
	case "http":
		src = locate.NewHTTPSource(cfg.HTTP.URL, cfg.HTTP.APIKey)
	case "fixed":
		fixed := locate.FixedSource{}
		if cfg.Fixed.Set {
			c := core.Coordinate{Latitude: cfg.Fixed.Latitude, Longitude: cfg.Fixed.Longitude}
			if cfg.Fixed.Accuracy > 0 {
				c.Accuracy = core.Float64(cfg.Fixed.Accuracy)
			}
			fixed.Coordinate = &c
		}
		src = fixed
	}

	return locate.New(locate.Dependencies{
		Source: src,
		Policy: []locate.Tier{
			{Name: "high", HighAccuracy: true, Timeout: cfg.High.Timeout, MaxCacheAge: cfg.High.MaxCacheAge},
			{Name: "relaxed", HighAccuracy: false, Timeout: cfg.Relaxed.Timeout, MaxCacheAge: cfg.Relaxed.MaxCacheAge},
		},
		Logger: logger,
	})
}
