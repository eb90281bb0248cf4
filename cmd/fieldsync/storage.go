package main

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/fieldsync/anchor/internal/config"
	"github.com/fieldsync/anchor/internal/database"
	"github.com/fieldsync/anchor/internal/storage"
	"github.com/fieldsync/anchor/internal/storage/memory"
	pgstorage "github.com/fieldsync/anchor/internal/storage/postgres"
	sqlitestorage "github.com/fieldsync/anchor/internal/storage/sqlite"
	wsstorage "github.com/fieldsync/anchor/internal/storage/websocket"
)

// createStorageBackend builds the configured anchor store. The caller runs
// Init.
func (a *app) createStorageBackend(cfg config.StorageConfig) (storage.Gateway, error) {
	switch cfg.Type {
	case "postgres":
		a.db = database.NewManager(a.zlog)
		if err := a.db.ConnectPostgres(); err != nil {
			a.db = nil
			return nil, err
		}
		return pgstorage.New(pgstorage.Dependencies{DB: a.db.DB, LogManager: a.logs}), nil
	case "sqlite":
		backend, err := sqlitestorage.New(sqlitestorage.Config{
			Path:         cfg.SQLite.Path,
			DumpInterval: cfg.SQLite.DumpInterval,
			DumpPath:     cfg.SQLite.DumpPath,
		}, a.logs)
		if err != nil {
			return nil, err
		}
		return backend, nil
	case "websocket":
		wsURL, err := httpToWS(cfg.WebSocket.URL)
		if err != nil {
			return nil, err
		}
		return wsstorage.New(wsstorage.Config{
			URL:     wsURL,
			Secret:  cfg.WebSocket.Secret,
			Timeout: cfg.WebSocket.Timeout,
		}, a.logger), nil
	case "memory", "":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}

// httpToWS accepts an http(s) or ws(s) URL and returns the ws(s) form with
// the /ws path the serve command listens on.
func httpToWS(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid websocket url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid websocket url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid websocket url %q: missing host", raw)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	u.Path = "/" + strings.TrimLeft(u.Path, "/")
	return u.String(), nil
}
