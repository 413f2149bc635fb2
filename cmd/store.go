package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/screenpop/internal/config"
	"github.com/sells-group/screenpop/internal/store"
	"github.com/sells-group/screenpop/pkg/connectwise"
)

// openStore opens the configured backend and applies the schema.
func openStore(ctx context.Context, c config.StoreConfig) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch c.Driver {
	case "sqlite", "":
		path := c.DatabaseURL
		if path == "" {
			path = "data/phone_cache.db"
		}
		st, err = store.NewSQLite(path)
	case "postgres":
		st, err = store.NewPostgres(ctx, c.DatabaseURL, &store.PoolConfig{
			MaxConns: c.MaxConns,
			MinConns: c.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", c.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}

func initStore(ctx context.Context) (store.Store, error) {
	return openStore(ctx, cfg.Store)
}

// newConnectWise builds the upstream client from validated config.
func newConnectWise(c config.ConnectWiseConfig) connectwise.Client {
	opts := []connectwise.Option{
		connectwise.WithRateLimit(c.RateLimit),
		connectwise.WithBreaker(c.BreakerThreshold, time.Duration(c.BreakerResetSecs)*time.Second),
	}
	if c.TimeoutSecs > 0 {
		opts = append(opts, connectwise.WithTimeout(time.Duration(c.TimeoutSecs)*time.Second))
	}
	if c.SyncTimeoutSecs > 0 {
		opts = append(opts, connectwise.WithSyncTimeout(time.Duration(c.SyncTimeoutSecs)*time.Second))
	}
	return connectwise.NewClient(connectwise.Credentials{
		BaseURL:    c.BaseURL,
		CompanyID:  c.CompanyID,
		PublicKey:  c.PublicKey,
		PrivateKey: c.PrivateKey,
		ClientID:   c.ClientID,
	}, opts...)
}
