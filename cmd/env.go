package cmd

import (
	"context"
	"errors"

	"github.com/shiroyk/courier/cookie/bolt"
	"github.com/shiroyk/courier/fetch"
	"github.com/shiroyk/courier/lib/config"
)

// ErrNoStore is returned by cookie commands when persistence is disabled.
var ErrNoStore = errors.New("cookie persistence is disabled, set cookie.path in the configuration")

// env is the state shared by one command run: the session and its cookie store.
type env struct {
	cfg     config.Config
	session *fetch.Session
	store   *bolt.Store
}

// openEnv builds the session from the configuration in ctx and loads the
// configured jar into it.
func openEnv(ctx context.Context) (*env, error) {
	cfg := config.FromContext(ctx)
	session, err := cfg.NewSession(nil)
	if err != nil {
		return nil, err
	}
	store, err := cfg.OpenStore()
	if err != nil {
		return nil, err
	}
	e := &env{cfg: cfg, session: session, store: store}
	if store == nil {
		return e, nil
	}
	if err = session.Jar().Load(store, cfg.JarName()); err != nil {
		_ = store.Close()
		return nil, err
	}
	return e, nil
}

// Close saves the jar back to the store and closes it.
func (e *env) Close() error {
	if e.store == nil {
		return nil
	}
	err := e.session.Jar().Save(e.store, e.cfg.JarName())
	return errors.Join(err, e.store.Close())
}
