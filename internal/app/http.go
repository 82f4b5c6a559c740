package app

import (
	"net"

	"eventbatcher/pkg/api"
	"eventbatcher/pkg/banner"
	"eventbatcher/pkg/httpx"
	"eventbatcher/pkg/queue"
)

// printBanner prints the startup banner and build info.
func (a *App) printBanner(addr string) {
	verStr := a.version
	if a.commit != "" && a.commit != "none" {
		verStr += " (" + a.commit + ")"
	}
	if a.buildDate != "" && a.buildDate != "unknown" {
		verStr += " @ " + a.buildDate
	}
	banner.Print(a.eff, addr, verStr)
}

func (a *App) routerOptions() api.Options {
	opts := api.Options{
		WaitFrequency: a.cfg.Client.WaitFrequency.Duration(),
		ResultTimeout: a.cfg.Server.ResultTimeout.Duration(),
		RateRPS:       a.cfg.Security.RateLimit.RPS,
		RateBurst:     a.cfg.Security.RateLimit.Burst,
		Ready:         a.ready,
		Backlog:       a.q.Len,
		Store:         a.store,
	}
	if a.servesEvents() {
		var p queue.Producer = a.q
		if a.mgr != nil {
			p = a.mgr.Producer()
		}
		opts.Producer = p
	}
	return opts
}

// ready reports whether the queue and store accept work.
func (a *App) ready() bool {
	if a.mgr != nil && a.mgr.Err() != nil {
		return false
	}
	if a.store != nil && !a.store.Ready() {
		return false
	}
	return true
}

// startHTTP builds the handler and binds the listener. Serving starts in Run.
func (a *App) startHTTP() (httpx.Server, net.Listener, error) {
	srv, err := httpx.New(a.cfg.Server.Engine, api.NewRouter(a.routerOptions()), httpx.Options{
		CertFile: a.cfg.Server.TLS.CertFile,
		KeyFile:  a.cfg.Server.TLS.KeyFile,
	})
	if err != nil {
		return nil, nil, err
	}
	ln := a.Listener
	if ln == nil {
		ln, err = net.Listen("tcp", a.cfg.Addr())
		if err != nil {
			return nil, nil, err
		}
	}
	return srv, ln, nil
}
