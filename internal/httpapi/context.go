package httpapi

import (
	"context"
	"net/http"
)

// serverBaseCtx ends when the server shuts down. Defaults to Background.
var serverBaseCtx = context.Background()

// SetBaseContext sets the context whose cancellation aborts running
// reconstructions. Nil resets it to Background.
func SetBaseContext(ctx context.Context) {
	if ctx == nil {
		serverBaseCtx = context.Background()
		return
	}
	serverBaseCtx = ctx
}

// runContext derives the context of one reconstruction from the request. It
// ends when the client disconnects, when the base context ends or after
// runTimeout. Request-scoped values such as the request id are kept.
func runContext(r *http.Request) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(r.Context())
	stop := context.AfterFunc(serverBaseCtx, cancel)
	if runTimeout <= 0 {
		return ctx, func() { stop(); cancel() }
	}
	tctx, tcancel := context.WithTimeout(ctx, runTimeout)
	return tctx, func() { tcancel(); stop(); cancel() }
}

// abandoned reports whether nobody is left to read a response: the client
// went away or the server is shutting down.
func abandoned(r *http.Request) bool {
	return r.Context().Err() != nil || serverBaseCtx.Err() != nil
}
