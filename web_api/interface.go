package web_api

import (
	"context"
	"net/http"
)

type Server interface {
	Handler() http.Handler
	Start(addr string) error
	Shutdown(ctx context.Context) error
}
