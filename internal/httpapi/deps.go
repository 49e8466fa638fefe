package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/montabano1/RyanScraper/internal/config"
	"github.com/montabano1/RyanScraper/internal/events"
	"github.com/montabano1/RyanScraper/internal/poll"
	"github.com/montabano1/RyanScraper/internal/reconcile"
	"github.com/montabano1/RyanScraper/internal/store"
)

// Runner is the part of poll.Runner the API drives.
type Runner interface {
	Sources() []poll.Source
	IsRunning(name string) (since time.Time, ok bool)
	RunSource(ctx context.Context, name string) (reconcile.Result, error)
}

// Schedule reports when a source runs next.
type Schedule interface {
	Next(name string) (time.Time, bool)
}

type Deps struct {
	Store    store.Reader
	Runner   Runner
	Schedule Schedule // optional
	Hub      *events.Hub
	Metrics  http.Handler // optional
	Log      *slog.Logger

	// BaseCtx bounds runs triggered over HTTP; they outlive the request.
	BaseCtx context.Context

	// Config persistence
	CfgVal      *atomic.Value // stores config.Config
	UserCfgPath string
	LoadCfg     func() (config.Config, error)
}

func (d Deps) withDefaults() Deps {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if d.BaseCtx == nil {
		d.BaseCtx = context.Background()
	}
	return d
}
