// Package api serves the versioned HTTP surface: CRUD routes per
// object kind, process intent actions, event history and streaming,
// metrics ingestion, and host info endpoints.
package api

import (
	"net/http"

	"github.com/cuemby/fleetd/internal/ferr"
	"github.com/cuemby/fleetd/internal/lifecycle/cargo"
	"github.com/cuemby/fleetd/internal/lifecycle/job"
	"github.com/cuemby/fleetd/internal/lifecycle/namespace"
	"github.com/cuemby/fleetd/internal/lifecycle/resource"
	"github.com/cuemby/fleetd/internal/lifecycle/resourcekind"
	"github.com/cuemby/fleetd/internal/lifecycle/secret"
	"github.com/cuemby/fleetd/internal/lifecycle/vm"
	"github.com/cuemby/fleetd/internal/metrics"
	"github.com/cuemby/fleetd/internal/node"
	"github.com/cuemby/fleetd/internal/reconciler"
	"github.com/cuemby/fleetd/internal/store"
	"github.com/cuemby/fleetd/internal/subscription"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// VersionInfo backs GET /version.
type VersionInfo struct {
	Arch     string
	Channel  string
	Version  string
	CommitID string
}

// Dependencies bundles every service an API handler dispatches to.
type Dependencies struct {
	Cargoes       *cargo.Service
	Vms           *vm.Service
	Jobs          *job.Service
	Secrets       *secret.Service
	Namespaces    *namespace.Service
	ResourceKinds *resourcekind.Service
	Resources     *resource.Service
	Nodes         *node.Service
	Metrics       *metrics.Service
	Subscriptions *subscription.Service
	Reconciler    *reconciler.Reconciler
	Store         store.Store
	Version       VersionInfo
}

// New builds the echo server with every route registered under a
// versioned group.
func New(deps Dependencies) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger())
	e.HTTPErrorHandler = errorHandler

	g := e.Group("/:version", versionMiddleware)
	registerRoutes(g, deps)

	return e
}

type errMsg struct {
	Msg string `json:"msg"`
}

// errorHandler maps the ferr taxonomy to HTTP status, matching
// every error response is JSON {msg}.
func errorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	switch ferr.GetCode(err) {
	case ferr.CodeNotFound:
		code = http.StatusNotFound
	case ferr.CodeConflict:
		code = http.StatusConflict
	case ferr.CodeInvalid:
		code = http.StatusBadRequest
	case ferr.CodeUnauthorized:
		code = http.StatusUnauthorized
	case ferr.CodeForbidden:
		code = http.StatusForbidden
	case ferr.CodeTimeout:
		code = http.StatusGatewayTimeout
	case ferr.CodeCancelled:
		code = http.StatusBadRequest
	case ferr.CodeBackend:
		code = http.StatusInternalServerError
	default:
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if msg, ok := he.Message.(string); ok {
				err = errMsgErr(msg)
			}
		}
	}
	if !c.Response().Committed {
		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(code)
			return
		}
		_ = c.JSON(code, errMsg{Msg: err.Error()})
	}
}

type errMsgErr string

func (e errMsgErr) Error() string { return string(e) }

// versionMiddleware rejects requests whose :version path segment is
// outside the supported range with 404.
func versionMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !supportedVersion(c.Param("version")) {
			return echo.NewHTTPError(http.StatusNotFound, "unsupported API version "+c.Param("version"))
		}
		return next(c)
	}
}

// supportedVersions is the set of API version path segments this
// daemon answers to. Only v0 exists today; a v1 can be added here
// without touching the routing underneath.
var supportedVersions = map[string]bool{"v0": true}

func supportedVersion(v string) bool {
	return supportedVersions[v]
}
