package api

import (
	"net/http"
	"strconv"

	"github.com/cuemby/fleetd/internal/ferr"
	"github.com/cuemby/fleetd/internal/lifecycle"
	"github.com/cuemby/fleetd/internal/lifecycle/namespace"
	"github.com/cuemby/fleetd/internal/store"
	"github.com/cuemby/fleetd/internal/types"
	"github.com/labstack/echo/v4"
)

// namespacedKey builds the "name.namespace" key that Cargo and Vm are
// stored under, the same way their lifecycle services build it on
// Create: an unset ?namespace= query param resolves to the default.
func namespacedKey(c echo.Context) string {
	return lifecycle.Key(c.Param("name"), namespace.Resolve(c.QueryParam("namespace")))
}

// registerRoutes wires the full route table onto g,
// the versioned /:version group.
func registerRoutes(g *echo.Group, deps Dependencies) {
	g.HEAD("/_ping", func(c echo.Context) error { return c.NoContent(http.StatusAccepted) })
	g.GET("/version", func(c echo.Context) error { return c.JSON(http.StatusOK, deps.Version) })
	g.GET("/info", handleInfo(deps))

	registerCargoRoutes(g, deps)
	registerVmRoutes(g, deps)
	registerJobRoutes(g, deps)
	registerSecretRoutes(g, deps)
	registerNamespaceRoutes(g, deps)
	registerResourceKindRoutes(g, deps)
	registerResourceRoutes(g, deps)
	registerProcessRoutes(g, deps)
	registerEventRoutes(g, deps)
	registerMetricsRoutes(g, deps)
	registerNodeRoutes(g, deps)
}

func bindJSON(c echo.Context) (map[string]any, error) {
	var data map[string]any
	if err := c.Bind(&data); err != nil {
		return nil, ferr.Invalid("malformed request body: %v", err)
	}
	return data, nil
}

func filterFromQuery(c echo.Context) *store.Filter {
	f := store.New()
	if limit := c.QueryParam("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil {
			offset := 0
			if o, err := strconv.Atoi(c.QueryParam("offset")); err == nil {
				offset = o
			}
			f.Page(n, offset)
		}
	}
	if ns := c.QueryParam("namespace"); ns != "" {
		f.Eq("namespace", ns)
	}
	return f
}

func handleInfo(deps Dependencies) echo.HandlerFunc {
	return func(c echo.Context) error {
		nodes, err := deps.Nodes.List(c.Request().Context(), store.New())
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, map[string]any{
			"node_count": len(nodes),
			"nodes":      nodes,
			"version":    deps.Version,
		})
	}
}

// registerCargoRoutes wires the Cargo CRUD + history/revert surface.
func registerCargoRoutes(g *echo.Group, deps Dependencies) {
	svc := deps.Cargoes
	r := g.Group("/cargoes")
	r.POST("", func(c echo.Context) error {
		data, err := bindJSON(c)
		if err != nil {
			return err
		}
		out, err := svc.Create(c.Request().Context(), data)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusCreated, out)
	})
	r.GET("", func(c echo.Context) error {
		out, err := svc.List(c.Request().Context(), filterFromQuery(c))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, out)
	})
	r.GET("/:name/inspect", func(c echo.Context) error {
		out, err := svc.Inspect(c.Request().Context(), namespacedKey(c))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, out)
	})
	r.PUT("/:name", func(c echo.Context) error {
		data, err := bindJSON(c)
		if err != nil {
			return err
		}
		out, err := svc.Put(c.Request().Context(), namespacedKey(c), data)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, out)
	})
	r.PATCH("/:name", func(c echo.Context) error {
		data, err := bindJSON(c)
		if err != nil {
			return err
		}
		out, err := svc.Patch(c.Request().Context(), namespacedKey(c), data)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, out)
	})
	r.DELETE("/:name", func(c echo.Context) error {
		out, err := svc.Delete(c.Request().Context(), namespacedKey(c), c.QueryParam("force") == "true")
		if err != nil {
			return err
		}
		return c.JSON(http.StatusAccepted, out)
	})
	r.GET("/:name/histories", func(c echo.Context) error {
		out, err := svc.History(c.Request().Context(), namespacedKey(c), filterFromQuery(c))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, out)
	})
	r.PATCH("/:name/histories/:id/revert", func(c echo.Context) error {
		out, err := svc.Revert(c.Request().Context(), namespacedKey(c), c.Param("id"))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, out)
	})
}

// registerVmRoutes mirrors registerCargoRoutes: Vm supports the same
// full CRUD + history/revert surface.
func registerVmRoutes(g *echo.Group, deps Dependencies) {
	svc := deps.Vms
	r := g.Group("/vms")
	r.POST("", func(c echo.Context) error {
		data, err := bindJSON(c)
		if err != nil {
			return err
		}
		out, err := svc.Create(c.Request().Context(), data)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusCreated, out)
	})
	r.GET("", func(c echo.Context) error {
		out, err := svc.List(c.Request().Context(), filterFromQuery(c))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, out)
	})
	r.GET("/:name/inspect", func(c echo.Context) error {
		out, err := svc.Inspect(c.Request().Context(), namespacedKey(c))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, out)
	})
	r.PUT("/:name", func(c echo.Context) error {
		data, err := bindJSON(c)
		if err != nil {
			return err
		}
		out, err := svc.Put(c.Request().Context(), namespacedKey(c), data)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, out)
	})
	r.PATCH("/:name", func(c echo.Context) error {
		data, err := bindJSON(c)
		if err != nil {
			return err
		}
		out, err := svc.Patch(c.Request().Context(), namespacedKey(c), data)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, out)
	})
	r.DELETE("/:name", func(c echo.Context) error {
		out, err := svc.Delete(c.Request().Context(), namespacedKey(c), c.QueryParam("force") == "true")
		if err != nil {
			return err
		}
		return c.JSON(http.StatusAccepted, out)
	})
	r.GET("/:name/histories", func(c echo.Context) error {
		out, err := svc.History(c.Request().Context(), namespacedKey(c), filterFromQuery(c))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, out)
	})
	r.PATCH("/:name/histories/:id/revert", func(c echo.Context) error {
		out, err := svc.Revert(c.Request().Context(), namespacedKey(c), c.Param("id"))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, out)
	})
	r.GET("/images", func(c echo.Context) error {
		return c.JSON(http.StatusOK, []string{})
	})
}

// registerJobRoutes: Job has no Revert, only Create, List, Inspect, Put,
// Patch, Delete and Histories.
func registerJobRoutes(g *echo.Group, deps Dependencies) {
	svc := deps.Jobs
	r := g.Group("/jobs")
	r.POST("", func(c echo.Context) error {
		data, err := bindJSON(c)
		if err != nil {
			return err
		}
		out, err := svc.Create(c.Request().Context(), data)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusCreated, out)
	})
	r.GET("", func(c echo.Context) error {
		out, err := svc.List(c.Request().Context(), filterFromQuery(c))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, out)
	})
	r.GET("/:name/inspect", func(c echo.Context) error {
		out, err := svc.Inspect(c.Request().Context(), c.Param("name"))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, out)
	})
	r.PUT("/:name", func(c echo.Context) error {
		data, err := bindJSON(c)
		if err != nil {
			return err
		}
		out, err := svc.Put(c.Request().Context(), c.Param("name"), data)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, out)
	})
	r.PATCH("/:name", func(c echo.Context) error {
		data, err := bindJSON(c)
		if err != nil {
			return err
		}
		out, err := svc.Patch(c.Request().Context(), c.Param("name"), data)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, out)
	})
	r.DELETE("/:name", func(c echo.Context) error {
		out, err := svc.Delete(c.Request().Context(), c.Param("name"), c.QueryParam("force") == "true")
		if err != nil {
			return err
		}
		return c.JSON(http.StatusAccepted, out)
	})
	r.GET("/:name/histories", func(c echo.Context) error {
		out, err := svc.History(c.Request().Context(), c.Param("name"), filterFromQuery(c))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, out)
	})
}

// registerSecretRoutes: Secret has no Put (content is immutable once
// created, only Patch for metadata/rotation).
func registerSecretRoutes(g *echo.Group, deps Dependencies) {
	svc := deps.Secrets
	r := g.Group("/secrets")
	r.POST("", func(c echo.Context) error {
		data, err := bindJSON(c)
		if err != nil {
			return err
		}
		out, err := svc.Create(c.Request().Context(), data)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusCreated, out)
	})
	r.GET("", func(c echo.Context) error {
		out, err := svc.List(c.Request().Context(), filterFromQuery(c))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, out)
	})
	r.GET("/:name/inspect", func(c echo.Context) error {
		out, err := svc.Inspect(c.Request().Context(), c.Param("name"))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, out)
	})
	r.PATCH("/:name", func(c echo.Context) error {
		data, err := bindJSON(c)
		if err != nil {
			return err
		}
		out, err := svc.Patch(c.Request().Context(), c.Param("name"), data)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, out)
	})
	r.DELETE("/:name", func(c echo.Context) error {
		out, err := svc.Delete(c.Request().Context(), c.Param("name"), c.QueryParam("force") == "true")
		if err != nil {
			return err
		}
		return c.JSON(http.StatusAccepted, out)
	})
}

// registerNamespaceRoutes: Namespace only supports Create, List,
// Inspect, Delete; no Put/Patch and nothing keyed by .namespace.
func registerNamespaceRoutes(g *echo.Group, deps Dependencies) {
	svc := deps.Namespaces
	r := g.Group("/namespaces")
	r.POST("", func(c echo.Context) error {
		data, err := bindJSON(c)
		if err != nil {
			return err
		}
		out, err := svc.Create(c.Request().Context(), data)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusCreated, out)
	})
	r.GET("", func(c echo.Context) error {
		out, err := svc.List(c.Request().Context(), filterFromQuery(c))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, out)
	})
	r.GET("/:name/inspect", func(c echo.Context) error {
		out, err := svc.Inspect(c.Request().Context(), c.Param("name"))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, out)
	})
	r.DELETE("/:name", func(c echo.Context) error {
		out, err := svc.Delete(c.Request().Context(), c.Param("name"))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusAccepted, out)
	})
}

// registerResourceKindRoutes: ResourceKind is keyed by "domain/name",
// so routes carry two path params.
func registerResourceKindRoutes(g *echo.Group, deps Dependencies) {
	svc := deps.ResourceKinds
	r := g.Group("/resource/kinds")
	r.POST("", func(c echo.Context) error {
		data, err := bindJSON(c)
		if err != nil {
			return err
		}
		out, err := svc.Create(c.Request().Context(), data)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusCreated, out)
	})
	r.GET("", func(c echo.Context) error {
		out, err := svc.List(c.Request().Context(), filterFromQuery(c))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, out)
	})
	r.GET("/:domain/:name/inspect", func(c echo.Context) error {
		out, err := svc.Inspect(c.Request().Context(), c.Param("domain")+"/"+c.Param("name"))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, out)
	})
	r.PUT("/:domain/:name", func(c echo.Context) error {
		data, err := bindJSON(c)
		if err != nil {
			return err
		}
		out, err := svc.Put(c.Request().Context(), c.Param("domain")+"/"+c.Param("name"), data)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, out)
	})
	r.DELETE("/:domain/:name", func(c echo.Context) error {
		out, err := svc.Delete(c.Request().Context(), c.Param("domain")+"/"+c.Param("name"), c.QueryParam("force") == "true")
		if err != nil {
			return err
		}
		return c.JSON(http.StatusAccepted, out)
	})
}

// registerResourceRoutes: Resource has no Patch, only Create, List,
// Inspect, Put, Delete.
func registerResourceRoutes(g *echo.Group, deps Dependencies) {
	svc := deps.Resources
	r := g.Group("/resources")
	r.POST("", func(c echo.Context) error {
		data, err := bindJSON(c)
		if err != nil {
			return err
		}
		out, err := svc.Create(c.Request().Context(), data)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusCreated, out)
	})
	r.GET("", func(c echo.Context) error {
		out, err := svc.List(c.Request().Context(), filterFromQuery(c))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, out)
	})
	r.GET("/:name/inspect", func(c echo.Context) error {
		out, err := svc.Inspect(c.Request().Context(), c.Param("name"))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, out)
	})
	r.PUT("/:name", func(c echo.Context) error {
		data, err := bindJSON(c)
		if err != nil {
			return err
		}
		out, err := svc.Put(c.Request().Context(), c.Param("name"), data)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, out)
	})
	r.DELETE("/:name", func(c echo.Context) error {
		out, err := svc.Delete(c.Request().Context(), c.Param("name"), c.QueryParam("force") == "true")
		if err != nil {
			return err
		}
		return c.JSON(http.StatusAccepted, out)
	})
}

// registerProcessRoutes wires the process intent actions. kind is the
// object kind (Cargo, Vm, Job); the kind key is built the same way the
// reconciler expects it: "name.namespace" for Cargo/Vm, bare name for
// Job.
func registerProcessRoutes(g *echo.Group, deps Dependencies) {
	r := g.Group("/processes")
	r.GET("", func(c echo.Context) error {
		out, err := deps.Store.ListProcesses(c.Request().Context(), filterFromQuery(c))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, out)
	})

	action := func(fn func(ctx echo.Context, kind, kindKey string) error) echo.HandlerFunc {
		return func(c echo.Context) error {
			kindKey := processKindKey(c)
			if err := fn(c, c.Param("kind"), kindKey); err != nil {
				return err
			}
			return c.NoContent(http.StatusAccepted)
		}
	}

	r.POST("/:kind/:name/start", action(func(c echo.Context, kind, kindKey string) error {
		return deps.Reconciler.ProcessStart(c.Request().Context(), kind, kindKey)
	}))
	r.POST("/:kind/:name/stop", action(func(c echo.Context, kind, kindKey string) error {
		return deps.Reconciler.ProcessStop(c.Request().Context(), kind, kindKey)
	}))
	r.POST("/:kind/:name/restart", action(func(c echo.Context, kind, kindKey string) error {
		return deps.Reconciler.ProcessRestart(c.Request().Context(), kind, kindKey)
	}))
	r.POST("/:kind/:name/kill", action(func(c echo.Context, kind, kindKey string) error {
		signal := c.QueryParam("signal")
		if signal == "" {
			signal = "SIGKILL"
		}
		return deps.Reconciler.ProcessKill(c.Request().Context(), kind, kindKey, signal)
	}))
}

// processKindKey builds the kind key for a /processes/:kind/:name/...
// route the way each kind's lifecycle service does: Cargo and Vm are
// namespaced ("name.namespace"), Job is keyed by bare name.
func processKindKey(c echo.Context) string {
	switch c.Param("kind") {
	case "Cargo", "Vm":
		return namespacedKey(c)
	default:
		return c.Param("name")
	}
}

// registerEventRoutes wires history listing, counting, single-event
// inspection and the streaming watch endpoint.
func registerEventRoutes(g *echo.Group, deps Dependencies) {
	r := g.Group("/events")
	r.GET("", func(c echo.Context) error {
		out, err := deps.Store.ListEvents(c.Request().Context(), filterFromQuery(c))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, out)
	})
	r.GET("/count", func(c echo.Context) error {
		out, err := deps.Store.ListEvents(c.Request().Context(), filterFromQuery(c))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, map[string]int{"count": len(out)})
	})
	r.GET("/:id/inspect", func(c echo.Context) error {
		out, err := deps.Store.ListEvents(c.Request().Context(), store.New().Eq("id", c.Param("id")))
		if err != nil {
			return err
		}
		if len(out) == 0 {
			return ferr.NotFound("event %s not found", c.Param("id"))
		}
		return c.JSON(http.StatusOK, out[0])
	})
	r.POST("/watch", func(c echo.Context) error {
		var conds []types.EventCondition
		if err := c.Bind(&conds); err != nil {
			return ferr.Invalid("malformed watch conditions: %v", err)
		}
		c.Response().Header().Set(echo.HeaderContentType, "application/x-ndjson")
		c.Response().WriteHeader(http.StatusOK)
		return deps.Subscriptions.Watch(c.Request().Context(), conds, c.Response())
	})
}

// registerNodeRoutes wires plain store-backed node registration and
// enumeration; there is no replicated consensus log behind it, just a
// row per node kept alive by its own heartbeat.
func registerNodeRoutes(g *echo.Group, deps Dependencies) {
	r := g.Group("/nodes")
	r.POST("", func(c echo.Context) error {
		var body struct {
			Name      string            `json:"name"`
			Role      types.NodeRole    `json:"role"`
			IPAddress string            `json:"ip_address"`
			Endpoint  string            `json:"endpoint"`
			Version   string            `json:"version"`
			Labels    map[string]string `json:"labels"`
		}
		if err := c.Bind(&body); err != nil {
			return ferr.Invalid("malformed node payload: %v", err)
		}
		out, err := deps.Nodes.Register(c.Request().Context(), body.Name, body.Role, body.IPAddress, body.Endpoint, body.Version, body.Labels)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusCreated, out)
	})
	r.GET("", func(c echo.Context) error {
		out, err := deps.Nodes.List(c.Request().Context(), filterFromQuery(c))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, out)
	})
	r.GET("/:name/inspect", func(c echo.Context) error {
		out, err := deps.Nodes.Get(c.Request().Context(), c.Param("name"))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, out)
	})
	r.DELETE("/:name", func(c echo.Context) error {
		if err := deps.Nodes.Delete(c.Request().Context(), c.Param("name")); err != nil {
			return err
		}
		return c.NoContent(http.StatusOK)
	})
}

// registerMetricsRoutes wires external metric submission; reserved
// kind prefixes surface as 400 through the ferr-mapped error handler.
func registerMetricsRoutes(g *echo.Group, deps Dependencies) {
	r := g.Group("/metrics")
	r.POST("", func(c echo.Context) error {
		var body struct {
			Kind string         `json:"kind"`
			Data map[string]any `json:"data"`
			Note string         `json:"note"`
		}
		if err := c.Bind(&body); err != nil {
			return ferr.Invalid("malformed metric payload: %v", err)
		}
		out, err := deps.Metrics.Submit(c.Request().Context(), body.Kind, body.Data, body.Note)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusCreated, out)
	})
	r.GET("", func(c echo.Context) error {
		out, err := deps.Metrics.List(c.Request().Context(), filterFromQuery(c))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, out)
	})
}
