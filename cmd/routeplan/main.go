// Command routeplan runs the last-mile delivery route planning and
// execution engine: it wires the clusterer, truck allocator, plan
// assembler and execution supervisor to Postgres-backed stores and
// serves the REST API for the route-planning and delivery-execution engine.
package main

import (
	"context"

	"routeplan/internal/domain"
	"routeplan/internal/driverstore"
	"routeplan/internal/execution"
	"routeplan/internal/historymat"
	"routeplan/internal/historystore"
	"routeplan/internal/httpapi"
	"routeplan/internal/notify"
	"routeplan/internal/officedeliverystore"
	"routeplan/internal/officefallback"
	"routeplan/internal/officestore"
	"routeplan/internal/parcelfsm"
	"routeplan/internal/parcelstore"
	"routeplan/internal/planassembler"
	"routeplan/internal/planservice"
	"routeplan/internal/routestore"
	"routeplan/internal/routingclient"
	"routeplan/internal/statsquery"
	"routeplan/internal/truckstore"
	"routeplan/migrations"
	"routeplan/pkg/authctx"
	"routeplan/pkg/cache"
	"routeplan/pkg/config"
	"routeplan/pkg/database"
	"routeplan/pkg/logger"
	"routeplan/pkg/metrics"
	"routeplan/pkg/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger.InitWithConfig(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		FilePath:   cfg.Log.FilePath,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})

	ctx := context.Background()

	metrics.InitMetrics(cfg.Metrics.Namespace, cfg.Metrics.Subsystem)

	db, err := database.NewPostgresDB(ctx, &cfg.Database)
	if err != nil {
		logger.Fatal("failed to connect to database", "error", err)
	}
	defer db.Close()

	if err := database.RunMigrations(ctx, db.Pool(), &cfg.Database, migrations.FS, "postgres"); err != nil {
		logger.Fatal("failed to run migrations", "error", err)
	}

	parcels := parcelstore.NewPostgresStore(db)
	trucks := truckstore.NewPostgresStore(db)
	drivers := driverstore.NewPostgresStore(db)
	var offices officestore.Store = officestore.NewPostgresStore(db)
	if cfg.Cache.Enabled {
		officeCache, err := cache.New(cache.FromConfig(&cfg.Cache))
		if err != nil {
			logger.Fatal("failed to build office cache", "error", err)
		}
		offices = officestore.NewCachingStore(offices, officeCache, cfg.Cache.DefaultTTL)
	}
	routes := routestore.NewPostgresStore(db)
	history := historystore.NewPostgresStore(db)
	officeDeliveries := officedeliverystore.NewPostgresStore(db)

	depot := domainCoordinate(cfg)

	routing := routingclient.NewHTTPClient(cfg.RoutingEngine)
	assembler := planassembler.New(routing, depot)
	fsm := parcelfsm.New(parcels, routes, nil)
	notifier := notify.New()
	fallback := officefallback.New(offices, officeDeliveries, routes, fsm, routing, notifier)
	historyMat := historymat.New(history, parcels)

	supervisor := execution.New(routes, trucks, drivers, fsm, fallback, historyMat, routing, notifier, depot, nil)
	plan := planservice.New(parcels, trucks, drivers, assembler, supervisor)
	stats := statsquery.New(routes, parcels, drivers)

	handler := httpapi.New(plan, supervisor, historyMat, stats, parcels, routes)

	srv := server.New(cfg)
	verifier := authctx.NewVerifier(cfg.Auth.JWTSecret)
	srv.Engine().Use(authctx.Middleware(verifier))
	httpapi.RegisterRoutes(srv.Engine(), handler)

	logger.Info("starting route planning engine",
		"port", cfg.HTTP.Port,
		"environment", cfg.App.Environment,
		"version", cfg.App.Version,
	)

	if err := srv.Run(); err != nil {
		logger.Fatal("server failed", "error", err)
	}
}

func domainCoordinate(cfg *config.Config) domain.Coordinate {
	return domain.Coordinate{Lat: cfg.Depot.DefaultLat, Lon: cfg.Depot.DefaultLon}
}
