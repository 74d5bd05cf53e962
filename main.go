package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"path"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "steppe-library/docs"
	"steppe-library/internal/catalog"
	"steppe-library/internal/circulation"
	"steppe-library/internal/platform/auth"
	"steppe-library/internal/platform/db"
	"steppe-library/internal/platform/events"
	"steppe-library/internal/platform/media"
)

// @title       Steppe Library API
// @version     1.0
// @description Catalog, circulation and reservations for the university library.
// @BasePath    /api/v1
// @securityDefinitions.apikey BearerAuth
// @in   header
// @name Authorization
func main() {
	cfgPath := flag.String("config", db.DefaultConfigPath, "path to config.yaml")
	flag.Parse()

	if err := run(*cfgPath); err != nil {
		log.Fatalf("[FATAL] %v", err)
	}
}

func run(cfgPath string) error {
	cfg, err := db.LoadConfig(cfgPath)
	if err != nil {
		return err
	}
	log.Printf("[INFO] mode:%s version:%s", cfg.Mode, cfg.Version)

	conn, err := db.Connect(cfg.DB)
	if err != nil {
		return err
	}
	defer conn.Close()
	log.Printf("[INFO] connected to DB: %s", cfg.DB.DBName)

	if cfg.DB.Migrate {
		if err := db.Migrate(context.Background(), conn); err != nil {
			return err
		}
		log.Printf("[INFO] schema applied")
	}

	var pub events.Publisher = events.LogPublisher{}
	if cfg.Kafka.Enabled {
		pub = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		log.Printf("[INFO] publishing events to kafka topic %s", cfg.Kafka.Topic)
	}
	defer pub.Close()

	secret := []byte(cfg.Auth.JWTSecret)
	authSvc := auth.NewService(auth.NewStore(conn), secret, time.Duration(cfg.Auth.TokenTTLHours)*time.Hour)
	catalogSvc := catalog.NewService(catalog.NewStore(conn), media.NewStore(cfg.Media.Root), cfg.Library.PageSize)
	circSvc := circulation.NewService(circulation.NewStore(conn), policyFrom(cfg.Library), pub)

	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	_ = r.SetTrustedProxies(nil)

	if cfg.Mode == "dev" {
		origins := cfg.Server.AllowOrigins
		if len(origins) == 0 {
			origins = []string{"http://localhost:3000"}
		}
		r.Use(cors.New(cors.Config{
			AllowOrigins:     origins,
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
			ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
			AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowCredentials: true,
		}))
	}

	r.GET("/healthz", func(c *gin.Context) {
		if err := conn.PingContext(c.Request.Context()); err != nil {
			c.String(http.StatusServiceUnavailable, "db down")
			return
		}
		c.String(http.StatusOK, "ok")
	})
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	r.Static("/media", cfg.Media.Root)

	api := r.Group("/api/v1")
	auth.RegisterPublicRoutes(api, authSvc)
	catalog.RegisterPublicRoutes(api, catalogSvc)

	member := api.Group("", auth.RequireAuth(secret))
	auth.RegisterUserRoutes(member, authSvc)
	circulation.RegisterUserRoutes(member, circSvc)

	staff := api.Group("", auth.RequireAuth(secret), auth.RequireRole(auth.RoleLibrarian))
	auth.RegisterStaffRoutes(staff, authSvc)
	catalog.RegisterStaffRoutes(staff, catalogSvc)
	circulation.RegisterStaffRoutes(staff, circSvc)

	if cfg.Server.StaticDir != "" {
		r.NoRoute(spaFallback(os.DirFS(cfg.Server.StaticDir)))
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		certFile, keyFile := cfg.TLSFiles()
		var err error
		if certFile != "" {
			log.Printf("[INFO] listening on https://%s", cfg.Server.Addr)
			err = srv.ListenAndServeTLS(certFile, keyFile)
		} else {
			log.Printf("[INFO] listening on http://%s (no certificate configured)", cfg.Server.Addr)
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		return fmt.Errorf("serve: %w", err)
	case <-quit:
	}

	log.Println("[INFO] shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func policyFrom(c db.LibraryConfig) circulation.Policy {
	return circulation.Policy{
		LoanPeriodDays: c.LoanPeriodDays,
		FinePerDay:     decimal.NewFromInt(c.FinePerDay),
		Currency:       c.Currency,
		ExpiryWindow:   time.Duration(c.ReservationExpiryHours) * time.Hour,
	}
}

// spaFallback serves the built frontend: real files as they are, every
// other non-API path as index.html.
func spaFallback(files fs.FS) gin.HandlerFunc {
	fileFS := http.FS(files)
	return func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"code": "NOT_FOUND", "message": "no such endpoint"}})
			return
		}

		reqPath := strings.TrimPrefix(c.Request.URL.Path, "/")
		if reqPath == "" {
			reqPath = "index.html"
		}
		if f, err := fileFS.Open(reqPath); err == nil {
			defer f.Close()
			if info, err := f.Stat(); err == nil && !info.IsDir() {
				if ct := mime.TypeByExtension(path.Ext(reqPath)); ct != "" {
					c.Header("Content-Type", ct)
				}
				if !strings.HasSuffix(reqPath, "index.html") {
					c.Header("Cache-Control", "public, max-age=86400, immutable")
				}
				http.ServeContent(c.Writer, c.Request, reqPath, info.ModTime(), f)
				return
			}
		}

		idx, err := fileFS.Open("index.html")
		if err != nil {
			c.Status(http.StatusNotFound)
			return
		}
		defer idx.Close()
		info, err := idx.Stat()
		if err != nil {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Header("Content-Type", "text/html; charset=utf-8")
		http.ServeContent(c.Writer, c.Request, "index.html", info.ModTime(), idx)
	}
}
