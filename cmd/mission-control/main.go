package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	activityrepo "github.com/pedrohperalta/openclaw-mission-control/internal/activity/repository"
	activityservice "github.com/pedrohperalta/openclaw-mission-control/internal/activity/service"
	"github.com/pedrohperalta/openclaw-mission-control/internal/agent/provisioner"
	agentrepo "github.com/pedrohperalta/openclaw-mission-control/internal/agent/repository"
	agentservice "github.com/pedrohperalta/openclaw-mission-control/internal/agent/service"
	authmodels "github.com/pedrohperalta/openclaw-mission-control/internal/auth/models"
	authrepo "github.com/pedrohperalta/openclaw-mission-control/internal/auth/repository"
	authservice "github.com/pedrohperalta/openclaw-mission-control/internal/auth/service"
	boardrepo "github.com/pedrohperalta/openclaw-mission-control/internal/board/repository"
	boardservice "github.com/pedrohperalta/openclaw-mission-control/internal/board/service"
	"github.com/pedrohperalta/openclaw-mission-control/internal/common/config"
	apperrors "github.com/pedrohperalta/openclaw-mission-control/internal/common/errors"
	"github.com/pedrohperalta/openclaw-mission-control/internal/common/logger"
	"github.com/pedrohperalta/openclaw-mission-control/internal/common/token"
	"github.com/pedrohperalta/openclaw-mission-control/internal/db"
	"github.com/pedrohperalta/openclaw-mission-control/internal/events/bus"
	gatewayrepo "github.com/pedrohperalta/openclaw-mission-control/internal/gateway/repository"
	gatewayservice "github.com/pedrohperalta/openclaw-mission-control/internal/gateway/service"
	"github.com/pedrohperalta/openclaw-mission-control/internal/server"
	"github.com/pedrohperalta/openclaw-mission-control/internal/templatesync"
	webhookqueue "github.com/pedrohperalta/openclaw-mission-control/internal/webhook/queue"
	webhookrepo "github.com/pedrohperalta/openclaw-mission-control/internal/webhook/repository"
	webhookservice "github.com/pedrohperalta/openclaw-mission-control/internal/webhook/service"
)

const defaultOrganizationID = "default"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		UseUTC: cfg.Logging.UseUTC,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting mission control", zap.String("addr", cfg.Server.Addr()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	writer, reader, err := db.Open(cfg.Database.Path)
	if err != nil {
		log.Fatal("failed to open database", zap.Error(err))
	}
	defer writer.Close()
	defer reader.Close()
	if err := db.InitSchema(writer); err != nil {
		log.Fatal("failed to initialize schema", zap.Error(err))
	}

	eventBus, err := bus.Provide(cfg.NATS.URL, log)
	if err != nil {
		log.Fatal("failed to connect event bus", zap.Error(err))
	}
	defer eventBus.Close()

	users := authrepo.NewSQLite(writer, reader)
	boards := boardrepo.NewSQLite(writer, reader)
	agents := agentrepo.NewSQLite(writer, reader)
	gateways := gatewayrepo.NewSQLite(writer, reader)
	activity := activityrepo.NewSQLite(writer, reader)
	webhooks := webhookrepo.NewSQLite(writer, reader)

	if err := bootstrapTenant(ctx, users, log); err != nil {
		log.Fatal("failed to bootstrap tenant", zap.Error(err))
	}

	clients := gatewayservice.NewClients(cfg.Gateway.CallTimeout, log)
	defer clients.Close()

	prov := provisioner.New(log)
	baseURL := cfg.Server.BaseURL

	authSvc := authservice.NewService(users, agents, defaultOrganizationID)
	boardSvc := boardservice.NewService(boards, agents, eventBus, log)
	agentSvc := agentservice.NewService(agents, boards, gateways, activity, prov, clients, eventBus, baseURL, log)
	gatewaySvc := gatewayservice.NewService(gateways, boards, clients, defaultOrganizationID, log)
	coordinator := gatewayservice.NewCoordinator(gateways, boards, agents, activity, clients, eventBus,
		baseURL, defaultOrganizationID, log)
	activitySvc := activityservice.NewService(activity, boardSvc, defaultOrganizationID, log)

	deliveries := webhookqueue.New(cfg.Webhook.QueueCapacity)
	webhookSvc := webhookservice.NewService(webhooks, boards, agents, gateways, activity,
		deliveries, clients, cfg.Webhook, baseURL, log)

	syncEngine := templatesync.NewEngine(boards, agents, prov, baseURL, log)

	sub, err := coordinator.Start()
	if err != nil {
		log.Fatal("failed to start coordinator", zap.Error(err))
	}
	defer sub.Unsubscribe()

	router := server.NewRouter(server.Deps{
		Config:      cfg,
		Auth:        authSvc,
		Boards:      boardSvc,
		Agents:      agentSvc,
		Gateways:    gatewaySvc,
		Coordinator: coordinator,
		Activity:    activitySvc,
		Webhooks:    webhookSvc,
		Sync:        syncEngine,
		Dialer:      clients,
		Log:         log,
	})
	httpServer := server.New(cfg.Server, router)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		err := webhookSvc.RunDispatcher(groupCtx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	group.Go(func() error {
		err := webhookSvc.RunReconciler(groupCtx, cfg.Webhook.ReconcileAfter)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		log.Error("shutdown with error", zap.Error(err))
		os.Exit(1)
	}
	log.Info("stopped")
}

// bootstrapTenant ensures the default organization exists. On first
// run it also creates an admin user and logs the API token once; the
// token is never recoverable afterwards.
func bootstrapTenant(ctx context.Context, users authrepo.Repository, log *logger.Logger) error {
	if _, err := users.GetOrganization(ctx, defaultOrganizationID); err == nil {
		return nil
	} else if !apperrors.IsNotFound(err) {
		return err
	}

	if err := users.CreateOrganization(ctx, &authmodels.Organization{
		ID:   defaultOrganizationID,
		Name: "Mission Control",
	}); err != nil {
		return err
	}

	plaintext := token.Generate()
	hash := token.Hash(plaintext)
	admin := &authmodels.User{
		Email:        "admin@localhost",
		DisplayName:  "Admin",
		APITokenHash: &hash,
	}
	if err := users.CreateUser(ctx, admin); err != nil {
		return err
	}
	if err := users.CreateMember(ctx, &authmodels.Member{
		OrganizationID: defaultOrganizationID,
		UserID:         admin.ID,
		Role:           authmodels.RoleAdmin,
	}); err != nil {
		return err
	}

	log.Info("bootstrapped admin user", zap.String("api_token", plaintext))
	return nil
}
