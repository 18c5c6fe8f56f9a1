package application

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/psds-microservice/ticket-desk/internal/closure"
	"github.com/psds-microservice/ticket-desk/internal/config"
	"github.com/psds-microservice/ticket-desk/internal/database"
	"github.com/psds-microservice/ticket-desk/internal/gateway"
	"github.com/psds-microservice/ticket-desk/internal/handler"
	"github.com/psds-microservice/ticket-desk/internal/intake"
	"github.com/psds-microservice/ticket-desk/internal/kafka"
	"github.com/psds-microservice/ticket-desk/internal/provision"
	"github.com/psds-microservice/ticket-desk/internal/recovery"
	"github.com/psds-microservice/ticket-desk/internal/registry"
	"github.com/psds-microservice/ticket-desk/internal/router"
	"github.com/psds-microservice/ticket-desk/internal/service"
	"github.com/psds-microservice/ticket-desk/internal/verify"
)

// writeTimeout — лимит записи ответа HTTP-сервера. Вебхук ticket.open /
// ticket.close с формой держит соединение на всё ожидание отправки
// (FormTimeout плюс gateway.AwaitSlack long-poll'а); лимит обязан быть
// заведомо больше, иначе ответ обрезается уже после создания тикета.
func writeTimeout(formTimeout time.Duration) time.Duration {
	if formTimeout <= 0 {
		formTimeout = 60 * time.Second
	}
	return formTimeout + gateway.AwaitSlack + 30*time.Second
}

// API приложение: HTTP-сервер тикет-деска (режим api).
type API struct {
	cfg      *config.Config
	httpSrv  *http.Server
	recovery *recovery.Manager
	producer *kafka.Producer
}

// NewAPI создаёт приложение для режима api.
func NewAPI(cfg *config.Config) (*API, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := database.MigrateUp(cfg.DatabaseURL()); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	db, err := database.Open(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}

	ticketSvc := service.NewTicketService(db)
	categorySvc := service.NewCategoryService(db)

	chat := gateway.NewClient(cfg.GatewayURL, cfg.GatewayToken)
	verifier := verify.NewClient(cfg.VerifyServiceURL)
	producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopicTicket)

	reg := registry.New()
	prov := provision.New(chat)

	intakeSvc := intake.New(intake.Deps{
		Chat:         chat,
		Verifier:     verifier,
		Categories:   categorySvc,
		Store:        ticketSvc,
		Registry:     reg,
		Provisioner:  prov,
		Producer:     producer,
		BotUserID:    cfg.BotUserID,
		StaffRoleIDs: cfg.StaffRoleIDs,
		FormTimeout:  cfg.FormTimeout,
	})
	closureSvc := closure.New(closure.Deps{
		Chat:             chat,
		Store:            ticketSvc,
		Categories:       categorySvc,
		Registry:         reg,
		Producer:         producer,
		BotUserID:        cfg.BotUserID,
		ArchiveChannelID: cfg.ArchiveChannelID,
		FormTimeout:      cfg.FormTimeout,
		GraceDelay:       cfg.DeleteGraceDelay,
	})
	recoveryMgr := recovery.NewManager(recovery.Deps{
		Chat:      chat,
		Store:     ticketSvc,
		Registry:  reg,
		BotUserID: cfg.BotUserID,
	})

	events := handler.NewEventHandler(intakeSvc, closureSvc, reg, ticketSvc, cfg.BotUserID)
	categories := handler.NewCategoryHandler(categorySvc)
	tickets := handler.NewTicketHandler(ticketSvc, categorySvc)

	httpSrv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router.New(events, categories, tickets),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      writeTimeout(cfg.FormTimeout),
		IdleTimeout:       60 * time.Second,
	}

	return &API{
		cfg:      cfg,
		httpSrv:  httpSrv,
		recovery: recoveryMgr,
		producer: producer,
	}, nil
}

// Run выполняет recovery-проход и запускает HTTP-сервер, блокируется до
// отмены ctx.
func (a *API) Run(ctx context.Context) error {
	// Сверка реестра с базой и платформой до приёма событий: иначе
	// ticket.close по живому тикету до восстановления вернул бы 404.
	if err := a.recovery.Run(ctx); err != nil {
		return fmt.Errorf("recovery: %w", err)
	}

	host := a.cfg.AppHost
	if host == "0.0.0.0" {
		host = "localhost"
	}
	base := "http://" + host + ":" + a.cfg.HTTPPort
	log.Printf("HTTP server listening on %s", a.httpSrv.Addr)
	log.Printf("  Swagger UI:    %s/swagger", base)
	log.Printf("  Swagger spec:  %s/swagger/openapi.json", base)
	log.Printf("  Health:        %s/health", base)
	log.Printf("  Ready:         %s/ready", base)
	log.Printf("  API v1:        %s/api/v1/", base)

	go func() {
		if err := a.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("http: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	if err := a.producer.Close(); err != nil {
		log.Printf("kafka: close producer: %v", err)
	}
	return nil
}
