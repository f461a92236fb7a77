package fx

import (
	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"go.uber.org/fx"

	"pool-verifier/internal/api"
	"pool-verifier/internal/classify"
	"pool-verifier/internal/config"
	"pool-verifier/internal/database"
	"pool-verifier/internal/logger"
	"pool-verifier/internal/match"
	"pool-verifier/internal/ranks"
	"pool-verifier/internal/repository"
	"pool-verifier/internal/scheduler"
	"pool-verifier/internal/server"
	"pool-verifier/internal/service"
)

func ProvideClock() clock.Clock {
	return clock.New()
}

func ProvideScheduler(chat *api.ChatClient, clk clock.Clock, log zerolog.Logger) *scheduler.Scheduler {
	return scheduler.New(chat, clk, log)
}

func ProvideVerificationService(
	ocr *api.OCRClient,
	chat *api.ChatClient,
	repo *repository.VerificationRepository,
	table *ranks.Table,
	classifier *classify.Classifier,
	matcher *match.Matcher,
	sched *scheduler.Scheduler,
	cfg *config.Config,
	log zerolog.Logger,
) *service.VerificationService {
	return service.NewVerificationService(ocr, chat, repo, table, classifier, matcher, sched, cfg, log)
}

func ProvideServer(svc *service.VerificationService, repo *repository.VerificationRepository, cfg *config.Config, log zerolog.Logger) *server.Server {
	return server.New(svc, repo, cfg, log)
}

var Module = fx.Options(
	fx.Provide(logger.New),
	fx.Provide(config.Load),
	fx.Provide(database.New),
	fx.Provide(ranks.Load),
	// pure core
	fx.Provide(classify.New),
	fx.Provide(match.New),
	// repo
	fx.Provide(repository.NewVerificationRepository),
	// api clients
	fx.Provide(api.NewOCRClient),
	fx.Provide(api.NewChatClient),
	// scheduler
	fx.Provide(ProvideClock),
	fx.Provide(ProvideScheduler),
	// svc
	fx.Provide(ProvideVerificationService),
	// server
	fx.Provide(ProvideServer),
)
