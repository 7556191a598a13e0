package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"med-reminder/internal/bot"
	"med-reminder/internal/config"
	"med-reminder/internal/notify"
	"med-reminder/internal/ops"
	"med-reminder/internal/realtime"
	"med-reminder/internal/repository"
	"med-reminder/internal/service"
)

// Telegram allows about 30 messages per second across chats.
const deliveriesPerSecond = 25

func main() {
	resetNotifications := flag.Bool("reset-notifications", false, "drop every pending reminder and exit")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	loc := cfg.Location()

	db, err := repository.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	localDB, err := repository.OpenSQLite(cfg.NotificationDBPath)
	if err != nil {
		log.Fatalf("notification db: %v", err)
	}
	if sqlDB, err := localDB.DB(); err == nil {
		defer sqlDB.Close()
	}
	center, err := notify.NewStore(localDB)
	if err != nil {
		log.Fatalf("notification store: %v", err)
	}

	scheduler := service.NewNotificationScheduler(center, cfg.HorizonDays, cfg.LeadMinutes, loc)
	if *resetNotifications {
		if err := scheduler.RemoveAll(ctx); err != nil {
			log.Fatalf("reset notifications: %v", err)
		}
		log.Println("[info] all pending reminders removed")
		return
	}

	feed, err := newFeed(cfg)
	if err != nil {
		log.Fatalf("realtime: %v", err)
	}
	defer feed.Close()

	userRepo := repository.NewUserRepository(db)
	medicationRepo := repository.NewMedicationRepository(db)
	logRepo := repository.NewAdherenceLogRepository(db, feed)
	linkRepo := repository.NewCareLinkRepository(db, feed)

	retrier := service.NewRetrier(cfg.RetryMax, cfg.RetryDelay, cfg.ProbeTimeout, repository.Ping(db))
	medicationSvc := service.NewMedicationService(medicationRepo, userRepo, scheduler, retrier)
	adherenceSvc := service.NewAdherenceService(medicationRepo, logRepo, retrier, loc)
	careLinkSvc := service.NewCareLinkService(linkRepo, retrier, cfg.InviteTTL)
	reminderSvc := service.NewReminderService(adherenceSvc, loc)

	telegramBot, err := bot.New(cfg.TelegramToken, bot.Services{
		Users:       userRepo,
		Medications: medicationSvc,
		Adherence:   adherenceSvc,
		CareLinks:   careLinkSvc,
		Reminders:   reminderSvc,
		Retrier:     retrier,
		Feed:        feed,
		Center:      center,
	}, &cfg)
	if err != nil {
		log.Fatalf("bot: %v", err)
	}
	telegramBot.UseActions(service.NewActionHandler(logRepo, scheduler, retrier, telegramBot, cfg.SnoozeDelay))

	if err := telegramBot.CheckStore(ctx); err != nil {
		log.Printf("[warn] starting with storage unavailable: %v", err)
	} else if err := medicationSvc.ResyncAll(ctx); err != nil {
		log.Printf("[warn] initial resync: %v", err)
	}

	dispatcher := notify.NewDispatcher(center, telegramBot, deliveriesPerSecond)
	jobs := service.NewJobScheduler(ctx, loc)
	if _, err := jobs.ScheduleInterval(cfg.DispatchInterval, func(ctx context.Context) {
		if n := dispatcher.Tick(ctx); n > 0 {
			log.Printf("[info] delivered %d reminders", n)
		}
	}); err != nil {
		log.Fatalf("schedule dispatch: %v", err)
	}
	if _, err := jobs.ScheduleDaily(cfg.ResyncAt, func(ctx context.Context) {
		jobCtx, cancel := context.WithTimeout(ctx, 10*time.Minute)
		defer cancel()
		if err := medicationSvc.ResyncAll(jobCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("[error] nightly resync: %v", err)
		}
		dispatcher.Prune(jobCtx)
	}); err != nil {
		log.Fatalf("schedule resync: %v", err)
	}
	jobs.Start()
	defer jobs.Stop()

	if cfg.MetricsAddr != "" {
		srv := ops.NewServer(cfg.MetricsAddr, ops.NewRouter(retrier.Ping))
		go func() {
			log.Printf("[info] ops endpoints on %s", cfg.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("[error] ops server: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Printf("[warn] ops server shutdown: %v", err)
			}
		}()
	}

	log.Println("Medication reminder bot started.")
	if err := telegramBot.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("bot stopped with error: %v", err)
	}
	log.Println("Shutdown complete.")
}

func newFeed(cfg config.Config) (realtime.Feed, error) {
	switch cfg.Realtime.Backend {
	case "redis":
		return realtime.NewRedisFeed(cfg.Realtime.RedisAddr, cfg.Realtime.RedisPassword, cfg.Realtime.RedisDB)
	case "amqp":
		return realtime.NewAMQPFeed(cfg.Realtime.AMQPURL)
	default:
		return realtime.NewMemoryFeed(), nil
	}
}
