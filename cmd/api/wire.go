package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"invoice-engine/internal/audit"
	"invoice-engine/internal/auth"
	"invoice-engine/internal/classifier"
	"invoice-engine/internal/config"
	"invoice-engine/internal/document"
	"invoice-engine/internal/extract"
	"invoice-engine/internal/httpapi"
	"invoice-engine/internal/ingest"
	"invoice-engine/internal/insurer"
	"invoice-engine/internal/invoice"
	"invoice-engine/internal/lifecycle"
	"invoice-engine/internal/mailbox"
	"invoice-engine/internal/notify"
	"invoice-engine/internal/reporting"
	"invoice-engine/internal/storage"
	"invoice-engine/internal/store/memory"
	"invoice-engine/internal/store/pg"
	"invoice-engine/pkg/utils"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
)

// backend is the selected persistence implementation.
type backend struct {
	invoices invoice.Repository
	audit    audit.Repository
	insurers insurer.Directory
	tx       invoice.TxRunner
	dates    reporting.Repository

	ping  func(ctx context.Context) error
	close func()
}

func openBackend(ctx context.Context, cfg config.Config) (backend, error) {
	if cfg.Store.Driver == "memory" {
		st := memory.New(memory.SeedInsurers(insurer.Default))
		return backend{
			invoices: st.Invoices(),
			audit:    st.Audit(),
			insurers: st.Insurers(),
			tx:       st.TxRunner(),
			dates:    st.Invoices(),
			ping:     func(context.Context) error { return nil },
			close:    func() {},
		}, nil
	}

	db, err := utils.OpenPostgres(ctx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{
		MaxOpenConns: cfg.DB.MaxOpenConns,
		MaxIdleConns: cfg.DB.MaxOpenConns,
	})
	if err != nil {
		return backend{}, fmt.Errorf("postgres init: %w", err)
	}
	if cfg.DB.Migrate {
		if err := pg.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return backend{}, fmt.Errorf("postgres migrate: %w", err)
		}
	}
	st := pg.New(db)
	return backend{
		invoices: st.Invoices(),
		audit:    st.Audit(),
		insurers: st.Insurers(),
		tx:       st,
		dates:    st.Invoices(),
		ping:     func(ctx context.Context) error { return utils.HealthCheck(ctx, db, 2*time.Second) },
		close:    func() { _ = db.Close() },
	}, nil
}

// app holds the services built on top of the backend.
type app struct {
	files     *storage.Files
	lifecycle *lifecycle.Service
	reports   *reporting.Service
	poller    *ingest.Poller
	insurers  insurer.Directory

	rdb *redis.Client
}

func buildApp(ctx context.Context, cfg config.Config, be backend, log *slog.Logger) (*app, error) {
	files, err := storage.NewFiles(cfg.Storage.Dir)
	if err != nil {
		return nil, err
	}
	auditSvc := audit.NewService(be.audit)

	sender, err := newSender(cfg, log)
	if err != nil {
		return nil, err
	}
	mailer := notify.NewInvoiceMailer(sender, files, cfg.SMTP.TestMode, cfg.SMTP.TestAddress)

	a := &app{
		files:    files,
		insurers: be.insurers,
		reports:  reporting.NewService(be.dates),
		lifecycle: lifecycle.NewService(lifecycle.Deps{
			Invoices:    be.invoices,
			Tx:          be.tx,
			Audit:       auditSvc,
			Insurers:    be.insurers,
			Attachments: files,
			Notifier:    mailer,
		}),
	}

	if cfg.Mail.IMAPHost == "" {
		log.Warn("mail ingestion disabled: no imap host configured")
		return a, nil
	}
	imapClient, err := mailbox.NewIMAPClient(mailbox.IMAPConfig{
		Host:     cfg.Mail.IMAPHost,
		Port:     cfg.Mail.IMAPPort,
		Username: cfg.Mail.IMAPUsername,
		Password: cfg.Mail.IMAPPassword,
		Folder:   cfg.Mail.IMAPFolder,
	})
	if err != nil {
		return nil, err
	}
	orch := ingest.NewOrchestrator(ingest.Deps{
		Mailbox:    imapClient,
		Classifier: classifier.New(be.invoices, cfg.Mail.ExpectedSender, cfg.Mail.ExpectedSubject),
		Files:      files,
		Extractor:  extract.NewEngine(document.NewExtractor()),
		Detector:   insurer.NewDetector(insurer.Default),
		Insurers:   be.insurers,
		Invoices:   be.invoices,
		Tx:         be.tx,
		Audit:      auditSvc,
	})

	var lock ingest.RunLock
	if cfg.Redis.Host != "" {
		rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{Addr: cfg.RedisAddr()})
		if err != nil {
			return nil, fmt.Errorf("redis init: %w", err)
		}
		a.rdb = rdb
		lock = ingest.NewRedisRunLock(rdb, cfg.Redis.RunLockKey, cfg.Redis.RunLockTTL)
	}
	a.poller = ingest.NewPoller(orch, cfg.Mail.PollInterval, lock)
	return a, nil
}

func (a *app) handlers(cfg config.Config, m *auth.Manager) httpapi.Handlers {
	h := httpapi.Handlers{
		Auth:        m,
		Invoices:    a.lifecycle,
		Insurers:    a.insurers,
		Reports:     a.reports,
		Files:       a.files,
		IssueTokens: !cfg.IsProduction(),
	}
	if a.poller != nil {
		h.Ingest = a.poller
	}
	return h
}

func (a *app) close() {
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
}

func newSender(cfg config.Config, log *slog.Logger) (notify.Sender, error) {
	if cfg.SMTP.Host == "" {
		log.Warn("smtp relay not configured: outbound mail is logged only")
		return notify.NewLogSender(log), nil
	}
	return notify.NewSMTPSender(notify.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
		StartTLS: cfg.SMTP.StartTLS,
	})
}
