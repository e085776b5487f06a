// Command pkd-ingestd is the ingestion core's process entrypoint. It
// wires every long-lived collaborator together the way boulder-ca's
// main wires a CertificateAuthorityImpl to its PolicyAuthority and RPC
// clients (cmd/boulder-ca/main.go): load configuration, run pending
// migrations, open the database and LDAP pools (failing loudly on any
// missing secret), build the repository and ingestion layers, then
// serve.
//
// This binary intentionally stays thin. The bulk of the ingestion
// core's behavior lives in the packages it wires below; main's only
// job is construction order and fatal startup errors.
package main

import (
	"bytes"
	"context"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"reflect"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/jmhodges/clock"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/iland112/pkd-ingest/authaudit"
	"github.com/iland112/pkd-ingest/config"
	"github.com/iland112/pkd-ingest/core"
	"github.com/iland112/pkd-ingest/dbexec"
	"github.com/iland112/pkd-ingest/dbpool"
	"github.com/iland112/pkd-ingest/ingest"
	"github.com/iland112/pkd-ingest/ldapdir"
	"github.com/iland112/pkd-ingest/ldappool"
	"github.com/iland112/pkd-ingest/ldif"
	"github.com/iland112/pkd-ingest/migrations"
	"github.com/iland112/pkd-ingest/pkdlog"
	"github.com/iland112/pkd-ingest/progress"
	"github.com/iland112/pkd-ingest/repo"
	"github.com/iland112/pkd-ingest/upload"
)

// appContext bundles every wired collaborator, so handlers receive one
// argument instead of a dozen.
type appContext struct {
	cfg        *config.Config
	log        *zap.Logger
	processor  *ingest.Processor
	uploads    *upload.Coordinator
	progress   *progress.Manager
	authGate   *authaudit.Gate
	authRec    *authaudit.Recorder
	validation *repo.ValidationRepository
	stats      *repo.StatisticsRepository
}

func main() {
	log, err := pkdlog.New("pkd-ingestd", os.Getenv("PKD_ENV") == "development")
	failOnError(nil, err, "could not build logger")
	defer log.Sync()

	cfg, err := config.Load()
	failOnError(log, err, "loading configuration")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dsn := fmt.Sprintf("postgres://%s@%s:%d/%s?sslmode=%s",
		cfg.Database.User, cfg.Database.Host, cfg.Database.Port, cfg.Database.Name, cfg.Database.SSLMode)
	failOnError(log, migrations.Open(ctx, dsn), "running database migrations")

	pool, err := dbpool.New(ctx, dbpool.Config{
		Host:           cfg.Database.Host,
		Port:           cfg.Database.Port,
		Database:       cfg.Database.Name,
		User:           cfg.Database.User,
		PasswordEnv:    cfg.Database.PasswordEnv,
		MinConns:       cfg.Database.MinConns,
		MaxConns:       cfg.Database.MaxConns,
		AcquireTimeout: cfg.Database.AcquireTimeout,
		SSLMode:        cfg.Database.SSLMode,
	}, log)
	failOnError(log, err, "opening database pool")

	ldapPool, err := ldappool.New(ldappool.Config{
		ReadHosts:       cfg.LDAP.ReadHosts,
		WriteHost:       cfg.LDAP.WriteHost,
		BindDN:          cfg.LDAP.BindDN,
		BindPasswordEnv: cfg.LDAP.BindPasswordEnv,
		AcquireTimeout:  cfg.LDAP.AcquireTimeout,
		DialTimeout:     cfg.LDAP.DialTimeout,
	}, log)
	failOnError(log, err, "configuring LDAP pool")

	exec := dbexec.New(pool, dbexec.DialectPostgres)

	repos := ingest.Repositories{
		Uploads:        repo.NewUploadRepository(exec),
		Certificates:   repo.NewCertificateRepository(exec),
		CRLs:           repo.NewCrlRepository(exec),
		MasterLists:    repo.NewMasterListRepository(exec),
		DeviationLists: repo.NewDeviationListRepository(exec),
		Validations:    repo.NewValidationRepository(exec),
		LdifStructures: repo.NewLdifStructureRepository(exec),
	}

	ldapWriter := ldapdir.New(ldapPool, ldapdir.Config{
		BaseDN:       cfg.LDAP.BaseDN,
		DataBranch:   cfg.LDAP.DataBranch,
		NCDataBranch: cfg.LDAP.NCDataBranch,
	}, log)

	prog := progress.New(log)

	trustAnchor, err := loadTrustAnchor(cfg.TrustAnchorPath)
	failOnError(log, err, "loading Passive Authentication trust anchor")

	manualDir := filepath.Join(cfg.UploadDir, "manual")
	processor := ingest.NewProcessor(repos, ldapWriter, prog, log, clock.New(), trustAnchor, manualDir)

	uploadCoordinator := upload.NewCoordinator(repos.Uploads, cfg.UploadDir)

	var authGate *authaudit.Gate
	if cfg.Auth.Enabled {
		secret := []byte(os.Getenv(cfg.Auth.SecretEnv))
		authGate, err = authaudit.NewGate(secret, cfg.Auth.PublicPathPatterns)
		failOnError(log, err, "configuring authentication gate")
	}
	authRecorder := authaudit.NewRecorder(repo.NewAuthAuditRepository(exec))

	app := &appContext{
		cfg:        cfg,
		log:        log,
		processor:  processor,
		uploads:    uploadCoordinator,
		progress:   prog,
		authGate:   authGate,
		authRec:    authRecorder,
		validation: repos.Validations,
		stats:      repo.NewStatisticsRepository(exec),
	}

	log.Info("pkd-ingestd starting", zap.Int("port", cfg.ServerPort), zap.Int("workers", cfg.WorkerCount))

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.ServerPort),
		Handler: app.router(),
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http server exited", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("pkd-ingestd shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}
}

// router mounts the illustrative HTTP surface: health checks, the
// upload intake endpoint, a progress SSE stream and a metrics
// endpoint. It is deliberately thin — the ingestion core's real
// behavior lives in ingest.Processor and upload.Coordinator, not in
// handler bodies.
func (a *appContext) router() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE"},
	}))

	r.Get("/api/health", a.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(a.authenticate)
		r.Post("/api/upload/ldif", a.handleUploadLDIF)
		r.Get("/api/upload/{id}/progress", a.handleProgressStream)
		r.Post("/api/upload/{id}/parse", a.handleManualParse)
		r.Post("/api/upload/{id}/validate", a.handleManualValidate)
		r.Post("/api/upload/{id}/ldap", a.handleManualLdapFlush)
		r.Delete("/api/upload/{id}", a.handleUploadDelete)
	})

	return r
}

func (a *appContext) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.authGate == nil || a.authGate.IsPublic(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		if _, err := a.authGate.Authenticate(r.Header.Get("Authorization")); err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *appContext) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

func (a *appContext) handleUploadLDIF(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	mode := core.ModeAuto
	if r.URL.Query().Get("mode") == "manual" {
		mode = core.ModeManual
	}
	ext := strings.TrimPrefix(filepath.Ext(header.Filename), ".")

	outcome, err := a.uploads.Accept(r.Context(), header.Filename, ext, file, mode)
	if err != nil {
		a.log.Error("upload rejected", zap.Error(err), zap.String("filename", header.Filename))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	actor := r.Header.Get("X-Username")
	if err := a.authRec.Record(r.Context(), core.AuthAudit{
		Username:      actor,
		OperationType: string(authaudit.OpFileUpload),
		ResourceID:    outcome.Upload.ID,
		IP:            r.RemoteAddr,
		Success:       true,
	}); err != nil {
		a.log.Warn("failed to record audit entry", zap.Error(err))
	}

	if outcome.Created && mode == core.ModeAuto {
		go a.runAutoIngest(outcome.Upload)
	}

	w.WriteHeader(http.StatusAccepted)
	fmt.Fprintf(w, `{"id":%q,"created":%t}`, outcome.Upload.ID, outcome.Created)
}

// handleManualParse drives MANUAL strategy stage 1: read the staged
// upload file from disk and hand it to ingest.ParseManual.
func (a *appContext) handleManualParse(w http.ResponseWriter, r *http.Request) {
	uploadID := chi.URLParam(r, "id")
	u, err := a.uploads.FindByID(r.Context(), uploadID)
	if err != nil {
		http.Error(w, "upload not found", http.StatusNotFound)
		return
	}
	raw, err := os.ReadFile(u.FilePath)
	if err != nil {
		a.log.Error("reading upload file for manual parse", zap.Error(err), zap.String("uploadId", uploadID))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := a.processor.ParseManual(r.Context(), uploadID, raw); err != nil {
		a.log.Error("manual parse stage failed", zap.Error(err), zap.String("uploadId", uploadID))
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleManualValidate drives MANUAL strategy stage 2: classify,
// validate and persist the staged entries to the database only.
func (a *appContext) handleManualValidate(w http.ResponseWriter, r *http.Request) {
	uploadID := chi.URLParam(r, "id")
	if err := a.processor.ValidateManual(r.Context(), uploadID); err != nil {
		a.log.Error("manual validate stage failed", zap.Error(err), zap.String("uploadId", uploadID))
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleManualLdapFlush drives MANUAL strategy stage 3: mirror every
// certificate stage 2 persisted but hasn't reached LDAP yet.
func (a *appContext) handleManualLdapFlush(w http.ResponseWriter, r *http.Request) {
	uploadID := chi.URLParam(r, "id")
	if err := a.processor.FlushLdapManual(r.Context(), uploadID); err != nil {
		a.log.Error("manual ldap flush stage failed", zap.Error(err), zap.String("uploadId", uploadID))
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleUploadDelete cleans up a failed or abandoned MANUAL upload
// (spec section 4.10).
func (a *appContext) handleUploadDelete(w http.ResponseWriter, r *http.Request) {
	uploadID := chi.URLParam(r, "id")
	if err := a.uploads.Delete(r.Context(), uploadID); err != nil {
		a.log.Error("upload delete failed", zap.Error(err), zap.String("uploadId", uploadID))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// runAutoIngest dispatches a freshly-accepted AUTO-mode upload into
// the ingestion pipeline on its own goroutine, the way an HTTP handler
// hands a long job to a background worker rather than holding the
// request open for the full parse/validate/persist/mirror sequence.
func (a *appContext) runAutoIngest(u core.Upload) {
	ctx := context.Background()
	a.progress.Send(progress.Event{UploadID: u.ID, Stage: progress.StageUploadCompleted})

	raw, err := os.ReadFile(u.FilePath)
	if err != nil {
		a.log.Error("reading upload file for ingestion", zap.Error(err), zap.String("uploadId", u.ID))
		a.progress.Send(progress.Event{UploadID: u.ID, Stage: progress.StageFailed, ErrorMessage: err.Error()})
		return
	}

	var procErr error
	switch u.FileFormat {
	case core.FormatML:
		procErr = a.processor.ProcessMasterListContent(ctx, u.ID, raw, true, nil)
	case core.FormatLDIF:
		procErr = a.processor.ProcessLdifAuto(ctx, u.ID, ldifEntries(raw), true)
	default:
		procErr = fmt.Errorf("automatic ingestion of format %s is not yet wired", u.FileFormat)
	}
	if procErr != nil {
		a.log.Error("automatic ingestion failed", zap.Error(procErr), zap.String("uploadId", u.ID))
		a.progress.Send(progress.Event{UploadID: u.ID, Stage: progress.StageFailed, ErrorMessage: procErr.Error()})
		return
	}
	a.progress.Send(progress.Event{UploadID: u.ID, Stage: progress.StageCompleted})
}

// ldifEntries adapts a decoded byte buffer into the yield-style
// iterator ingest.ProcessLdifAuto expects, so the HTTP layer stays
// ignorant of the parser's streaming contract.
func ldifEntries(raw []byte) func(yield func(ldif.Entry) error) error {
	return func(yield func(ldif.Entry) error) error {
		return ldif.Decode(bytes.NewReader(raw), yield)
	}
}

// handleProgressStream polls the progress snapshot rather than
// registering a live subscriber: Manager has no Unsubscribe, so a
// poll loop bounded to the request's lifetime is the simpler contract
// for an HTTP handler that must clean up on client disconnect.
func (a *appContext) handleProgressStream(w http.ResponseWriter, r *http.Request) {
	uploadID := chi.URLParam(r, "id")
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	var lastSent progress.Event
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			ev, ok := a.progress.Snapshot(uploadID)
			if !ok || reflect.DeepEqual(ev, lastSent) {
				continue
			}
			frame, err := progress.SSEFrame(ev)
			if err != nil {
				continue
			}
			fmt.Fprint(w, frame)
			flusher.Flush()
			lastSent = ev
			if ev.Stage == progress.StageCompleted || ev.Stage == progress.StageFailed {
				return
			}
		}
	}
}

// loadTrustAnchor reads a single PEM-encoded certificate used as the
// Passive Authentication anchor (spec section 4.7). A blank path is
// accepted: CMS signature verification is then skipped and reported
// as "not checked", matching cmsx.Extract's degrade-gracefully
// contract.
func loadTrustAnchor(path string) (*x509.Certificate, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading trust anchor: %w", err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("trust anchor %s is not PEM-encoded", path)
	}
	return x509.ParseCertificate(block.Bytes)
}

// failOnError matches Boulder's cmd.FailOnError idiom: log the fatal
// cause with its wrapping context and exit, rather than letting a
// panic surface a stack trace to an operator.
func failOnError(log *zap.Logger, err error, context string) {
	if err == nil {
		return
	}
	if log != nil {
		log.Fatal(context, zap.Error(err))
	} else {
		fmt.Fprintf(os.Stderr, "%s: %v\n", context, err)
		os.Exit(1)
	}
}
