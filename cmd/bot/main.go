package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"leggedarb/internal/clob"
	"leggedarb/internal/config"
	cronrunner "leggedarb/internal/cron"
	"leggedarb/internal/db"
	"leggedarb/internal/engine"
	"leggedarb/internal/execution"
	"leggedarb/internal/gamma"
	"leggedarb/internal/handler"
	"leggedarb/internal/logger"
	"leggedarb/internal/models"
	"leggedarb/internal/quotes"
	"leggedarb/internal/recorder"
	"leggedarb/internal/safety"
)

// runnerHolder hands the live cycle runner to the HTTP status surface.
type runnerHolder struct {
	mu sync.RWMutex
	r  *engine.Runner
}

func (h *runnerHolder) set(r *engine.Runner) {
	h.mu.Lock()
	h.r = r
	h.mu.Unlock()
}

func (h *runnerHolder) snapshot() (engine.StatusView, bool) {
	h.mu.RLock()
	r := h.r
	h.mu.RUnlock()
	if r == nil {
		return engine.StatusView{}, false
	}
	return r.Status()
}

func main() {
	var (
		flagConfig = flag.String("config", "", "config file path (overrides LA_CONFIG)")
		flagMode   = flag.String("mode", "", "override trading mode: paper or live")
		flagAsset  = flag.String("asset", "", "override asset: BTC or ETH")
		flagHours  = flag.Float64("hours", 0, "run duration in hours, 0 runs until signaled")
		flagOnce   = flag.Bool("once", false, "run a single cycle and exit")
	)
	flag.Parse()

	_ = godotenv.Load()

	cfgPath := *flagConfig
	if cfgPath == "" {
		cfgPath = os.Getenv("LA_CONFIG")
	}
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}
	envOnly := false
	if raw := os.Getenv("LA_ENV_ONLY"); raw != "" {
		envOnly = strings.EqualFold(raw, "true") || raw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}
	if *flagMode != "" {
		cfg.App.Mode = *flagMode
	}
	if *flagAsset != "" {
		cfg.App.Asset = *flagAsset
	}
	if err := cfg.Validate(); err != nil {
		panic(err)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	log.Info("starting",
		zap.String("asset", cfg.App.Asset),
		zap.String("mode", cfg.App.Mode))

	session := recorder.NewSession(cfg.App.Asset, cfg.App.Mode)
	sinks := []recorder.Recorder{session}

	jsonl, err := recorder.NewJSONL(cfg.Recorder.Dir, session.ID)
	if err != nil {
		log.Fatal("session file open failed", zap.Error(err))
	}
	sinks = append(sinks, jsonl)

	var dbConn *db.DB
	if cfg.DB.Enabled {
		conn, err := db.Open(cfg.DB)
		if err != nil {
			log.Fatal("db open failed", zap.Error(err))
		}
		defer db.Close(conn)
		if err := db.SetTimezone(conn, cfg.DB.Timezone); err != nil {
			log.Warn("failed to set timezone", zap.Error(err))
		}
		if err := db.AutoMigrate(conn); err != nil {
			log.Fatal("auto-migrate failed", zap.Error(err))
		}
		dbSink, err := recorder.NewDB(conn.Gorm, session)
		if err != nil {
			log.Fatal("db recorder init failed", zap.Error(err))
		}
		sinks = append(sinks, dbSink)
		dbConn = conn
	}
	rec := &recorder.Multi{Sinks: sinks}
	defer rec.Close()

	gammaHTTP := &http.Client{Timeout: cfg.Gamma.Timeout}
	gammaClient := gamma.NewClient(gammaHTTP, cfg.Gamma.BaseURL)

	clobHTTP := &http.Client{Timeout: cfg.ClobREST.Timeout}
	clobClient := clob.NewClient(clobHTTP, cfg.ClobREST.BaseURL, cfg.ClobREST.RateLimit, cfg.ClobREST.RateBurst)

	var port execution.Port
	if cfg.IsPaper() {
		port = execution.NewPaperPort(log, cfg.Paper.RealisticFills, cfg.Paper.FillProbability, time.Now().UnixNano())
	} else {
		signer, err := clob.NewSigner(cfg.Live.PrivateKey, cfg.Live.Funder, cfg.Live.SignatureType)
		if err != nil {
			log.Fatal("order signer init failed", zap.Error(err))
		}
		clobClient.WithAuth(clob.Credentials{
			APIKey:     cfg.Live.APIKey,
			Secret:     cfg.Live.APISecret,
			Passphrase: cfg.Live.APIPassphrase,
		}, signer)
		port = execution.NewLivePort(log, clobClient)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *flagHours > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(*flagHours*float64(time.Hour)))
		defer cancel()
	}

	holder := &runnerHolder{}

	var srv *http.Server
	if cfg.Server.Enabled {
		if strings.EqualFold(cfg.App.Env, "dev") {
			gin.SetMode(gin.DebugMode)
		} else {
			gin.SetMode(gin.ReleaseMode)
		}
		router := gin.New()
		router.Use(gin.Recovery())

		(&handler.HealthHandler{DB: dbConn}).Register(router)
		statusHandler := &handler.StatusHandler{
			Asset:    cfg.App.Asset,
			Mode:     cfg.App.Mode,
			Session:  session,
			Snapshot: holder.snapshot,
		}
		statusHandler.Register(router)

		srv = &http.Server{Addr: cfg.Server.HTTPAddr, Handler: router}
		go func() {
			log.Info("http server listening", zap.String("addr", cfg.Server.HTTPAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("http server failed", zap.Error(err))
			}
		}()
	}

	cronRunner := cronrunner.New(log, ctx)
	if cfg.Cron.Enabled {
		_, err := cronRunner.Add(cfg.Cron.SessionSummary, func(context.Context) {
			log.Info("session summary", zap.String("summary", session.Stats().Summary()))
		})
		if err != nil {
			log.Fatal("cron schedule invalid", zap.Error(err))
		}
		cronRunner.Start()
		defer cronRunner.Stop()
	}

	runCycles(ctx, log, cfg, gammaClient, clobClient, port, rec, holder, *flagOnce)

	if srv != nil {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}
	log.Info("session finished", zap.String("summary", session.Stats().Summary()))
}

// runCycles discovers the active market, runs it to a terminal state, waits
// out the remainder of the cycle and rolls to the next one. Only one cycle's
// position exists at a time.
func runCycles(
	ctx context.Context,
	log *zap.Logger,
	cfg config.Config,
	gammaClient *gamma.Client,
	clobClient *clob.Client,
	port execution.Port,
	rec recorder.Recorder,
	holder *runnerHolder,
	once bool,
) {
	params := engine.Params{
		TargetMargin:     decimal.NewFromFloat(cfg.Trading.TargetMargin),
		MinProfit:        decimal.NewFromFloat(cfg.Trading.MinProfit),
		PositionSize:     decimal.NewFromFloat(cfg.Trading.PositionSizeUSD),
		RequoteTolerance: decimal.NewFromFloat(cfg.Trading.RequoteTolerance),
	}
	controller := safety.NewController(
		decimal.NewFromFloat(cfg.Trading.TargetMargin),
		decimal.NewFromFloat(cfg.Trading.MinProfit),
		decimal.NewFromFloat(cfg.Trading.StopLossThreshold),
		time.Duration(cfg.Trading.GammaStopMinutes*float64(time.Minute)),
	)

	for ctx.Err() == nil {
		cycle, err := gammaClient.FindNextCycle(ctx, cfg.App.Asset, cfg.Trading.MinTimeRemaining)
		if err != nil {
			log.Warn("market discovery failed", zap.Error(err))
			if !sleepInterruptible(ctx, 15*time.Second) {
				return
			}
			continue
		}

		cycleCtx, cancel := context.WithCancel(ctx)
		source := buildSource(cycleCtx, log, cfg, clobClient, cycle)

		runner := engine.NewRunner(engine.RunnerOptions{
			Log:          log,
			Params:       params,
			TickInterval: cfg.Trading.TickInterval,
			Port:         port,
			Source:       source,
			Recorder:     rec,
			Safety:       controller,
			Cycle:        cycle,
		})
		holder.set(runner)

		res, err := runner.Run(cycleCtx)
		holder.set(nil)
		cancel()
		if err != nil && ctx.Err() != nil {
			return
		}
		if res != nil {
			log.Info("cycle result",
				zap.String("cycle", cycle.Slug),
				zap.String("state", string(res.FinalState)),
				zap.String("trigger", res.Trigger))
		}
		if once {
			return
		}

		// FLAT and LOCKED both close the cycle for trading; hold off until
		// settlement before rolling forward.
		if wait := cycle.TimeToExpiry(time.Now().UTC()) + 5*time.Second; wait > 0 {
			log.Info("waiting for cycle settlement", zap.Duration("wait", wait))
			if !sleepInterruptible(ctx, wait) {
				return
			}
		}
	}
}

// buildSource backs the websocket cache with REST polling when streaming is
// enabled, otherwise polls REST alone.
func buildSource(ctx context.Context, log *zap.Logger, cfg config.Config, clobClient *clob.Client, cycle *models.MarketCycle) quotes.Source {
	rest := quotes.NewRESTSource(clobClient, cycle)
	if !cfg.ClobWS.Enabled {
		return rest
	}
	cache := quotes.NewStreamCache(cycle, cfg.Quotes.MaxAge)
	stream := clob.NewMarketStream(clob.MarketStreamOptions{
		URL:      cfg.ClobWS.URL,
		AssetIDs: []string{cycle.YesTokenID, cycle.NoTokenID},
		Logger:   log,
	})
	go func() {
		if err := stream.Run(ctx, cache.Apply); err != nil && ctx.Err() == nil {
			log.Warn("market stream stopped", zap.Error(err))
		}
	}()
	return &quotes.Fallback{Sources: []quotes.Source{cache, rest}}
}

func sleepInterruptible(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
