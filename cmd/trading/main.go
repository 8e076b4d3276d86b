package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/fowxnm/HuoBTC-Pro-sub000/internal/config"
	"github.com/fowxnm/HuoBTC-Pro-sub000/internal/metrics"
	"github.com/fowxnm/HuoBTC-Pro-sub000/internal/pricestore"
	"github.com/fowxnm/HuoBTC-Pro-sub000/internal/repository"
	"github.com/fowxnm/HuoBTC-Pro-sub000/internal/risk"
	"github.com/fowxnm/HuoBTC-Pro-sub000/internal/scheduler"
	"github.com/fowxnm/HuoBTC-Pro-sub000/internal/service"
	tradingws "github.com/fowxnm/HuoBTC-Pro-sub000/internal/ws"
)

// SimpleIDGen 简单 ID 生成器（并发安全）
type SimpleIDGen struct {
	workerID int64
	seq      int64
}

func (g *SimpleIDGen) NextID() int64 {
	seq := atomic.AddInt64(&g.seq, 1)
	return time.Now().UnixNano()/1e6*1000 + g.workerID*100 + seq%100
}

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", cfg.ServiceName).Logger()
	logger.Info().Msg("starting")

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	// 连接数据库
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		logger.Fatal().Err(err).Msg("open database")
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)

	dbPingCtx, dbPingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer dbPingCancel()
	if err := db.PingContext(dbPingCtx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}
	logger.Info().Msg("connected to postgresql")

	// 连接 Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})
	defer redisClient.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	redisPingCtx, redisPingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer redisPingCancel()
	if err := redisClient.Ping(redisPingCtx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}
	logger.Info().Msg("connected to redis")

	// 组装服务
	m := metrics.New()
	priceStore := pricestore.New(cfg.PriceCapacity)
	feed := pricestore.NewFeed(redisClient, priceStore, cfg.TickChannel, logger)
	riskEval := risk.NewEvaluator(risk.Config{
		MaxLeverage:      cfg.MaxLeverage,
		WinSlippageRate:  cfg.WinSlippageRate,
		LoseSlippageRate: cfg.LoseSlippageRate,
	})
	orderRepo := repository.NewOrderRepository(db)
	accountRepo := repository.NewAccountRepository(db)
	idGen := &SimpleIDGen{workerID: cfg.WorkerID}

	engine := service.NewTradeEngine(orderRepo, accountRepo, priceStore, riskEval, idGen, cfg.PayoutRates, m, logger)
	engine.SetPublisher(tradingws.NewPublisher(redisClient, cfg.PrivateUserEventChannel))

	sched := scheduler.New(redisClient, cfg.SettleQueueKey, cfg.SettlePollInterval, engine, orderRepo, m, logger)
	engine.SetRegistrar(sched)

	// 启动前恢复：任务队列不可靠，唤醒时间一律从订单表重建
	recoverCtx, recoverCancel := context.WithTimeout(ctx, 30*time.Second)
	recovered, err := sched.RecoverPendingJobs(recoverCtx)
	recoverCancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("recover pending jobs")
	}
	logger.Info().Int("count", recovered).Msg("pending settle jobs recovered")

	go feed.Run(ctx)
	sched.Start(ctx)

	// 对账扫描：结算失败的订单保持 open，这里定期重新登记
	reconcile := cron.New()
	if _, err := reconcile.AddFunc(cfg.ReconcileSpec, func() {
		sweepCtx, sweepCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer sweepCancel()
		if _, err := sched.RecoverPendingJobs(sweepCtx); err != nil {
			logger.Error().Err(err).Msg("reconcile sweep")
		}
	}); err != nil {
		logger.Fatal().Err(err).Msg("register reconcile job")
	}
	reconcile.Start()

	// HTTP 服务
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	mux.Handle("/metrics", m.Handler())

	mux.HandleFunc("/v1/order", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			handleOpenOrder(w, r, engine)
		case http.MethodDelete:
			handleCloseOrder(w, r, engine)
		case http.MethodGet:
			handleGetOrder(w, r, engine)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/v1/openOrders", func(w http.ResponseWriter, r *http.Request) {
		userID, _ := strconv.ParseInt(r.URL.Query().Get("userId"), 10, 64)
		symbol := r.URL.Query().Get("symbol")
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

		orders, err := engine.ListOpenOrders(r.Context(), userID, symbol, limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, orders)
	})

	mux.HandleFunc("/v1/allOrders", func(w http.ResponseWriter, r *http.Request) {
		userID, _ := strconv.ParseInt(r.URL.Query().Get("userId"), 10, 64)
		symbol := r.URL.Query().Get("symbol")
		startTime, _ := strconv.ParseInt(r.URL.Query().Get("startTime"), 10, 64)
		endTime, _ := strconv.ParseInt(r.URL.Query().Get("endTime"), 10, 64)
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

		orders, err := engine.ListOrders(r.Context(), userID, symbol, startTime, endTime, limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, orders)
	})

	mux.HandleFunc("/v1/account", func(w http.ResponseWriter, r *http.Request) {
		userID, _ := strconv.ParseInt(r.URL.Query().Get("userId"), 10, 64)
		account, err := engine.GetAccount(r.Context(), userID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		writeJSON(w, account)
	})

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: mux,
	}

	go func() {
		logger.Info().Int("port", cfg.HTTPPort).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server")
		}
	}()

	// 等待退出信号
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("shutting down")
	reconcile.Stop()
	sched.Stop()
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)
	logger.Info().Msg("shutdown complete")
}

// OpenOrderRequest 开仓请求
type OpenOrderRequest struct {
	Symbol        string `json:"symbol"`
	ProductType   string `json:"productType"`
	Direction     string `json:"direction"`
	Leverage      int    `json:"leverage"`
	Margin        string `json:"margin"`
	BinarySeconds int    `json:"binarySeconds"`
}

func handleOpenOrder(w http.ResponseWriter, r *http.Request, engine *service.TradeEngine) {
	userID, _ := strconv.ParseInt(r.URL.Query().Get("userId"), 10, 64)
	if userID == 0 {
		http.Error(w, "userId required", http.StatusBadRequest)
		return
	}

	var req OpenOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	margin, err := decimal.NewFromString(req.Margin)
	if err != nil {
		http.Error(w, "invalid margin", http.StatusBadRequest)
		return
	}

	resp, err := engine.OpenOrder(r.Context(), &service.OpenOrderRequest{
		UserID:        userID,
		Symbol:        req.Symbol,
		ProductType:   service.ParseProductType(req.ProductType),
		Direction:     service.ParseDirection(req.Direction),
		Leverage:      req.Leverage,
		Margin:        margin,
		BinarySeconds: req.BinarySeconds,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if resp.ErrorCode != "" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"code": resp.ErrorCode})
		return
	}
	writeJSON(w, resp.Order)
}

func handleCloseOrder(w http.ResponseWriter, r *http.Request, engine *service.TradeEngine) {
	userID, _ := strconv.ParseInt(r.URL.Query().Get("userId"), 10, 64)
	orderID, _ := strconv.ParseInt(r.URL.Query().Get("orderId"), 10, 64)

	resp, err := engine.CloseOrder(r.Context(), orderID, userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if resp.ErrorCode != "" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"code": resp.ErrorCode})
		return
	}
	writeJSON(w, resp.Order)
}

func handleGetOrder(w http.ResponseWriter, r *http.Request, engine *service.TradeEngine) {
	userID, _ := strconv.ParseInt(r.URL.Query().Get("userId"), 10, 64)
	orderID, _ := strconv.ParseInt(r.URL.Query().Get("orderId"), 10, 64)

	order, err := engine.GetOrder(r.Context(), userID, orderID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, order)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
