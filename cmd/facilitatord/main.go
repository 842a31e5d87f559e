// facilitatord runs a t402 payment facilitator: it wires the configured
// chain backends into the engine and serves the verify/settle/supported API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"

	t402 "github.com/t402-io/t402-go"
	"github.com/t402-io/t402-go/config"
	"github.com/t402-io/t402-go/events"
	"github.com/t402-io/t402-go/facilitator"
	"github.com/t402-io/t402-go/logger"
	"github.com/t402-io/t402-go/metrics"
	"github.com/t402-io/t402-go/ratelimit"
	"github.com/t402-io/t402-go/schemes"
	"github.com/t402-io/t402-go/schemes/evm"
	"github.com/t402-io/t402-go/schemes/svm"
	"github.com/t402-io/t402-go/schemes/ton"
	"github.com/t402-io/t402-go/schemes/tron"
	"github.com/t402-io/t402-go/settlement"
	"github.com/t402-io/t402-go/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return err
	}

	var log logger.Logger
	if cfg.IsDevelopment() {
		log = logger.NewDevelopmentLogger("debug")
	} else {
		log = logger.NewZapLogger("info")
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()

	engineOpts := []t402.Option{
		t402.WithLogger(log),
		t402.WithMetrics(metrics.NewPrometheusRecorder()),
		t402.WithLocker(settlement.NewRedisLocker(rdb)),
		t402.WithVerifyTimeout(cfg.VerifyTimeout),
		t402.WithSettleTimeout(cfg.SettleTimeout),
	}
	if len(cfg.KafkaBrokers) > 0 {
		publisher, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, log)
		if err != nil {
			return fmt.Errorf("connect kafka: %w", err)
		}
		engineOpts = append(engineOpts, t402.WithEvents(publisher))
	}

	engine := t402.New(engineOpts...)
	defer engine.Close()

	serverOpts := []facilitator.Option{
		facilitator.WithLogger(log),
		facilitator.WithRateLimiter(ratelimit.NewRedisLimiter(rdb, cfg.RateLimitRequests, cfg.RateLimitWindow)),
		facilitator.WithReadinessCheck("redis", func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}),
	}
	if cfg.APIKeyRequired {
		serverOpts = append(serverOpts, facilitator.WithAPIKeys(cfg.APIKeys))
	}

	serverOpts, err = registerSchemes(engine, cfg, log, serverOpts)
	if err != nil {
		return err
	}

	server := facilitator.New(engine, serverOpts...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return server.Run(ctx, ":"+cfg.Port)
}

// registerSchemes builds an adapter per configured chain backend and
// registers it for its family pattern and for every built-in network of
// that family, so /supported lists concrete networks.
func registerSchemes(engine *t402.T402, cfg *config.Config, log logger.Logger, serverOpts []facilitator.Option) ([]facilitator.Option, error) {
	chains := types.DefaultChainTable()

	if cfg.EVM.RPCURL != "" {
		client, err := evm.NewRPCClient(cfg.EVM.RPCURL, cfg.EVM.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("connect evm rpc: %w", err)
		}
		var signer evm.Signer
		if cfg.EVM.PrivateKey != "" {
			signer = client
		}

		exact := evm.NewExactScheme(client, signer, evm.WithLogger(log))
		uptoOpts := []evm.Option{evm.WithLogger(log)}
		if cfg.EVM.Router != "" {
			for network := range chains {
				if strings.HasPrefix(network, "eip155:") {
					uptoOpts = append(uptoOpts, evm.WithRouter(network, cfg.EVM.Router))
				}
			}
		}
		upto := evm.NewUptoScheme(client, signer, uptoOpts...)

		if err := registerFamily(engine, chains, "eip155:", exact, upto); err != nil {
			return nil, err
		}
		serverOpts = append(serverOpts, facilitator.WithReadinessCheck("evm-rpc", func(ctx context.Context) error {
			_, err := client.ChainID(ctx)
			return err
		}))
	}

	if cfg.Tron.RPCURL != "" {
		node := tron.NewHTTPNode(cfg.Tron.RPCURL, cfg.Tron.APIKey)
		exact := tron.NewExactScheme(node, tron.WithLogger(log))
		if err := registerFamily(engine, chains, "tron:", exact); err != nil {
			return nil, err
		}
	}

	if cfg.Ton.RPCURL != "" {
		node := ton.NewHTTPNode(cfg.Ton.RPCURL, cfg.Ton.APIKey)
		exact := ton.NewExactScheme(node, ton.WithLogger(log))
		if err := registerFamily(engine, chains, "ton:", exact); err != nil {
			return nil, err
		}
	}

	if cfg.Solana.RPCURL != "" {
		node := svm.NewHTTPNode(cfg.Solana.RPCURL)
		var signers []string
		if cfg.Solana.FeePayer != "" {
			signers = []string{cfg.Solana.FeePayer}
		}
		exact := svm.NewExactScheme(node, signers, svm.WithLogger(log))
		if err := registerFamily(engine, chains, "solana:", exact); err != nil {
			return nil, err
		}
	}

	return serverOpts, nil
}

func registerFamily(engine *t402.T402, chains map[string]types.ChainConfig, prefix string, adapters ...schemes.Facilitator) error {
	for _, adapter := range adapters {
		if err := engine.RegisterScheme(types.ProtocolVersion, prefix+"*", adapter); err != nil {
			return err
		}
		for network := range chains {
			if !strings.HasPrefix(network, prefix) {
				continue
			}
			if err := engine.RegisterScheme(types.ProtocolVersion, network, adapter); err != nil {
				return err
			}
		}
	}
	return nil
}
