// Command deskgate-loadtest drives sign-in and session validation through an
// Engine and prints latency percentiles per phase.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/deskgate"
	"github.com/MrEthical07/deskgate/identity"
	"github.com/MrEthical07/deskgate/password"
)

const (
	loadTenant   = "load"
	loadPassword = "Load-Test-Pass-1"
)

func main() {
	var (
		users       = flag.Int("users", 1000, "number of identities to seed")
		concurrency = flag.Int("concurrency", 64, "number of concurrent workers")
		ops         = flag.Int("ops", 20000, "operations per phase (sign-in + validate)")
		failRatio   = flag.Float64("fail-ratio", 0.1, "share of sign-ins sent with a wrong password")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	)
	flag.Parse()

	if *users <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "users, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	cfg := deskgate.DefaultConfig()
	cfg.SignIn.RequireCaptcha = false
	cfg.PasswordReset.Enabled = false
	cfg.Security.EnumerationDelay = 0
	cfg.Progress.Secret = bytes.Repeat([]byte("p"), 32)
	cfg.Session.PrivateKey = bytes.Repeat([]byte("s"), 32)
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	// Keep the sign-in ledger out of the way of deliberate failures.
	cfg.RateLimit.SignIn.Ceiling = 1 << 20

	fmt.Printf("seeding %d identities...\n", *users)
	startSeed := time.Now()
	store, err := seedStore(cfg, *users)
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	engine, err := deskgate.New().
		WithConfig(cfg).
		WithRedis(client).
		WithCredentialStore(store).
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))).
		WithMetricsEnabled(true).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	tokens := make([]string, 0, *ops)
	var tokensMu sync.Mutex

	signInStats := runPhase(*ops, *concurrency, func(r *rand.Rand, worker int) error {
		pw := loadPassword
		if r.Float64() < *failRatio {
			pw = "wrong-password"
		}
		reqCtx := deskgate.WithTenantID(ctx, loadTenant)
		reqCtx = deskgate.WithClientIP(reqCtx, fmt.Sprintf("10.0.%d.%d", worker/250, worker%250+1))
		res, err := engine.SignIn(reqCtx, deskgate.Request{
			Identifier: fmt.Sprintf("user%d", r.Intn(*users)),
			Password:   pw,
		})
		if err != nil {
			return err
		}
		tokensMu.Lock()
		tokens = append(tokens, res.SessionToken)
		tokensMu.Unlock()
		return nil
	})

	if len(tokens) == 0 {
		fmt.Fprintln(os.Stderr, "no session was issued, skipping validate phase")
		os.Exit(1)
	}

	validateCtx := deskgate.WithTenantID(ctx, loadTenant)
	validateStats := runPhase(*ops, *concurrency, func(r *rand.Rand, _ int) error {
		_, err := engine.ValidateSession(validateCtx, tokens[r.Intn(len(tokens))])
		return err
	})

	fmt.Println("---- results ----")
	printStats("signin", signInStats)
	printStats("validate", validateStats)

	snap := engine.MetricsSnapshot()
	fmt.Printf("counters: signin_success=%d signin_failure=%d\n",
		snap.Counters[deskgate.MetricSignInSuccess],
		snap.Counters[deskgate.MetricSignInFailure],
	)
}

func seedStore(cfg deskgate.Config, n int) (*identity.MemoryStore, error) {
	hasher, err := password.NewHasher(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}
	// One hash serves every identity; seeding cost is not what is measured.
	hash, err := hasher.Hash(loadPassword)
	if err != nil {
		return nil, err
	}

	records := make([]identity.Record, n)
	for i := range records {
		records[i] = identity.Record{
			ID:           int64(i + 1),
			TenantID:     loadTenant,
			Username:     fmt.Sprintf("user%d", i),
			Email:        fmt.Sprintf("user%d@load.test", i),
			PasswordHash: hash,
			Active:       true,
			Roles:        []string{"agent"},
		}
	}
	return identity.NewMemoryStore(records...), nil
}

// runPhase runs op ops times across concurrency workers.
func runPhase(ops, concurrency int, op func(r *rand.Rand, worker int) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := op(r, worker)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
