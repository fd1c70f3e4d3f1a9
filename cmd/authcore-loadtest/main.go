package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/permission"
)

type ownerState struct {
	id      string
	access  string
	refresh string
	mu      sync.Mutex
}

// staticUsers answers every lookup with an active account holding role "member".
type staticUsers struct{}

func (staticUsers) FindByID(_ context.Context, id string) (authcore.UserRecord, error) {
	return authcore.UserRecord{UserID: id, Identifier: id, Roles: []string{"member"}}, nil
}

func (u staticUsers) FindByIdentifier(ctx context.Context, identifier string) (authcore.UserRecord, error) {
	return u.FindByID(ctx, identifier)
}

func main() {
	var (
		owners      = flag.Int("owners", 10000, "number of owners to seed")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 100000, "operations per phase (authorize + rotate)")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, AUTHCORE_STORE_REDIS_ADDR or miniredis is used")
		prefix      = flag.String("prefix", "lt", "redis key prefix")
	)
	flag.Parse()

	if *owners <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "owners, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("AUTHCORE_STORE_REDIS_ADDR")
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

	cfg := authcore.DefaultConfig()
	cfg.Token.SigningMethod = "hs256"
	cfg.Token.PrivateKey = bytes.Repeat([]byte("l"), 32)
	cfg.Token.AccessTTL = time.Hour
	cfg.Token.RefreshTTL = 24 * time.Hour
	cfg.Store.Backend = authcore.BackendRedis
	cfg.Store.RedisPrefix = *prefix
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true

	engine, err := authcore.New().
		WithConfig(cfg).
		WithRedis(client).
		WithUserLookup(staticUsers{}).
		WithPolicy(permission.PolicySet{Roles: map[string]map[string][]string{
			"member": {"plan": {"read"}},
		}}).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	states := make([]ownerState, *owners)
	fmt.Printf("seeding %d owners...\n", *owners)
	startSeed := time.Now()
	for i := range states {
		id := "owner-" + strconv.Itoa(i)
		pair, err := engine.Tokens().Issue(ctx, authcore.UserRecord{UserID: id})
		if err != nil {
			fmt.Fprintf(os.Stderr, "issue failed: %v\n", err)
			os.Exit(1)
		}
		states[i].id = id
		states[i].access = authcore.BearerPrefix + pair.AccessToken
		states[i].refresh = pair.RefreshToken
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	perm := authcore.Permission{Resource: "plan", Action: "read"}
	authorizeStats := runPhase(states, *ops, *concurrency, func(s *ownerState) error {
		_, _, err := engine.Authorize(ctx, s.access, perm)
		return err
	})
	rotateStats := runPhase(states, *ops, *concurrency, func(s *ownerState) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		pair, err := engine.Refresh(ctx, s.refresh)
		if err != nil {
			return err
		}
		s.refresh = pair.RefreshToken
		return nil
	})

	fmt.Println("---- results ----")
	printStats("authorize", authorizeStats)
	printStats("rotate", rotateStats)

	snap := engine.MetricsSnapshot()
	fmt.Printf("reuse_detected=%d store_unavailable=%d\n",
		snap.Counters[authcore.MetricRefreshReuseDetected],
		snap.Counters[authcore.MetricStoreUnavailable])
}

func runPhase(states []ownerState, ops, concurrency int, op func(*ownerState) error) phaseStats {
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
				state := &states[r.Intn(len(states))]
				t0 := time.Now()
				err := op(state)
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
