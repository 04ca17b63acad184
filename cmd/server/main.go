// cmd/server is the main entrypoint for one distributed object storage
// node: it wires the Redundancy Resolver, Local Store Facade, Worker
// Pool, Message Queue, Replicator, Read-Repair Engine, Handler Layer,
// and Watchdog Subscriber into one process and exposes the Gin HTTP
// surface for both clients and peers.
//
// Configuration is entirely via flags so a single binary can serve any
// role in the cluster.
//
// Example — 3-node cluster:
//
//	./server --id node1 --addr :8080 --data-dir /tmp/n1 \
//	         --peers node2=localhost:8081,node3=localhost:8082
//	./server --id node2 --addr :8081 --data-dir /tmp/n2 \
//	         --peers node1=localhost:8080,node3=localhost:8082
//	./server --id node3 --addr :8082 --data-dir /tmp/n3 \
//	         --peers node1=localhost:8080,node2=localhost:8081
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"distributed-objectstore/internal/api"
	"distributed-objectstore/internal/config"
	"distributed-objectstore/internal/handler"
	"distributed-objectstore/internal/notify"
	"distributed-objectstore/internal/objectmodel"
	"distributed-objectstore/internal/pool"
	"distributed-objectstore/internal/queue"
	"distributed-objectstore/internal/readrepair"
	"distributed-objectstore/internal/replication"
	"distributed-objectstore/internal/ring"
	"distributed-objectstore/internal/rpcclient"
	"distributed-objectstore/internal/store"
	"distributed-objectstore/internal/watchdog"
)

func main() {
	// ── Flags ───────────────────────────────────────────────────────────
	nodeID := flag.String("id", "node1", "unique node identifier")
	addr := flag.String("addr", ":8080", "listen address (host:port)")
	dataDir := flag.String("data-dir", "/tmp/objectstore", "directory for WAL and snapshots")
	peersFlag := flag.String("peers", "", "comma-separated list of peer nodes: id=host:port")
	replicationN := flag.Int("n", 3, "replication factor (N)")
	writeQuorum := flag.Int("w", 2, "write quorum (W)")
	readQuorum := flag.Int("r", 2, "read quorum (R)")
	deleteQuorum := flag.Int("d", 2, "delete quorum (D)")
	wdCPU := flag.Bool("wd-cpu-enabled", true, "enable the CPU watchdog")
	wdDisk := flag.Bool("wd-disk-enabled", true, "enable the disk watchdog")
	autoCompactionInterval := flag.Duration("auto-compaction-interval", 10*time.Minute, "minimum interval between opportunistic compaction passes")
	autoCompactionProcs := flag.Int("auto-compaction-parallel-procs", 1, "parallelism of an opportunistic compaction pass")
	requestTimeout := flag.Duration("request-timeout", 5*time.Second, "per-call peer RPC timeout")
	poolLimit := flag.Int("worker-pool-pending-limit", 200, "worker pool admission high-water mark")
	compactionPreWait := flag.Duration("compaction-pre-wait", 100*time.Millisecond, "sleep before re-checking compactor state on a fragmentation alarm")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}).
		With().Timestamp().Str("node", *nodeID).Logger()

	cfg := config.Config{
		NodeID:                      *nodeID,
		Address:                     *addr,
		ReplicationN:                *replicationN,
		WriteQuorum:                 *writeQuorum,
		ReadQuorum:                  *readQuorum,
		DeleteQuorum:                *deleteQuorum,
		WatchdogCPUEnabled:          *wdCPU,
		WatchdogDiskEnabled:         *wdDisk,
		AutoCompactionInterval:      *autoCompactionInterval,
		AutoCompactionParallelProcs: *autoCompactionProcs,
		RequestTimeout:              *requestTimeout,
		WorkerPoolPendingLimit:      *poolLimit,
		CompactionPreWait:           *compactionPreWait,
	}

	// ── Local store ─────────────────────────────────────────────────────
	nodeDataDir := fmt.Sprintf("%s/%s", *dataDir, *nodeID)
	localStore, err := store.New(nodeDataDir, *nodeID, log)
	if err != nil {
		log.Fatal().Err(err).Msg("open local store")
	}
	defer localStore.Close()

	compactor := store.NewCompactorFSM(localStore, cfg.AutoCompactionParallelProcs)

	// ── Membership / Redundancy Resolver ───────────────────────────────
	selfNode := objectmodel.Node{ID: *nodeID, Address: *addr}
	nodes := []objectmodel.Node{selfNode}
	if *peersFlag != "" {
		for _, entry := range strings.Split(*peersFlag, ",") {
			parts := strings.SplitN(entry, "=", 2)
			if len(parts) != 2 {
				log.Fatal().Str("entry", entry).Msg("invalid peer format: expected id=host:port")
			}
			nodes = append(nodes, objectmodel.Node{ID: parts[0], Address: parts[1]})
		}
	}
	membership := ring.NewMembership(nodes, 150)

	// N/W/R/D cannot exceed the nodes actually present, or every request
	// would fail NotSatisfyQuorum against a ring too small to serve it.
	if n := membership.Ring().NodeCount(); n > 0 {
		if cfg.ReplicationN > n {
			cfg.ReplicationN = n
		}
		if cfg.WriteQuorum > cfg.ReplicationN {
			cfg.WriteQuorum = cfg.ReplicationN
		}
		if cfg.ReadQuorum > cfg.ReplicationN {
			cfg.ReadQuorum = cfg.ReplicationN
		}
		if cfg.DeleteQuorum > cfg.ReplicationN {
			cfg.DeleteQuorum = cfg.ReplicationN
		}
	}

	resolver := ring.NewResolver(*nodeID, membership, cfg)

	// ── Worker pool, queue broker, notifier, safety state ──────────────
	pools := pool.NewRegistry(cfg.WorkerPoolPendingLimit)
	queues := queue.NewBroker(1)
	notifier := notify.New(log, notify.LogSink{Log: log})
	safety := watchdog.NewSafetyState()

	// ── Replication / read-repair / peer RPC ───────────────────────────
	peers := rpcclient.New(cfg.RequestTimeout, 3)
	replicationEngine := replication.New(*nodeID, resolver, localStore, peers)
	repairer := readrepair.NewDefaultRepairer(replicationEngine, log)
	readRepairEngine := readrepair.New(replicationEngine, repairer)

	core := &handler.Handler{
		SelfID:      *nodeID,
		Resolver:    resolver,
		Replication: replicationEngine,
		ReadRepair:  readRepairEngine,
		Local:       localStore,
		Peers:       peers,
		Queues:      queues,
		Notifier:    notifier,
		Safety:      safety,
		Pools:       pools,
	}

	// ── Watchdog / adaptive controller ─────────────────────────────────
	controller := watchdog.New(cfg, queues, compactor, resolver, peers, log)
	wdCtx, wdCancel := context.WithCancel(context.Background())
	defer wdCancel()
	ownership := func(c objectmodel.ContainerID) bool {
		return resolver.HasChargeOfNode([]byte(c), *nodeID)
	}

	// ── HTTP server ─────────────────────────────────────────────────────
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(api.Logger(log), api.Recovery(log))

	apiHandler := api.NewHandler(core, compactor)
	apiHandler.Register(router)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"node":   *nodeID,
			"status": "ok",
			"nodes":  membership.Ring().NodeCount(),
		})
	})
	router.POST("/internal/watchdog/alarm", func(c *gin.Context) {
		var alarm objectmodel.WatchdogAlarm
		if err := c.ShouldBindJSON(&alarm); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		controller.HandleChannelA(alarm)
		controller.HandleChannelB(c.Request.Context(), alarm, ownership)
		c.Status(http.StatusAccepted)
	})

	srv := &http.Server{
		Addr:         *addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", *addr).Int("n", cfg.ReplicationN).Int("w", cfg.WriteQuorum).
			Int("r", cfg.ReadQuorum).Int("d", cfg.DeleteQuorum).Msg("node listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Background snapshotting, the way the teacher's cmd/server ticked a
	// periodic store.Snapshot.
	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := localStore.Snapshot(); err != nil {
				log.Warn().Err(err).Msg("snapshot failed")
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	wdCancel()

	log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := localStore.Snapshot(); err != nil {
		log.Warn().Err(err).Msg("final snapshot failed")
	}
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("server shutdown error")
	}
}
