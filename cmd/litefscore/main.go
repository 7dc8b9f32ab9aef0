// Command litefscore wires the coordination core's components into one
// running process: it loads settings, starts the mount observer and (in
// raft mode) the leader-election/membership adapters, and serves the
// health-probe, metrics, and forwarding-middleware HTTP surface. It is
// process wiring only -- it never touches the replicated SQLite mount or
// the FUSE layer itself, both out of scope per the module's own design.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/litefs-adapter/core/internal/config"
	"github.com/litefs-adapter/core/internal/failover"
	"github.com/litefs-adapter/core/internal/forwarding"
	"github.com/litefs-adapter/core/internal/guard"
	"github.com/litefs-adapter/core/internal/metrics"
	"github.com/litefs-adapter/core/internal/mount"
	"github.com/litefs-adapter/core/internal/probes"
	"github.com/litefs-adapter/core/internal/raftelect"
	"github.com/litefs-adapter/core/internal/role"
	"github.com/litefs-adapter/core/internal/splitbrain"
	"github.com/litefs-adapter/core/pkg/clusterstate"
	"github.com/litefs-adapter/core/pkg/events"
	"github.com/litefs-adapter/core/pkg/ports"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML settings file; defaults are used if empty")
	flag.Parse()

	settings, err := loadSettings(*configPath)
	if err != nil {
		log.Fatalf("litefscore: %v", err)
	}

	hostname, err := os.Hostname()
	if err != nil {
		log.Fatalf("litefscore: resolve hostname: %v", err)
	}

	observer := mount.NewObserver(settings.MountPath, 2*time.Second)
	stopWatch, err := observer.Watch()
	if err != nil {
		log.Fatalf("litefscore: watch mount path %s: %v", settings.MountPath, err)
	}
	defer stopWatch()

	bus := events.NewBus()
	bus.Subscribe(func(e ports.Event) {
		log.Printf("litefscore: event %+v", e.Payload)
	})

	collector := metrics.NewCollector()
	bus.Subscribe(func(e ports.Event) {
		metricsSubscriber(collector, e)
	})

	election, splitBrainDetector, roleResolver := wireRoleComponents(settings, hostname, observer)

	health := failover.NewHealthFlag()
	coordinator := failover.NewCoordinator(election, health, bus)

	resolution := mount.NewResolution(observer, roleResolver.IsPrimary, func(ctx context.Context) {
		coordinator.Handoff(ctx, nil, 0)
	})

	writeGuard := guard.New(splitBrainDetector, roleResolver)
	writeGuard.SetMetrics(collector)

	forwardClient := forwarding.NewClient(settings.Forwarding.ConnectTimeout, settings.Forwarding.ReadTimeout)
	engine, err := forwarding.NewEngine(settings.Forwarding, roleResolver, forwardClient)
	if err != nil {
		log.Fatalf("litefscore: construct forwarding engine: %v", err)
	}
	engine.SetMetrics(collector)

	probeHandler := probes.New(observer, roleResolver, health, splitBrainDetector, settings.LeaderElection)

	mux := http.NewServeMux()
	mux.Handle("/", probeHandler.Handler())
	mux.Handle("/metrics", collector.Handler())
	mux.HandleFunc("/exec", execHandler(writeGuard))

	handler := forwarding.SplitBrainMiddleware(splitBrainDetector, engine.Middleware(mux))

	go runCoordinatorTicker(coordinator, splitBrainDetector, resolution, bus)

	srv := &http.Server{
		Addr:         settings.Proxy.ListenAddr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	log.Printf("litefscore: serving on %s (mode=%s)", settings.Proxy.ListenAddr, settings.LeaderElection)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("litefscore: serve: %v", err)
	}
}

func loadSettings(path string) (*config.Settings, error) {
	if path == "" {
		return config.NewDefault(), nil
	}
	return config.LoadFromFile(path)
}

// wireRoleComponents builds the mode-specific Leader-Election adapter and
// the Role Resolver/Split-Brain Detector layered on top of it. Static mode
// never constructs anything from internal/raftelect: staticElection exists purely so
// the Failover Coordinator (which always takes a ports.LeaderElection,
// regardless of mode) has something to hold.
func wireRoleComponents(settings *config.Settings, hostname string, observer *mount.Observer) (ports.LeaderElection, ports.SplitBrainDetector, *role.Resolver) {
	if settings.LeaderElection == config.ElectionStatic {
		election := &staticElection{elected: settings.PrimaryHostname == hostname}
		resolver := role.NewStatic(settings.PrimaryHostname, hostname, observer)
		detector := splitbrain.NewDetector(config.ElectionStatic, nil, hostname)
		return election, detector, resolver
	}

	election, err := raftelect.New(raftelect.Config{
		NodeID:    hostname,
		BindAddr:  settings.SelfAddr,
		DataDir:   settings.DataPath,
		Bootstrap: len(settings.Peers) == 0,
	})
	if err != nil {
		log.Fatalf("litefscore: construct raft election: %v", err)
	}

	membership, err := raftelect.NewMembership(raftelect.MembershipConfig{
		NodeID:    hostname,
		BindAddr:  settings.SelfAddr,
		RaftAddr:  settings.SelfAddr,
		SeedNodes: settings.Peers,
	})
	if err != nil {
		log.Fatalf("litefscore: construct membership: %v", err)
	}
	membership.OnJoin(func(nodeID, raftAddr string) {
		if err := election.AddVoter(nodeID, raftAddr); err != nil {
			log.Printf("litefscore: add voter %s: %v", nodeID, err)
		}
	})

	resolver := role.NewRaft(election, observer)
	detector := splitbrain.NewDetector(config.ElectionRaft, election, hostname)
	return election, detector, resolver
}

// staticElection is the trivial ports.LeaderElection the Failover
// Coordinator holds in static mode: leadership is assigned once at
// startup by hostname match and never changes, so ElectAsLeader/
// DemoteFromLeader are no-ops and quorum is always considered reached.
type staticElection struct {
	elected bool
}

func (s *staticElection) IsLeaderElected(ctx context.Context) (bool, error) { return s.elected, nil }
func (s *staticElection) ElectAsLeader(ctx context.Context) error           { return nil }
func (s *staticElection) DemoteFromLeader(ctx context.Context) error        { return nil }

// runCoordinatorTicker drives both periodic halves of out-of-band
// coordination: the Failover Coordinator's transition table and, when the
// Split-Brain Detector reports a live detection, publishing it on the event
// bus and fencing write access through the Resolution collaborator -- the
// caller composing detector and resolution that §9's mediator-pattern
// design note describes.
func runCoordinatorTicker(c *failover.Coordinator, detector ports.SplitBrainDetector, resolution *mount.Resolution, emitter ports.EventEmitter) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		ctx := context.Background()
		c.CoordinateTransition(ctx)

		if detector == nil {
			continue
		}
		event, err := detector.Check(ctx)
		if err != nil {
			log.Printf("litefscore: split-brain detector unreachable during tick: %v", err)
			continue
		}
		if event != nil {
			emitter.Emit(ports.Event{Payload: *event})
			if err := resolution.ApplyResolutionStrategy(ctx, ports.StrategyFenceWrites); err != nil {
				log.Printf("litefscore: fence write access: %v", err)
			}
		}
	}
}

func metricsSubscriber(collector *metrics.Collector, e ports.Event) {
	switch payload := e.Payload.(type) {
	case clusterstate.FailoverEvent:
		collector.RecordRoleTransition(string(payload.Kind))
	case clusterstate.SplitBrainEvent:
		collector.RecordSplitBrainDetection()
	}
}

// execRequest is the wire shape a real LiteFS-style proxy would decode off
// its SQLite statement stream before handing the statement to the guard;
// this endpoint stands in for that stream so the write-path guard is
// exercised by something reachable over HTTP rather than only constructed
// and discarded at startup.
type execRequest struct {
	SQL string `json:"sql"`
}

func execHandler(g *guard.Guard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req execRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		err := g.Execute(r.Context(), req.SQL, func() error { return nil })
		if err != nil {
			http.Error(w, err.Error(), http.StatusForbidden)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
