package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"pigeonhub/pkg/auth"
	"pigeonhub/pkg/discovery"
	"pigeonhub/pkg/federation"
	"pigeonhub/pkg/hub"
	"pigeonhub/pkg/identity"
	"pigeonhub/pkg/journal"
	"pigeonhub/pkg/relay"
	"pigeonhub/pkg/version"
)

func main() {
	_ = godotenv.Load()

	defaultAddr := os.Getenv("HUB_ADDR")
	if defaultAddr == "" {
		defaultAddr = ":3000"
	}
	defaultBootstrap := os.Getenv("BOOTSTRAP_HUB")
	defaultSecret := os.Getenv("HUB_JWT_SECRET")

	addr := flag.String("addr", defaultAddr, "listen address (env HUB_ADDR)")
	hubID := flag.String("hub-id", "", "override this hub's peer id (default derived from hardware address)")
	maxPeers := flag.Int("max-peers", 20, "maximum concurrent peer connections")
	namespace := flag.String("namespace", "pigeonhub-mesh", "namespace announced to the bootstrap hub")
	bootstrap := flag.String("bootstrap", defaultBootstrap, "bootstrap hub URL, empty to run standalone (env BOOTSTRAP_HUB)")
	bootstrapRetry := flag.Duration("bootstrap-retry", 10*time.Second, "fixed interval between bootstrap reconnect attempts")
	peerTimeout := flag.Duration("peer-timeout", 60*time.Second, "evict peers silent longer than this")
	sweepInterval := flag.Duration("sweep-interval", 10*time.Second, "liveness sweep interval")
	jwtSecret := flag.String("jwt-secret", defaultSecret, "if set, peers must present a matching token (env HUB_JWT_SECRET)")
	journalPath := flag.String("journal", "", "path to the SQLite event journal, empty to disable")
	consulAddr := flag.String("consul-addr", "", "consul agent address for hub registration (requires consul build tag)")
	advertise := flag.String("advertise", "", "address advertised to consul")
	tlsCert := flag.String("tls-cert", "", "TLS certificate file")
	tlsKey := flag.String("tls-key", "", "TLS key file")
	showVersion := flag.Bool("v", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		log.Printf("pigeonhub version=%s", version.Build)
		return
	}

	id := *hubID
	if id == "" {
		id = identity.DeviceID()
	}
	if !identity.Valid(id) {
		log.Fatalf("hub id %q is not a 40-char lowercase hex peer id", id)
	}
	log.Printf("pigeonhub version=%s hub=%s", version.Build, id[:8])

	srv := hub.NewServer(id)
	router := relay.New(relay.Config{
		MaxPeers:    *maxPeers,
		PeerTimeout: *peerTimeout,
	}, srv)
	srv.Bind(router)

	if *jwtSecret != "" {
		secret := []byte(*jwtSecret)
		srv.SetVerifier(func(r *http.Request, peerID string) error {
			return auth.Verify(secret, auth.FromRequest(r), peerID)
		})
		log.Printf("handshake auth enabled")
	}

	if *journalPath != "" {
		j, err := journal.Open(*journalPath)
		if err != nil {
			log.Fatalf("journal open failed: %v", err)
		}
		defer j.Close()
		router.SetJournal(j)
		log.Printf("event journal at %s", *journalPath)
	}

	port := listenPort(*addr)

	if *consulAddr != "" {
		if err := discovery.Register(*consulAddr, id, *advertise, port); err != nil {
			log.Printf("consul registration failed: %v", err)
		}
		if *bootstrap == "" {
			if url, err := discovery.LookupBootstrap(*consulAddr); err != nil {
				log.Printf("consul bootstrap lookup failed: %v", err)
			} else {
				log.Printf("bootstrap hub resolved via consul: %s", url)
				*bootstrap = url
			}
		}
	}

	if *bootstrap != "" {
		fed, err := federation.New(federation.Config{
			URL:      *bootstrap,
			HubID:    id,
			Network:  *namespace,
			Port:     port,
			MaxPeers: *maxPeers,
			Retry:    *bootstrapRetry,
		}, router)
		if err != nil {
			log.Fatalf("bootstrap config: %v", err)
		}
		router.SetFederation(fed)
		fed.Start()
		defer fed.Close()
	} else {
		log.Printf("no bootstrap hub configured; running standalone")
	}

	go func() {
		sweep := time.NewTicker(*sweepInterval)
		status := time.NewTicker(30 * time.Second)
		defer sweep.Stop()
		defer status.Stop()
		for {
			select {
			case <-sweep.C:
				if n := router.Sweep(); n > 0 {
					log.Printf("liveness sweep evicted %d peers", n)
				}
			case <-status.C:
				s := router.Snapshot()
				log.Printf("status: peers=%d federated=%v received=%d delivered=%d dropped=%d",
					s.Peers, s.Federated, s.Stats.Received, s.Stats.Delivered, s.Stats.Dropped)
			}
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/", srv.HandleWS)
	mux.HandleFunc("/healthz", srv.HandleHealthz)
	server := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Printf("listening on %s (max-peers=%d)", *addr, *maxPeers)
	var err error
	if *tlsCert != "" && *tlsKey != "" {
		err = server.ListenAndServeTLS(*tlsCert, *tlsKey)
	} else {
		err = server.ListenAndServe()
	}
	log.Fatalf("server stopped: %v", err)
}

func listenPort(addr string) int {
	if i := strings.LastIndex(addr, ":"); i >= 0 {
		if p, err := strconv.Atoi(addr[i+1:]); err == nil {
			return p
		}
	}
	return 3000
}
