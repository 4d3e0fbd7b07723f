package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/lanikai/sinksource"
	"github.com/lanikai/sinksource/internal/logging"
)

var log = logging.DefaultLogger.WithTag("sinksourced")

// Populated via -ldflags="-X ...".
var GitTag = "dev"

var (
	flagConfig         string
	flagSocket         string
	flagFrameSize      int
	flagDropUnconsumed bool
	flagListen         string
	flagWebsocket      string
	flagRemote         string
	flagRole           string
	flagRedial         bool
	flagPeer           string
	flagICEServers     []string
	flagLogLevel       string
	flagStatsInterval  time.Duration
	flagHelp           bool
	flagVersion        bool
)

func init() {
	flag.StringVarP(&flagConfig, "config", "c", "", "Configuration file (YAML or JSON)")
	flag.StringVarP(&flagSocket, "socket", "s", sinksource.DefaultSocketPath, "Frame ingestion socket path")
	flag.IntVarP(&flagFrameSize, "frame-size", "f", sinksource.DefaultFrameSize, "Bytes per frame")
	flag.BoolVarP(&flagDropUnconsumed, "drop", "", false, "Overwrite frames the consumer has not taken")
	flag.StringVarP(&flagListen, "listen", "l", "", "Signaling responder address")
	flag.StringVarP(&flagWebsocket, "websocket", "w", "", "Websocket signaling address")
	flag.StringVarP(&flagRemote, "remote", "r", "", "Signaling peer to dial")
	flag.StringVarP(&flagRole, "role", "", "answer", "Initiator role: answer or offer")
	flag.BoolVarP(&flagRedial, "redial", "", false, "Dial again after the exchange ends")
	flag.StringVarP(&flagPeer, "peer", "p", "webrtc", "Peer implementation: webrtc or static")
	flag.StringSliceVarP(&flagICEServers, "ice-server", "", nil, "STUN/TURN server URL")
	flag.StringVarP(&flagLogLevel, "log-level", "", "", "Logging directives, as in LOGLEVEL")
	flag.DurationVarP(&flagStatsInterval, "stats", "", 10*time.Second, "Frame statistics interval")

	flag.BoolVarP(&flagHelp, "help", "h", false, "Print usage information and exit")
	flag.BoolVarP(&flagVersion, "version", "v", false, "Print version information and exit")
}

func main() {
	flag.Usage = help
	flag.Parse()

	if flagHelp {
		help()
		os.Exit(0)
	}
	if flagVersion {
		fmt.Println("sinksourced", GitTag)
		os.Exit(0)
	}
	if flagStatsInterval <= 0 {
		log.Fatalf("--stats must be positive")
	}
	if flagLogLevel != "" {
		if err := logging.ParseDirectives(flagLogLevel); err != nil {
			log.Fatalf("--log-level: %v", err)
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("%v", err)
	}

	src, err := sinksource.Init(cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	consume(ctx, src)

	if err := src.Shutdown(); err != nil {
		log.Fatalf("Shutdown: %v", err)
	}
}

// loadConfig reads the configuration file, if any, and applies the flags the
// user set explicitly on top of it.
func loadConfig() (sinksource.Config, error) {
	cfg := sinksource.DefaultConfig()
	if flagConfig != "" {
		var err error
		if cfg, err = sinksource.LoadConfig(flagConfig); err != nil {
			return cfg, err
		}
	}

	set := flag.CommandLine.Changed
	if set("socket") {
		cfg.Ingest.Path = flagSocket
	}
	if set("frame-size") {
		cfg.Ingest.FrameSize = flagFrameSize
	}
	if set("drop") {
		cfg.Ingest.DropUnconsumed = flagDropUnconsumed
	}
	if set("listen") {
		cfg.Signaling.Address = flagListen
	}
	if set("websocket") {
		cfg.Signaling.WebsocketAddress = flagWebsocket
	}
	if set("remote") {
		cfg.Signaling.RemoteAddress = flagRemote
	}
	if set("role") {
		cfg.Signaling.Role = flagRole
	}
	if set("redial") {
		cfg.Signaling.Redial = flagRedial
	}
	if set("peer") {
		cfg.Signaling.Peer = flagPeer
	}
	if set("ice-server") {
		cfg.Signaling.ICEServers = flagICEServers
	}
	return cfg, cfg.Validate()
}

// consume stands in for the frame decoder: it takes every frame as soon as it
// is published and reports throughput until ctx is cancelled or the source
// stops on its own.
func consume(ctx context.Context, src *sinksource.Source) {
	poll := time.NewTicker(time.Millisecond)
	defer poll.Stop()
	report := time.NewTicker(flagStatsInterval)
	defer report.Stop()

	var last sinksource.Stats
	for {
		select {
		case <-ctx.Done():
			return
		case <-src.Done():
			log.Warn("Source stopped unexpectedly")
			return
		case <-report.C:
			st := src.Stats()
			log.Info("%d frames (%d dropped, %d producer stalls), %d signaling connections",
				st.Frames.Consumed-last.Frames.Consumed,
				st.Frames.Dropped-last.Frames.Dropped,
				st.Frames.Stalls-last.Frames.Stalls,
				st.Signaling.Connections-last.Signaling.Connections)
			last = st
		case <-poll.C:
			if f, ok := src.AcquireFrame(); ok {
				log.Trace(3, "Frame %d: %d bytes", f.Seq, len(f.Data))
				src.ReleaseFrame()
			}
		}
	}
}
