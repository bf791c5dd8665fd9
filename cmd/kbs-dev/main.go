package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/aspect-build/attestkit/internal/broker"
	"github.com/aspect-build/attestkit/internal/broker/db"
	"github.com/aspect-build/attestkit/internal/logx"
	"github.com/aspect-build/attestkit/internal/version"
)

func main() {
	showVersion := flag.Bool("version", false, "Print version and exit")
	verbose := flag.Bool("verbose", false, "Enable verbose debug logs (same as --log-level debug)")
	logLevel := flag.String("log-level", "", "Log level: debug|info|warn|error (or "+logx.EnvLevel+")")
	flag.BoolVar(showVersion, "v", false, "Print version and exit")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s\n\n", version.String("kbs-dev"))
		fmt.Fprintf(os.Stderr, "kbs-dev is a development key broker: it stores disk keys and releases them\n")
		fmt.Fprintf(os.Stderr, "to RSA keys bound into verified TDX quotes.\n\n")
		fmt.Fprintf(os.Stderr, "Environment variables:\n")
		fmt.Fprintf(os.Stderr, "  KBS_DEV_MASTER_KEY      At-rest encryption key (64 hex chars, required)\n")
		fmt.Fprintf(os.Stderr, "  KBS_DEV_ADMIN_TOKEN     Admin Bearer token for key management (min 16 chars, required)\n")
		fmt.Fprintf(os.Stderr, "  KBS_DEV_DB_PATH         SQLite database path (default: kbs.db)\n")
		fmt.Fprintf(os.Stderr, "  KBS_DEV_LISTEN_ADDR     Listen address (default: :8443)\n")
		fmt.Fprintf(os.Stderr, "  KBS_DEV_TLS_CERT        TLS certificate file (serve HTTPS when set with KBS_DEV_TLS_KEY)\n")
		fmt.Fprintf(os.Stderr, "  KBS_DEV_TLS_KEY         TLS private key file\n")
		fmt.Fprintf(os.Stderr, "  KBS_DEV_QUOTE_VERIFIER  dcap (default) or insecure\n")
		fmt.Fprintf(os.Stderr, "  KBS_DEV_ALLOW_WARNINGS  Release keys for quotes verified with a warning (default: true)\n")
		fmt.Fprintf(os.Stderr, "  %s     Log level: debug|info|warn|error (default: info)\n", logx.EnvLevel)
		fmt.Fprintf(os.Stderr, "\nFlags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("kbs-dev"))
		os.Exit(0)
	}

	if err := logx.Configure(*logLevel, *verbose); err != nil {
		log.Fatalf("configure logging: %v", err)
	}

	cfg, err := broker.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	store, err := db.NewStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer store.Close()

	r := broker.NewRouter(store, cfg, broker.NewVerifier(cfg))
	logx.Infof("broker config: quote_verifier=%s allow_warnings=%v tls=%v", cfg.QuoteVerifier, cfg.AllowWarnings, cfg.TLSEnabled())

	log.Printf("kbs-dev listening on %s", cfg.ListenAddr)
	if cfg.TLSEnabled() {
		err = r.RunTLS(cfg.ListenAddr, cfg.TLSCert, cfg.TLSKey)
	} else {
		logx.Warnf("serving plaintext HTTP; clients need --insecure")
		err = r.Run(cfg.ListenAddr)
	}
	if err != nil {
		log.Fatalf("server error: %v", err)
	}
}
