package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/aspect-build/attestkit/internal/attestation"
	"github.com/aspect-build/attestkit/internal/client"
	"github.com/aspect-build/attestkit/internal/disk"
	"github.com/aspect-build/attestkit/internal/failure"
	"github.com/aspect-build/attestkit/internal/keyref"
	"github.com/aspect-build/attestkit/internal/logx"
	"github.com/aspect-build/attestkit/internal/secret"
	"github.com/aspect-build/attestkit/internal/version"
)

const binaryName = "fde-unlock"

type options struct {
	root        string
	name        string
	efivars     string
	keyRef      string
	kbsCertPath string
	insecure    bool
	source      string
	dstackURL   string
	fsRoot      string
	noEventLog  bool
	timeout     time.Duration
	logLevel    string
	verbose     bool
}

func main() {
	var opts options

	rootCmd := &cobra.Command{
		Use:   binaryName + " --root <device> --name <mapping>",
		Short: "Unlock an encrypted root disk with a key released against a TDX quote",
		Long: `Generate an ephemeral RSA-3072 key, bind its SHA-512 into a TDX quote,
request the disk key from the key broker named in the KBS* EFI variables
(or --key-ref), unwrap it and open the LUKS device with cryptsetup.`,
		Version:       version.Version,
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := logx.Configure(opts.logLevel, opts.verbose); err != nil {
				return err
			}
			return run(cmd.Context(), opts)
		},
	}
	rootCmd.SetVersionTemplate(version.String(binaryName) + "\n")

	f := rootCmd.Flags()
	f.StringVarP(&opts.root, "root", "r", "", "Encrypted block device holding the rootfs")
	f.StringVarP(&opts.name, "name", "n", "", "Device-mapper name for the opened volume")
	f.StringVar(&opts.efivars, "efivars", client.DefaultEFIVarsDir, "efivarfs mount holding the KBS* variables")
	f.StringVar(&opts.keyRef, "key-ref", os.Getenv("ATTESTKIT_KEY_REF"), "kbs://<host>/keys/<uuid> overriding the EFI parameters (or ATTESTKIT_KEY_REF)")
	f.StringVar(&opts.kbsCertPath, "kbs-cert", "", "PEM/DER certificate to trust for the broker when using --key-ref")
	f.BoolVar(&opts.insecure, "insecure", false, "Allow plaintext HTTP connection to the broker")
	f.StringVar(&opts.source, "quote-source", "tdx", "Quote source: tdx|dstack")
	f.StringVar(&opts.dstackURL, "dstack-endpoint", "", "dstack guest agent endpoint (default: SDK default socket)")
	f.StringVar(&opts.fsRoot, "fs-root", "/", "Filesystem root for sysfs lookups")
	f.BoolVar(&opts.noEventLog, "no-event-log", false, "Do not send the CCEL event log")
	f.DurationVar(&opts.timeout, "timeout", 2*time.Minute, "Overall deadline for the key release")
	f.StringVar(&opts.logLevel, "log-level", "", "Log level: debug|info|warn|error (or "+logx.EnvLevel+")")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "Enable verbose debug logs (same as --log-level debug)")
	_ = rootCmd.MarkFlagRequired("root")
	_ = rootCmd.MarkFlagRequired("name")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %s\n", binaryName, failure.Message(err))
		os.Exit(1)
	}
}

// brokerTarget is where to ask for the key and how to authenticate.
type brokerTarget struct {
	url   string
	keyID uuid.UUID
	cert  []byte
	token string
}

func resolveTarget(opts options) (*brokerTarget, error) {
	if opts.keyRef != "" {
		ref, err := keyref.Parse(opts.keyRef)
		if err != nil {
			return nil, err
		}
		t := &brokerTarget{url: ref.URL(), keyID: ref.KeyID, token: os.Getenv("ATTESTKIT_KBS_TOKEN")}
		if opts.insecure {
			t.url = "http://" + ref.Host
		}
		if opts.kbsCertPath != "" {
			cert, err := os.ReadFile(opts.kbsCertPath)
			if err != nil {
				return nil, fmt.Errorf("read --kbs-cert: %w", err)
			}
			t.cert = cert
		}
		logx.Infof("using key reference %s", ref)
		return t, nil
	}

	params, err := client.LoadKBSParams(opts.efivars)
	if err != nil {
		return nil, err
	}
	logx.Infof("KBS parameters loaded from %s", opts.efivars)
	return &brokerTarget{
		url:   params.URL,
		keyID: params.UserData.KeyID,
		cert:  params.Cert,
		token: params.UserData.Token,
	}, nil
}

func quoteSource(opts options) (attestation.QuoteSource, error) {
	switch opts.source {
	case "tdx":
		return attestation.TDXGuestQuoteSource{}, nil
	case "dstack":
		return attestation.NewDstackQuoteSource(opts.dstackURL), nil
	default:
		return nil, fmt.Errorf("unknown --quote-source %q (want tdx or dstack)", opts.source)
	}
}

func run(ctx context.Context, opts options) error {
	if err := secret.HardenProcess(); err != nil {
		logx.Warnf("process hardening unavailable: %v", err)
	}

	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	target, err := resolveTarget(opts)
	if err != nil {
		return err
	}
	httpClient, err := client.NewHTTPClient(client.TransportConfig{
		CACert:  target.cert,
		Token:   target.token,
		Timeout: opts.timeout,
	})
	if err != nil {
		return err
	}
	broker, err := client.NewBroker(target.url, httpClient, opts.insecure)
	if err != nil {
		return err
	}
	quotes, err := quoteSource(opts)
	if err != nil {
		return err
	}

	p := &client.Provisioner{Quotes: quotes, Broker: broker}
	if !opts.noEventLog {
		p.EventLog = func() ([]byte, error) { return attestation.ReadEventLog(opts.fsRoot) }
	}

	key, err := p.Provision(ctx, target.keyID)
	if err != nil {
		return err
	}
	defer key.Destroy()

	if err := disk.NewActivator().Open(ctx, opts.root, opts.name, key); err != nil {
		return err
	}
	logx.Infof("encrypted disk %s opened as /dev/mapper/%s", opts.root, opts.name)
	return nil
}
