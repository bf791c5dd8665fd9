package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/aspect-build/attestkit/internal/attestation"
	"github.com/aspect-build/attestkit/internal/failure"
	"github.com/aspect-build/attestkit/internal/logx"
	"github.com/aspect-build/attestkit/internal/tpmnv"
	"github.com/aspect-build/attestkit/internal/version"
)

const binaryName = "ek-tool"

func main() {
	var (
		caCertB64     string
		tpmPath       string
		allowWarnings bool
		pcsTimeout    time.Duration
		insecure      bool
		logLevel      string
		verbose       bool
	)

	rootCmd := &cobra.Command{
		Use:   binaryName,
		Short: "Verify a TPM endorsement key certificate against a quote-rooted CA",
		Long: `Read the CA certificate (NV 0x01C00100+) and EK certificate (NV 0x01C00016)
from the TPM, verify the TDX quote embedded in the CA, check that the quote
binds the CA key and that the CA issued the EK, then print the EK public key.

With --ca-cert-base64 only the given CA certificate is verified.`,
		Version:       version.Version,
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := logx.Configure(logLevel, verbose); err != nil {
				return err
			}
			resolver := attestation.NewResolver(newVerifier(insecure, pcsTimeout), attestation.WarningPolicy{AllowWarnings: allowWarnings})
			if caCertB64 != "" {
				return verifyProvidedCA(cmd.Context(), resolver, caCertB64)
			}
			return verifyFromTPM(cmd.Context(), resolver, tpmPath)
		},
	}
	rootCmd.SetVersionTemplate(version.String(binaryName) + "\n")

	f := rootCmd.Flags()
	f.StringVarP(&caCertB64, "ca-cert-base64", "c", "", "Verify the provided base64 DER CA certificate")
	f.StringVar(&tpmPath, "tpm", tpmnv.DefaultDevice, "TPM character device")
	f.BoolVar(&allowWarnings, "allow-warnings", true, "Accept quotes that verify with a warning (e.g. out-of-date TCB)")
	f.DurationVar(&pcsTimeout, "pcs-timeout", 30*time.Second, "Timeout for Intel PCS collateral requests")
	f.BoolVar(&insecure, "insecure-skip-quote-verify", false, "Accept any well-formed quote (testing only)")
	f.StringVar(&logLevel, "log-level", "", "Log level: debug|info|warn|error (or "+logx.EnvLevel+")")
	f.BoolVarP(&verbose, "verbose", "v", false, "Enable verbose debug logs (same as --log-level debug)")
	_ = f.MarkHidden("insecure-skip-quote-verify")

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %s\n", binaryName, failure.Message(err))
		os.Exit(1)
	}
}

func newVerifier(insecure bool, timeout time.Duration) *attestation.QuoteVerifier {
	if insecure {
		logx.Warnf("quote verification disabled")
		return attestation.NewQuoteVerifier(&attestation.FakeBackend{})
	}
	return attestation.NewQuoteVerifier(attestation.NewDCAPBackend(&http.Client{Timeout: timeout}))
}

func verifyProvidedCA(ctx context.Context, res *attestation.Resolver, encoded string) error {
	der, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("decode --ca-cert-base64: %w", err)
	}
	cert, err := attestation.ParseCertificate(der)
	if err != nil {
		return err
	}
	anchor, err := res.Resolve(ctx, cert)
	if err != nil {
		return fmt.Errorf("verify provided CA: %w", err)
	}
	logx.Debugf("ca.verified subject=%q outcome=%s", anchor.Cert.Subject, anchor.Outcome)
	fmt.Println("verify_provided_ca: true")
	return nil
}

func verifyFromTPM(ctx context.Context, res *attestation.Resolver, path string) error {
	reader, closeTPM, err := tpmnv.Open(path)
	if err != nil {
		return err
	}
	defer closeTPM()

	e, err := reader.Endorsement(ctx, res)
	if err != nil {
		return err
	}
	logx.Debugf("ek.verified subject=%q ca=%q outcome=%s", e.EKCert.Subject, e.Anchor.Cert.Subject, e.Anchor.Outcome)
	fmt.Printf("ek_pub_base64: %s\n", base64.StdEncoding.EncodeToString(e.EKPublic))
	return nil
}
