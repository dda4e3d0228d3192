// yubihsm-echo opens an authenticated session with a YubiHSM2 through the
// connector and echoes a message over the secure channel.
//
// Usage:
//
//	yubihsm-echo [options]
//
// Options:
//
//	-config   Path to a YAML config file (default: built-in defaults)
//	-message  Text to echo (default: "hello")
//	-info     Also print the device information
//
// The authentication key password is read from auth.password_file when the
// config sets one, and prompted for otherwise.
//
// Example:
//
//	yubihsm-echo -config ~/.yubihsm/config.yaml -message ping
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"

	"github.com/backkem/yubihsm/pkg/config"
	"github.com/backkem/yubihsm/pkg/credentials"
	"github.com/backkem/yubihsm/pkg/crypto"
	"github.com/backkem/yubihsm/pkg/hsm"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	msg := flag.String("message", "hello", "text to echo")
	info := flag.Bool("info", false, "print device information")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}

	password, err := readPassword(cfg)
	if err != nil {
		log.Fatalf("Failed to read password: %v", err)
	}
	creds, err := deriveCredentials(cfg, password)
	if err != nil {
		log.Fatalf("Failed to derive key: %v", err)
	}
	defer creds.Zeroize()

	lf := cfg.LoggerFactory()
	client, err := hsm.NewClient(hsm.ClientConfig{
		Opener:        cfg.HTTPConfig(lf),
		Credentials:   creds,
		MessageLimit:  cfg.Session.MessageLimit,
		LoggerFactory: lf,
	})
	if err != nil {
		log.Fatalf("Failed to create client: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, client, []byte(*msg), *info); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func run(ctx context.Context, client *hsm.Client, msg []byte, info bool) error {
	defer client.Close(context.Background())

	if err := client.Open(ctx); err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	sid, _ := client.SessionID()
	fmt.Printf("Session:  %d\n", sid)

	if info {
		di, err := client.DeviceInfo(ctx)
		if err != nil {
			return fmt.Errorf("device info: %w", err)
		}
		fmt.Printf("Version:  %s\n", di.Version())
		fmt.Printf("Serial:   %d\n", di.Serial)
		fmt.Printf("Log:      %d/%d\n", di.LogUsed, di.LogTotal)
	}

	out, err := client.Echo(ctx, msg)
	if err != nil {
		return fmt.Errorf("echo: %w", err)
	}
	fmt.Printf("Echo:     %s\n", hex.EncodeToString(out))
	return nil
}

func readPassword(cfg *config.Config) ([]byte, error) {
	if cfg.Auth.PasswordFile != "" {
		return cfg.ReadPassword()
	}
	fmt.Fprintf(os.Stderr, "Password for key %d: ", cfg.Auth.KeyID)
	defer fmt.Fprintln(os.Stderr)
	return term.ReadPassword(int(os.Stdin.Fd()))
}

// deriveCredentials derives the authentication key for auth.key_id and
// overwrites password.
func deriveCredentials(cfg *config.Config, password []byte) (*credentials.Credentials, error) {
	defer crypto.Zeroize(password)
	key, err := credentials.FromPassword(password)
	if err != nil {
		return nil, err
	}
	return credentials.New(cfg.Auth.KeyID, key), nil
}
