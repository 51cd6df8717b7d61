package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Tyrowin/javelin/internal/auth"
	"github.com/Tyrowin/javelin/internal/directory"
)

var tokenFlags struct {
	algorithm      string
	secret         string
	privateKeyFile string
	ttl            time.Duration
	store          string
	endpoints      []string
}

// tokenCmd signs a handshake token for a peer.
var tokenCmd = &cobra.Command{
	Use:   "token <name>",
	Short: "Sign a token for a peer",
	Long: `Sign a handshake token whose subject is the peer name.

With --store the peer is also written to the directory (.json or .db) with
the new token and --endpoints, replacing any previous entry. The relay only
accepts the token stored in its directory, so storing a new token revokes the
old one.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		material, err := signingMaterial()
		if err != nil {
			return err
		}
		signer, err := auth.NewSigner(tokenFlags.algorithm, material)
		if err != nil {
			return err
		}
		token, err := signer.Sign(name, tokenFlags.ttl)
		if err != nil {
			return err
		}

		if tokenFlags.store != "" {
			peer := directory.NewPeer(name, token, tokenFlags.endpoints...)
			if err := directory.Upsert(cmd.Context(), tokenFlags.store, peer); err != nil {
				return fmt.Errorf("store peer: %w", err)
			}
			fmt.Fprintln(os.Stderr, color.GreenString("Stored %s in %s", name, tokenFlags.store))
		}

		fmt.Println(token)
		return nil
	},
}

func signingMaterial() ([]byte, error) {
	if auth.IsHMAC(tokenFlags.algorithm) {
		secret := tokenFlags.secret
		if secret == "" {
			secret = os.Getenv("RELAY_JWT_SECRET")
		}
		if secret == "" {
			return nil, fmt.Errorf("%s requires --secret or RELAY_JWT_SECRET", tokenFlags.algorithm)
		}
		return []byte(secret), nil
	}

	if tokenFlags.privateKeyFile == "" {
		return nil, fmt.Errorf("%s requires --private-key", tokenFlags.algorithm)
	}
	data, err := os.ReadFile(tokenFlags.privateKeyFile)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	return data, nil
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	f := tokenCmd.Flags()
	f.StringVar(&tokenFlags.algorithm, "alg", "HS256", "Signing algorithm")
	f.StringVar(&tokenFlags.secret, "secret", "", "HMAC secret (default: RELAY_JWT_SECRET)")
	f.StringVar(&tokenFlags.privateKeyFile, "private-key", "", "PEM private key for RS/ES/EdDSA algorithms")
	f.DurationVar(&tokenFlags.ttl, "ttl", 0, "Token lifetime (0 means no expiry)")
	f.StringVar(&tokenFlags.store, "store", "", "Directory file to store the peer in")
	f.StringSliceVar(&tokenFlags.endpoints, "endpoints", nil, "Endpoints the stored peer subscribes to")
}
