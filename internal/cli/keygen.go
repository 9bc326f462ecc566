package cli

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/spf13/cobra"
)

// keySize matches the sealed credential keyring's key length.
const keySize = 32

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "keygen",
		Short:       "Generate a credential encryption key",
		Long:        "Prints a random base64 key suitable for ENCRYPTION_KEY or ENCRYPTION_KEYS_RETIRED.",
		Annotations: localOnly(),
		Args:        cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := generateKey()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
}

func generateKey() (string, error) {
	b := make([]byte, keySize)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}
