package cli

import (
	"fmt"

	"github.com/duramation/duramation/internal/auth"
	"github.com/duramation/duramation/internal/secrets"

	"github.com/spf13/cobra"
)

func NewKeysCommand() *cobra.Command {
	keysCmd := &cobra.Command{
		Use:   "keys",
		Short: "Generate cryptographic keys",
	}

	keysCmd.AddCommand(&cobra.Command{
		Use:   "master-key",
		Short: "Generate a credential master key",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := secrets.GenerateMasterKey()
			if err != nil {
				return err
			}

			fmt.Println(key)

			return nil
		},
	})

	keysCmd.AddCommand(&cobra.Command{
		Use:   "signing-pair",
		Short: "Generate an ed25519 engine signing key pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			publicKey, privateKey, err := auth.GenerateSigningKeyPair()
			if err != nil {
				return err
			}

			fmt.Printf("public:  %s\nprivate: %s\n", publicKey, privateKey)

			return nil
		},
	})

	return keysCmd
}
