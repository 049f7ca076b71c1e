package main

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ariefcatur/go-supplychain-ledger/internal/identity"
	"github.com/ariefcatur/go-supplychain-ledger/internal/ledger"
)

var keygenParty string

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a signing key for a party",
	Long: `Prints KEY_SEED for the party's own node and the PEERS entry
other nodes need to verify its signatures.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if keygenParty == "" {
			return fmt.Errorf("--party is required")
		}
		id, err := identity.New(ledger.Party(keygenParty))
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "KEY_SEED=%s\n", id.Seed())
		fmt.Fprintf(out, "PEERS entry: %s=%s\n", id.Party, hex.EncodeToString(id.PublicKey()))
		return nil
	},
}

func init() {
	keygenCmd.Flags().StringVar(&keygenParty, "party", "", "party name, e.g. ProducerA")
}
