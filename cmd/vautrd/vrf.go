package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vautr-io/vautr/crypto/challenge"
)

func newVrfCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vrf",
		Short: "VRF challenge tooling",
	}
	cmd.AddCommand(newVrfVerifyCmd())
	return cmd
}

func newVrfVerifyCmd() *cobra.Command {
	var (
		userID      string
		rpID        string
		blockHeight uint64
		blockHash   string
	)

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Run a prove/verify round trip against a fresh keypair",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine := challenge.NewEngine(newLogger())

			input := challenge.VrfInputData{
				UserID:      userID,
				RpID:        rpID,
				BlockHeight: blockHeight,
				BlockHash:   blockHash,
			}
			result, err := engine.GenerateVrfKeypairBootstrap(&input)
			if err != nil {
				return err
			}
			defer engine.Logout()

			ch := result.Challenge
			ok, err := challenge.VerifyChallenge(ch)
			if err != nil {
				return fmt.Errorf("verifying challenge: %w", err)
			}
			if !ok {
				return fmt.Errorf("challenge did not verify")
			}

			fmt.Printf("vrf_public_key: %s\n", ch.VrfPublicKey)
			fmt.Printf("vrf_output: %s\n", ch.VrfOutput)
			fmt.Printf("vrf_proof: %s\n", ch.VrfProof)
			fmt.Println("verified: true")
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "selftest.testnet", "account id to bind")
	cmd.Flags().StringVar(&rpID, "rp", "vautr.io", "relying party id to bind")
	cmd.Flags().Uint64Var(&blockHeight, "height", 1, "block height to bind")
	cmd.Flags().StringVar(&blockHash, "hash", "11111111111111111111111111111111", "block hash to bind")
	return cmd
}
