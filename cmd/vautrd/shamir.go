package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vautr-io/vautr/crypto/shamir"
)

func newShamirCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shamir",
		Short: "Shamir 3-pass lock service tooling",
	}
	cmd.AddCommand(newShamirKeygenCmd())
	cmd.AddCommand(newShamirPrimeCmd())
	return cmd
}

func newShamirKeygenCmd() *cobra.Command {
	var primeB64u string

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a lock exponent pair for the configured prime",
		Long: "Generates a fresh e/d exponent pair valid under the given prime " +
			"and prints both in wire encoding. The pair goes into " +
			"VAUTR_SHAMIR_E_B64U and VAUTR_SHAMIR_D_B64U; losing it makes every " +
			"lock applied under it permanent.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if primeB64u == "" {
				primeB64u = shamir.DefaultPrimeB64u()
			}
			suite, err := shamir.NewSuite(primeB64u)
			if err != nil {
				return fmt.Errorf("shamir suite: %w", err)
			}
			kp, err := suite.GenerateKeyPair()
			if err != nil {
				return err
			}

			fmt.Printf("p_fingerprint: %s\n", suite.Fingerprint())
			fmt.Printf("e_b64u: %s\n", suite.EncodeExponent(kp.E))
			fmt.Printf("d_b64u: %s\n", suite.EncodeExponent(kp.D))
			return nil
		},
	}

	cmd.Flags().StringVar(&primeB64u, "prime", "", "prime modulus in base64url (defaults to the built-in RFC 3526 group)")
	return cmd
}

func newShamirPrimeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prime",
		Short: "Print the built-in prime and its fingerprint",
		RunE: func(cmd *cobra.Command, args []string) error {
			suite, err := shamir.NewSuite(shamir.DefaultPrimeB64u())
			if err != nil {
				return err
			}
			fmt.Printf("p_b64u: %s\n", suite.PrimeB64u())
			fmt.Printf("p_fingerprint: %s\n", suite.Fingerprint())
			return nil
		},
	}
}
