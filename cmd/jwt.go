package cmd

import (
	"fmt"

	"github.com/flashbots/engine-relay/common"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var jwtSecretOutput string

func init() {
	rootCmd.AddCommand(generateJWTSecretCmd)
	generateJWTSecretCmd.Flags().StringVar(&jwtSecretOutput, "output-file", "", "write the secret to this file instead of stdout")
}

var generateJWTSecretCmd = &cobra.Command{
	Use:   "generate-jwt-secret",
	Short: "Generate a random 32 byte JWT secret for the engine API",
	Run: func(cmd *cobra.Command, args []string) {
		log := logrus.WithField("module", "cmd/generate-jwt-secret")

		secret, err := common.GenerateJWTSecret()
		if err != nil {
			log.WithError(err).Fatal("failed to generate JWT secret")
		}

		if jwtSecretOutput == "" {
			fmt.Println(secret.Hex())
			return
		}
		if err := common.WriteJWTSecretFile(jwtSecretOutput, secret); err != nil {
			log.WithError(err).Fatal("failed to write JWT secret")
		}
		log.Infof("JWT secret written to %s", jwtSecretOutput)
	},
}
