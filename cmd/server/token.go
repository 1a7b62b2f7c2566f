package main

import (
	"fmt"
	"pdf-ingest-go/pkg/token"

	"github.com/spf13/cobra"
)

var (
	tokenUser     string
	tokenUsername string
)

// tokenCmd 为本地联调签发会话 token。
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "签发一个会话 token",
	RunE: func(cmd *cobra.Command, args []string) error {
		if tokenUser == "" {
			return fmt.Errorf("--user is required")
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		tok, err := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours).GenerateToken(tokenUser, tokenUsername)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenUser, "user", "", "用户 ID")
	tokenCmd.Flags().StringVar(&tokenUsername, "username", "", "用户名")
}
