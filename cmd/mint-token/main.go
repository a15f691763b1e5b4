package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/wasessions-backend/pkg/auth"
	"github.com/angelmondragon/wasessions-backend/pkg/config"
	"github.com/angelmondragon/wasessions-backend/pkg/logger"
)

// mint-token prints a signed tenant access token for operators and scripts.
func main() {
	tenant := flag.String("tenant", "", "tenant id the token is scoped to")
	role := flag.String("role", string(auth.RoleOperator), "operator|admin")
	subject := flag.String("subject", "", "who the token is issued to")
	flag.Parse()

	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "mint-token", Output: os.Stderr})
	_ = godotenv.Load()

	jwtCfg, err := config.LoadJWT()
	if err != nil {
		logg.Error(ctx, "failed to load jwt config", err)
		os.Exit(1)
	}
	parsedRole, err := auth.ParseRole(*role)
	if err != nil {
		logg.Error(ctx, "invalid role", err)
		os.Exit(2)
	}

	token, err := auth.MintAccessToken(jwtCfg, time.Now().UTC(), auth.AccessTokenPayload{
		TenantID: *tenant,
		Subject:  *subject,
		Role:     parsedRole,
	})
	if err != nil {
		logg.Error(logg.WithTenantID(ctx, *tenant), "failed to mint token", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
