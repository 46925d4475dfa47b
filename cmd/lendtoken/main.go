// Package main выпускает bearer-токен для аккаунта. Используется для локальной отладки API.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"go.uber.org/zap"

	"github.com/mmeshcher/lendpool/internal/middleware"
	"github.com/mmeshcher/lendpool/internal/validation"
)

type options struct {
	AuthSecret string `env:"AUTH_SECRET"`
}

func main() {
	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	sugar := logger.Sugar()

	var opts options
	if err := env.Parse(&opts); err != nil {
		sugar.Fatalw("parse env", "error", err.Error())
	}

	account := flag.String("account", "", "account to issue the token for")
	flag.StringVar(&opts.AuthSecret, "s", opts.AuthSecret, "secret for signing bearer tokens")
	flag.Parse()

	if opts.AuthSecret == "" {
		sugar.Fatal("auth secret is required: set AUTH_SECRET or -s")
	}
	if !validation.IsValidAccountID(*account) {
		sugar.Fatalw("invalid account", "account", *account)
	}

	token, err := middleware.NewAuthMiddleware(opts.AuthSecret).SignToken(*account)
	if err != nil {
		sugar.Fatalw("sign token", "error", err.Error())
	}
	fmt.Fprintln(os.Stdout, token)
}
