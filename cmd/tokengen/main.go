// tokengen 为运维人员签发操作者访问令牌
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/taoyao-code/esp-provision/internal/api/middleware"
	cfgpkg "github.com/taoyao-code/esp-provision/internal/config"
)

func main() {
	var (
		configPath = pflag.StringP("config", "c", "", "config file to read auth.jwtSecret from")
		secret     = pflag.String("secret", "", "signing secret (overrides config)")
		user       = pflag.StringP("user", "u", "", "user id (token subject)")
		staff      = pflag.Bool("staff", false, "grant staff privileges")
		ttl        = pflag.Duration("ttl", 0, "token lifetime (default: auth.accessTTL)")
	)
	pflag.Parse()

	if *user == "" {
		fmt.Fprintln(os.Stderr, "--user is required")
		pflag.Usage()
		os.Exit(2)
	}

	key, lifetime := *secret, *ttl
	if key == "" || lifetime == 0 {
		cfg, err := cfgpkg.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			os.Exit(1)
		}
		if key == "" {
			key = cfg.Auth.JWTSecret
		}
		if lifetime == 0 {
			lifetime = cfg.Auth.AccessTTL
		}
	}
	if key == "" {
		fmt.Fprintln(os.Stderr, "no signing secret: pass --secret or set auth.jwtSecret")
		os.Exit(1)
	}

	token, err := middleware.SignActorToken(key, *user, *staff, lifetime, time.Now())
	if err != nil {
		fmt.Fprintf(os.Stderr, "sign token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
