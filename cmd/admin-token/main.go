// Command admin-token prints a signed token for the dispatcher's admin
// routes. ADMIN_SECRET must match the one the dispatcher runs with.
package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"support-dispatch-backend/internal/env"
	internaljwt "support-dispatch-backend/internal/jwt"

	"github.com/spf13/pflag"
)

func main() {
	var (
		id    string
		email string
		ttl   time.Duration
	)

	flagSet := pflag.NewFlagSet("admin-token", pflag.ContinueOnError)
	flagSet.StringVar(&id, "id", "ops", "operator id placed in the token")
	flagSet.StringVar(&email, "email", "", "operator email placed in the token")
	flagSet.DurationVar(&ttl, "ttl", internaljwt.AccessTokenTTL, "token lifetime")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return
		}
		log.Fatalf("parse flags: %v", err)
	}
	if env.Get(env.AdminSecretKey) == "" {
		log.Fatalf("%s is not set", env.AdminSecretKey)
	}
	if ttl <= 0 {
		log.Fatalf("ttl must be positive")
	}

	token, err := internaljwt.CreateToken(internaljwt.Admin{Id: id, Email: email}, internaljwt.RoleAdmin, time.Now().Add(ttl).Unix())
	if err != nil {
		log.Fatalf("create token: %v", err)
	}
	fmt.Println(token)
}
