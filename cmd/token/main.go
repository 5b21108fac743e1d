// Command token mints an operator access token from the configured key
// pair. It is meant for local runs and break-glass access when the
// identity provider is unavailable.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/karhin20/flowback/internal/config"
	"github.com/karhin20/flowback/internal/pkg/jwt"
)

func main() {
	email := flag.String("email", "", "operator email, recorded as performed_by")
	name := flag.String("name", "", "operator display name")
	roles := flag.String("roles", "operator", "comma separated roles, e.g. operator,admin")
	ttl := flag.Duration("ttl", 0, "token lifetime; defaults to JWT_TTL")
	flag.Parse()

	if *email == "" {
		flag.Usage()
		os.Exit(2)
	}

	_ = godotenv.Load()
	cfg := config.Load()
	if *ttl > 0 {
		cfg.JWT.TTL = *ttl
	}

	mgr, err := jwt.LoadAndBuild(cfg.JWT)
	if err != nil {
		log.Fatalf("load keys: %v", err)
	}

	token, jti, err := mgr.Generator.GenerateAccessToken(*email, *email, *name, splitRoles(*roles))
	if err != nil {
		log.Fatalf("sign token: %v", err)
	}
	if _, err := mgr.Verifier.VerifyAccessToken(token); err != nil {
		log.Fatalf("minted token does not verify: %v", err)
	}

	fmt.Fprintf(os.Stderr, "jti=%s expires=%s\n", jti, time.Now().Add(cfg.JWT.TTL).Format(time.RFC3339))
	fmt.Println(token)
}

func splitRoles(raw string) []string {
	var out []string
	for _, r := range strings.Split(raw, ",") {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}
