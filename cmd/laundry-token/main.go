// Command laundry-token mints API tokens signed with AUTH_SECRET, for operators and local testing.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"go.uber.org/zap"

	"github.com/iurnickita/laundry/internal/auth"
	"github.com/iurnickita/laundry/internal/config"
	"github.com/iurnickita/laundry/internal/token"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	user := flag.String("u", "", "user code (token subject)")
	role := flag.String("r", string(token.RoleCustomer), "role: customer or operator")
	flag.Parse()

	switch token.Role(*role) {
	case token.RoleCustomer, token.RoleOperator:
	default:
		return fmt.Errorf("unknown role %q", *role)
	}

	// секрет и срок жизни берутся из окружения, как у сервера
	cfg, err := config.Load(nil, os.LookupEnv)
	if err != nil {
		return err
	}

	signed, err := auth.NewAuth(cfg.Auth, zap.NewNop()).Issue(auth.User{Code: *user, Role: token.Role(*role)})
	if err != nil {
		return err
	}
	fmt.Println(signed)
	return nil
}
