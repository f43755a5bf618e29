// Command devtoken prints an access token the API accepts, signed with the
// local CREDITWALLET_JWT_* settings. Production tokens come from the identity
// service.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/angelmondragon/creditwallet-backend/pkg/auth"
	"github.com/angelmondragon/creditwallet-backend/pkg/config"
	"github.com/angelmondragon/creditwallet-backend/pkg/enums"
)

func main() {
	userFlag := flag.String("user", "", "user id (random when empty)")
	roleFlag := flag.String("role", string(enums.ActorRoleUser), "user, admin or service")
	ttlFlag := flag.Duration("ttl", 0, "override CREDITWALLET_JWT_TTL")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.LoadJWT()
	if err != nil {
		fail(err)
	}
	if *ttlFlag > 0 {
		cfg.TTL = *ttlFlag
	}

	role, err := enums.ParseActorRole(*roleFlag)
	if err != nil {
		fail(err)
	}
	userID := uuid.New()
	if *userFlag != "" {
		if userID, err = uuid.Parse(*userFlag); err != nil {
			fail(fmt.Errorf("user id: %w", err))
		}
	}

	token, err := auth.MintAccessToken(cfg, time.Now().UTC(), auth.AccessTokenPayload{UserID: userID, Role: role})
	if err != nil {
		fail(err)
	}
	fmt.Fprintf(os.Stderr, "user=%s role=%s expires_in=%s\n", userID, role, cfg.TTL)
	fmt.Println(token)
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "devtoken:", err)
	os.Exit(1)
}
