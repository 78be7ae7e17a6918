package app

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/pinetree-kr/identity-service/internal/config"
	"github.com/pinetree-kr/identity-service/internal/credentials"
	"github.com/pinetree-kr/identity-service/internal/flow"
	"github.com/pinetree-kr/identity-service/internal/handler"
	"github.com/pinetree-kr/identity-service/internal/linked"
	"github.com/pinetree-kr/identity-service/internal/linker"
	"github.com/pinetree-kr/identity-service/internal/middleware"
	"github.com/pinetree-kr/identity-service/internal/provider"
	"github.com/pinetree-kr/identity-service/internal/provider/google"
	"github.com/pinetree-kr/identity-service/internal/provider/kakao"
	"github.com/pinetree-kr/identity-service/internal/resolver"
	"github.com/pinetree-kr/identity-service/internal/session"
	"github.com/pinetree-kr/identity-service/internal/statestore"
)

func setupHTTP(ctx context.Context, cfg config.Config) (*gin.Engine, func() error, error) {

	infra, err := setupInfra(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	// ----------------------------
	// Dependencies
	// ----------------------------

	sessionStore := session.NewRedisStore(infra.Redis.Client)
	states := statestore.New(infra.Redis.Client)

	googleGateway, err := google.New(
		ctx,
		cfg.GoogleClientID,
		cfg.GoogleClientSecret,
		cfg.GoogleRedirectURL,
	)
	if err != nil {
		return nil, nil, err
	}

	kakaoGateway, err := kakao.New(
		cfg.KakaoClientID,
		cfg.KakaoClientSecret,
		cfg.KakaoRedirectURL,
	)
	if err != nil {
		return nil, nil, err
	}

	registry := provider.NewRegistry(
		googleGateway,
		kakaoGateway,
	)

	identityResolver := resolver.New(infra.Directory)
	accountLinker := linker.New(infra.Directory)
	sessionIssuer := session.NewIssuer(infra.Directory, cfg.SessionRedirectURL)
	loginFlow := flow.New(identityResolver, accountLinker, sessionIssuer, infra.Directory)

	credentialService := credentials.NewService(infra.Directory)
	reporter := linked.New(infra.Directory)

	authHandler := handler.NewHandler(
		registry,
		states,
		loginFlow,
		credentialService,
		reporter,
		accountLinker,
		sessionStore,
	)

	authMiddleware := middleware.NewAuthMiddleware(sessionStore)

	// ----------------------------
	// Router
	// ----------------------------

	router := gin.New()
	router.Use(gin.Recovery())

	authHandler.RegisterRoutes(router, authMiddleware)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return router, infra.cleanup, nil
}
