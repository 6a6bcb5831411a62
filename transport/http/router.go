package http

import (
	"github.com/gin-gonic/gin"

	"github.com/layer-3/txguard/ports"
	"github.com/layer-3/txguard/service"
)

// SetupRouter sets up the Gin router
func SetupRouter(validator *service.Validator, tokenizer ports.Tokenizer) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	handlers := NewHandlers(validator, tokenizer)

	router.POST("/sessions", handlers.CreateSession)

	api := router.Group("/")
	api.Use(SessionMiddleware(validator, tokenizer))
	{
		api.DELETE("/sessions", handlers.EndSession)
		api.POST("/nonces", handlers.NextNonce)
		api.POST("/tokens", handlers.OneTimeToken)
		api.POST("/transactions/validate", handlers.ValidateTransaction)
	}

	return router
}
