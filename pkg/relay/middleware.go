package relay

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mssola/user_agent"
	"go.uber.org/zap"
)

// corsMiddleware allows any origin and answers preflight requests directly.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	}
}

func clientFields(ua string) []zap.Field {
	if ua == "" {
		return nil
	}
	parsed := user_agent.New(ua)
	browser, version := parsed.Browser()
	return []zap.Field{
		zap.String("browser", browser),
		zap.String("browser_version", version),
		zap.String("os", parsed.OS()),
		zap.Bool("mobile", parsed.Mobile()),
	}
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		// websocket upgrades log from the connection itself
		if c.Writer.Status() == http.StatusSwitchingProtocols {
			return
		}
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		}
		log.Debug("http request", append(fields, clientFields(c.Request.UserAgent())...)...)
	}
}
